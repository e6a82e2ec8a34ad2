package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-marketplace/internal/citymatch"
	"github.com/example/ride-marketplace/internal/models"
)

type createCityRequestBody struct {
	UserType   string `json:"user_type" validate:"required,oneof=has-car needs-car"`
	FromCityID string `json:"from_city_id" validate:"required"`
	ToCityID   string `json:"to_city_id" validate:"required"`
	TravelDate string `json:"travel_date" validate:"required"`

	NumberOfSeats     int     `json:"number_of_seats" validate:"min=0"`
	MaxBags           int     `json:"max_bags" validate:"min=0"`
	PricePerPassenger float64 `json:"price_per_passenger" validate:"min=0"`

	NeededSeats  int     `json:"needed_seats" validate:"min=0"`
	UserBags     int     `json:"user_bags" validate:"min=0"`
	WillingToPay float64 `json:"willing_to_pay" validate:"min=0"`
}

func (s *Server) handleCreateCityRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var body createCityRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	travelDate, err := time.Parse("2006-01-02", body.TravelDate)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "travel_date must be YYYY-MM-DD"})
		return
	}
	req, err := s.City.Create(r.Context(), citymatch.CreateCommand{
		UserID:            p.UserID,
		UserType:          models.UserType(body.UserType),
		FromCityID:        body.FromCityID,
		ToCityID:          body.ToCityID,
		TravelDate:        travelDate,
		NumberOfSeats:     body.NumberOfSeats,
		MaxBags:           body.MaxBags,
		PricePerPassenger: body.PricePerPassenger,
		NeededSeats:       body.NeededSeats,
		UserBags:          body.UserBags,
		WillingToPay:      body.WillingToPay,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleActiveCityRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	req, err := s.City.Active(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCitySearch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	result, err := s.City.Search(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Matches == nil {
		result.Matches = []*models.CityToCityRequest{}
	}
	s.writeJSON(w, http.StatusOK, result)
}

type createCityMatchBody struct {
	TargetRequestID string `json:"target_request_id" validate:"required"`
}

func (s *Server) handleCreateCityMatch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var body createCityMatchBody
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.City.CreateMatch(r.Context(), p.UserID, body.TargetRequestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListCityMatches(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	list, err := s.City.Matched(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.CityToCityMatch{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCancelCityRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.City.Cancel(r.Context(), mux.Vars(r)["id"], p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelCityMatch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.City.CancelMatch(r.Context(), mux.Vars(r)["id"], p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndCityTrip(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.City.EndTrip(r.Context(), p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
