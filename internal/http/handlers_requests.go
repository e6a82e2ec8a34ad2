package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-marketplace/internal/auth"
	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/requests"
)

type createRequestBody struct {
	Kind     string       `json:"kind" validate:"required,oneof=ride parcel service"`
	Pickup   models.Coord `json:"pickup" validate:"required"`
	Dropoff  models.Coord `json:"dropoff" validate:"required"`
	Category string       `json:"category"`
	Price    float64      `json:"price" validate:"required,gt=0"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if p.Role != auth.RoleConsumer {
		s.writeError(w, r, requests.ErrForbidden)
		return
	}
	var body createRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := s.Requests.Create(r.Context(), requests.CreateCommand{
		ConsumerID: p.UserID,
		Kind:       models.ServiceKind(body.Kind),
		Pickup:     body.Pickup,
		Dropoff:    body.Dropoff,
		Category:   body.Category,
		Price:      body.Price,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	req, err := s.Requests.Get(r.Context(), mux.Vars(r)["id"], p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDiscoverRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if p.Role != auth.RoleProvider {
		s.writeError(w, r, requests.ErrForbidden)
		return
	}
	found, err := s.Requests.Discover(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if found == nil {
		found = []requests.DiscoveredRequest{}
	}
	s.writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.Requests.Cancel(r.Context(), mux.Vars(r)["id"], p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.Requests.Start(r.Context(), mux.Vars(r)["id"], p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.Requests.Complete(r.Context(), mux.Vars(r)["id"], p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
