package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/example/ride-marketplace/internal/auth"
	"github.com/example/ride-marketplace/internal/bids"
	"github.com/example/ride-marketplace/internal/citymatch"
	"github.com/example/ride-marketplace/internal/requests"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("response encode failed", "error", err)
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service sentinels onto HTTP statuses. Conflict statuses
// cover the race outcomes: a lost acceptance or match attempt is 409, never
// a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, requests.ErrForbidden),
		errors.Is(err, bids.ErrForbidden),
		errors.Is(err, bids.ErrNotEligible),
		errors.Is(err, citymatch.ErrForbidden),
		errors.Is(err, citymatch.ErrOnlyDriversMatch):
		status = http.StatusForbidden
	case errors.Is(err, requests.ErrNotFound),
		errors.Is(err, bids.ErrNotFound),
		errors.Is(err, citymatch.ErrNotFound),
		errors.Is(err, citymatch.ErrNoActiveRequest):
		status = http.StatusNotFound
	case errors.Is(err, bids.ErrRequestAlreadyAssigned),
		errors.Is(err, bids.ErrBidNoLongerAvailable),
		errors.Is(err, bids.ErrRequestUnavailable),
		errors.Is(err, requests.ErrInvalidTransition),
		errors.Is(err, citymatch.ErrAlreadyMatched),
		errors.Is(err, citymatch.ErrDriverCapacityFull),
		errors.Is(err, citymatch.ErrActiveRequestExists):
		status = http.StatusConflict
	case errors.Is(err, requests.ErrValidation),
		errors.Is(err, citymatch.ErrValidation),
		errors.Is(err, bids.ErrInvalidBidPrice),
		errors.Is(err, citymatch.ErrSameUserType),
		errors.Is(err, citymatch.ErrRouteMismatch):
		status = http.StatusBadRequest
	default:
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			status = http.StatusBadRequest
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err)
		s.writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

// principal pulls the authenticated caller; auth middleware guarantees it on
// /api routes.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, auth.ErrMissingToken)
	}
	return p, ok
}
