package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-marketplace/internal/auth"
	"github.com/example/ride-marketplace/internal/bids"
)

type submitBidBody struct {
	Price   float64 `json:"price" validate:"required,gt=0"`
	Message string  `json:"message" validate:"max=500"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if p.Role != auth.RoleProvider {
		s.writeError(w, r, bids.ErrForbidden)
		return
	}
	var body submitBidBody
	if !s.decode(w, r, &body) {
		return
	}
	bid, err := s.Bids.Submit(r.Context(), bids.SubmitCommand{
		RequestID:  mux.Vars(r)["id"],
		ProviderID: p.UserID,
		Price:      body.Price,
		Message:    body.Message,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bid)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	list, err := s.Bids.ListForRequest(r.Context(), mux.Vars(r)["id"], p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePendingBids(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if p.Role != auth.RoleProvider {
		s.writeError(w, r, bids.ErrForbidden)
		return
	}
	list, err := s.Bids.ListPendingForProvider(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if p.Role != auth.RoleConsumer {
		s.writeError(w, r, bids.ErrForbidden)
		return
	}
	acc, err := s.Bids.Accept(r.Context(), mux.Vars(r)["id"], p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, acc)
}
