// Package bids is the competing-offer ledger and the acceptance transaction.
// Submission is an upsert keyed on (request, provider); acceptance commits
// exactly one winner per request and rejects the rest in the same atomic
// unit, delegated to the storage layer so the status re-check and the writes
// share one transaction.
package bids

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-marketplace/internal/dispatch"
	"github.com/example/ride-marketplace/internal/eligibility"
	"github.com/example/ride-marketplace/internal/ingest"
	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/observability"
	"github.com/example/ride-marketplace/internal/storage"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("not allowed for this user")
	// ErrInvalidBidPrice rejects non-positive offers.
	ErrInvalidBidPrice = errors.New("bid price must be greater than 0")
	// ErrNotEligible means the provider is unverified, offline or registered
	// for the wrong service.
	ErrNotEligible = errors.New("provider not eligible")
	// ErrRequestUnavailable means the request is closed to bidding
	// (cancelled, expired or already progressed past acceptance).
	ErrRequestUnavailable = errors.New("request no longer available")
	// ErrRequestAlreadyAssigned means another bid won the race. The caller
	// should refresh its view; retrying cannot change the outcome.
	ErrRequestAlreadyAssigned = errors.New("request already assigned to a provider")
	// ErrBidNoLongerAvailable means this specific bid was already accepted
	// or rejected.
	ErrBidNoLongerAvailable = errors.New("bid no longer available")
)

type Service struct {
	store    storage.Store
	checker  *eligibility.Checker
	notifier dispatch.Notifier
	events   *ingest.EventProducer
	logger   *slog.Logger
}

func NewService(store storage.Store, checker *eligibility.Checker, notifier dispatch.Notifier, events *ingest.EventProducer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, checker: checker, notifier: notifier, events: events, logger: logger}
}

type SubmitCommand struct {
	RequestID  string
	ProviderID string
	Price      float64
	Message    string
}

// Submit places or refreshes a provider's bid. A re-bid updates the existing
// row in place and resets it to pending; the unique (request, provider) pair
// is never duplicated. The first bid flips the request to bid_received.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*models.Bid, error) {
	if cmd.Price <= 0 {
		return nil, ErrInvalidBidPrice
	}

	provider, err := s.store.GetProvider(ctx, cmd.ProviderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown provider", ErrNotEligible)
		}
		return nil, err
	}

	req, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.checker.Eligible(provider, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEligible, err)
	}
	if req.ProviderID != nil {
		return nil, ErrRequestAlreadyAssigned
	}
	if !req.Status.Open() {
		return nil, ErrRequestUnavailable
	}

	bid := &models.Bid{
		ID:         uuid.NewString(),
		RequestID:  cmd.RequestID,
		ProviderID: cmd.ProviderID,
		Price:      cmd.Price,
		Message:    cmd.Message,
		Status:     models.BidPending,
	}
	stored, err := s.store.UpsertBid(ctx, bid)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRequestAssigned):
			return nil, ErrRequestAlreadyAssigned
		case errors.Is(err, storage.ErrRequestUnavailable):
			return nil, ErrRequestUnavailable
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}

	observability.BidsSubmitted.Inc()
	if err := s.events.Publish(ingest.Event{Type: ingest.EventBidSubmitted, Key: req.ID, ActorID: cmd.ProviderID}); err != nil {
		s.logger.Warn("event publish failed", "type", ingest.EventBidSubmitted, "error", err)
	}
	s.notifyAsync(dispatch.Notification{
		UserID: req.ConsumerID,
		Title:  "New bid received",
		Body:   fmt.Sprintf("A provider offered %.2f on your request", stored.Price),
		Data:   map[string]string{"request_id": req.ID, "bid_id": stored.ID},
	})
	return stored, nil
}

// ListForRequest returns all bids for the owner of the request, in
// submission order. Ordering is display-only; acceptance is the consumer's
// choice, not first-come-first-served.
func (s *Service) ListForRequest(ctx context.Context, requestID, actorID string) ([]*models.Bid, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.ConsumerID != actorID {
		return nil, ErrForbidden
	}
	return s.store.ListBidsForRequest(ctx, requestID)
}

// ListPendingForProvider returns the provider's live bids across requests.
func (s *Service) ListPendingForProvider(ctx context.Context, providerID string) ([]*models.Bid, error) {
	return s.store.ListPendingBidsByProvider(ctx, providerID)
}

// Accept commits the winning bid. The pre-checks here give early, precise
// errors; the authoritative check-and-write runs inside the storage
// transaction, so racing acceptances on the same request resolve to exactly
// one winner and the losers surface ErrRequestAlreadyAssigned or
// ErrBidNoLongerAvailable.
func (s *Service) Accept(ctx context.Context, bidID, actingConsumerID string) (*storage.Acceptance, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	req, err := s.store.GetRequest(ctx, bid.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.ConsumerID != actingConsumerID {
		return nil, ErrForbidden
	}
	if req.ProviderID != nil || req.Status == models.RequestAccepted {
		return nil, ErrRequestAlreadyAssigned
	}
	if req.Status != models.RequestSearching && req.Status != models.RequestBidReceived {
		return nil, ErrRequestUnavailable
	}
	if bid.Status != models.BidPending {
		return nil, ErrBidNoLongerAvailable
	}

	acc, err := s.store.AcceptBid(ctx, bidID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRequestAssigned):
			observability.AcceptanceConflicts.Inc()
			return nil, ErrRequestAlreadyAssigned
		case errors.Is(err, storage.ErrBidNotPending):
			observability.AcceptanceConflicts.Inc()
			return nil, ErrBidNoLongerAvailable
		case errors.Is(err, storage.ErrRequestUnavailable):
			return nil, ErrRequestUnavailable
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}

	observability.BidsAccepted.Inc()
	if err := s.events.Publish(ingest.Event{Type: ingest.EventBidAccepted, Key: acc.Request.ID, ActorID: actingConsumerID}); err != nil {
		s.logger.Warn("event publish failed", "type", ingest.EventBidAccepted, "error", err)
	}
	// post-commit only: a failed notification never unwinds the acceptance
	s.notifyAsync(dispatch.Notification{
		UserID: acc.Bid.ProviderID,
		Title:  "Bid accepted",
		Body:   fmt.Sprintf("Your bid of %.2f was accepted", acc.Bid.Price),
		Data:   map[string]string{"request_id": acc.Request.ID, "bid_id": acc.Bid.ID},
	})
	return acc, nil
}

func (s *Service) notifyAsync(n dispatch.Notification) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification failed", "user_id", n.UserID, "error", err)
		}
	}()
}
