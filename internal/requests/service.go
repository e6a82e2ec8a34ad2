// Package requests owns the canonical request lifecycle for the ride, parcel
// and home-service verticals: creation, legal status transitions, provider
// discovery and cancellation. Acceptance lives in the bids package because it
// must commit together with the winning bid.
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-marketplace/internal/dispatch"
	"github.com/example/ride-marketplace/internal/eligibility"
	"github.com/example/ride-marketplace/internal/eta"
	"github.com/example/ride-marketplace/internal/geo"
	"github.com/example/ride-marketplace/internal/ingest"
	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/observability"
	"github.com/example/ride-marketplace/internal/storage"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("request not found")
	ErrForbidden         = errors.New("not allowed for this user")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Service struct {
	store    storage.Store
	checker  *eligibility.Checker
	index    geo.Index
	notifier dispatch.Notifier
	events   *ingest.EventProducer
	etaCache *eta.Cache
	logger   *slog.Logger
	speedMps float64
}

type Config struct {
	Store    storage.Store
	Checker  *eligibility.Checker
	Index    geo.Index
	Notifier dispatch.Notifier
	Events   *ingest.EventProducer
	Logger   *slog.Logger
	SpeedMps float64
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:    cfg.Store,
		checker:  cfg.Checker,
		index:    cfg.Index,
		notifier: cfg.Notifier,
		events:   cfg.Events,
		etaCache: eta.NewCache(30 * time.Second),
		logger:   cfg.Logger,
		speedMps: cfg.SpeedMps,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.speedMps <= 0 {
		s.speedMps = 10
	}
	return s
}

type CreateCommand struct {
	ConsumerID string
	Kind       models.ServiceKind
	Pickup     models.Coord
	Dropoff    models.Coord
	Category   string
	Price      float64
}

// Create opens a new request in searching status and fans a heads-up out to
// nearby providers.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Request, error) {
	if cmd.ConsumerID == "" {
		return nil, fmt.Errorf("%w: consumer id is required", ErrValidation)
	}
	if !cmd.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown service kind %q", ErrValidation, cmd.Kind)
	}
	if cmd.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be greater than 0", ErrValidation)
	}
	if cmd.Kind == models.KindService && cmd.Category == "" {
		return nil, fmt.Errorf("%w: service category is required", ErrValidation)
	}

	now := time.Now()
	r := &models.Request{
		ID:         uuid.NewString(),
		Kind:       cmd.Kind,
		ConsumerID: cmd.ConsumerID,
		Pickup:     cmd.Pickup,
		Dropoff:    cmd.Dropoff,
		Category:   cmd.Category,
		Price:      cmd.Price,
		Status:     models.RequestSearching,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}

	observability.RequestsCreated.WithLabelValues(string(r.Kind)).Inc()
	if err := s.events.Publish(ingest.Event{Type: ingest.EventRequestCreated, Key: r.ID, ActorID: r.ConsumerID}); err != nil {
		s.logger.Warn("event publish failed", "type", ingest.EventRequestCreated, "error", err)
	}
	go s.notifyNearbyProviders(r)
	return r, nil
}

// notifyNearbyProviders is best-effort: it runs after the request is durable
// and delivery failures are logged, not surfaced.
func (s *Service) notifyNearbyProviders(r *models.Request) {
	if s.index == nil || s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, providerID := range s.index.Nearby(r.Pickup, s.checker.RadiusKm, 10) {
		err := s.notifier.Notify(ctx, dispatch.Notification{
			UserID: providerID,
			Title:  "New request nearby",
			Body:   fmt.Sprintf("A %s request was opened near you", r.Kind),
			Data:   map[string]string{"request_id": r.ID, "kind": string(r.Kind)},
		})
		if err != nil {
			s.logger.Debug("nearby notification skipped", "provider_id", providerID, "error", err)
		}
	}
}

// Get returns the request to its consumer or its assigned provider.
func (s *Service) Get(ctx context.Context, id, actorID string) (*models.Request, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if r.ConsumerID != actorID && (r.ProviderID == nil || *r.ProviderID != actorID) {
		return nil, ErrForbidden
	}
	return r, nil
}

// DiscoveredRequest annotates an open request with the provider's distance
// to the pickup and a naive arrival estimate.
type DiscoveredRequest struct {
	Request    *models.Request `json:"request"`
	DistanceKm float64         `json:"distance_km"`
	EtaSeconds float64         `json:"eta_seconds"`
}

// Discover lists open requests the provider is eligible for and close enough
// to see. A provider with no live location fix sees nothing.
func (s *Service) Discover(ctx context.Context, providerID string) ([]DiscoveredRequest, error) {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	loc, ok := s.checker.Locator.Locate(providerID)
	if !ok {
		return nil, nil
	}
	open, err := s.store.ListOpenRequests(ctx, p.Kind)
	if err != nil {
		return nil, err
	}
	var out []DiscoveredRequest
	for _, r := range open {
		if s.checker.Eligible(p, r) != nil {
			continue
		}
		d := geo.HaversineKm(loc, r.Pickup)
		if d > s.checker.RadiusKm {
			continue
		}
		secs, cached := s.etaCache.Get(loc, r.Pickup)
		if !cached {
			secs = eta.EstimateSeconds(loc, r.Pickup, s.speedMps)
			s.etaCache.Set(loc, r.Pickup, secs)
		}
		out = append(out, DiscoveredRequest{Request: r, DistanceKm: d, EtaSeconds: secs})
	}
	return out, nil
}

// Start moves an accepted request to in_progress. Only the assigned provider
// may start.
func (s *Service) Start(ctx context.Context, id, actorID string) error {
	return s.providerTransition(ctx, id, actorID, models.RequestAccepted, models.RequestInProgress)
}

// Complete moves an in_progress request to completed.
func (s *Service) Complete(ctx context.Context, id, actorID string) error {
	return s.providerTransition(ctx, id, actorID, models.RequestInProgress, models.RequestCompleted)
}

func (s *Service) providerTransition(ctx context.Context, id, actorID string, from, to models.RequestStatus) error {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	if r.ProviderID == nil || *r.ProviderID != actorID {
		return ErrForbidden
	}
	ok, err := s.store.UpdateRequestStatus(ctx, id, []models.RequestStatus{from}, to)
	if err != nil {
		return mapStoreErr(err)
	}
	if !ok {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, to)
	}
	return nil
}

// Cancel is idempotent: cancelling an already-cancelled request is a no-op
// success. Completed requests cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id, actorID string) error {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	if r.ConsumerID != actorID && (r.ProviderID == nil || *r.ProviderID != actorID) {
		return ErrForbidden
	}
	if r.Status == models.RequestCancelled {
		return nil
	}
	if !models.CanRequestTransition(r.Status, models.RequestCancelled) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, models.RequestCancelled)
	}
	ok, err := s.store.UpdateRequestStatus(ctx, id,
		[]models.RequestStatus{models.RequestPending, models.RequestSearching, models.RequestBidReceived, models.RequestAccepted, models.RequestInProgress},
		models.RequestCancelled)
	if err != nil {
		return mapStoreErr(err)
	}
	if !ok {
		// somebody cancelled or completed it first; re-read to decide
		cur, err := s.store.GetRequest(ctx, id)
		if err != nil {
			return mapStoreErr(err)
		}
		if cur.Status == models.RequestCancelled {
			return nil
		}
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, cur.Status, models.RequestCancelled)
	}
	if err := s.events.Publish(ingest.Event{Type: ingest.EventRequestCancelled, Key: id, ActorID: actorID}); err != nil {
		s.logger.Warn("event publish failed", "type", ingest.EventRequestCancelled, "error", err)
	}
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
