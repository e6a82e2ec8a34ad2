// Package citymatch pairs intercity drivers and passengers. Unlike the bid
// ledger this is many-to-one: a passenger holds at most one active match
// while a driver fills up to NumberOfSeats of them, so the capacity check
// and the match insert commit as one atomic storage operation.
package citymatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-marketplace/internal/dispatch"
	"github.com/example/ride-marketplace/internal/ingest"
	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/observability"
	"github.com/example/ride-marketplace/internal/storage"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("not allowed for this user")
	// ErrNoActiveRequest means the caller has no searching request to act
	// from.
	ErrNoActiveRequest = errors.New("no active request")
	// ErrActiveRequestExists rejects a second live request per user.
	ErrActiveRequestExists = errors.New("an active request already exists")
	// ErrOnlyDriversMatch: passengers wait to be picked; they never initiate.
	ErrOnlyDriversMatch = errors.New("only drivers can initiate matches")
	// ErrSameUserType rejects driver-driver and passenger-passenger pairs.
	ErrSameUserType = errors.New("cannot match with the same user type")
	// ErrRouteMismatch rejects pairs with different origin or destination.
	ErrRouteMismatch = errors.New("routes do not match")
	// ErrAlreadyMatched means the passenger request is no longer searching.
	ErrAlreadyMatched = errors.New("request is no longer available")
	// ErrDriverCapacityFull means every seat is taken by an active match.
	ErrDriverCapacityFull = errors.New("driver already has enough passengers")
)

type Service struct {
	store    storage.Store
	notifier dispatch.Notifier
	events   *ingest.EventProducer
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store storage.Store, notifier dispatch.Notifier, events *ingest.EventProducer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, notifier: notifier, events: events, logger: logger, now: time.Now}
}

type CreateCommand struct {
	UserID     string
	UserType   models.UserType
	FromCityID string
	ToCityID   string
	TravelDate time.Time

	NumberOfSeats     int
	MaxBags           int
	PricePerPassenger float64

	NeededSeats  int
	UserBags     int
	WillingToPay float64
}

// Create opens an intercity travel intent. One live request per user.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.CityToCityRequest, error) {
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !cmd.UserType.Valid() {
		return nil, fmt.Errorf("%w: unknown user type %q", ErrValidation, cmd.UserType)
	}
	if cmd.FromCityID == "" || cmd.ToCityID == "" {
		return nil, fmt.Errorf("%w: origin and destination cities are required", ErrValidation)
	}
	if cmd.FromCityID == cmd.ToCityID {
		return nil, fmt.Errorf("%w: origin and destination must differ", ErrValidation)
	}
	if startOfDay(cmd.TravelDate).Before(startOfDay(s.now())) {
		return nil, fmt.Errorf("%w: travel date is in the past", ErrValidation)
	}
	if cmd.UserType == models.UserHasCar && cmd.NumberOfSeats <= 0 {
		return nil, fmt.Errorf("%w: number of seats must be greater than 0", ErrValidation)
	}
	if cmd.UserType == models.UserNeedsCar && cmd.NeededSeats <= 0 {
		return nil, fmt.Errorf("%w: needed seats must be greater than 0", ErrValidation)
	}

	r := &models.CityToCityRequest{
		ID:                uuid.NewString(),
		UserID:            cmd.UserID,
		UserType:          cmd.UserType,
		FromCityID:        cmd.FromCityID,
		ToCityID:          cmd.ToCityID,
		TravelDate:        cmd.TravelDate,
		Status:            models.CitySearching,
		NumberOfSeats:     cmd.NumberOfSeats,
		MaxBags:           cmd.MaxBags,
		PricePerPassenger: cmd.PricePerPassenger,
		NeededSeats:       cmd.NeededSeats,
		UserBags:          cmd.UserBags,
		WillingToPay:      cmd.WillingToPay,
		CreatedAt:         s.now(),
	}
	if err := s.store.CreateCityRequest(ctx, r); err != nil {
		if errors.Is(err, storage.ErrActiveCityRequest) {
			return nil, ErrActiveRequestExists
		}
		return nil, err
	}
	return r, nil
}

// Active returns the caller's current searching request, if any.
func (s *Service) Active(ctx context.Context, userID string) (*models.CityToCityRequest, error) {
	r, err := s.store.ActiveCityRequestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveRequest
		}
		return nil, err
	}
	return r, nil
}

// Suggestion is a near-date driver offered to a passenger: same route, one
// day off.
type Suggestion struct {
	Request        *models.CityToCityRequest `json:"request"`
	DateDifference int                       `json:"date_difference"`
}

type SearchResult struct {
	Matches     []*models.CityToCityRequest `json:"matches"`
	Suggestions []Suggestion                `json:"suggestions"`
	Expired     bool                        `json:"expired"`
}

// Search finds candidates for the caller's active request: opposite role,
// same route, same calendar day. A request whose travel date has passed
// expires lazily here. Passengers additionally get ±1 day driver
// suggestions. Price never filters candidates; it is negotiated after the
// match.
func (s *Service) Search(ctx context.Context, userID string) (*SearchResult, error) {
	userReq, err := s.store.ActiveCityRequestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveRequest
		}
		return nil, err
	}

	if userReq.Status == models.CityMatched {
		// matched passengers and full drivers have nothing left to find
		return &SearchResult{}, nil
	}

	today := startOfDay(s.now())
	travelDay := startOfDay(userReq.TravelDate)
	if travelDay.Before(today) {
		_, err := s.store.UpdateCityRequestStatus(ctx, userReq.ID,
			[]models.CityStatus{models.CitySearching}, models.CityExpired)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Expired: true}, nil
	}

	// drivers must not re-see passengers already riding with them
	var exclude []string
	if userReq.UserType == models.UserHasCar {
		matches, err := s.store.ListMatchesForRequest(ctx, userReq.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.Status == models.MatchActive {
				exclude = append(exclude, m.PassengerRequestID)
			}
		}
	}

	candidates, err := s.store.SearchCityRequests(ctx, storage.CitySearch{
		FromCityID:        userReq.FromCityID,
		ToCityID:          userReq.ToCityID,
		UserType:          userReq.UserType.Opposite(),
		DayStart:          travelDay,
		DayEnd:            endOfDay(travelDay),
		ExcludeUserID:     userID,
		ExcludeRequestIDs: exclude,
	})
	if err != nil {
		return nil, err
	}
	result := &SearchResult{Matches: candidates}

	if userReq.UserType == models.UserNeedsCar {
		for _, offset := range []int{-1, 1} {
			day := travelDay.AddDate(0, 0, offset)
			near, err := s.store.SearchCityRequests(ctx, storage.CitySearch{
				FromCityID:    userReq.FromCityID,
				ToCityID:      userReq.ToCityID,
				UserType:      models.UserHasCar,
				DayStart:      day,
				DayEnd:        endOfDay(day),
				ExcludeUserID: userID,
			})
			if err != nil {
				return nil, err
			}
			for _, r := range near {
				result.Suggestions = append(result.Suggestions, Suggestion{Request: r, DateDifference: offset})
			}
		}
	}
	return result, nil
}

// CreateMatch pairs the acting driver with a searching passenger request.
// Only drivers initiate; the passenger flips to matched immediately while
// the driver flips only once the last seat fills. The capacity check and
// the insert are one atomic storage operation.
func (s *Service) CreateMatch(ctx context.Context, actingUserID, targetRequestID string) (*storage.MatchResult, error) {
	userReq, err := s.store.ActiveCityRequestByUser(ctx, actingUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveRequest
		}
		return nil, err
	}
	if userReq.UserType != models.UserHasCar {
		return nil, ErrOnlyDriversMatch
	}

	target, err := s.store.GetCityRequest(ctx, targetRequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if target.UserType == userReq.UserType {
		return nil, ErrSameUserType
	}
	if !target.SameRoute(userReq) {
		return nil, ErrRouteMismatch
	}
	if target.Status != models.CitySearching {
		return nil, ErrAlreadyMatched
	}

	res, err := s.store.CreateMatch(ctx, userReq.ID, target.ID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCapacityFull):
			return nil, ErrDriverCapacityFull
		case errors.Is(err, storage.ErrPassengerUnavailable):
			return nil, ErrAlreadyMatched
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}

	observability.MatchesCreated.Inc()
	if err := s.events.Publish(ingest.Event{Type: ingest.EventMatchCreated, Key: res.Match.ID, ActorID: actingUserID}); err != nil {
		s.logger.Warn("event publish failed", "type", ingest.EventMatchCreated, "error", err)
	}
	s.notifyAsync(dispatch.Notification{
		UserID: target.UserID,
		Title:  "You have a ride",
		Body:   "A driver matched with your intercity request",
		Data:   map[string]string{"match_id": res.Match.ID, "request_id": target.ID},
	})
	return res, nil
}

// Matched lists the caller's matches for their most recent active request.
func (s *Service) Matched(ctx context.Context, userID string) ([]*models.CityToCityMatch, error) {
	userReq, err := s.store.ActiveCityRequestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveRequest
		}
		return nil, err
	}
	return s.store.ListMatchesForRequest(ctx, userReq.ID)
}

// Cancel cancels the caller's request. Idempotent: an already-cancelled
// request is a no-op success.
func (s *Service) Cancel(ctx context.Context, requestID, actingUserID string) error {
	r, err := s.store.GetCityRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if r.UserID != actingUserID {
		return ErrForbidden
	}
	if r.Status == models.CityCancelled {
		return nil
	}
	if !models.CanCityTransition(r.Status, models.CityCancelled) {
		return fmt.Errorf("%w: cannot cancel a %s request", ErrValidation, r.Status)
	}
	// active matches are released so the other side can search again
	matches, err := s.store.ListMatchesForRequest(ctx, requestID)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.Status == models.MatchActive {
			if err := s.store.CancelMatch(ctx, m.ID); err != nil {
				return err
			}
		}
	}
	_, err = s.store.UpdateCityRequestStatus(ctx, requestID,
		[]models.CityStatus{models.CitySearching, models.CityMatched}, models.CityCancelled)
	return err
}

// CancelMatch releases one pairing: the passenger returns to searching and a
// driver that was full reopens.
func (s *Service) CancelMatch(ctx context.Context, matchID, actingUserID string) error {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	driver, err := s.store.GetCityRequest(ctx, m.DriverRequestID)
	if err != nil {
		return err
	}
	passenger, err := s.store.GetCityRequest(ctx, m.PassengerRequestID)
	if err != nil {
		return err
	}
	if driver.UserID != actingUserID && passenger.UserID != actingUserID {
		return ErrForbidden
	}
	return s.store.CancelMatch(ctx, matchID)
}

// EndTrip completes the driver's request together with its active matches
// and their passenger requests.
func (s *Service) EndTrip(ctx context.Context, actingUserID string) error {
	userReq, err := s.store.ActiveCityRequestByUser(ctx, actingUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoActiveRequest
		}
		return err
	}
	if userReq.UserType != models.UserHasCar {
		return ErrOnlyDriversMatch
	}
	return s.store.CompleteTrip(ctx, userReq.ID)
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

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
