// Package storage is the persistence collaborator for the marketplace core.
// It exposes plain CRUD plus the two composite operations that must be
// atomic: bid acceptance and city-to-city match creation. Both re-read the
// authoritative row state inside the transaction (or under the store mutex)
// before writing, so callers may treat their own pre-checks as advisory.
package storage

import (
	"context"
	"time"

	"github.com/example/ride-marketplace/internal/models"
)

// RequestStore holds ride/parcel/service requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	// ListOpenRequests returns requests of the given kind still accepting
	// bids (pending/searching/bid_received), oldest first.
	ListOpenRequests(ctx context.Context, kind models.ServiceKind) ([]*models.Request, error)
	// UpdateRequestStatus performs a compare-and-set: the row moves to the
	// target status only if its current status is one of from. Returns false
	// with no error when the guard fails.
	UpdateRequestStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error)
}

// BidStore holds competing offers and the acceptance transaction.
type BidStore interface {
	// UpsertBid inserts the bid, or if one already exists for the same
	// (request, provider) pair updates its price and message in place and
	// resets it to pending. The request flips to bid_received in the same
	// atomic unit when it was pending/searching. Fails with
	// ErrRequestUnavailable when the request is assigned or closed.
	UpsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error)
	GetBid(ctx context.Context, id string) (*models.Bid, error)
	// ListBidsForRequest returns all bids in submission order.
	ListBidsForRequest(ctx context.Context, requestID string) ([]*models.Bid, error)
	ListPendingBidsByProvider(ctx context.Context, providerID string) ([]*models.Bid, error)
	// AcceptBid commits one bid and invalidates its siblings as a single
	// atomic unit: the winning bid becomes accepted, every other pending bid
	// on the request becomes rejected, and the request gets the provider,
	// the final price and the accepted status. Exactly one concurrent caller
	// per request can succeed; the rest observe ErrRequestAssigned or
	// ErrBidNotPending.
	AcceptBid(ctx context.Context, bidID string) (*Acceptance, error)
}

// Acceptance is the committed outcome of AcceptBid.
type Acceptance struct {
	Bid     *models.Bid
	Request *models.Request
	// Rejected lists sibling bid IDs that were flipped to rejected.
	Rejected []string
}

// CitySearch narrows city-to-city candidate discovery. DayStart/DayEnd bound
// the travel date (inclusive); ExcludeRequestIDs removes already-matched
// passengers from a driver's view.
type CitySearch struct {
	FromCityID        string
	ToCityID          string
	UserType          models.UserType
	DayStart          time.Time
	DayEnd            time.Time
	ExcludeUserID     string
	ExcludeRequestIDs []string
}

// MatchResult is the committed outcome of CreateMatch.
type MatchResult struct {
	Match *models.CityToCityMatch
	// ActiveMatches is the driver's active match count after the insert.
	ActiveMatches int
	// DriverFull is true when the insert consumed the driver's last seat.
	DriverFull bool
}

// CityStore holds intercity requests and their matches.
type CityStore interface {
	// CreateCityRequest inserts the request. Fails with ErrActiveCityRequest
	// when the user already has a searching/matched request.
	CreateCityRequest(ctx context.Context, r *models.CityToCityRequest) error
	GetCityRequest(ctx context.Context, id string) (*models.CityToCityRequest, error)
	// ActiveCityRequestByUser returns the user's live (searching or matched)
	// request, most recent first; ErrNotFound when there is none.
	ActiveCityRequestByUser(ctx context.Context, userID string) (*models.CityToCityRequest, error)
	SearchCityRequests(ctx context.Context, q CitySearch) ([]*models.CityToCityRequest, error)
	UpdateCityRequestStatus(ctx context.Context, id string, from []models.CityStatus, to models.CityStatus) (bool, error)
	// CreateMatch atomically checks the driver's remaining capacity, flips
	// the passenger request to matched, inserts the active match row, and
	// flips the driver to matched when the last seat fills. Fails with
	// ErrCapacityFull or ErrPassengerUnavailable.
	CreateMatch(ctx context.Context, driverRequestID, passengerRequestID string) (*MatchResult, error)
	GetMatch(ctx context.Context, id string) (*models.CityToCityMatch, error)
	ListMatchesForRequest(ctx context.Context, requestID string) ([]*models.CityToCityMatch, error)
	CountActiveMatches(ctx context.Context, driverRequestID string) (int, error)
	// CancelMatch cancels an active match, returns the passenger request to
	// searching and reopens the driver request when it was matched at
	// capacity. Cancelling a non-active match is a no-op.
	CancelMatch(ctx context.Context, matchID string) error
	// CompleteTrip marks the driver request, its active matches and their
	// passenger requests completed.
	CompleteTrip(ctx context.Context, driverRequestID string) error
}

// ProviderStore holds provider profiles used for eligibility checks.
type ProviderStore interface {
	PutProvider(ctx context.Context, p *models.Provider) error
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
}

// Store is the full persistence surface the services are wired against.
type Store interface {
	RequestStore
	BidStore
	CityStore
	ProviderStore
}
