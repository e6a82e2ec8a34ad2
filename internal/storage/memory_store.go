package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/example/ride-marketplace/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs local runs without
// Postgres and the concurrency tests: every composite operation holds the
// store lock end to end, giving the same atomicity the SQL implementation
// gets from row locks.
type MemoryStore struct {
	mu        sync.Mutex
	requests  map[string]*models.Request
	bids      map[string]*models.Bid
	bidOrder  map[string][]string // requestID → bid IDs in submission order
	cityReqs  map[string]*models.CityToCityRequest
	cityOrder []string
	matches   map[string]*models.CityToCityMatch
	reqOrder  []string
	providers map[string]*models.Provider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.Request),
		bids:      make(map[string]*models.Bid),
		bidOrder:  make(map[string][]string),
		cityReqs:  make(map[string]*models.CityToCityRequest),
		matches:   make(map[string]*models.CityToCityMatch),
		providers: make(map[string]*models.Provider),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	m.reqOrder = append(m.reqOrder, r.ID)
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRequestLocked(id)
}

func (m *MemoryStore) getRequestLocked(id string) (*models.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyRequest(r)
	return cp, nil
}

func (m *MemoryStore) ListOpenRequests(ctx context.Context, kind models.ServiceKind) ([]*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Request
	for _, id := range m.reqOrder {
		r := m.requests[id]
		if r.Kind == kind && r.Status.Open() {
			out = append(out, copyRequest(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Contains(from, r.Status) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) UpsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[b.RequestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.ProviderID != nil {
		return nil, ErrRequestAssigned
	}
	if !req.Status.Open() {
		return nil, ErrRequestUnavailable
	}

	now := time.Now()
	for _, id := range m.bidOrder[b.RequestID] {
		existing := m.bids[id]
		if existing.ProviderID == b.ProviderID {
			existing.Price = b.Price
			existing.Message = b.Message
			existing.Status = models.BidPending
			existing.UpdatedAt = now
			m.bumpToBidReceivedLocked(req, now)
			return copyBid(existing), nil
		}
	}

	cp := *b
	cp.Status = models.BidPending
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.bids[cp.ID] = &cp
	m.bidOrder[cp.RequestID] = append(m.bidOrder[cp.RequestID], cp.ID)
	m.bumpToBidReceivedLocked(req, now)
	return copyBid(&cp), nil
}

func (m *MemoryStore) bumpToBidReceivedLocked(req *models.Request, now time.Time) {
	if req.Status == models.RequestPending || req.Status == models.RequestSearching {
		req.Status = models.RequestBidReceived
		req.UpdatedAt = now
	}
}

func (m *MemoryStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBid(b), nil
}

func (m *MemoryStore) ListBidsForRequest(ctx context.Context, requestID string) ([]*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.bidOrder[requestID]
	out := make([]*models.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyBid(m.bids[id]))
	}
	return out, nil
}

func (m *MemoryStore) ListPendingBidsByProvider(ctx context.Context, providerID string) ([]*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Bid
	for _, reqID := range m.reqOrder {
		for _, id := range m.bidOrder[reqID] {
			b := m.bids[id]
			if b.ProviderID == providerID && b.Status == models.BidPending {
				out = append(out, copyBid(b))
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) AcceptBid(ctx context.Context, bidID string) (*Acceptance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bid, ok := m.bids[bidID]
	if !ok {
		return nil, ErrNotFound
	}
	req, ok := m.requests[bid.RequestID]
	if !ok {
		return nil, ErrNotFound
	}

	// Re-check the authoritative state under the lock; pre-checks done by
	// the caller may be stale by now.
	if req.ProviderID != nil || req.Status == models.RequestAccepted {
		return nil, ErrRequestAssigned
	}
	if req.Status != models.RequestSearching && req.Status != models.RequestBidReceived {
		return nil, ErrRequestUnavailable
	}
	if bid.Status != models.BidPending {
		return nil, ErrBidNotPending
	}

	now := time.Now()
	bid.Status = models.BidAccepted
	bid.UpdatedAt = now

	var rejected []string
	for _, id := range m.bidOrder[bid.RequestID] {
		sibling := m.bids[id]
		if sibling.ID != bid.ID && sibling.Status == models.BidPending {
			sibling.Status = models.BidRejected
			sibling.UpdatedAt = now
			rejected = append(rejected, sibling.ID)
		}
	}

	provider := bid.ProviderID
	price := bid.Price
	req.ProviderID = &provider
	req.FinalPrice = &price
	req.Status = models.RequestAccepted
	req.UpdatedAt = now

	return &Acceptance{Bid: copyBid(bid), Request: copyRequest(req), Rejected: rejected}, nil
}

func (m *MemoryStore) CreateCityRequest(ctx context.Context, r *models.CityToCityRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.cityOrder {
		existing := m.cityReqs[id]
		if existing.UserID == r.UserID && existing.Status.Active() {
			return ErrActiveCityRequest
		}
	}
	cp := *r
	m.cityReqs[r.ID] = &cp
	m.cityOrder = append(m.cityOrder, r.ID)
	return nil
}

func (m *MemoryStore) GetCityRequest(ctx context.Context, id string) (*models.CityToCityRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.cityReqs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ActiveCityRequestByUser(ctx context.Context, userID string) (*models.CityToCityRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.cityOrder) - 1; i >= 0; i-- {
		r := m.cityReqs[m.cityOrder[i]]
		if r.UserID == userID && r.Status.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SearchCityRequests(ctx context.Context, q CitySearch) ([]*models.CityToCityRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CityToCityRequest
	for i := len(m.cityOrder) - 1; i >= 0; i-- { // newest first, like the display order
		r := m.cityReqs[m.cityOrder[i]]
		if r.Status != models.CitySearching {
			continue
		}
		if r.UserType != q.UserType || r.UserID == q.ExcludeUserID {
			continue
		}
		if r.FromCityID != q.FromCityID || r.ToCityID != q.ToCityID {
			continue
		}
		if r.TravelDate.Before(q.DayStart) || r.TravelDate.After(q.DayEnd) {
			continue
		}
		if slices.Contains(q.ExcludeRequestIDs, r.ID) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateCityRequestStatus(ctx context.Context, id string, from []models.CityStatus, to models.CityStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.cityReqs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Contains(from, r.Status) {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *MemoryStore) CreateMatch(ctx context.Context, driverRequestID, passengerRequestID string) (*MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	driver, ok := m.cityReqs[driverRequestID]
	if !ok {
		return nil, ErrNotFound
	}
	passenger, ok := m.cityReqs[passengerRequestID]
	if !ok {
		return nil, ErrNotFound
	}

	if driver.Status != models.CitySearching {
		return nil, ErrCapacityFull
	}
	if passenger.Status != models.CitySearching {
		return nil, ErrPassengerUnavailable
	}

	active := m.countActiveMatchesLocked(driverRequestID)
	if driver.NumberOfSeats > 0 && active >= driver.NumberOfSeats {
		return nil, ErrCapacityFull
	}

	match := &models.CityToCityMatch{
		ID:                 newStoreID(),
		DriverRequestID:    driverRequestID,
		PassengerRequestID: passengerRequestID,
		Status:             models.MatchActive,
		CreatedAt:          time.Now(),
	}
	m.matches[match.ID] = match
	passenger.Status = models.CityMatched

	active++
	full := driver.NumberOfSeats > 0 && active >= driver.NumberOfSeats
	if full {
		driver.Status = models.CityMatched
	}

	cp := *match
	return &MatchResult{Match: &cp, ActiveMatches: active, DriverFull: full}, nil
}

func (m *MemoryStore) countActiveMatchesLocked(driverRequestID string) int {
	n := 0
	for _, mt := range m.matches {
		if mt.DriverRequestID == driverRequestID && mt.Status == models.MatchActive {
			n++
		}
	}
	return n
}

func (m *MemoryStore) GetMatch(ctx context.Context, id string) (*models.CityToCityMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mt
	return &cp, nil
}

func (m *MemoryStore) ListMatchesForRequest(ctx context.Context, requestID string) ([]*models.CityToCityMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CityToCityMatch
	for _, mt := range m.matches {
		if mt.DriverRequestID == requestID || mt.PassengerRequestID == requestID {
			cp := *mt
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.CityToCityMatch) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountActiveMatches(ctx context.Context, driverRequestID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveMatchesLocked(driverRequestID), nil
}

func (m *MemoryStore) CancelMatch(ctx context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if mt.Status != models.MatchActive {
		return nil
	}
	mt.Status = models.MatchCancelled
	if p, ok := m.cityReqs[mt.PassengerRequestID]; ok && p.Status == models.CityMatched {
		p.Status = models.CitySearching
	}
	// a seat opened up; a driver that was matched at capacity searches again
	if d, ok := m.cityReqs[mt.DriverRequestID]; ok && d.Status == models.CityMatched {
		d.Status = models.CitySearching
	}
	return nil
}

func (m *MemoryStore) CompleteTrip(ctx context.Context, driverRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.cityReqs[driverRequestID]
	if !ok {
		return ErrNotFound
	}
	for _, mt := range m.matches {
		if mt.DriverRequestID == driverRequestID && mt.Status == models.MatchActive {
			mt.Status = models.MatchCompleted
			if p, ok := m.cityReqs[mt.PassengerRequestID]; ok && p.Status.Active() {
				p.Status = models.CityCompleted
			}
		}
	}
	driver.Status = models.CityCompleted
	return nil
}

func (m *MemoryStore) PutProvider(ctx context.Context, p *models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Categories = slices.Clone(p.Categories)
	m.providers[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Categories = slices.Clone(p.Categories)
	return &cp, nil
}

func copyRequest(r *models.Request) *models.Request {
	cp := *r
	if r.ProviderID != nil {
		v := *r.ProviderID
		cp.ProviderID = &v
	}
	if r.FinalPrice != nil {
		v := *r.FinalPrice
		cp.FinalPrice = &v
	}
	return &cp
}

func copyBid(b *models.Bid) *models.Bid {
	cp := *b
	return &cp
}
