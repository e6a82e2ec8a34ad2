package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ServiceKind selects which vertical a request belongs to.
type ServiceKind string

const (
	KindRide    ServiceKind = "ride"
	KindParcel  ServiceKind = "parcel"
	KindService ServiceKind = "service"
)

func (k ServiceKind) Valid() bool {
	switch k {
	case KindRide, KindParcel, KindService:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending     RequestStatus = "pending"
	RequestSearching   RequestStatus = "searching"
	RequestBidReceived RequestStatus = "bid_received"
	RequestAccepted    RequestStatus = "accepted"
	RequestInProgress  RequestStatus = "in_progress"
	RequestCompleted   RequestStatus = "completed"
	RequestCancelled   RequestStatus = "cancelled"
	RequestExpired     RequestStatus = "expired"
)

// requestTransitions is the legal state graph for requests. Transitioning to
// accepted assigns a provider and therefore only ever happens inside the bid
// acceptance transaction.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:     {RequestSearching, RequestBidReceived, RequestCancelled, RequestExpired},
	RequestSearching:   {RequestBidReceived, RequestAccepted, RequestCancelled, RequestExpired},
	RequestBidReceived: {RequestAccepted, RequestCancelled, RequestExpired},
	RequestAccepted:    {RequestInProgress, RequestCancelled},
	RequestInProgress:  {RequestCompleted, RequestCancelled},
}

func CanRequestTransition(from, to RequestStatus) bool {
	for _, s := range requestTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// Open reports whether the request is still accepting bids.
func (s RequestStatus) Open() bool {
	return s == RequestPending || s == RequestSearching || s == RequestBidReceived
}

// Request is a consumer's open ask for a ride, a parcel delivery or a home
// service. ProviderID is nil until a bid is accepted; the two fields change
// together, never independently.
type Request struct {
	ID         string        `json:"id"`
	Kind       ServiceKind   `json:"kind"`
	ConsumerID string        `json:"consumer_id"`
	ProviderID *string       `json:"provider_id,omitempty"`
	Pickup     Coord         `json:"pickup"`
	Dropoff    Coord         `json:"dropoff"`
	Category   string        `json:"category,omitempty"` // home-service category, empty for ride/parcel
	Price      float64       `json:"price"`
	FinalPrice *float64      `json:"final_price,omitempty"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// Bid is a priced offer by a provider against an open request. A provider
// holds at most one bid per request; re-bidding updates the row in place and
// resets it to pending.
type Bid struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	ProviderID string    `json:"provider_id"`
	Price      float64   `json:"price"`
	Message    string    `json:"message,omitempty"`
	Status     BidStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Provider is a driver, courier or home-service professional. Online only
// matters for ride/parcel kinds; Categories only for the service kind.
type Provider struct {
	ID         string      `json:"id"`
	Kind       ServiceKind `json:"kind"`
	Verified   bool        `json:"verified"`
	Online     bool        `json:"online"`
	Categories []string    `json:"categories,omitempty"`
	Rating     float64     `json:"rating"`
}

type UserType string

const (
	UserHasCar   UserType = "has-car"
	UserNeedsCar UserType = "needs-car"
)

func (t UserType) Valid() bool { return t == UserHasCar || t == UserNeedsCar }

// Opposite returns the role this one matches against.
func (t UserType) Opposite() UserType {
	if t == UserHasCar {
		return UserNeedsCar
	}
	return UserHasCar
}

type CityStatus string

const (
	CitySearching CityStatus = "searching"
	CityMatched   CityStatus = "matched"
	CityCompleted CityStatus = "completed"
	CityCancelled CityStatus = "cancelled"
	CityExpired   CityStatus = "expired"
)

// A driver with spare seats keeps searching after matching below capacity;
// matched → searching covers a passenger backing out of a match.
var cityTransitions = map[CityStatus][]CityStatus{
	CitySearching: {CityMatched, CityCompleted, CityCancelled, CityExpired},
	CityMatched:   {CitySearching, CityCompleted, CityCancelled},
}

func CanCityTransition(from, to CityStatus) bool {
	for _, s := range cityTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s CityStatus) Active() bool { return s == CitySearching || s == CityMatched }

// CityToCityRequest is an intercity travel intent. Drivers (has-car) carry
// seat/bag capacity and a per-passenger price; passengers (needs-car) carry
// their party size and budget.
type CityToCityRequest struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	UserType   UserType   `json:"user_type"`
	FromCityID string     `json:"from_city_id"`
	ToCityID   string     `json:"to_city_id"`
	TravelDate time.Time  `json:"travel_date"`
	Status     CityStatus `json:"status"`

	// driver side
	NumberOfSeats     int     `json:"number_of_seats,omitempty"`
	MaxBags           int     `json:"max_bags,omitempty"`
	PricePerPassenger float64 `json:"price_per_passenger,omitempty"`

	// passenger side
	NeededSeats  int     `json:"needed_seats,omitempty"`
	UserBags     int     `json:"user_bags,omitempty"`
	WillingToPay float64 `json:"willing_to_pay,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SameRoute reports whether two requests share origin and destination cities.
func (r *CityToCityRequest) SameRoute(other *CityToCityRequest) bool {
	return r.FromCityID == other.FromCityID && r.ToCityID == other.ToCityID
}

type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
	MatchCancelled MatchStatus = "cancelled"
)

// CityToCityMatch pairs one driver request with one passenger request. A
// passenger request is in at most one active match; a driver request is in up
// to NumberOfSeats of them.
type CityToCityMatch struct {
	ID                 string      `json:"id"`
	DriverRequestID    string      `json:"driver_request_id"`
	PassengerRequestID string      `json:"passenger_request_id"`
	Status             MatchStatus `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
}
