package storage

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrRequestAssigned means the request already has a provider or an
	// accepted status; another bid won.
	ErrRequestAssigned = errors.New("request already assigned")

	// ErrRequestUnavailable means the request is cancelled, expired or
	// otherwise closed to bidding.
	ErrRequestUnavailable = errors.New("request unavailable")

	// ErrBidNotPending means the bid was already accepted or rejected.
	ErrBidNotPending = errors.New("bid not pending")

	// ErrActiveCityRequest means the user already has a live intercity
	// request.
	ErrActiveCityRequest = errors.New("active city request exists")

	// ErrCapacityFull means the driver's seats are all taken by active
	// matches.
	ErrCapacityFull = errors.New("driver capacity full")

	// ErrPassengerUnavailable means the passenger request is no longer
	// searching.
	ErrPassengerUnavailable = errors.New("passenger request unavailable")
)
