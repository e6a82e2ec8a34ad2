// Package eligibility gates provider discovery and bidding. It decides who
// may see and bid on a request; it never participates in acceptance, which
// is guarded transactionally in storage.
package eligibility

import (
	"errors"
	"slices"

	"github.com/example/ride-marketplace/internal/geo"
	"github.com/example/ride-marketplace/internal/models"
)

var (
	ErrNotVerified     = errors.New("provider not verified")
	ErrOffline         = errors.New("provider offline")
	ErrWrongKind       = errors.New("provider registered for a different service")
	ErrMissingCategory = errors.New("provider not registered for this category")
)

// DefaultRadiusKm bounds ride/parcel discovery around the pickup point.
const DefaultRadiusKm = 5.0

type Checker struct {
	RadiusKm float64
	Locator  geo.Locator
}

func NewChecker(locator geo.Locator) *Checker {
	return &Checker{RadiusKm: DefaultRadiusKm, Locator: locator}
}

// Eligible reports whether the provider may bid on the request. Ride and
// parcel drivers must be online; home-service providers only need to be
// verified and registered for the request's category.
func (c *Checker) Eligible(p *models.Provider, r *models.Request) error {
	if !p.Verified {
		return ErrNotVerified
	}
	if p.Kind != r.Kind {
		return ErrWrongKind
	}
	switch r.Kind {
	case models.KindRide, models.KindParcel:
		if !p.Online {
			return ErrOffline
		}
	case models.KindService:
		if r.Category != "" && !slices.Contains(p.Categories, r.Category) {
			return ErrMissingCategory
		}
	}
	return nil
}

// Discoverable reports whether the provider is close enough to the pickup to
// see the request, and at what distance. A provider with no live location
// fix is simply not discoverable; that is not an error.
func (c *Checker) Discoverable(providerID string, pickup models.Coord) (bool, float64) {
	loc, ok := c.Locator.Locate(providerID)
	if !ok {
		return false, 0
	}
	d := geo.HaversineKm(loc, pickup)
	return d <= c.RadiusKm, d
}
