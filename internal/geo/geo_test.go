package geo

import (
	"math"
	"testing"

	"github.com/example/ride-marketplace/internal/models"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Karachi to Lahore, roughly 1020 km
	khi := models.Coord{Lat: 24.8607, Lng: 67.0011}
	lhe := models.Coord{Lat: 31.5204, Lng: 74.3587}
	d := HaversineKm(khi, lhe)
	if d < 1000 || d > 1050 {
		t.Fatalf("expected ~1020km, got %.1f", d)
	}
}

func TestHaversineZero(t *testing.T) {
	p := models.Coord{Lat: 24.8607, Lng: 67.0011}
	if d := HaversineKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

// one degree of latitude is ~111.19 km with R=6371
func TestHaversineOneDegreeLat(t *testing.T) {
	a := models.Coord{Lat: 0, Lng: 0}
	b := models.Coord{Lat: 1, Lng: 0}
	d := HaversineKm(a, b)
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("expected ~111.19km, got %.3f", d)
	}
}

func TestWithinRadiusInclusiveBoundary(t *testing.T) {
	center := models.Coord{Lat: 0, Lng: 0}
	// pick an offset that lands a hair under 5km, then one clearly past it
	near := models.Coord{Lat: 0.0449, Lng: 0} // ~4.993 km
	far := models.Coord{Lat: 0.046, Lng: 0}   // ~5.115 km
	if !WithinRadiusKm(center, near, 5) {
		t.Error("point inside the circle must be within radius")
	}
	if WithinRadiusKm(center, far, 5) {
		t.Error("point beyond the circle must be outside radius")
	}
	// exactly on the boundary counts as within
	d := HaversineKm(center, near)
	if !WithinRadiusKm(center, near, d) {
		t.Error("boundary must be inclusive")
	}
}

func TestMemoryIndexNearbyOrdering(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Upsert("close", models.Coord{Lat: 0.01, Lng: 0})
	idx.Upsert("closer", models.Coord{Lat: 0.005, Lng: 0})
	idx.Upsert("far", models.Coord{Lat: 1, Lng: 1})

	got := idx.Nearby(models.Coord{Lat: 0, Lng: 0}, 5, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 providers within 5km, got %v", got)
	}
	if got[0] != "closer" || got[1] != "close" {
		t.Fatalf("expected closest first, got %v", got)
	}
}

func TestMemoryIndexNearbyLimit(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Upsert("a", models.Coord{Lat: 0.001, Lng: 0})
	idx.Upsert("b", models.Coord{Lat: 0.002, Lng: 0})
	idx.Upsert("c", models.Coord{Lat: 0.003, Lng: 0})
	got := idx.Nearby(models.Coord{}, 5, 2)
	if len(got) != 2 {
		t.Fatalf("expected limit to cap results, got %v", got)
	}
}

func TestMemoryIndexRemove(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Upsert("p1", models.Coord{Lat: 1, Lng: 1})
	if _, ok := idx.Locate("p1"); !ok {
		t.Fatal("expected location after upsert")
	}
	idx.Remove("p1")
	if _, ok := idx.Locate("p1"); ok {
		t.Fatal("expected no location after remove")
	}
}
