package eta

import (
	"testing"
	"time"

	"github.com/example/ride-marketplace/internal/models"
)

func TestEstimateSeconds(t *testing.T) {
	a := models.Coord{Lat: 0, Lng: 0}
	b := models.Coord{Lat: 0.0449, Lng: 0} // ~5km
	secs := EstimateSeconds(a, b, 10)
	if secs < 480 || secs > 520 {
		t.Fatalf("expected ~500s at 10 m/s over 5km, got %.1f", secs)
	}
	// zero speed falls back to the default rather than dividing by zero
	if s := EstimateSeconds(a, b, 0); s <= 0 {
		t.Fatalf("expected positive estimate with default speed, got %v", s)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	a := models.Coord{Lat: 1, Lng: 1}
	b := models.Coord{Lat: 2, Lng: 2}

	if _, ok := c.Get(a, b); ok {
		t.Fatal("empty cache must miss")
	}
	c.Set(a, b, 42)
	if v, ok := c.Get(a, b); !ok || v != 42 {
		t.Fatalf("expected hit with 42, got %v ok=%v", v, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry must miss")
	}
}
