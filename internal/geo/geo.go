package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/ride-marketplace/internal/models"
)

// Locator is the minimal interface the discovery filter needs: the current
// position of a provider, if it has one. A provider with no live fix is not
// discoverable.
type Locator interface {
	Locate(providerID string) (models.Coord, bool)
}

// Index is what request-creation fan-out uses to find nearby providers.
type Index interface {
	Locator
	Upsert(providerID string, c models.Coord)
	Remove(providerID string)
	Nearby(c models.Coord, radiusKm float64, limit int) []string
}

// MemoryIndex keeps provider positions in a map and scans on Nearby. Fine for
// one process; the Redis-backed index covers the multi-process deployment.
type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[string]position
}

type position struct {
	c       models.Coord
	updated time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[string]position)}
}

func (g *MemoryIndex) Upsert(providerID string, c models.Coord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[providerID] = position{c: c, updated: time.Now()}
}

func (g *MemoryIndex) Remove(providerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, providerID)
}

func (g *MemoryIndex) Locate(providerID string) (models.Coord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[providerID]
	if !ok {
		return models.Coord{}, false
	}
	return p.c, true
}

// Nearby returns up to limit provider IDs within radiusKm, closest first.
func (g *MemoryIndex) Nearby(c models.Coord, radiusKm float64, limit int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	var arr []pair
	for id, p := range g.positions {
		d := HaversineKm(p.c, c)
		if d <= radiusKm {
			arr = append(arr, pair{id, d})
		}
	}
	// partial selection sort for top-N; pools are small
	n := limit
	if n > len(arr) || n <= 0 {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].id)
	}
	return out
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(a, b models.Coord) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// WithinRadiusKm reports whether b is within radiusKm of a. The boundary is
// inclusive: a provider sitting exactly on the circle is discoverable.
func WithinRadiusKm(a, b models.Coord, radiusKm float64) bool {
	return HaversineKm(a, b) <= radiusKm
}
