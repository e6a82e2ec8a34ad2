package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-marketplace/internal/models"
)

// RedisIndex implements Index on Redis GEO commands, sharing provider
// positions across server and consumer processes.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(providerID string, c models.Coord) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: c.Lng,
		Latitude:  c.Lat,
		Name:      providerID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(providerID), map[string]interface{}{
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Remove(providerID string) {
	_ = r.client.ZRem(r.ctx, r.key, providerID).Err()
	_ = r.client.Del(r.ctx, metaKey(providerID)).Err()
}

func (r *RedisIndex) Locate(providerID string) (models.Coord, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, providerID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true
}

func (r *RedisIndex) Nearby(c models.Coord, radiusKm float64, limit int) []string {
	res, err := r.client.GeoSearch(r.ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  c.Lng,
		Latitude:   c.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Count:      limit,
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	return res
}

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string { return "provider:meta:" + id }
