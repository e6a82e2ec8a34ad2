package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-marketplace/internal/models"
)

// Postgres tests need a live database and run only when TEST_PG_DSN is set.
// The schema from migrations/001_init.sql must already be applied.
func openTestPG(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	s, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresAcceptBidLifecycle(t *testing.T) {
	s := openTestPG(t)
	ctx := context.Background()

	now := time.Now()
	req := &models.Request{
		ID:         uuid.NewString(),
		Kind:       models.KindRide,
		ConsumerID: uuid.NewString(),
		Pickup:     models.Coord{Lat: 24.86, Lng: 67.00},
		Dropoff:    models.Coord{Lat: 24.90, Lng: 67.10},
		Price:      500,
		Status:     models.RequestSearching,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatal(err)
	}

	b1 := &models.Bid{ID: uuid.NewString(), RequestID: req.ID, ProviderID: uuid.NewString(), Price: 450}
	b2 := &models.Bid{ID: uuid.NewString(), RequestID: req.ID, ProviderID: uuid.NewString(), Price: 480}
	if _, err := s.UpsertBid(ctx, b1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertBid(ctx, b2); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RequestBidReceived {
		t.Fatalf("expected bid_received, got %s", got.Status)
	}

	acc, err := s.AcceptBid(ctx, b1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Request.ProviderID == nil || *acc.Request.ProviderID != b1.ProviderID {
		t.Fatalf("provider not assigned: %+v", acc.Request)
	}
	if len(acc.Rejected) != 1 || acc.Rejected[0] != b2.ID {
		t.Fatalf("sibling not rejected: %v", acc.Rejected)
	}

	if _, err := s.AcceptBid(ctx, b2.ID); err == nil {
		t.Fatal("accepting the losing bid must fail")
	}
}

func TestPostgresCityMatchLifecycle(t *testing.T) {
	s := openTestPG(t)
	ctx := context.Background()

	driver := &models.CityToCityRequest{
		ID:            uuid.NewString(),
		UserID:        uuid.NewString(),
		UserType:      models.UserHasCar,
		FromCityID:    "khi",
		ToCityID:      "lhe",
		TravelDate:    time.Now().Add(24 * time.Hour),
		Status:        models.CitySearching,
		NumberOfSeats: 1,
		CreatedAt:     time.Now(),
	}
	passenger := &models.CityToCityRequest{
		ID:          uuid.NewString(),
		UserID:      uuid.NewString(),
		UserType:    models.UserNeedsCar,
		FromCityID:  "khi",
		ToCityID:    "lhe",
		TravelDate:  time.Now().Add(24 * time.Hour),
		Status:      models.CitySearching,
		NeededSeats: 1,
		CreatedAt:   time.Now(),
	}
	if err := s.CreateCityRequest(ctx, driver); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCityRequest(ctx, passenger); err != nil {
		t.Fatal(err)
	}

	res, err := s.CreateMatch(ctx, driver.ID, passenger.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DriverFull {
		t.Fatal("single-seat driver must be full")
	}

	if err := s.CancelMatch(ctx, res.Match.ID); err != nil {
		t.Fatal(err)
	}
	d, err := s.GetCityRequest(ctx, driver.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != models.CitySearching {
		t.Fatalf("driver must reopen after cancel, got %s", d.Status)
	}
}
