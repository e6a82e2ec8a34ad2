package citymatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewService(store, nil, nil, nil), store
}

func driverCommand(userID string, seats int, date time.Time) CreateCommand {
	return CreateCommand{
		UserID:        userID,
		UserType:      models.UserHasCar,
		FromCityID:    "khi",
		ToCityID:      "lhe",
		TravelDate:    date,
		NumberOfSeats: seats,
		MaxBags:       2,
	}
}

func passengerCommand(userID string, date time.Time) CreateCommand {
	return CreateCommand{
		UserID:      userID,
		UserType:    models.UserNeedsCar,
		FromCityID:  "khi",
		ToCityID:    "lhe",
		TravelDate:  date,
		NeededSeats: 1,
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	cases := []struct {
		name string
		cmd  CreateCommand
	}{
		{"missing user", CreateCommand{UserType: models.UserHasCar, FromCityID: "a", ToCityID: "b", TravelDate: tomorrow, NumberOfSeats: 2}},
		{"bad user type", CreateCommand{UserID: "u1", UserType: "walker", FromCityID: "a", ToCityID: "b", TravelDate: tomorrow}},
		{"missing cities", CreateCommand{UserID: "u1", UserType: models.UserHasCar, TravelDate: tomorrow, NumberOfSeats: 2}},
		{"same city", CreateCommand{UserID: "u1", UserType: models.UserHasCar, FromCityID: "a", ToCityID: "a", TravelDate: tomorrow, NumberOfSeats: 2}},
		{"past date", driverCommand("u1", 2, time.Now().AddDate(0, 0, -2))},
		{"driver without seats", driverCommand("u1", 0, tomorrow)},
		{"passenger without seats", CreateCommand{UserID: "u1", UserType: models.UserNeedsCar, FromCityID: "a", ToCityID: "b", TravelDate: tomorrow}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.cmd); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	// today is not in the past
	if _, err := svc.Create(ctx, driverCommand("u1", 2, time.Now())); err != nil {
		t.Fatalf("same-day request must be allowed, got %v", err)
	}
}

func TestCreateOneActivePerUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	if _, err := svc.Create(ctx, passengerCommand("u1", tomorrow)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, passengerCommand("u1", tomorrow)); !errors.Is(err, ErrActiveRequestExists) {
		t.Fatalf("expected ErrActiveRequestExists, got %v", err)
	}
}

func TestSearchSymmetry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	d, err := svc.Create(ctx, driverCommand("driver", 3, tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	p, err := svc.Create(ctx, passengerCommand("pass", tomorrow))
	if err != nil {
		t.Fatal(err)
	}

	// driver sees the passenger, passenger sees the driver
	dres, err := svc.Search(ctx, "driver")
	if err != nil {
		t.Fatal(err)
	}
	if len(dres.Matches) != 1 || dres.Matches[0].ID != p.ID {
		t.Fatalf("driver search: %+v", dres.Matches)
	}
	pres, err := svc.Search(ctx, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if len(pres.Matches) != 1 || pres.Matches[0].ID != d.ID {
		t.Fatalf("passenger search: %+v", pres.Matches)
	}
}

func TestSearchFiltersRouteAndDay(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	if _, err := svc.Create(ctx, driverCommand("driver", 3, tomorrow)); err != nil {
		t.Fatal(err)
	}

	// different route
	other := passengerCommand("p-other", tomorrow)
	other.ToCityID = "isb"
	if _, err := svc.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	// different day
	if _, err := svc.Create(ctx, passengerCommand("p-late", tomorrow.AddDate(0, 0, 3))); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Search(ctx, "driver")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("expected no same-day same-route candidates, got %+v", res.Matches)
	}
}

func TestSearchSuggestionsForPassengersOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	base := time.Now().Add(48 * time.Hour)

	if _, err := svc.Create(ctx, driverCommand("d-before", 3, base.AddDate(0, 0, -1))); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, driverCommand("d-after", 3, base.AddDate(0, 0, 1))); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, passengerCommand("pass", base)); err != nil {
		t.Fatal(err)
	}

	pres, err := svc.Search(ctx, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if len(pres.Matches) != 0 {
		t.Fatalf("no same-day drivers expected, got %+v", pres.Matches)
	}
	if len(pres.Suggestions) != 2 {
		t.Fatalf("expected two near-date suggestions, got %+v", pres.Suggestions)
	}
	for _, sg := range pres.Suggestions {
		if sg.DateDifference != -1 && sg.DateDifference != 1 {
			t.Fatalf("unexpected date difference %d", sg.DateDifference)
		}
	}

	// drivers get no suggestions
	dres, err := svc.Search(ctx, "d-before")
	if err != nil {
		t.Fatal(err)
	}
	if len(dres.Suggestions) != 0 {
		t.Fatalf("drivers must not get suggestions, got %+v", dres.Suggestions)
	}
}

func TestSearchLazyExpiry(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if _, err := svc.Create(ctx, passengerCommand("pass", time.Now())); err != nil {
		t.Fatal(err)
	}
	// the travel day has passed by the next search
	svc.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }

	res, err := svc.Search(ctx, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Expired {
		t.Fatal("expected the request to expire")
	}

	r, err := store.ActiveCityRequestByUser(ctx, "pass")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired request must not stay active, got %+v / %v", r, err)
	}
}

func TestCreateMatchLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	if _, err := svc.Create(ctx, driverCommand("driver", 2, tomorrow)); err != nil {
		t.Fatal(err)
	}
	p1, err := svc.Create(ctx, passengerCommand("pa", tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := svc.Create(ctx, passengerCommand("pb", tomorrow))
	if err != nil {
		t.Fatal(err)
	}

	// passengers cannot initiate
	if _, err := svc.CreateMatch(ctx, "pa", p2.ID); !errors.Is(err, ErrOnlyDriversMatch) {
		t.Fatalf("expected ErrOnlyDriversMatch, got %v", err)
	}

	res, err := svc.CreateMatch(ctx, "driver", p1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.DriverFull || res.ActiveMatches != 1 {
		t.Fatalf("first match: %+v", res)
	}

	// already matched passenger disappears from the driver's search
	sres, err := svc.Search(ctx, "driver")
	if err != nil {
		t.Fatal(err)
	}
	if len(sres.Matches) != 1 || sres.Matches[0].ID != p2.ID {
		t.Fatalf("matched passenger must be excluded, got %+v", sres.Matches)
	}

	// matching the same passenger again conflicts
	if _, err := svc.CreateMatch(ctx, "driver", p1.ID); !errors.Is(err, ErrAlreadyMatched) {
		t.Fatalf("expected ErrAlreadyMatched, got %v", err)
	}

	res, err = svc.CreateMatch(ctx, "driver", p2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DriverFull {
		t.Fatal("two-seat driver must be full after the second match")
	}

	list, err := svc.Matched(ctx, "driver")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two matches, got %d", len(list))
	}
}

func TestCreateMatchCapacityFull(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	if _, err := svc.Create(ctx, driverCommand("driver", 1, tomorrow)); err != nil {
		t.Fatal(err)
	}
	p1, err := svc.Create(ctx, passengerCommand("pa", tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := svc.Create(ctx, passengerCommand("pb", tomorrow))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CreateMatch(ctx, "driver", p1.ID); err != nil {
		t.Fatal(err)
	}
	// a full driver is matched, so the capacity error surfaces as such
	if _, err := svc.CreateMatch(ctx, "driver", p2.ID); !errors.Is(err, ErrDriverCapacityFull) {
		t.Fatalf("expected ErrDriverCapacityFull, got %v", err)
	}
}

func TestCreateMatchRejectsWrongPairs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	if _, err := svc.Create(ctx, driverCommand("d1", 2, tomorrow)); err != nil {
		t.Fatal(err)
	}
	d2, err := svc.Create(ctx, driverCommand("d2", 2, tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	wrongRoute := passengerCommand("p-route", tomorrow)
	wrongRoute.ToCityID = "isb"
	pr, err := svc.Create(ctx, wrongRoute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CreateMatch(ctx, "d1", d2.ID); !errors.Is(err, ErrSameUserType) {
		t.Fatalf("expected ErrSameUserType, got %v", err)
	}
	if _, err := svc.CreateMatch(ctx, "d1", pr.ID); !errors.Is(err, ErrRouteMismatch) {
		t.Fatalf("expected ErrRouteMismatch, got %v", err)
	}
	if _, err := svc.CreateMatch(ctx, "d1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelMatchReopensPassenger(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	if _, err := svc.Create(ctx, driverCommand("driver", 1, tomorrow)); err != nil {
		t.Fatal(err)
	}
	p, err := svc.Create(ctx, passengerCommand("pass", tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.CreateMatch(ctx, "driver", p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// a third party cannot cancel
	if err := svc.CancelMatch(ctx, res.Match.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// the passenger can
	if err := svc.CancelMatch(ctx, res.Match.ID, "pass"); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetCityRequest(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.CitySearching {
		t.Fatalf("passenger must reopen, got %s", got.Status)
	}
}

func TestCancelRequestReleasesMatches(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	d, err := svc.Create(ctx, driverCommand("driver", 1, tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	p, err := svc.Create(ctx, passengerCommand("pass", tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateMatch(ctx, "driver", p.ID); err != nil {
		t.Fatal(err)
	}

	if err := svc.Cancel(ctx, d.ID, "driver"); err != nil {
		t.Fatal(err)
	}
	// idempotent
	if err := svc.Cancel(ctx, d.ID, "driver"); err != nil {
		t.Fatalf("repeat cancel must succeed, got %v", err)
	}

	got, err := store.GetCityRequest(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.CitySearching {
		t.Fatalf("passenger must be released to search again, got %s", got.Status)
	}
}

func TestEndTrip(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	tomorrow := time.Now().Add(24 * time.Hour)

	d, err := svc.Create(ctx, driverCommand("driver", 2, tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	p, err := svc.Create(ctx, passengerCommand("pass", tomorrow))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateMatch(ctx, "driver", p.ID); err != nil {
		t.Fatal(err)
	}

	// passengers cannot end the trip
	if err := svc.EndTrip(ctx, "pass"); !errors.Is(err, ErrOnlyDriversMatch) {
		t.Fatalf("expected ErrOnlyDriversMatch, got %v", err)
	}
	if err := svc.EndTrip(ctx, "driver"); err != nil {
		t.Fatal(err)
	}

	dReq, _ := store.GetCityRequest(ctx, d.ID)
	pReq, _ := store.GetCityRequest(ctx, p.ID)
	if dReq.Status != models.CityCompleted || pReq.Status != models.CityCompleted {
		t.Fatalf("trip must close both sides, got driver=%s passenger=%s", dReq.Status, pReq.Status)
	}
}

func TestActiveAndMatched(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Active(ctx, "nobody"); !errors.Is(err, ErrNoActiveRequest) {
		t.Fatalf("expected ErrNoActiveRequest, got %v", err)
	}
	if _, err := svc.Matched(ctx, "nobody"); !errors.Is(err, ErrNoActiveRequest) {
		t.Fatalf("expected ErrNoActiveRequest, got %v", err)
	}

	r, err := svc.Create(ctx, passengerCommand("pass", time.Now().Add(24*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	active, err := svc.Active(ctx, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != r.ID {
		t.Fatalf("active returned %s, want %s", active.ID, r.ID)
	}
}
