package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-marketplace/internal/auth"
	"github.com/example/ride-marketplace/internal/bids"
	"github.com/example/ride-marketplace/internal/citymatch"
	"github.com/example/ride-marketplace/internal/dispatch"
	"github.com/example/ride-marketplace/internal/eligibility"
	"github.com/example/ride-marketplace/internal/geo"
	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/requests"
	"github.com/example/ride-marketplace/internal/storage"
)

const testSecret = "test-secret"

type testEnv struct {
	server *Server
	store  *storage.MemoryStore
	index  *geo.MemoryIndex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	index := geo.NewMemoryIndex()
	checker := eligibility.NewChecker(index)

	reqSvc := requests.NewService(requests.Config{Store: store, Checker: checker, Index: index})
	bidSvc := bids.NewService(store, checker, nil, nil, nil)
	citySvc := citymatch.NewService(store, nil, nil, nil)

	srv := NewServer(Deps{
		Requests:  reqSvc,
		Bids:      bidSvc,
		City:      citySvc,
		Store:     store,
		Index:     index,
		WSReg:     dispatch.NewWSRegistry(),
		JWTSecret: testSecret,
	})
	return &testEnv{server: srv, store: store, index: index}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.NewToken(auth.Principal{UserID: userID, Role: role}, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) addProvider(t *testing.T, id string) {
	t.Helper()
	p := &models.Provider{ID: id, Kind: models.KindRide, Verified: true, Online: true}
	if err := e.store.PutProvider(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/v1/requests", "", map[string]any{})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", w.Code)
	}
	w = e.do(t, "GET", "/api/v1/bids/pending", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", w.Code)
	}
}

func TestHealthAndMetricsOpen(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, "GET", "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", w.Code)
	}
	if w := e.do(t, "GET", "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", w.Code)
	}
}

func TestCreateRequestRoles(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]any{
		"kind":    "ride",
		"pickup":  map[string]float64{"lat": 24.86, "lng": 67.00},
		"dropoff": map[string]float64{"lat": 24.90, "lng": 67.10},
		"price":   500,
	}

	// providers may not open requests
	w := e.do(t, "POST", "/api/v1/requests", e.token(t, "p1", auth.RoleProvider), body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("provider create: got %d", w.Code)
	}

	w = e.do(t, "POST", "/api/v1/requests", e.token(t, "c1", auth.RoleConsumer), body)
	if w.Code != http.StatusCreated {
		t.Fatalf("consumer create: got %d body=%s", w.Code, w.Body.String())
	}
	var created models.Request
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != models.RequestSearching {
		t.Fatalf("status = %s", created.Status)
	}
}

func TestCreateRequestValidationStatus(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/requests", e.token(t, "c1", auth.RoleConsumer), map[string]any{
		"kind":  "ride",
		"price": -1,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid price: got %d", w.Code)
	}
}

func TestBidFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.addProvider(t, "p1")
	e.addProvider(t, "p2")

	w := e.do(t, "POST", "/api/v1/requests", e.token(t, "c1", auth.RoleConsumer), map[string]any{
		"kind":    "ride",
		"pickup":  map[string]float64{"lat": 24.86, "lng": 67.00},
		"dropoff": map[string]float64{"lat": 24.90, "lng": 67.10},
		"price":   500,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var req models.Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatal(err)
	}

	bidPath := fmt.Sprintf("/api/v1/requests/%s/bids", req.ID)
	w = e.do(t, "POST", bidPath, e.token(t, "p1", auth.RoleProvider), map[string]any{"price": 450})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit bid: %d %s", w.Code, w.Body.String())
	}
	var b1 models.Bid
	if err := json.Unmarshal(w.Body.Bytes(), &b1); err != nil {
		t.Fatal(err)
	}
	w = e.do(t, "POST", bidPath, e.token(t, "p2", auth.RoleProvider), map[string]any{"price": 480})
	if w.Code != http.StatusCreated {
		t.Fatalf("second bid: %d %s", w.Code, w.Body.String())
	}

	// consumers cannot bid
	w = e.do(t, "POST", bidPath, e.token(t, "c1", auth.RoleConsumer), map[string]any{"price": 100})
	if w.Code != http.StatusForbidden {
		t.Fatalf("consumer bid: got %d", w.Code)
	}

	// only the owner lists bids
	w = e.do(t, "GET", bidPath, e.token(t, "other", auth.RoleConsumer), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger list: got %d", w.Code)
	}
	w = e.do(t, "GET", bidPath, e.token(t, "c1", auth.RoleConsumer), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner list: got %d", w.Code)
	}
	var list []models.Bid
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(list))
	}

	acceptPath := fmt.Sprintf("/api/v1/bids/%s/accept", b1.ID)
	w = e.do(t, "POST", acceptPath, e.token(t, "c1", auth.RoleConsumer), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}

	// losing bid now conflicts
	var second models.Bid
	for _, b := range list {
		if b.ID != b1.ID {
			second = b
		}
	}
	w = e.do(t, "POST", fmt.Sprintf("/api/v1/bids/%s/accept", second.ID), e.token(t, "c1", auth.RoleConsumer), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("losing accept: got %d, want 409", w.Code)
	}
}

func TestCityFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	date := time.Now().Add(24 * time.Hour).Format("2006-01-02")

	w := e.do(t, "POST", "/api/v1/city/requests", e.token(t, "driver", auth.RoleConsumer), map[string]any{
		"user_type":       "has-car",
		"from_city_id":    "khi",
		"to_city_id":      "lhe",
		"travel_date":     date,
		"number_of_seats": 2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("driver create: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, "POST", "/api/v1/city/requests", e.token(t, "pass", auth.RoleConsumer), map[string]any{
		"user_type":    "needs-car",
		"from_city_id": "khi",
		"to_city_id":   "lhe",
		"travel_date":  date,
		"needed_seats": 1,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("passenger create: %d %s", w.Code, w.Body.String())
	}
	var passReq models.CityToCityRequest
	if err := json.Unmarshal(w.Body.Bytes(), &passReq); err != nil {
		t.Fatal(err)
	}

	// duplicate active request conflicts
	w = e.do(t, "POST", "/api/v1/city/requests", e.token(t, "pass", auth.RoleConsumer), map[string]any{
		"user_type":    "needs-car",
		"from_city_id": "khi",
		"to_city_id":   "lhe",
		"travel_date":  date,
		"needed_seats": 1,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate request: got %d, want 409", w.Code)
	}

	w = e.do(t, "GET", "/api/v1/city/search", e.token(t, "driver", auth.RoleConsumer), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var res citymatch.SearchResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected one candidate, got %+v", res.Matches)
	}

	w = e.do(t, "POST", "/api/v1/city/matches", e.token(t, "driver", auth.RoleConsumer), map[string]any{
		"target_request_id": passReq.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("match: %d %s", w.Code, w.Body.String())
	}

	// passengers cannot initiate a match
	w = e.do(t, "POST", "/api/v1/city/matches", e.token(t, "pass", auth.RoleConsumer), map[string]any{
		"target_request_id": passReq.ID,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("passenger match: got %d", w.Code)
	}

	w = e.do(t, "GET", "/api/v1/city/matches", e.token(t, "driver", auth.RoleConsumer), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("matched list: %d", w.Code)
	}
	var matches []models.CityToCityMatch
	if err := json.Unmarshal(w.Body.Bytes(), &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}

	w = e.do(t, "POST", "/api/v1/city/trip/end", e.token(t, "driver", auth.RoleConsumer), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("end trip: %d %s", w.Code, w.Body.String())
	}
}

func TestProviderLocationIngest(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/internal/provider/locations", "", map[string]any{
		"provider_id": "p1",
		"lat":         24.86,
		"lng":         67.00,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("ingest: %d %s", w.Code, w.Body.String())
	}
	if _, ok := e.index.Locate("p1"); !ok {
		t.Fatal("location must be in the geo index after ingest")
	}
}

func TestNotFoundMapping(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/requests/missing", e.token(t, "c1", auth.RoleConsumer), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing request: got %d", w.Code)
	}
	w = e.do(t, "GET", "/api/v1/city/requests/active", e.token(t, "nobody", auth.RoleConsumer), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("no active city request: got %d", w.Code)
	}
}
