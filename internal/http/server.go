// Package httpapi exposes the marketplace over REST plus a websocket
// notification channel.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-marketplace/internal/bids"
	"github.com/example/ride-marketplace/internal/citymatch"
	"github.com/example/ride-marketplace/internal/dispatch"
	"github.com/example/ride-marketplace/internal/geo"
	"github.com/example/ride-marketplace/internal/ingest"
	"github.com/example/ride-marketplace/internal/requests"
	"github.com/example/ride-marketplace/internal/storage"
)

type Server struct {
	Requests *requests.Service
	Bids     *bids.Service
	City     *citymatch.Service
	Store    storage.Store
	Index    geo.Index
	Events   *ingest.EventProducer
	WSReg    *dispatch.WSRegistry

	jwtSecret string
	validate  *validator.Validate
	logger    *slog.Logger
	mux       *mux.Router
}

type Deps struct {
	Requests *requests.Service
	Bids     *bids.Service
	City     *citymatch.Service
	Store    storage.Store
	Index    geo.Index
	Events   *ingest.EventProducer
	WSReg    *dispatch.WSRegistry

	JWTSecret string
	Logger    *slog.Logger
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Requests:  d.Requests,
		Bids:      d.Bids,
		City:      d.City,
		Store:     d.Store,
		Index:     d.Index,
		Events:    d.Events,
		WSReg:     d.WSReg,
		jwtSecret: d.JWTSecret,
		validate:  validator.New(),
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/discover", s.handleDiscoverRequests).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/start", s.handleStartRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", s.handleCompleteRequest).Methods("POST")

	api.HandleFunc("/requests/{id}/bids", s.handleSubmitBid).Methods("POST")
	api.HandleFunc("/requests/{id}/bids", s.handleListBids).Methods("GET")
	api.HandleFunc("/bids/pending", s.handlePendingBids).Methods("GET")
	api.HandleFunc("/bids/{id}/accept", s.handleAcceptBid).Methods("POST")

	api.HandleFunc("/city/requests", s.handleCreateCityRequest).Methods("POST")
	api.HandleFunc("/city/requests/active", s.handleActiveCityRequest).Methods("GET")
	api.HandleFunc("/city/requests/{id}/cancel", s.handleCancelCityRequest).Methods("POST")
	api.HandleFunc("/city/search", s.handleCitySearch).Methods("GET")
	api.HandleFunc("/city/matches", s.handleCreateCityMatch).Methods("POST")
	api.HandleFunc("/city/matches", s.handleListCityMatches).Methods("GET")
	api.HandleFunc("/city/matches/{id}/cancel", s.handleCancelCityMatch).Methods("POST")
	api.HandleFunc("/city/trip/end", s.handleEndCityTrip).Methods("POST")

	s.mux.HandleFunc("/internal/provider/locations", s.handleProviderLocation).Methods("POST")
	s.mux.HandleFunc("/internal/providers", s.handlePutProvider).Methods("PUT")

	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
