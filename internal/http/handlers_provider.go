package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-marketplace/internal/ingest"
	"github.com/example/ride-marketplace/internal/models"
	"github.com/example/ride-marketplace/internal/observability"
)

type providerLocationBody struct {
	ProviderID string  `json:"provider_id" validate:"required"`
	Lat        float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng        float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// handleProviderLocation ingests a location fix: geo index now, Kafka for
// everything downstream.
func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var body providerLocationBody
	if !s.decode(w, r, &body) {
		return
	}
	c := models.Coord{Lat: body.Lat, Lng: body.Lng}
	s.Index.Upsert(body.ProviderID, c)
	if err := s.Events.Publish(ingest.Event{
		Type:    ingest.EventProviderLocation,
		Key:     body.ProviderID,
		ActorID: body.ProviderID,
		Data: map[string]string{
			"lat": strconv.FormatFloat(c.Lat, 'f', -1, 64),
			"lng": strconv.FormatFloat(c.Lng, 'f', -1, 64),
		},
	}); err != nil {
		s.logger.Warn("event publish failed", "type", ingest.EventProviderLocation, "error", err)
	}
	observability.ProvidersOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

type putProviderBody struct {
	ID         string   `json:"id" validate:"required"`
	Kind       string   `json:"kind" validate:"required,oneof=ride parcel service"`
	Verified   bool     `json:"verified"`
	Online     bool     `json:"online"`
	Categories []string `json:"categories"`
	Rating     float64  `json:"rating" validate:"gte=0,lte=5"`
}

func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	var body putProviderBody
	if !s.decode(w, r, &body) {
		return
	}
	p := &models.Provider{
		ID:         body.ID,
		Kind:       models.ServiceKind(body.Kind),
		Verified:   body.Verified,
		Online:     body.Online,
		Categories: body.Categories,
		Rating:     body.Rating,
	}
	if err := s.Store.PutProvider(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}
