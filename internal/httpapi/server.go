// Package httpapi exposes the dashboard's REST surface: connection
// configuration, listen/stop control, notification snapshots and API usage
// stats.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/connection"
	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/services/supervisor"
	"github.com/NordCoder/ccwatch/internal/stats"
)

// Core is the connection lifecycle surface the API drives.
type Core interface {
	Connect(ctx context.Context, id string, topics []string, method connection.DeliveryMethod, pollInterval time.Duration) (supervisor.Active, error)
	Disconnect(id string)
	Snapshot(id string) []notification.Record
	ListActive() []supervisor.Active
}

type Params struct {
	Log         *zap.Logger
	Core        Core
	Configs     connection.ConfigStore
	Stats       *stats.Counters
	CORSOrigins []string
}

type Server struct {
	log     *zap.Logger
	core    Core
	configs connection.ConfigStore
	stats   *stats.Counters
	origins []string
}

func New(p Params) *Server {
	return &Server{
		log:     p.Log.With(zap.String("component", "httpapi")),
		core:    p.Core,
		configs: p.Configs,
		stats:   p.Stats,
		origins: p.CORSOrigins,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/notifications/listen", s.handleListen)
	mux.HandleFunc("POST /api/notifications/stop/{id}", s.handleStop)
	mux.HandleFunc("GET /api/notifications/active", s.handleActive)
	mux.HandleFunc("GET /api/notifications/{id}", s.handleSnapshot)

	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("POST /api/connections", s.handleAddConnection)
	mux.HandleFunc("DELETE /api/connections/{id}", s.handleRemoveConnection)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/stats/reset", s.handleStatsReset)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return otelhttp.NewHandler(s.cors(mux), "httpapi")
}

type listenRequest struct {
	ConnectionID string   `json:"connectionId"`
	Topics       []string `json:"topics"`
	Method       string   `json:"method"`
	// PollingInterval is in milliseconds, matching the dashboard client.
	PollingInterval int64 `json:"pollingInterval"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	var req listenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConnectionID == "" {
		s.error(w, http.StatusBadRequest, "connectionId is required")
		return
	}
	if len(req.Topics) == 0 {
		s.error(w, http.StatusBadRequest, "at least one topic is required")
		return
	}
	method := connection.DeliveryMethod(req.Method)
	switch method {
	case "", connection.MethodWebsocket, connection.MethodPolling:
	default:
		s.error(w, http.StatusBadRequest, "method must be websocket or polling")
		return
	}

	active, err := s.core.Connect(r.Context(), req.ConnectionID, req.Topics,
		method, time.Duration(req.PollingInterval)*time.Millisecond)
	if err != nil {
		s.coreError(w, err)
		return
	}
	s.json(w, http.StatusOK, activeViewOf(active))
}

// activeView reports intervals in milliseconds, the same unit the listen
// request accepts.
type activeView struct {
	ID              string                    `json:"id"`
	Name            string                    `json:"name"`
	Method          connection.DeliveryMethod `json:"method"`
	Topics          []string                  `json:"topics"`
	PollingInterval int64                     `json:"pollingInterval,omitempty"`
}

func activeViewOf(a supervisor.Active) activeView {
	return activeView{
		ID:              a.ID,
		Name:            a.Name,
		Method:          a.Method,
		Topics:          a.Topics,
		PollingInterval: a.PollInterval.Milliseconds(),
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.core.Disconnect(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	active := s.core.ListActive()
	views := make([]activeView, 0, len(active))
	for _, a := range active {
		views = append(views, activeViewOf(a))
	}
	s.json(w, http.StatusOK, views)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.json(w, http.StatusOK, map[string]any{
		"connectionId":  id,
		"notifications": s.core.Snapshot(id),
	})
}

// connectionView is a Connection with credentials withheld.
type connectionView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Region     string    `json:"region"`
	Authorized bool      `json:"authorized"`
	Created    time.Time `json:"created"`
}

func viewOf(c connection.Connection) connectionView {
	return connectionView{
		ID:         c.ID,
		Name:       c.Name,
		Region:     c.Region,
		Authorized: c.Authorized,
		Created:    c.Created,
	}
}

func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns, err := s.configs.List()
	if err != nil {
		s.coreError(w, err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, viewOf(c))
	}
	s.json(w, http.StatusOK, views)
}

type addConnectionRequest struct {
	Name         string `json:"name"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Region       string `json:"region"`
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req addConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.ClientID == "" || req.Region == "" {
		s.error(w, http.StatusBadRequest, "name, clientId and region are required")
		return
	}
	conn := connection.Connection{
		ID:           uuid.NewString(),
		Name:         req.Name,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Region:       req.Region,
		Created:      time.Now().UTC(),
	}
	if err := s.configs.Add(conn); err != nil {
		s.coreError(w, err)
		return
	}
	s.json(w, http.StatusCreated, viewOf(conn))
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.core.Disconnect(id)
	if err := s.configs.Remove(id); err != nil {
		s.coreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.json(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	s.stats.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) error(w http.ResponseWriter, code int, msg string) {
	s.json(w, code, map[string]string{"error": msg})
}

func (s *Server) coreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, connection.ErrNotFound), errors.Is(err, provider.ErrNotFound):
		s.error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, provider.ErrUnauthorized):
		s.error(w, http.StatusUnauthorized, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		s.error(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
