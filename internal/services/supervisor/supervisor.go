// Package supervisor owns the set of live connections. It starts and stops
// delivery strategies, falls back from push to polling when a channel cannot
// be established, and hands out snapshots of each connection's store.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/connection"
	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/notify"
	"github.com/NordCoder/ccwatch/internal/services/pull"
	"github.com/NordCoder/ccwatch/internal/services/push"
)

var (
	mActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supervisor_active_connections", Help: "Connections with a running delivery strategy",
	})
	mFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervisor_fallbacks_total", Help: "Push starts that fell back to polling",
	})
)

// ClientFactory builds a provider client bound to one connection's
// credentials and region.
type ClientFactory interface {
	ForConnection(connection.Connection) provider.API
}

type Config struct {
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration
	ReconnectDelay      time.Duration
	UserPageSize        int
	QueuePageSize       int
	EvaluationWindow    time.Duration
}

// Active describes one running connection.
type Active struct {
	ID           string
	Name         string
	Method       connection.DeliveryMethod
	Topics       []string
	PollInterval time.Duration
}

type stopper interface{ Stop() }

type entry struct {
	conn     connection.Connection
	topics   []string
	method   connection.DeliveryMethod
	interval time.Duration
	store    *notify.Store
	stop     stopper
}

type Supervisor struct {
	log     *zap.Logger
	configs connection.ConfigStore
	clients ClientFactory
	dialer  provider.Dialer
	cfg     Config

	mu       sync.Mutex
	conns    map[string]*entry
	starting map[string]struct{}
}

func New(log *zap.Logger, configs connection.ConfigStore, clients ClientFactory, dialer provider.Dialer, cfg Config) *Supervisor {
	if cfg.DefaultPollInterval <= 0 {
		cfg.DefaultPollInterval = 30 * time.Second
	}
	if cfg.MinPollInterval <= 0 {
		cfg.MinPollInterval = 5 * time.Second
	}
	return &Supervisor{
		log:      log.With(zap.String("component", "supervisor")),
		configs:  configs,
		clients:  clients,
		dialer:   dialer,
		cfg:      cfg,
		conns:    map[string]*entry{},
		starting: map[string]struct{}{},
	}
}

// Connect starts (or restarts) delivery for the connection. Calling it again
// for a live connection merges the requested topics into the existing set and
// restarts the strategy with the union; the store survives the restart.
// Requesting websocket delivery falls back to polling when the push channel
// cannot be established. At most one Connect may be in flight per id;
// overlapping calls fail fast.
func (s *Supervisor) Connect(ctx context.Context, id string, topics []string, method connection.DeliveryMethod, pollInterval time.Duration) (Active, error) {
	conn, err := s.configs.Get(id)
	if err != nil {
		return Active{}, err
	}
	if !conn.Authorized || conn.AccessToken == "" {
		return Active{}, fmt.Errorf("connection %s: %w", id, provider.ErrUnauthorized)
	}
	if !conn.TokenExpiry.IsZero() && conn.TokenExpiry.Before(time.Now()) {
		return Active{}, fmt.Errorf("connection %s: token expired: %w", id, provider.ErrUnauthorized)
	}

	// Registry reads happen under the lock; the network phase below runs
	// without it so one slow provider cannot stall calls for other
	// connections. The starting set keeps the one-strategy-per-id invariant
	// while the lock is released.
	s.mu.Lock()
	if _, busy := s.starting[id]; busy {
		s.mu.Unlock()
		return Active{}, fmt.Errorf("connection %s: connect already in progress", id)
	}
	prev := s.conns[id]
	if prev != nil {
		topics = mergeTopics(prev.topics, topics)
		if method == "" {
			method = prev.method
		}
		if pollInterval <= 0 {
			pollInterval = prev.interval
		}
	}
	s.starting[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.starting, id)
		s.mu.Unlock()
	}()

	if method == "" {
		method = connection.MethodWebsocket
	}
	if pollInterval <= 0 {
		pollInterval = s.cfg.DefaultPollInterval
	}
	if pollInterval < s.cfg.MinPollInterval {
		pollInterval = s.cfg.MinPollInterval
	}

	api := s.clients.ForConnection(conn)
	if _, err := api.Authenticate(ctx); err != nil {
		// The previous strategy, if any, keeps running untouched.
		return Active{}, fmt.Errorf("authenticate %s: %w", id, err)
	}

	// Auth succeeded; retire the old strategy before its replacement starts
	// so the connection never streams twice. The store survives the swap.
	store := notify.NewStore()
	if prev != nil {
		s.mu.Lock()
		delete(s.conns, id)
		mActive.Set(float64(len(s.conns)))
		s.mu.Unlock()
		prev.stop.Stop()
		store = prev.store
	}

	ne := &entry{
		conn:     conn,
		topics:   topics,
		method:   method,
		interval: pollInterval,
		store:    store,
	}

	if method == connection.MethodWebsocket {
		h, err := push.Start(context.Background(), push.Params{
			Log:            s.log.With(zap.String("connection", id)),
			API:            api,
			Dialer:         s.dialer,
			Store:          store,
			Topics:         topics,
			ReconnectDelay: s.cfg.ReconnectDelay,
		})
		if err == nil {
			ne.stop = h
		} else {
			mFallbacks.Inc()
			s.log.Warn("push unavailable, falling back to polling",
				zap.String("connection", id), zap.Error(err))
			ne.method = connection.MethodPolling
		}
	}
	if ne.stop == nil {
		ne.stop = pull.Start(context.Background(), pull.Params{
			Log:              s.log.With(zap.String("connection", id)),
			API:              api,
			Store:            store,
			Topics:           topics,
			Interval:         pollInterval,
			UserPageSize:     s.cfg.UserPageSize,
			QueuePageSize:    s.cfg.QueuePageSize,
			EvaluationWindow: s.cfg.EvaluationWindow,
		})
	}

	s.mu.Lock()
	s.conns[id] = ne
	mActive.Set(float64(len(s.conns)))
	s.mu.Unlock()
	s.log.Info("connection started",
		zap.String("connection", id),
		zap.String("method", string(ne.method)),
		zap.Int("topics", len(topics)))
	return activeOf(ne), nil
}

// Disconnect stops delivery and drops the connection's buffered records.
// Disconnecting an unknown connection is a no-op.
func (s *Supervisor) Disconnect(id string) {
	s.mu.Lock()
	e, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
		mActive.Set(float64(len(s.conns)))
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.stop.Stop()
	e.store.Clear()
	s.log.Info("connection stopped", zap.String("connection", id))
}

// Snapshot returns the connection's buffered records, newest first. An
// unknown connection yields an empty slice.
func (s *Supervisor) Snapshot(id string) []notification.Record {
	s.mu.Lock()
	e, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return []notification.Record{}
	}
	return e.store.Snapshot()
}

func (s *Supervisor) ListActive() []Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Active, 0, len(s.conns))
	for _, e := range s.conns {
		out = append(out, activeOf(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops every running connection. Stores are kept so a caller holding
// a snapshot sees a consistent view during shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.conns))
	for id, e := range s.conns {
		entries = append(entries, e)
		delete(s.conns, id)
	}
	mActive.Set(0)
	s.mu.Unlock()
	for _, e := range entries {
		e.stop.Stop()
	}
}

func activeOf(e *entry) Active {
	a := Active{
		ID:     e.conn.ID,
		Name:   e.conn.Name,
		Method: e.method,
		Topics: append([]string(nil), e.topics...),
	}
	if e.method == connection.MethodPolling {
		a.PollInterval = e.interval
	}
	return a
}

// mergeTopics unions the two lists preserving first-seen order.
func mergeTopics(existing, requested []string) []string {
	seen := make(map[string]bool, len(existing)+len(requested))
	out := make([]string, 0, len(existing)+len(requested))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range requested {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
