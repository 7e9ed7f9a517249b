// Package pull delivers events by periodically fetching presence,
// evaluation and queue data from the provider and diffing it into the
// connection's store. It is the fallback when a push channel cannot be
// established, and an explicit choice for orgs that disallow websockets.
package pull

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/notify"
	"github.com/NordCoder/ccwatch/internal/obs"
)

var (
	mCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pull_cycles_total", Help: "Completed poll cycles",
	})
	mUnitErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pull_unit_errors_total", Help: "Per-entity fetch failures skipped within a cycle",
	})
	mCycleDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pull_cycle_duration_seconds", Help: "Poll cycle duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Params struct {
	Log              *zap.Logger
	API              provider.API
	Store            *notify.Store
	Topics           []string
	Interval         time.Duration
	UserPageSize     int
	QueuePageSize    int
	EvaluationWindow time.Duration
}

type Handle struct {
	log   *zap.Logger
	api   provider.API
	store *notify.Store
	kinds map[notification.Kind]bool

	interval  time.Duration
	userPage  int
	queuePage int
	evalSpan  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start begins the polling loop. The first cycle runs immediately so the
// dashboard has data before the first full interval elapses.
func Start(ctx context.Context, p Params) *Handle {
	h := &Handle{
		log:       p.Log.With(zap.String("strategy", "pull")),
		api:       p.API,
		store:     p.Store,
		kinds:     map[notification.Kind]bool{},
		interval:  p.Interval,
		userPage:  p.UserPageSize,
		queuePage: p.QueuePageSize,
		evalSpan:  p.EvaluationWindow,
	}
	if h.interval <= 0 {
		h.interval = 30 * time.Second
	}
	if h.userPage <= 0 {
		h.userPage = 25
	}
	if h.queuePage <= 0 {
		h.queuePage = 100
	}
	if h.evalSpan <= 0 {
		h.evalSpan = 24 * time.Hour
	}
	for _, t := range p.Topics {
		h.kinds[notification.KindOfTopic(t)] = true
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(1)
	go h.run(runCtx)
	return h
}

// Stop cancels the recurring timer and waits for any in-flight cycle to
// wind down. Results of a cancelled cycle are discarded before append.
func (h *Handle) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handle) run(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cycle(ctx)
		}
	}
}

func (h *Handle) cycle(ctx context.Context) {
	start := time.Now()
	tr := otel.Tracer("pull")
	ctx, span := tr.Start(ctx, "pull.cycle")
	defer span.End()
	log := obs.WithTrace(ctx, h.log)

	// Presence fetched for one collector is reused by the other within the
	// same cycle.
	presences := map[string]provider.UserPresence{}

	if h.kinds[notification.KindPresence] {
		h.collectPresence(ctx, log, presences)
	}
	if h.kinds[notification.KindEvaluation] {
		h.collectEvaluations(ctx, log)
	}
	if h.kinds[notification.KindQueueStats] {
		h.collectQueueStats(ctx, log, presences)
	}

	mCycles.Inc()
	mCycleDur.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("store.len", h.store.Len()))
}

// append guards against a connection torn down while a fetch was in
// flight: stale results are dropped, not applied.
func (h *Handle) append(ctx context.Context, rec notification.Record) {
	if ctx.Err() != nil {
		return
	}
	h.store.Append(rec)
}

func (h *Handle) collectPresence(ctx context.Context, log *zap.Logger, presences map[string]provider.UserPresence) {
	for page := 1; ; page++ {
		users, err := h.api.ListUsers(ctx, page, h.userPage)
		if err != nil {
			log.Warn("list users", zap.Int("page", page), zap.Error(err))
			return
		}
		for _, u := range users {
			pres, err := h.api.GetUserPresence(ctx, u.ID)
			if err != nil {
				mUnitErrors.Inc()
				log.Warn("get presence", zap.String("user_id", u.ID), zap.Error(err))
				continue
			}
			presences[u.ID] = pres
			h.append(ctx, notify.NormalizePresence("v2.users."+u.ID+".presence", u, pres, time.Now().UTC()))
		}
		if len(users) < h.userPage {
			return
		}
	}
}

func (h *Handle) collectEvaluations(ctx context.Context, log *zap.Logger) {
	now := time.Now().UTC()
	window := provider.TimeWindow{Start: now.Add(-h.evalSpan), End: now}
	evals, err := h.api.ListEvaluations(ctx, window, 100)
	if err != nil {
		log.Warn("list evaluations", zap.Error(err))
		return
	}
	for _, e := range evals {
		h.append(ctx, notify.NormalizeEvaluation("v2.quality.evaluations", e, now))
	}
}

func (h *Handle) collectQueueStats(ctx context.Context, log *zap.Logger, presences map[string]provider.UserPresence) {
	queues, err := h.api.ListQueues(ctx, 1, h.queuePage)
	if err != nil {
		log.Warn("list queues", zap.Error(err))
		return
	}

	// One conversation sweep serves every queue in the cycle.
	convs, err := h.api.ListActiveConversations(ctx)
	if err != nil {
		log.Warn("list conversations", zap.Error(err))
		convs = nil
	}

	now := time.Now().UTC()
	for _, q := range queues {
		stats, err := h.queueStatistics(ctx, log, q, convs, presences, now)
		if err != nil {
			mUnitErrors.Inc()
			log.Warn("queue statistics", zap.String("queue_id", q.ID), zap.Error(err))
			continue
		}
		h.append(ctx, notify.NormalizeQueueStats("v2.routing.queues."+q.ID+".statistics", q, stats, now))
	}
}

func (h *Handle) queueStatistics(ctx context.Context, log *zap.Logger, q provider.Queue, convs []provider.Conversation, presences map[string]provider.UserPresence, now time.Time) (notification.QueueStatistics, error) {
	members, err := h.api.ListQueueMembers(ctx, q.ID, true)
	if err != nil {
		return notification.QueueStatistics{}, err
	}
	// Some orgs report no joined members even when the queue is staffed;
	// fall back to the unfiltered membership.
	if len(members) == 0 {
		members, err = h.api.ListQueueMembers(ctx, q.ID, false)
		if err != nil {
			return notification.QueueStatistics{}, err
		}
	}

	stats := notification.QueueStatistics{UsersOnQueue: len(members)}
	for _, m := range members {
		pres, ok := presences[m.UserID]
		if !ok {
			pres, err = h.api.GetUserPresence(ctx, m.UserID)
			if err != nil {
				mUnitErrors.Inc()
				log.Warn("member presence", zap.String("user_id", m.UserID), zap.Error(err))
				continue
			}
			presences[m.UserID] = pres
		}
		switch status := normalizeStatus(pres.SystemPresence); {
		case status == "" || status == "OFFLINE":
		case status == "AVAILABLE" || status == "ON_QUEUE":
			stats.UsersActive++
			stats.UsersAvailable++
		default:
			stats.UsersActive++
		}
	}

	stats.ContactsWaiting, stats.LongestWaiting = waitingContacts(convs, q.ID, now)
	return stats, nil
}

func normalizeStatus(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == ' ':
			out = append(out, '_')
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// waitingContacts counts participants still waiting or alerting on the
// queue and reports the age of the oldest one.
func waitingContacts(convs []provider.Conversation, queueID string, now time.Time) (int, time.Duration) {
	count := 0
	var longest time.Duration
	for _, conv := range convs {
		for _, p := range conv.Participants {
			if p.QueueID != queueID {
				continue
			}
			switch normalizeStatus(p.State) {
			case "WAITING", "ALERTING":
			default:
				continue
			}
			count++
			if p.StartTime.IsZero() {
				continue
			}
			if wait := now.Sub(p.StartTime); wait > longest {
				longest = wait
			}
		}
	}
	return count, longest
}
