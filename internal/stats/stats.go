// Package stats tracks how many calls this process has made against the
// remote platform API, per endpoint. The numbers back the dashboard's
// api-usage panel and are mirrored into prometheus.
package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provider_api_calls_total",
	Help: "Calls made against the remote platform API.",
}, []string{"endpoint"})

type Counters struct {
	mu         sync.Mutex
	started    time.Time
	total      uint64
	byEndpoint map[string]uint64
}

type Snapshot struct {
	APICalls           uint64            `json:"apiCalls"`
	APICallsByEndpoint map[string]uint64 `json:"apiCallsByEndpoint"`
	StartTime          time.Time         `json:"startTime"`
	UptimeSeconds      int64             `json:"uptime"`
}

func New() *Counters {
	return &Counters{
		started:    time.Now().UTC(),
		byEndpoint: map[string]uint64{},
	}
}

func (c *Counters) Inc(endpoint string) {
	if c == nil {
		return
	}
	mAPICalls.WithLabelValues(endpoint).Inc()
	c.mu.Lock()
	c.total++
	c.byEndpoint[endpoint]++
	c.mu.Unlock()
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	byEndpoint := make(map[string]uint64, len(c.byEndpoint))
	for k, v := range c.byEndpoint {
		byEndpoint[k] = v
	}
	return Snapshot{
		APICalls:           c.total,
		APICallsByEndpoint: byEndpoint,
		StartTime:          c.started,
		UptimeSeconds:      int64(time.Since(c.started).Seconds()),
	}
}

// Reset zeroes the in-process counters. The prometheus series are
// monotonic and are left alone.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.byEndpoint = map[string]uint64{}
	c.started = time.Now().UTC()
}
