// Package push delivers events over a persistent provider channel. One
// handle owns one subscription: it creates a channel, subscribes the
// connection's topics, and consumes the channel's websocket until stopped,
// re-establishing the channel after transport failures.
package push

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/notify"
)

type State int32

const (
	StateIdle State = iota
	StateChannelCreating
	StateSubscribing
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChannelCreating:
		return "channel_creating"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	mFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_frames_total", Help: "Frames received on push channels",
	})
	mIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_frames_ignored_total", Help: "Frames without topic and body, dropped",
	})
	mReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_reconnects_total", Help: "Channel re-establish attempts after transport failure",
	})
)

// metadataTopic carries channel heartbeats, not subscription events.
const metadataTopic = "channel.metadata"

type Params struct {
	Log            *zap.Logger
	API            provider.API
	Dialer         provider.Dialer
	Store          *notify.Store
	Topics         []string
	ReconnectDelay time.Duration
}

type Handle struct {
	log    *zap.Logger
	api    provider.API
	dialer provider.Dialer
	store  *notify.Store
	topics []string
	delay  time.Duration

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start creates the channel, subscribes the topics and begins streaming.
// A channel-creation or subscription failure is returned to the caller so
// the supervisor can fall back to polling; after a successful start,
// transport failures are handled internally.
func Start(ctx context.Context, p Params) (*Handle, error) {
	h := &Handle{
		log:    p.Log.With(zap.String("strategy", "push")),
		api:    p.API,
		dialer: p.Dialer,
		store:  p.Store,
		topics: append([]string(nil), p.Topics...),
		delay:  p.ReconnectDelay,
	}
	if h.delay <= 0 {
		h.delay = 5 * time.Second
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	stream, err := h.establish(runCtx)
	if err != nil {
		cancel()
		h.setState(StateClosed)
		return nil, err
	}

	h.wg.Add(1)
	go h.run(runCtx, stream)
	return h, nil
}

// Stop tears the subscription down. Safe to call at any point, including
// while a reconnect delay is pending; the pending timer is cancelled and
// the stream is not resurrected.
func (h *Handle) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

func (h *Handle) establish(ctx context.Context) (provider.Stream, error) {
	h.setState(StateChannelCreating)
	ch, err := h.api.CreateChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	h.setState(StateSubscribing)
	if err := h.api.Subscribe(ctx, ch.ID, RewriteTopics(h.topics)); err != nil {
		return nil, fmt.Errorf("subscribe channel %s: %w", ch.ID, err)
	}

	stream, err := h.dialer.Dial(ctx, ch.ConnectURI)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ch.ConnectURI, err)
	}
	h.log.Info("channel established", zap.String("channel_id", ch.ID))
	return stream, nil
}

func (h *Handle) run(ctx context.Context, stream provider.Stream) {
	defer h.wg.Done()
	for {
		err := h.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			h.setState(StateClosed)
			return
		}
		h.log.Warn("stream interrupted", zap.Error(err))

		// Re-enter channel creation after a fixed delay, as long as the
		// connection is still live.
		for {
			h.setState(StateReconnecting)
			mReconnects.Inc()
			select {
			case <-ctx.Done():
				h.setState(StateClosed)
				return
			case <-time.After(h.delay):
			}
			stream, err = h.establish(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				h.setState(StateClosed)
				return
			}
			h.log.Warn("re-establish failed", zap.Error(err))
		}
	}
}

func (h *Handle) consume(ctx context.Context, stream provider.Stream) error {
	h.setState(StateStreaming)
	for {
		msg, err := stream.Read(ctx)
		if err != nil {
			return err
		}
		mFrames.Inc()
		if msg.TopicName == metadataTopic {
			continue
		}
		if msg.TopicName == "" && len(msg.EventBody) == 0 {
			mIgnored.Inc()
			continue
		}
		rec := notify.Normalize(msg.TopicName, msg.EventBody, time.Now().UTC())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.store.Append(rec)
	}
}

// RewriteTopics translates configured topics into provider subscription
// entries. Topics naming user presence are rewritten to the provider's
// per-entity wildcard form; everything else passes through unchanged.
func RewriteTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if isPresenceWildcard(t) {
			out = append(out, "v2.users.*.presence")
			continue
		}
		out = append(out, t)
	}
	return out
}

func isPresenceWildcard(topic string) bool {
	if !strings.Contains(topic, "presence") {
		return false
	}
	// Per-entity topics (v2.users.{id}.presence) already name a user.
	if strings.HasPrefix(topic, "v2.users.") && !strings.Contains(topic, "*") {
		return false
	}
	return true
}
