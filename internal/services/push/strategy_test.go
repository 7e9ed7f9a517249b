package push

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/notify"
)

type fakeAPI struct {
	provider.API

	mu         sync.Mutex
	channelErr error
	subErr     error
	subscribed [][]string
	channels   int
}

func (f *fakeAPI) CreateChannel(context.Context) (provider.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return provider.Channel{}, f.channelErr
	}
	f.channels++
	return provider.Channel{ID: "ch-1", ConnectURI: "wss://example/ch-1"}, nil
}

func (f *fakeAPI) Subscribe(_ context.Context, _ string, topics []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, topics)
	return nil
}

func (f *fakeAPI) channelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels
}

type fakeStream struct {
	msgs chan provider.Message
}

func (s *fakeStream) Read(ctx context.Context) (provider.Message, error) {
	select {
	case <-ctx.Done():
		return provider.Message{}, ctx.Err()
	case m, ok := <-s.msgs:
		if !ok {
			return provider.Message{}, io.EOF
		}
		return m, nil
	}
}

func (s *fakeStream) Close() error { return nil }

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	dials   int
}

func (d *fakeDialer) Dial(context.Context, string) (provider.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.streams) {
		return nil, errors.New("no stream")
	}
	s := d.streams[d.dials]
	d.dials++
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func frame(topic, body string) provider.Message {
	return provider.Message{TopicName: topic, EventBody: []byte(body)}
}

func TestStart_ChannelFailureReturnsError(t *testing.T) {
	api := &fakeAPI{channelErr: errors.New("boom")}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: api, Dialer: &fakeDialer{}, Store: notify.NewStore(),
	})
	require.Error(t, err)
	assert.Nil(t, h)
}

func TestStart_SubscribeFailureReturnsError(t *testing.T) {
	api := &fakeAPI{subErr: errors.New("denied")}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: api, Dialer: &fakeDialer{}, Store: notify.NewStore(),
	})
	require.Error(t, err)
	assert.Nil(t, h)
}

func TestHandle_AppendsFramesAndSkipsNoise(t *testing.T) {
	msgs := make(chan provider.Message, 4)
	msgs <- frame(metadataTopic, `{"message":"pong"}`)
	msgs <- frame("", "")
	msgs <- frame("v2.users.u1.presence", `{"id":"u1","presenceDefinition":{"systemPresence":"Available"}}`)
	msgs <- frame("v2.routing.queues.q1.statistics", `{"id":"q1","statistics":{"contactsWaiting":2}}`)

	store := notify.NewStore()
	dialer := &fakeDialer{streams: []*fakeStream{{msgs: msgs}}}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: &fakeAPI{}, Dialer: dialer, Store: store,
		Topics: []string{"v2.users.*.presence"},
	})
	require.NoError(t, err)
	defer h.Stop()

	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, 5*time.Millisecond)
	snap := store.Snapshot()
	assert.Equal(t, notification.KindQueueStats, snap[0].Kind)
	assert.Equal(t, notification.KindPresence, snap[1].Kind)
}

func TestHandle_ReconnectsAfterStreamFailure(t *testing.T) {
	first := make(chan provider.Message)
	close(first)
	second := make(chan provider.Message, 1)
	second <- frame("v2.users.u1.presence", `{"id":"u1"}`)

	store := notify.NewStore()
	api := &fakeAPI{}
	dialer := &fakeDialer{streams: []*fakeStream{{msgs: first}, {msgs: second}}}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: api, Dialer: dialer, Store: store,
		ReconnectDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer h.Stop()

	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, api.channelCount())
}

func TestHandle_StopCancelsPendingReconnect(t *testing.T) {
	dead := make(chan provider.Message)
	close(dead)

	dialer := &fakeDialer{streams: []*fakeStream{{msgs: dead}}}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: &fakeAPI{}, Dialer: dialer, Store: notify.NewStore(),
		ReconnectDelay: time.Hour,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.State() == StateReconnecting }, time.Second, 5*time.Millisecond)
	h.Stop()
	assert.Equal(t, StateClosed, h.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestHandle_StopWhileStreaming(t *testing.T) {
	msgs := make(chan provider.Message)
	dialer := &fakeDialer{streams: []*fakeStream{{msgs: msgs}}}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: &fakeAPI{}, Dialer: dialer, Store: notify.NewStore(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.State() == StateStreaming }, time.Second, 5*time.Millisecond)
	h.Stop()
	assert.Equal(t, StateClosed, h.State())
}

func TestRewriteTopics(t *testing.T) {
	in := []string{
		"v2.users.*.presence",
		"presence",
		"v2.users.u1.presence",
		"v2.routing.queues.q1.statistics",
	}
	out := RewriteTopics(in)
	assert.Equal(t, []string{
		"v2.users.*.presence",
		"v2.users.*.presence",
		"v2.users.u1.presence",
		"v2.routing.queues.q1.statistics",
	}, out)
}

func TestStart_SubscribesRewrittenTopics(t *testing.T) {
	msgs := make(chan provider.Message)
	api := &fakeAPI{}
	dialer := &fakeDialer{streams: []*fakeStream{{msgs: msgs}}}
	h, err := Start(context.Background(), Params{
		Log: zap.NewNop(), API: api, Dialer: dialer, Store: notify.NewStore(),
		Topics: []string{"presence", "v2.quality.evaluations"},
	})
	require.NoError(t, err)
	defer h.Stop()

	require.Len(t, api.subscribed, 1)
	assert.Equal(t, []string{"v2.users.*.presence", "v2.quality.evaluations"}, api.subscribed[0])
}
