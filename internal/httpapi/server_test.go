package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/connection"
	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/services/supervisor"
	"github.com/NordCoder/ccwatch/internal/stats"
)

type stubCore struct {
	connectErr   error
	active       supervisor.Active
	records      []notification.Record
	listed       []supervisor.Active
	disconnected []string

	gotID       string
	gotTopics   []string
	gotMethod   connection.DeliveryMethod
	gotInterval time.Duration
}

func (s *stubCore) Connect(_ context.Context, id string, topics []string, method connection.DeliveryMethod, interval time.Duration) (supervisor.Active, error) {
	s.gotID, s.gotTopics, s.gotMethod, s.gotInterval = id, topics, method, interval
	if s.connectErr != nil {
		return supervisor.Active{}, s.connectErr
	}
	return s.active, nil
}

func (s *stubCore) Disconnect(id string) { s.disconnected = append(s.disconnected, id) }

func (s *stubCore) Snapshot(string) []notification.Record { return s.records }

func (s *stubCore) ListActive() []supervisor.Active { return s.listed }

type memConfigs struct {
	conns map[string]connection.Connection
}

func (m *memConfigs) List() ([]connection.Connection, error) {
	out := make([]connection.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out, nil
}

func (m *memConfigs) Get(id string) (connection.Connection, error) {
	c, ok := m.conns[id]
	if !ok {
		return connection.Connection{}, connection.ErrNotFound
	}
	return c, nil
}

func (m *memConfigs) Add(c connection.Connection) error {
	m.conns[c.ID] = c
	return nil
}

func (m *memConfigs) Remove(id string) error {
	if _, ok := m.conns[id]; !ok {
		return connection.ErrNotFound
	}
	delete(m.conns, id)
	return nil
}

func newTestServer(core *stubCore, configs *memConfigs) http.Handler {
	if configs == nil {
		configs = &memConfigs{conns: map[string]connection.Connection{}}
	}
	return New(Params{
		Log:     zap.NewNop(),
		Core:    core,
		Configs: configs,
		Stats:   stats.New(),
	}).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestListen(t *testing.T) {
	core := &stubCore{active: supervisor.Active{
		ID: "c1", Method: connection.MethodPolling, Topics: []string{"v2.users.*.presence"},
		PollInterval: 15 * time.Second,
	}}
	h := newTestServer(core, nil)

	rr := doJSON(t, h, http.MethodPost, "/api/notifications/listen",
		`{"connectionId":"c1","topics":["v2.users.*.presence"],"method":"polling","pollingInterval":15000}`)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "c1", core.gotID)
	assert.Equal(t, []string{"v2.users.*.presence"}, core.gotTopics)
	assert.Equal(t, connection.MethodPolling, core.gotMethod)
	assert.Equal(t, 15*time.Second, core.gotInterval)

	// The response reports the interval in the same unit the request used.
	var got activeView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, int64(15000), got.PollingInterval)
}

func TestListen_Validation(t *testing.T) {
	h := newTestServer(&stubCore{}, nil)

	rr := doJSON(t, h, http.MethodPost, "/api/notifications/listen", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/notifications/listen", `{"topics":["t"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/notifications/listen", `{"connectionId":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/notifications/listen",
		`{"connectionId":"c1","topics":["t"],"method":"carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListen_ErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{connection.ErrNotFound, http.StatusNotFound},
		{provider.ErrUnauthorized, http.StatusUnauthorized},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	} {
		h := newTestServer(&stubCore{connectErr: tc.err}, nil)
		rr := doJSON(t, h, http.MethodPost, "/api/notifications/listen",
			`{"connectionId":"c1","topics":["t"]}`)
		assert.Equal(t, tc.code, rr.Code, tc.err)
	}
}

func TestStop(t *testing.T) {
	core := &stubCore{}
	h := newTestServer(core, nil)
	rr := doJSON(t, h, http.MethodPost, "/api/notifications/stop/c1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"c1"}, core.disconnected)
}

func TestSnapshot(t *testing.T) {
	core := &stubCore{records: []notification.Record{{
		Topic: "v2.users.u1.presence",
		Kind:  notification.KindPresence,
		Data:  notification.PresenceData{UserID: "u1"},
	}}}
	h := newTestServer(core, nil)

	rr := doJSON(t, h, http.MethodGet, "/api/notifications/c1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		ConnectionID  string            `json:"connectionId"`
		Notifications []json.RawMessage `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "c1", body.ConnectionID)
	assert.Len(t, body.Notifications, 1)
}

func TestActive(t *testing.T) {
	core := &stubCore{listed: []supervisor.Active{
		{ID: "c1", Method: connection.MethodPolling, PollInterval: 30 * time.Second},
		{ID: "c2", Method: connection.MethodWebsocket},
	}}
	h := newTestServer(core, nil)
	rr := doJSON(t, h, http.MethodGet, "/api/notifications/active", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got []activeView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(30000), got[0].PollingInterval)
	assert.Zero(t, got[1].PollingInterval)
}

func TestConnections_AddListRemove(t *testing.T) {
	configs := &memConfigs{conns: map[string]connection.Connection{}}
	core := &stubCore{}
	h := newTestServer(core, configs)

	rr := doJSON(t, h, http.MethodPost, "/api/connections",
		`{"name":"Prod","clientId":"cid","clientSecret":"shh","region":"mypurecloud.de"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var created connectionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Prod", created.Name)
	// Secrets never leave the server.
	assert.NotContains(t, rr.Body.String(), "shh")
	assert.NotContains(t, rr.Body.String(), "clientSecret")

	rr = doJSON(t, h, http.MethodGet, "/api/connections", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listed []connectionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.NotContains(t, rr.Body.String(), "accessToken")

	rr = doJSON(t, h, http.MethodDelete, "/api/connections/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	// Removing stops any live delivery first.
	assert.Equal(t, []string{created.ID}, core.disconnected)

	rr = doJSON(t, h, http.MethodDelete, "/api/connections/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConnections_AddValidation(t *testing.T) {
	h := newTestServer(&stubCore{}, nil)
	rr := doJSON(t, h, http.MethodPost, "/api/connections", `{"name":"NoRegion","clientId":"cid"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatsEndpoints(t *testing.T) {
	counters := stats.New()
	counters.Inc("users.me")
	h := New(Params{
		Log:     zap.NewNop(),
		Core:    &stubCore{},
		Configs: &memConfigs{conns: map[string]connection.Connection{}},
		Stats:   counters,
	}).Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, uint64(1), snap.APICalls)

	rr = doJSON(t, h, http.MethodPost, "/api/stats/reset", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Zero(t, counters.Snapshot().APICalls)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&stubCore{}, nil)
	rr := doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORS(t *testing.T) {
	h := New(Params{
		Log:         zap.NewNop(),
		Core:        &stubCore{},
		Configs:     &memConfigs{conns: map[string]connection.Connection{}},
		Stats:       stats.New(),
		CORSOrigins: []string{"http://dash.example"},
	}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/connections", nil)
	req.Header.Set("Origin", "http://dash.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://dash.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
