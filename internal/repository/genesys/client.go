// Package genesys implements the remote data provider port against the
// Genesys Cloud platform API for one connection's region and token.
package genesys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/connection"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
	"github.com/NordCoder/ccwatch/internal/obs/retry"
	"github.com/NordCoder/ccwatch/internal/stats"
)

// regionHosts maps the region strings stored in the connections document to
// API hosts. Unknown regions fall back to US East.
var regionHosts = map[string]string{
	"mypurecloud.com":    "api.mypurecloud.com",
	"mypurecloud.de":     "api.mypurecloud.de",
	"mypurecloud.ie":     "api.mypurecloud.ie",
	"mypurecloud.com.au": "api.mypurecloud.com.au",
	"mypurecloud.jp":     "api.mypurecloud.jp",
}

func apiBase(region string) string {
	if host, ok := regionHosts[region]; ok {
		return "https://" + host
	}
	return "https://api.mypurecloud.com"
}

// Factory builds one API client per connection, sharing the instrumented
// HTTP client and call counters.
type Factory struct {
	HTTPClient *http.Client
	Log        *zap.Logger
	Stats      *stats.Counters
	// BaseURL overrides the region-derived host. Used by tests.
	BaseURL string
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (f *Factory) ForConnection(c connection.Connection) provider.API {
	base := f.BaseURL
	if base == "" {
		base = apiBase(c.Region)
	}
	return &Client{
		base:  base,
		token: c.AccessToken,
		httpc: f.HTTPClient,
		stats: f.Stats,
		log:   f.Log.With(zap.String("component", "genesys"), zap.String("connection", c.ID)),
	}
}

type Client struct {
	base  string
	token string
	httpc *http.Client
	stats *stats.Counters
	log   *zap.Logger
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.stats.Inc(endpoint)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", endpoint, provider.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", endpoint, provider.ErrNotFound)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", endpoint, err)
	}
	return nil
}

// getRetried wraps idempotent reads in the provider retry policy. Auth and
// not-found responses are terminal; waiting will not heal them.
func (c *Client) getRetried(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	pol := retry.DefaultProviderPolicy(endpoint, c.log)
	base := pol.Retryable
	pol.Retryable = func(err error) bool {
		return base(err) &&
			!errors.Is(err, provider.ErrUnauthorized) &&
			!errors.Is(err, provider.ErrNotFound)
	}
	return retry.Do(ctx, func() error {
		return c.do(ctx, http.MethodGet, endpoint, path, query, nil, out)
	}, pol)
}

func (c *Client) Authenticate(ctx context.Context) (provider.Session, error) {
	var me struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "users.me", "/api/v2/users/me", nil, nil, &me); err != nil {
		return provider.Session{}, err
	}
	return provider.Session{UserID: me.ID, UserName: me.Name}, nil
}

func (c *Client) CreateChannel(ctx context.Context) (provider.Channel, error) {
	var ch struct {
		ID         string    `json:"id"`
		ConnectURI string    `json:"connectUri"`
		Expires    time.Time `json:"expires"`
	}
	if err := c.do(ctx, http.MethodPost, "notifications.channels", "/api/v2/notifications/channels", nil, nil, &ch); err != nil {
		return provider.Channel{}, err
	}
	return provider.Channel{ID: ch.ID, ConnectURI: ch.ConnectURI, Expires: ch.Expires}, nil
}

func (c *Client) Subscribe(ctx context.Context, channelID string, topics []string) error {
	type sub struct {
		ID string `json:"id"`
	}
	subs := make([]sub, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, sub{ID: t})
	}
	path := "/api/v2/notifications/channels/" + url.PathEscape(channelID) + "/subscriptions"
	return c.do(ctx, http.MethodPost, "notifications.subscriptions", path, nil, subs, nil)
}

func (c *Client) ListUsers(ctx context.Context, pageNumber, pageSize int) ([]provider.User, error) {
	var page struct {
		Entities []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"entities"`
	}
	q := url.Values{
		"pageNumber": {strconv.Itoa(pageNumber)},
		"pageSize":   {strconv.Itoa(pageSize)},
	}
	if err := c.getRetried(ctx, "users.list", "/api/v2/users", q, &page); err != nil {
		return nil, err
	}
	users := make([]provider.User, 0, len(page.Entities))
	for _, e := range page.Entities {
		users = append(users, provider.User{ID: e.ID, Name: e.Name})
	}
	return users, nil
}

func (c *Client) GetUserPresence(ctx context.Context, userID string) (provider.UserPresence, error) {
	var pres struct {
		PresenceDefinition struct {
			SystemPresence string `json:"systemPresence"`
		} `json:"presenceDefinition"`
		Message      string    `json:"message"`
		ModifiedDate time.Time `json:"modifiedDate"`
	}
	path := "/api/v2/users/" + url.PathEscape(userID) + "/presences/purecloud"
	if err := c.getRetried(ctx, "users.presence", path, nil, &pres); err != nil {
		return provider.UserPresence{}, err
	}
	return provider.UserPresence{
		SystemPresence: pres.PresenceDefinition.SystemPresence,
		Message:        pres.Message,
		ModifiedDate:   pres.ModifiedDate,
	}, nil
}

func (c *Client) ListEvaluations(ctx context.Context, window provider.TimeWindow, pageSize int) ([]provider.Evaluation, error) {
	var page struct {
		Entities []struct {
			ID        string `json:"id"`
			Evaluator struct {
				Name string `json:"name"`
			} `json:"evaluator"`
			EvaluationForm struct {
				Name string `json:"name"`
			} `json:"evaluationForm"`
			Answers struct {
				TotalScore float64 `json:"totalScore"`
			} `json:"answers"`
			ChangedDate time.Time `json:"changedDate"`
		} `json:"entities"`
	}
	q := url.Values{
		"pageSize":                {strconv.Itoa(pageSize)},
		"startTime":               {window.Start.UTC().Format(time.RFC3339)},
		"endTime":                 {window.End.UTC().Format(time.RFC3339)},
		"expandAnswerTotalScores": {"true"},
		"sortOrder":               {"desc"},
	}
	if err := c.getRetried(ctx, "quality.evaluations", "/api/v2/quality/evaluations/query", q, &page); err != nil {
		return nil, err
	}
	evals := make([]provider.Evaluation, 0, len(page.Entities))
	for _, e := range page.Entities {
		evals = append(evals, provider.Evaluation{
			ID:           e.ID,
			Score:        e.Answers.TotalScore / 100,
			Evaluator:    e.Evaluator.Name,
			FormName:     e.EvaluationForm.Name,
			ModifiedDate: e.ChangedDate,
		})
	}
	return evals, nil
}

func (c *Client) ListQueues(ctx context.Context, pageNumber, pageSize int) ([]provider.Queue, error) {
	var page struct {
		Entities []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"entities"`
	}
	q := url.Values{
		"pageNumber": {strconv.Itoa(pageNumber)},
		"pageSize":   {strconv.Itoa(pageSize)},
	}
	if err := c.getRetried(ctx, "routing.queues", "/api/v2/routing/queues", q, &page); err != nil {
		return nil, err
	}
	queues := make([]provider.Queue, 0, len(page.Entities))
	for _, e := range page.Entities {
		queues = append(queues, provider.Queue{ID: e.ID, Name: e.Name})
	}
	return queues, nil
}

func (c *Client) ListQueueMembers(ctx context.Context, queueID string, joinedOnly bool) ([]provider.QueueMember, error) {
	var page struct {
		Entities []struct {
			Joined bool `json:"joined"`
			User   struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"user"`
		} `json:"entities"`
	}
	q := url.Values{"pageSize": {"100"}}
	if joinedOnly {
		q.Set("joined", "true")
	}
	path := "/api/v2/routing/queues/" + url.PathEscape(queueID) + "/members"
	if err := c.getRetried(ctx, "routing.queues.members", path, q, &page); err != nil {
		return nil, err
	}
	members := make([]provider.QueueMember, 0, len(page.Entities))
	for _, e := range page.Entities {
		members = append(members, provider.QueueMember{
			UserID: e.User.ID,
			Name:   e.User.Name,
			Joined: e.Joined,
		})
	}
	return members, nil
}

func (c *Client) ListActiveConversations(ctx context.Context) ([]provider.Conversation, error) {
	var page struct {
		Entities []struct {
			ID           string `json:"id"`
			Participants []struct {
				QueueID   string    `json:"queueId"`
				Purpose   string    `json:"purpose"`
				State     string    `json:"state"`
				StartTime time.Time `json:"startTime"`
			} `json:"participants"`
		} `json:"entities"`
	}
	if err := c.getRetried(ctx, "conversations", "/api/v2/conversations", nil, &page); err != nil {
		return nil, err
	}
	convs := make([]provider.Conversation, 0, len(page.Entities))
	for _, e := range page.Entities {
		parts := make([]provider.Participant, 0, len(e.Participants))
		for _, p := range e.Participants {
			parts = append(parts, provider.Participant{
				QueueID:   p.QueueID,
				Purpose:   p.Purpose,
				State:     p.State,
				StartTime: p.StartTime,
			})
		}
		convs = append(convs, provider.Conversation{ID: e.ID, Participants: parts})
	}
	return convs, nil
}
