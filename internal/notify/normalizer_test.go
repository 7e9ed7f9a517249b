package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
)

func TestNormalize_Presence(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{
		"id": "u1",
		"name": "Grace Hopper",
		"presenceDefinition": {"systemPresence": "Available", "presenceMessage": "back at 2"},
		"modifiedDate": "2026-03-01T11:59:00Z"
	}`)

	rec := Normalize("v2.users.u1.presence", body, ts)
	assert.Equal(t, notification.KindPresence, rec.Kind)
	assert.Equal(t, "u1", rec.Identity)
	assert.Equal(t, ts, rec.Timestamp)

	data := rec.Data.(notification.PresenceData)
	assert.Equal(t, "Grace Hopper", data.Name)
	assert.Equal(t, "Available", data.Presence.SystemPresence)
	assert.Equal(t, "back at 2", data.Presence.Message)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC), data.ModifiedDate)
}

func TestNormalize_PresenceIdentityFallsBackToTopic(t *testing.T) {
	rec := Normalize("v2.users.u42.presence", []byte(`{"presenceDefinition":{"systemPresence":"Busy"}}`), time.Now())
	assert.Equal(t, "u42", rec.Identity)
	assert.Equal(t, "u42", rec.Data.(notification.PresenceData).UserID)
}

func TestNormalize_QueueStats(t *testing.T) {
	body := []byte(`{
		"id": "q1",
		"name": "Support",
		"statistics": {"usersActive": 4, "usersAvailable": 2, "usersOnQueue": 6, "contactsWaiting": 3, "longestWaitingMs": 90000}
	}`)
	rec := Normalize("v2.routing.queues.q1.statistics", body, time.Now())
	assert.Equal(t, notification.KindQueueStats, rec.Kind)
	assert.Equal(t, "q1", rec.Identity)

	data := rec.Data.(notification.QueueStatsData)
	assert.Equal(t, "Support", data.Name)
	assert.Equal(t, 4, data.Statistics.UsersActive)
	assert.Equal(t, 2, data.Statistics.UsersAvailable)
	assert.Equal(t, 6, data.Statistics.UsersOnQueue)
	assert.Equal(t, 3, data.Statistics.ContactsWaiting)
	assert.Equal(t, 90*time.Second, data.Statistics.LongestWaiting)
}

func TestNormalize_Evaluation(t *testing.T) {
	body := []byte(`{
		"id": "e1",
		"score": 0.92,
		"evaluator": {"name": "Ada"},
		"evaluationForm": {"name": "QA Form"}
	}`)
	rec := Normalize("v2.quality.evaluations", body, time.Now())
	assert.Equal(t, notification.KindEvaluation, rec.Kind)
	assert.Empty(t, rec.Identity)

	data := rec.Data.(notification.EvaluationData)
	assert.Equal(t, "e1", data.EvaluationID)
	assert.InDelta(t, 0.92, data.Score, 1e-9)
	assert.Equal(t, "Ada", data.Evaluator)
	assert.Equal(t, "QA Form", data.FormName)
}

func TestNormalize_UnknownTopicIsOpaque(t *testing.T) {
	body := []byte(`{"anything": true}`)
	rec := Normalize("v2.detail.events.conversation", body, time.Now())
	assert.Equal(t, notification.KindOpaque, rec.Kind)
	assert.JSONEq(t, `{"anything": true}`, string(rec.Data.(notification.OpaqueData).Raw))
}

func TestNormalize_MalformedBodyNeverFails(t *testing.T) {
	rec := Normalize("v2.users.u1.presence", []byte(`{not json`), time.Now())
	require.Equal(t, notification.KindPresence, rec.Kind)
	assert.Equal(t, "u1", rec.Identity)
	assert.Empty(t, rec.Data.(notification.PresenceData).Presence.SystemPresence)
}

func TestNormalizePresence_PullPath(t *testing.T) {
	ts := time.Now().UTC()
	mod := ts.Add(-time.Minute)
	rec := NormalizePresence("v2.users.u1.presence",
		provider.User{ID: "u1", Name: "Grace"},
		provider.UserPresence{SystemPresence: "On Queue", ModifiedDate: mod}, ts)
	assert.Equal(t, "u1", rec.Identity)
	assert.Equal(t, mod, rec.ModifiedTime())
}

func TestNormalizeQueueStats_PullPath(t *testing.T) {
	stats := notification.QueueStatistics{ContactsWaiting: 2, LongestWaiting: 90 * time.Second}
	rec := NormalizeQueueStats("v2.routing.queues.q1.statistics",
		provider.Queue{ID: "q1", Name: "Sales"}, stats, time.Now())
	assert.Equal(t, "q1", rec.Identity)
	assert.Equal(t, stats, rec.Data.(notification.QueueStatsData).Statistics)
}

func TestKindOfTopic(t *testing.T) {
	assert.Equal(t, notification.KindPresence, notification.KindOfTopic("v2.users.u1.presence"))
	assert.Equal(t, notification.KindEvaluation, notification.KindOfTopic("v2.quality.evaluations"))
	assert.Equal(t, notification.KindQueueStats, notification.KindOfTopic("v2.routing.queues.q1.statistics"))
	assert.Equal(t, notification.KindOpaque, notification.KindOfTopic("v2.routing.queues.q1.users"))
	assert.Equal(t, notification.KindOpaque, notification.KindOfTopic("channel.metadata"))
}
