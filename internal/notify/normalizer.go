package notify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/NordCoder/ccwatch/internal/domain/notification"
	"github.com/NordCoder/ccwatch/internal/domain/provider"
)

// Wire shapes of pushed event bodies, decoded best-effort. Fields the
// provider omits stay zero and degrade to the generic display fallback.
type presenceEventBody struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	PresenceDefinition struct {
		SystemPresence string `json:"systemPresence"`
		Message        string `json:"presenceMessage"`
	} `json:"presenceDefinition"`
	ModifiedDate time.Time `json:"modifiedDate"`
}

type evaluationEventBody struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Evaluator struct {
		Name string `json:"name"`
	} `json:"evaluator"`
	EvaluationForm struct {
		Name string `json:"name"`
	} `json:"evaluationForm"`
}

type queueStatsEventBody struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Statistics struct {
		UsersActive      int   `json:"usersActive"`
		UsersAvailable   int   `json:"usersAvailable"`
		UsersOnQueue     int   `json:"usersOnQueue"`
		ContactsWaiting  int   `json:"contactsWaiting"`
		LongestWaitingMs int64 `json:"longestWaitingMs"`
	} `json:"statistics"`
}

// Normalize maps a raw pushed payload onto a Record. It never fails:
// malformed or unexpected shapes produce a record with best-effort partial
// fields, or an opaque one, so one bad frame cannot halt the stream.
func Normalize(topic string, body []byte, ts time.Time) notification.Record {
	rec := notification.Record{
		Timestamp: ts,
		Topic:     topic,
		Kind:      notification.KindOfTopic(topic),
	}

	switch rec.Kind {
	case notification.KindPresence:
		var b presenceEventBody
		_ = json.Unmarshal(body, &b)
		userID := b.ID
		if userID == "" {
			userID = entityFromTopic(topic, "users")
		}
		rec.Identity = userID
		rec.Data = notification.PresenceData{
			UserID: userID,
			Name:   b.Name,
			Presence: notification.PresenceDefinition{
				SystemPresence: b.PresenceDefinition.SystemPresence,
				Message:        b.PresenceDefinition.Message,
			},
			ModifiedDate: b.ModifiedDate,
		}
	case notification.KindQueueStats:
		var b queueStatsEventBody
		_ = json.Unmarshal(body, &b)
		queueID := b.ID
		if queueID == "" {
			queueID = entityFromTopic(topic, "queues")
		}
		rec.Identity = queueID
		rec.Data = notification.QueueStatsData{
			QueueID: queueID,
			Name:    b.Name,
			Statistics: notification.QueueStatistics{
				UsersActive:     b.Statistics.UsersActive,
				UsersAvailable:  b.Statistics.UsersAvailable,
				UsersOnQueue:    b.Statistics.UsersOnQueue,
				ContactsWaiting: b.Statistics.ContactsWaiting,
				LongestWaiting:  time.Duration(b.Statistics.LongestWaitingMs) * time.Millisecond,
			},
		}
	case notification.KindEvaluation:
		var b evaluationEventBody
		_ = json.Unmarshal(body, &b)
		rec.Data = notification.EvaluationData{
			EvaluationID: b.ID,
			Score:        b.Score,
			Evaluator:    b.Evaluator.Name,
			FormName:     b.EvaluationForm.Name,
		}
	default:
		rec.Data = notification.OpaqueData{Raw: append(json.RawMessage(nil), body...)}
	}
	return rec
}

// entityFromTopic pulls the entity id out of a per-entity topic such as
// v2.users.{id}.presence or v2.routing.queues.{id}.statistics.
func entityFromTopic(topic, segment string) string {
	parts := strings.Split(topic, ".")
	for i, p := range parts {
		if p == segment && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// NormalizePresence builds a presence record from pull-path provider data.
func NormalizePresence(topic string, user provider.User, p provider.UserPresence, ts time.Time) notification.Record {
	return notification.Record{
		Timestamp: ts,
		Topic:     topic,
		Kind:      notification.KindPresence,
		Identity:  user.ID,
		Data: notification.PresenceData{
			UserID: user.ID,
			Name:   user.Name,
			Presence: notification.PresenceDefinition{
				SystemPresence: p.SystemPresence,
				Message:        p.Message,
			},
			ModifiedDate: p.ModifiedDate,
		},
	}
}

// NormalizeEvaluation builds an evaluation record from pull-path provider data.
func NormalizeEvaluation(topic string, e provider.Evaluation, ts time.Time) notification.Record {
	return notification.Record{
		Timestamp: ts,
		Topic:     topic,
		Kind:      notification.KindEvaluation,
		Data: notification.EvaluationData{
			EvaluationID: e.ID,
			Score:        e.Score,
			Evaluator:    e.Evaluator,
			FormName:     e.FormName,
		},
	}
}

// NormalizeQueueStats builds a queue-statistics record from computed stats.
func NormalizeQueueStats(topic string, q provider.Queue, stats notification.QueueStatistics, ts time.Time) notification.Record {
	return notification.Record{
		Timestamp: ts,
		Topic:     topic,
		Kind:      notification.KindQueueStats,
		Identity:  q.ID,
		Data: notification.QueueStatsData{
			QueueID:    q.ID,
			Name:       q.Name,
			Statistics: stats,
		},
	}
}
