package notification

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind classifies a record by the shape of its payload. The kind decides
// merge semantics in the store and which filter handler applies.
type Kind string

const (
	KindPresence   Kind = "presence"
	KindEvaluation Kind = "evaluation"
	KindQueueStats Kind = "queue_stats"
	KindOpaque     Kind = "opaque"
)

// Record is one normalized entry in a connection's feed.
//
// Identity is set only for kinds that merge repeated updates about the same
// entity (presence: user id, queue stats: queue id). Records without an
// identity are append-only.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Kind      Kind      `json:"kind"`
	Identity  string    `json:"identity,omitempty"`
	Data      Data      `json:"data"`
}

// Data is the tagged payload variant. Exactly one concrete type exists per
// kind; consumers switch on the type instead of probing loose fields.
type Data interface {
	RecordKind() Kind
}

type PresenceDefinition struct {
	SystemPresence string `json:"systemPresence"`
	Message        string `json:"presenceMessage,omitempty"`
}

type PresenceData struct {
	UserID       string             `json:"id"`
	Name         string             `json:"name"`
	Presence     PresenceDefinition `json:"presenceDefinition"`
	ModifiedDate time.Time          `json:"modifiedDate"`
}

func (PresenceData) RecordKind() Kind { return KindPresence }

type EvaluationData struct {
	EvaluationID string `json:"id,omitempty"`
	// Score is the raw provider score in [0,1]; presentation scales to 0-100.
	Score     float64 `json:"score"`
	Evaluator string  `json:"evaluator,omitempty"`
	FormName  string  `json:"formName,omitempty"`
}

func (EvaluationData) RecordKind() Kind { return KindEvaluation }

type QueueStatistics struct {
	UsersActive     int           `json:"usersActive"`
	UsersAvailable  int           `json:"usersAvailable"`
	UsersOnQueue    int           `json:"usersOnQueue"`
	ContactsWaiting int           `json:"contactsWaiting"`
	LongestWaiting  time.Duration `json:"longestWaitingMs"`
}

type QueueStatsData struct {
	QueueID    string          `json:"id"`
	Name       string          `json:"name"`
	Statistics QueueStatistics `json:"statistics"`
}

func (QueueStatsData) RecordKind() Kind { return KindQueueStats }

// OpaqueData carries a payload the normalizer did not recognize. It is kept
// verbatim so the presentation layer can fall back to a generic rendering.
type OpaqueData struct {
	Raw json.RawMessage `json:"raw"`
}

func (OpaqueData) RecordKind() Kind { return KindOpaque }

// ModifiedTime reports the payload-embedded modification instant used for
// latest-wins comparison, or zero when the payload carries none.
func (r Record) ModifiedTime() time.Time {
	if p, ok := r.Data.(PresenceData); ok {
		return p.ModifiedDate
	}
	return time.Time{}
}

// KindOfTopic maps a provider topic string onto a payload kind. Matching is
// by substring, mirroring the provider's dotted topic vocabulary
// (v2.users.{id}.presence, v2.quality.evaluations, v2.routing.queues.{id}.statistics).
func KindOfTopic(topic string) Kind {
	switch {
	case strings.Contains(topic, "presence"):
		return KindPresence
	case strings.Contains(topic, "quality.evaluations"):
		return KindEvaluation
	case strings.Contains(topic, "routing.queues") && strings.Contains(topic, "statistics"):
		return KindQueueStats
	default:
		return KindOpaque
	}
}
