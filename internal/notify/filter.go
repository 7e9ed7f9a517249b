package notify

import (
	"strings"

	"github.com/NordCoder/ccwatch/internal/domain/notification"
)

// FilterState is the operator's client-side filter configuration, applied to
// a store snapshot before display.
type FilterState struct {
	Presence   PresenceFilter
	Evaluation EvaluationFilter
	Queues     QueueFilter
	General    GeneralFilter
	// Topics toggles whole kinds on or off. A kind present with value false
	// is excluded before its specific predicate runs; kinds absent from the
	// map are treated as enabled.
	Topics map[notification.Kind]bool
}

type PresenceFilter struct {
	// Statuses is the allow-set of lower-cased system presence keys.
	Statuses map[string]bool
}

type EvaluationFilter struct {
	// MinScore is on the displayed 0-100 scale; raw scores are in [0,1].
	MinScore  float64
	Evaluator string
}

type QueueFilter struct {
	NameFilter string
	MinWaiting int
	// Selected is only consulted when ShowAll is false.
	Selected map[string]bool
	ShowAll  bool
}

type GeneralFilter struct {
	UserSearch string
	OnlyOnline bool
}

// DefaultFilterState mirrors the dashboard's reset state: every presence
// status visible except offline, no thresholds, all topic kinds enabled.
func DefaultFilterState() FilterState {
	return FilterState{
		Presence: PresenceFilter{
			Statuses: map[string]bool{
				"available": true,
				"busy":      true,
				"away":      true,
				"break":     true,
				"meal":      true,
				"meeting":   true,
				"training":  true,
				"on_queue":  true,
				"onqueue":   true,
				"idle":      true,
				"offline":   false,
			},
		},
		Evaluation: EvaluationFilter{MinScore: 0},
		Queues:     QueueFilter{ShowAll: true},
		Topics: map[notification.Kind]bool{
			notification.KindPresence:   true,
			notification.KindEvaluation: true,
			notification.KindQueueStats: true,
		},
	}
}

// Apply filters records, preserving relative order. Records of a kind the
// filter does not know pass through unchanged.
func Apply(records []notification.Record, st FilterState) []notification.Record {
	out := make([]notification.Record, 0, len(records))
	for _, rec := range records {
		if matches(rec, st) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(rec notification.Record, st FilterState) bool {
	if enabled, known := st.Topics[rec.Kind]; known && !enabled {
		return false
	}
	switch data := rec.Data.(type) {
	case notification.PresenceData:
		return matchesPresence(data, st)
	case notification.EvaluationData:
		return matchesEvaluation(data, st.Evaluation)
	case notification.QueueStatsData:
		return matchesQueue(data, st.Queues)
	default:
		return true
	}
}

func matchesPresence(data notification.PresenceData, st FilterState) bool {
	status := strings.ToLower(data.Presence.SystemPresence)
	if st.Presence.Statuses != nil && !st.Presence.Statuses[status] {
		return false
	}
	if st.General.OnlyOnline && status == "offline" {
		return false
	}
	if search := st.General.UserSearch; search != "" {
		return containsFold(data.Name, search)
	}
	return true
}

func matchesEvaluation(data notification.EvaluationData, f EvaluationFilter) bool {
	if data.Score*100 < f.MinScore {
		return false
	}
	if f.Evaluator != "" {
		return containsFold(data.Evaluator, f.Evaluator)
	}
	return true
}

func matchesQueue(data notification.QueueStatsData, f QueueFilter) bool {
	if f.NameFilter != "" && !containsFold(data.Name, f.NameFilter) {
		return false
	}
	if !f.ShowAll && len(f.Selected) > 0 && !f.Selected[data.QueueID] {
		return false
	}
	if data.Statistics.ContactsWaiting < f.MinWaiting {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
