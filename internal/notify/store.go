package notify

import (
	"sync"

	"github.com/NordCoder/ccwatch/internal/domain/notification"
)

// MaxRecords caps a connection's feed; the oldest entries are truncated
// after each append.
const MaxRecords = 200

// Store is one connection's bounded, newest-first feed of normalized
// records.
//
// Records whose kind carries an identity (presence, queue statistics) are
// merged latest-wins: at most one record exists per (kind, identity) pair,
// and an update whose payload modification time is not strictly newer than
// the stored one is discarded. Records without an identity are append-only.
type Store struct {
	mu      sync.RWMutex
	records []notification.Record
}

func NewStore() *Store {
	return &Store{}
}

// Append inserts or merges a record. It reports whether the store changed.
func (s *Store) Append(rec notification.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Identity != "" {
		for i, existing := range s.records {
			if existing.Kind != rec.Kind || existing.Identity != rec.Identity {
				continue
			}
			stored := existing.ModifiedTime()
			incoming := rec.ModifiedTime()
			// Out-of-order updates are dropped, not applied. Payloads
			// without a modification time always replace.
			if !stored.IsZero() && !incoming.After(stored) {
				return false
			}
			s.records[i] = rec
			return true
		}
	}

	s.records = append([]notification.Record{rec}, s.records...)
	if len(s.records) > MaxRecords {
		s.records = s.records[:MaxRecords]
	}
	return true
}

// Snapshot returns a copy of the current contents, newest-first.
func (s *Store) Snapshot() []notification.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notification.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear empties the store. Used on disconnect.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
