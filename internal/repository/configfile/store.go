// Package configfile persists the connection configuration document
// (connections.json). The OAuth flow of the host writes tokens into the same
// document; this store only guards concurrent access and atomic rewrites.
package configfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/NordCoder/ccwatch/internal/domain/connection"
)

type Store struct {
	path string
	log  *zap.Logger

	mu  sync.Mutex
	doc connection.Document
}

func New(path string, log *zap.Logger) (*Store, error) {
	s := &Store{path: path, log: log.With(zap.String("component", "configfile"))}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) List() ([]connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connection.Connection, len(s.doc.Connections))
	copy(out, s.doc.Connections)
	return out, nil
}

func (s *Store) Get(id string) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.doc.Connections {
		if c.ID == id {
			return c, nil
		}
	}
	return connection.Connection{}, connection.ErrNotFound
}

func (s *Store) Add(c connection.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.doc.Connections {
		if existing.ID == c.ID {
			return fmt.Errorf("connection %s already exists", c.ID)
		}
	}
	s.doc.Connections = append(s.doc.Connections, c)
	return s.saveLocked()
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.doc.Connections[:0]
	found := false
	for _, c := range s.doc.Connections {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return connection.ErrNotFound
	}
	s.doc.Connections = kept
	return s.saveLocked()
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.doc = connection.Document{}
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc connection.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.doc = doc
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
