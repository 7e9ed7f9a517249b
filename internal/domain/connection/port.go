package connection

import "errors"

var ErrNotFound = errors.New("connection not found")

// ConfigStore is the persisted connection configuration document.
type ConfigStore interface {
	List() ([]Connection, error)
	Get(id string) (Connection, error)
	Add(c Connection) error
	Remove(id string) error
}
