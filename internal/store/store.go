package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/authgate/authgate/model"
)

// Package store persists registered services and users across restarts.
// Request statistics are intentionally not persisted.

// ServiceRecord is a persisted service descriptor.
type ServiceRecord struct {
	Create    model.CreateService `json:"create"`
	CreatedAt time.Time           `json:"createdAt"`
}

// UserRecord is a persisted service user. Only the credential digest is
// stored, never the password.
type UserRecord struct {
	Service   string    `json:"service"`
	Username  string    `json:"username"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store records services and users.
type Store interface {
	Close() error
	PutService(rec ServiceRecord) error
	DeleteService(name string) error
	PutUser(rec UserRecord) error
	DeleteUser(service, username string) error
	Load() ([]ServiceRecord, []UserRecord, error)
}

// New creates the configured storage backend.
func New(typ, path string) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

type noopStore struct{}

func (noopStore) Close() error                     { return nil }
func (noopStore) PutService(ServiceRecord) error   { return nil }
func (noopStore) DeleteService(string) error       { return nil }
func (noopStore) PutUser(UserRecord) error         { return nil }
func (noopStore) DeleteUser(string, string) error  { return nil }
func (noopStore) Load() ([]ServiceRecord, []UserRecord, error) {
	return nil, nil, nil
}
