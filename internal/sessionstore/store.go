// Package sessionstore is browser-style session storage: values that survive
// remounts and navigation within one browsing session and nothing longer.
package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"noto/internal/storage"
)

const opTimeout = 2 * time.Second

// ErrUnavailable marks a store that cannot be read or written.
var ErrUnavailable = errors.New("session storage unavailable")

// Store is the key/value capability the popup gate depends on.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Memory lives as long as the process, which plays the part of one tab.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Clear forgets everything, like closing the tab.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
}

// SQLite keeps values under one scope in the shared SQLite file, so a session
// can span processes that agree on the scope.
type SQLite struct {
	store *storage.Store
	scope string
}

func NewSQLite(store *storage.Store, scope string) *SQLite {
	return &SQLite{store: store, scope: scope}
}

func (s *SQLite) Scope() string {
	return s.scope
}

func (s *SQLite) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	value, ok, err := s.store.GetSessionValue(ctx, s.scope, key)
	if err != nil {
		return "", false, errors.Wrapf(err, "read session value %q", key)
	}
	return value, ok, nil
}

func (s *SQLite) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return errors.Wrapf(s.store.SetSessionValue(ctx, s.scope, key, value), "write session value %q", key)
}

func (s *SQLite) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return errors.Wrap(s.store.ClearSessionScope(ctx, s.scope), "clear session scope")
}

// Unavailable fails every call. It stands in when storage could not be
// opened, so callers run in their degraded mode instead of crashing.
type Unavailable struct {
	Err error
}

func (u Unavailable) cause() error {
	if u.Err == nil {
		return ErrUnavailable
	}
	return errors.Wrap(ErrUnavailable, u.Err.Error())
}

func (u Unavailable) Get(string) (string, bool, error) {
	return "", false, u.cause()
}

func (u Unavailable) Set(string, string) error {
	return u.cause()
}
