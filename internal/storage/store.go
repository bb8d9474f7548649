// Package storage is the durable client store: small facts that must
// survive a reload, kept in a local Pebble database under the client's
// data directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Durable keys. The active-huddle pointer is core; window state and
// attendance belong to page-level screens but share the store.
const (
	keyActiveHuddle = "huddle/active"
	keyWindowState  = "window/call"
	keyAttendance   = "attendance/status"
)

// Store wraps the Pebble handle. One Store per process.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the store at the given path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open client store: %w", err)
	}
	logger.Log.Info("client_store_opened", zap.String("path", path))
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key string, v any) error {
	data, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SaveActiveHuddle persists the in-progress call pointer.
func (s *Store) SaveActiveHuddle(session models.HuddleSession) error {
	return s.put(keyActiveHuddle, session)
}

// LoadActiveHuddle returns the persisted call pointer, or ErrNotFound
// when no call was in progress.
func (s *Store) LoadActiveHuddle() (models.HuddleSession, error) {
	var session models.HuddleSession
	err := s.get(keyActiveHuddle, &session)
	return session, err
}

// ClearActiveHuddle removes the call pointer.
func (s *Store) ClearActiveHuddle() error {
	return s.delete(keyActiveHuddle)
}

// WindowState is the floating call window's position and size.
type WindowState struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SaveWindowState persists the floating call window geometry.
func (s *Store) SaveWindowState(state WindowState) error {
	return s.put(keyWindowState, state)
}

// LoadWindowState returns the persisted window geometry.
func (s *Store) LoadWindowState() (WindowState, error) {
	var state WindowState
	err := s.get(keyWindowState, &state)
	return state, err
}

// SaveAttendance persists the user's attendance/status string.
func (s *Store) SaveAttendance(status string) error {
	return s.put(keyAttendance, status)
}

// LoadAttendance returns the persisted attendance/status string.
func (s *Store) LoadAttendance() (string, error) {
	var status string
	err := s.get(keyAttendance, &status)
	return status, err
}
