package session

import (
	"sync"
	"sync/atomic"

	"github.com/harun/anuneko/internal/observability"
	"github.com/rs/zerolog/log"
)

// Session binds a user to a backend chat session and a model.
type Session struct {
	UserID    string
	SessionID string
	Model     Model
}

// Live reports whether the backend has issued a session id.
func (s Session) Live() bool {
	return s.SessionID != ""
}

type entry struct {
	mu      sync.Mutex
	session Session
	removed bool
}

// Store is the in-memory session mapping. The zero value is not usable;
// construct it with NewStore.
type Store struct {
	entries map[string]*entry
	mu      sync.RWMutex
	live    atomic.Int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	observability.EnsureRegistered()
	return &Store{
		entries: make(map[string]*entry),
	}
}

// getEntry gets or creates the entry for a user
func (s *Store) getEntry(userID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e
	}
	e = &entry{session: Session{UserID: userID, Model: ModelA}}
	s.entries[userID] = e
	return e
}

func (s *Store) lookup(userID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	return e, ok
}

// Get returns the user's session. ok is false unless a session id is held.
func (s *Store) Get(userID string) (Session, bool) {
	e, ok := s.lookup(userID)
	if !ok {
		return Session{UserID: userID, Model: ModelA}, false
	}
	return e.snapshot(userID)
}

// snapshot reads the entry under its lock. An entry dropped by ClearAll
// after the map lookup reads as a fresh user.
func (e *entry) snapshot(userID string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{UserID: userID, Model: ModelA}, false
	}
	return e.session, e.session.Live()
}

// SetSessionID records a session id without touching the model.
func (s *Store) SetSessionID(userID, sessionID string) {
	s.Update(userID, func(cur *Session) {
		cur.SessionID = sessionID
	})
}

// SetModel records a model without touching the session id.
func (s *Store) SetModel(userID string, model Model) {
	if !model.Valid() {
		return
	}
	s.Update(userID, func(cur *Session) {
		cur.Model = model
	})
}

// Model returns the user's model, ModelA if none was recorded.
func (s *Store) Model(userID string) Model {
	sess, _ := s.Get(userID)
	return sess.Model
}

// Update runs fn on the user's record while holding that user's lock.
// fn must not block.
func (s *Store) Update(userID string, fn func(*Session)) Session {
	e := s.getEntry(userID)
	e.mu.Lock()
	for e.removed {
		// ClearAll won the race; start over on a fresh record.
		e.mu.Unlock()
		e = s.getEntry(userID)
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	wasLive := e.session.Live()
	fn(&e.session)
	e.session.UserID = userID
	if !e.session.Model.Valid() {
		e.session.Model = ModelA
	}

	switch isLive := e.session.Live(); {
	case isLive && !wasLive:
		observability.SetActiveSessions(int(s.live.Add(1)))
	case !isLive && wasLive:
		observability.SetActiveSessions(int(s.live.Add(-1)))
	}
	return e.session
}

// Len returns the number of users holding a live session.
func (s *Store) Len() int {
	return int(s.live.Load())
}

// ClearAll drops every record. Safe to call repeatedly.
func (s *Store) ClearAll() {
	s.mu.Lock()
	cleared := len(s.entries)
	for _, e := range s.entries {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	s.entries = make(map[string]*entry)
	s.live.Store(0)
	s.mu.Unlock()

	observability.SetActiveSessions(0)
	if cleared > 0 {
		log.Info().Int("users", cleared).Msg("Session store cleared")
	}
}
