package server

import (
	"context"
	"sync"
	"time"

	"github.com/chazu/convm/vm"
	"github.com/google/uuid"
)

// Session is one running conversation. Machine, Debugger and host are only
// touched on the worker goroutine.
type Session struct {
	ID       string
	Slot     int
	Machine  *vm.Machine
	Debugger *vm.Debugger // nil unless started for debugging

	host     *sessionHost
	hub      *hub
	created  time.Time
	lastUsed time.Time
	done     chan struct{}
}

// SessionStore manages running conversations.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	worker   *Worker
}

// NewSessionStore creates a new session store.
func NewSessionStore(worker *Worker) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		worker:   worker,
	}
}

// Add registers a session under a fresh id. When the session carries a
// debugger its events are forwarded to the session's subscribers.
func (s *SessionStore) Add(sess *Session) *Session {
	sess.ID = uuid.New().String()
	sess.host.session = sess.ID
	now := time.Now()
	sess.created, sess.lastUsed = now, now
	sess.done = make(chan struct{})

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if sess.Debugger != nil {
		go pumpDebugEvents(sess)
	}
	logger.Infof("session %s: slot %d", sess.ID, sess.Slot)
	return sess
}

// Get retrieves a session by ID and marks it used.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if ok {
		sess.lastUsed = time.Now()
	}
	return sess, ok
}

// Len returns the number of running sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy aborts a session's conversation, which flushes its globals, and
// removes it.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.shutdown([]*Session{sess})
	return true
}

// DestroyAll destroys every session.
func (s *SessionStore) DestroyAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	s.shutdown(all)
}

// Sweep destroys sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		logger.Infof("expiring %d idle sessions", len(expired))
		s.shutdown(expired)
	}
	return len(expired)
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func (s *SessionStore) shutdown(sessions []*Session) {
	err := s.worker.Do(context.Background(), func(*Library) error {
		for _, sess := range sessions {
			sess.Machine.Abort()
		}
		return nil
	})
	if err != nil {
		logger.Errorf("aborting sessions: %v", err)
	}
	for _, sess := range sessions {
		close(sess.done)
		sess.hub.close()
	}
}
