// Package memory is the in-process qa.Store used by the CLI and when no
// Redis is configured.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bryanwahyu/contract-review/internal/domain/qa"
)

var (
	_ qa.Store        = (*SessionStore)(nil)
	_ qa.TurnAppender = (*SessionStore)(nil)
)

// SessionStore keeps sessions in a map. Sessions are stored as JSON so
// callers never share slices with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string][]byte)}
}

func (s *SessionStore) Save(_ context.Context, session *qa.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = data
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*qa.Session, error) {
	s.mu.RLock()
	data, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, qa.ErrNotFound
	}
	var session qa.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) AppendTurn(_ context.Context, id string, t qa.Turn) (*qa.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return nil, qa.ErrNotFound
	}
	var session qa.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	session.Append(t)
	out, err := json.Marshal(&session)
	if err != nil {
		return nil, err
	}
	s.sessions[id] = out
	return &session, nil
}
