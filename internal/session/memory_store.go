package session

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on
// restart and are not shared between replicas.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	if s.ID == "" || s.SubjectID == "" {
		return apperror.ValidationFailed("session", "session id and subject are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !s.ExpiresAt.After(now) {
		return apperror.ValidationFailed("expiresAt", "session expiry must be in the future")
	}
	m.sweep(now)
	m.sessions[s.ID] = s
	return nil
}

// sweep drops every expired session. Callers hold m.mu.
func (m *MemoryStore) sweep(now time.Time) {
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
		}
	}
}

// Get drops an expired entry on read; Create sweeps the rest.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	if !s.ExpiresAt.After(m.now()) {
		delete(m.sessions, id)
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
