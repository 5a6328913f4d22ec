package session

import (
	"context"
	"encoding/json"
	"sync"
)

// Store is the session persistence capability injected into the state
// machine. Implementations keep the in-progress session plus an append-only
// history mirror for immediate resume, separate from the durable audit store.
type Store interface {
	Get(ctx context.Context, id string) (*VerificationSession, error)
	Put(ctx context.Context, s *VerificationSession) error
	Delete(ctx context.Context, id string) error
	AppendHistory(ctx context.Context, s *VerificationSession) error
}

// MemoryStore is an in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*VerificationSession
	history  []*VerificationSession
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*VerificationSession)}
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(_ context.Context, id string) (*VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s)
}

// Put stores a copy of the session.
func (m *MemoryStore) Put(_ context.Context, s *VerificationSession) error {
	cp, err := cloneSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cp
	return nil
}

// Delete removes the session. Deleting an absent session is a no-op.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// AppendHistory mirrors a finalized session into the history snapshot.
func (m *MemoryStore) AppendHistory(_ context.Context, s *VerificationSession) error {
	cp, err := cloneSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, cp)
	return nil
}

// History returns a snapshot of the mirrored sessions, oldest first.
func (m *MemoryStore) History() []*VerificationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*VerificationSession, len(m.history))
	copy(out, m.history)
	return out
}

// cloneSession deep-copies through JSON so callers cannot mutate stored
// state behind the store's back.
func cloneSession(s *VerificationSession) (*VerificationSession, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var cp VerificationSession
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
