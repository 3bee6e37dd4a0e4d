package auth

import (
	"context"
	"sync"
)

// Store abstracts persistence of credentials across restarts. The manager is
// the only writer; multi-writer setups (two processes sharing one backing
// file) must be serialized by the embedding application.
type Store interface {
	// Save persists the provided credentials, replacing any existing ones.
	Save(ctx context.Context, creds *Credentials) error
	// Load returns the stored credentials, or nil when none are stored.
	Load(ctx context.Context) (*Credentials, error)
	// Clear removes the stored credentials. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}

// MemoryStore holds credentials in memory only. It is not durable across
// process restarts and is intended for tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of the credentials.
func (s *MemoryStore) Save(ctx context.Context, creds *Credentials) error {
	s.mu.Lock()
	s.creds = creds.Clone()
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the stored credentials, or nil when empty.
func (s *MemoryStore) Load(ctx context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Clone(), nil
}

// Clear discards the stored credentials.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()
	return nil
}
