// Package session owns the lifecycle of authenticated sessions:
// issuance, expiry computed on read, renewal, teardown, and the
// expiry watch. Storage is pluggable behind Store; records are keyed
// by the hash of the opaque session token.
package session

import (
	"context"
	"errors"
	"sync"

	"schoolhub/access/internal/model"
)

var (
	// ErrNotFound means no record exists for the key.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt means a record exists but cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrExpired is returned by Renew when there is nothing to renew.
	ErrExpired = errors.New("session expired")
)

type Store interface {
	Persist(ctx context.Context, tokenHash string, s model.Session) error
	Load(ctx context.Context, tokenHash string) (model.Session, error)
	Delete(ctx context.Context, tokenHash string) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]model.Session)}
}

func (s *MemoryStore) Persist(_ context.Context, tokenHash string, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = session
	return nil
}

func (s *MemoryStore) Load(_ context.Context, tokenHash string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}
