package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolhub/access/internal/crypto"
	"schoolhub/access/internal/model"
)

type Config struct {
	Duration      time.Duration
	WarnBefore    time.Duration
	WatchInterval time.Duration
}

// Manager drives the session state machine: no session → active (on
// issue), active → active (renew), active → gone (logout, expiry).
// Expiry is computed on every read, never cached; Renew, Destroy and
// watch ticks serialize on the manager mutex so a renew cannot
// resurrect a session the watch has just expired.
type Manager struct {
	store   Store
	cfg     Config
	nowFunc func() time.Time

	mu sync.Mutex
}

func NewManager(store Store, cfg Config) *Manager {
	if cfg.Duration <= 0 {
		cfg.Duration = 8 * time.Hour
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = time.Minute
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Issue creates and persists a fresh session for the identity and
// returns it with the raw opaque token. The token is never stored.
func (m *Manager) Issue(ctx context.Context, identity model.Identity) (model.Session, string, error) {
	token, err := crypto.NewSessionToken()
	if err != nil {
		return model.Session{}, "", err
	}
	now := m.nowFunc().UTC()
	session := model.Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.Duration),
	}
	if err := m.Persist(ctx, token, session); err != nil {
		return model.Session{}, "", err
	}
	return session, token, nil
}

// Persist validates the session shape and stores it under the token
// hash.
func (m *Manager) Persist(ctx context.Context, token string, session model.Session) error {
	if session.ID == "" || session.Identity.ID == "" {
		return errors.New("session missing identity")
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		return errors.New("session expires before it starts")
	}
	return m.store.Persist(ctx, crypto.HashToken(token), session)
}

// Load returns the session for the token, or nil without error when no
// valid session exists. Expired or structurally invalid records are
// deleted on the spot; an expired session is never returned.
func (m *Manager) Load(ctx context.Context, token string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, crypto.HashToken(token))
}

func (m *Manager) loadLocked(ctx context.Context, tokenHash string) (*model.Session, error) {
	session, err := m.store.Load(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, ErrCorrupt) {
			_ = m.store.Delete(ctx, tokenHash)
			return nil, nil
		}
		return nil, err
	}
	if session.ID == "" || !session.ExpiresAt.After(session.CreatedAt) {
		_ = m.store.Delete(ctx, tokenHash)
		return nil, nil
	}
	if !session.ValidAt(m.nowFunc()) {
		_ = m.store.Delete(ctx, tokenHash)
		return nil, nil
	}
	return &session, nil
}

// Renew extends the current session's expiry to now + duration,
// leaving its ID and creation time unchanged. Renewing a session that
// has already expired (or was destroyed) fails with ErrExpired.
func (m *Manager) Renew(ctx context.Context, token string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokenHash := crypto.HashToken(token)
	session, err := m.loadLocked(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrExpired
	}
	session.ExpiresAt = m.nowFunc().UTC().Add(m.cfg.Duration)
	if err := m.store.Persist(ctx, tokenHash, *session); err != nil {
		return nil, err
	}
	return session, nil
}

// Destroy deletes the stored record unconditionally. Idempotent.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx, crypto.HashToken(token))
}

// Watch polls the stored session until it expires or disappears.
// onWarn fires once when the session enters the warn threshold before
// expiry; onExpire fires once when expiry is detected (the record is
// already deleted by then). The watch returns when the context is
// canceled, the session is destroyed, or the stored record's identity
// changes (a replacement session must not inherit this watch).
func (m *Manager) Watch(ctx context.Context, token string, onWarn, onExpire func(model.Session)) {
	tokenHash := crypto.HashToken(token)

	m.mu.Lock()
	initial, err := m.store.Load(ctx, tokenHash)
	m.mu.Unlock()
	if err != nil {
		return
	}
	sessionID := initial.ID

	ticker := time.NewTicker(m.cfg.WatchInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		session, err := m.store.Load(ctx, tokenHash)
		if err != nil {
			m.mu.Unlock()
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
				return
			}
			continue // transient storage error; keep watching
		}
		if session.ID != sessionID {
			m.mu.Unlock()
			return
		}
		now := m.nowFunc()
		if !session.ValidAt(now) {
			_ = m.store.Delete(ctx, tokenHash)
			m.mu.Unlock()
			if onExpire != nil {
				onExpire(session)
			}
			return
		}
		m.mu.Unlock()

		if !warned && m.cfg.WarnBefore > 0 && now.Add(m.cfg.WarnBefore).After(session.ExpiresAt) {
			warned = true
			if onWarn != nil {
				onWarn(session)
			}
		}
	}
}
