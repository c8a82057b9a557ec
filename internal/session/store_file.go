package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"schoolhub/access/internal/model"
)

// FileStore keeps sessions in a single JSON file. Meant for
// single-node deployments that restart; Postgres is the production
// store.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Persist(_ context.Context, tokenHash string, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	state[tokenHash] = session
	return s.write(state)
}

func (s *FileStore) Load(_ context.Context, tokenHash string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return model.Session{}, err
	}
	session, ok := state[tokenHash]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return session, nil
}

func (s *FileStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := state[tokenHash]; !ok {
		return nil
	}
	delete(state, tokenHash)
	return s.write(state)
}

func (s *FileStore) read() (map[string]model.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]model.Session), nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]model.Session), nil
	}
	state := make(map[string]model.Session)
	if err := json.Unmarshal(data, &state); err != nil {
		// An unreadable state file is discarded rather than trusted.
		_ = os.Remove(s.path)
		return make(map[string]model.Session), nil
	}
	return state, nil
}

func (s *FileStore) write(state map[string]model.Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

var _ Store = (*FileStore)(nil)
