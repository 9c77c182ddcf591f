package syncqueue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileStoreSnapshot struct {
	Operations []QueuedOperation `json:"operations"`
}

// FileStore persists the queue snapshot as a single JSON file, written
// atomically via a temp file and rename. A missing file is an empty queue.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) SaveAll(ops []QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := fileStoreSnapshot{Operations: cloneOperations(ops)}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) LoadAll() ([]QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []QueuedOperation{}, nil
		}
		return nil, err
	}
	var snapshot fileStoreSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return cloneOperations(snapshot.Operations), nil
}

func (s *FileStore) Close() error {
	return nil
}
