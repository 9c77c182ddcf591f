package syncqueue

import "sync"

// InMemoryStore keeps the snapshot in process memory. Nothing survives a
// restart; it exists for tests and for running without persistence.
type InMemoryStore struct {
	mu  sync.Mutex
	ops []QueuedOperation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveAll(ops []QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = cloneOperations(ops)
	return nil
}

func (s *InMemoryStore) LoadAll() ([]QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOperations(s.ops), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
