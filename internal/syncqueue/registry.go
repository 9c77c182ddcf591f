package syncqueue

import (
	"strings"
	"sync"
)

// QueueStoreFactory builds a store for a custom DSN scheme.
type QueueStoreFactory func(dsn string) (QueueStore, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]QueueStoreFactory
}{
	factories: map[string]QueueStoreFactory{},
}

// RegisterQueueStoreFactory lets embedders plug in additional backends
// without touching the built-in scheme switch.
func RegisterQueueStoreFactory(scheme string, factory QueueStoreFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupQueueStoreFactory(scheme string) (QueueStoreFactory, bool) {
	scheme = normalizeScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
