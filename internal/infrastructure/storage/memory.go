package storage

import (
	"context"
	"sync"
	"time"

	"github.com/invoices/backend/internal/domain/shared"
)

// MemoryDocumentStore keeps documents in process memory
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string][]byte)}
}

func (m *MemoryDocumentStore) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	m.docs[key] = append([]byte(nil), body...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDocumentStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.docs[key]
	if !ok {
		return nil, shared.NewDomainErrorf(shared.CodeNotFound, "document %s not found", key)
	}
	return append([]byte(nil), body...), nil
}

func (m *MemoryDocumentStore) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}

// Len is the number of stored documents
func (m *MemoryDocumentStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
