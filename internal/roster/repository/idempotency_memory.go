package repository

import (
	"context"
	"sync"
)

// MemoryIdempotencyRepo keeps intake receipts keyed by Idempotency-Key for the
// life of the process.
type MemoryIdempotencyRepo struct {
	mu       sync.RWMutex
	receipts map[string][]byte
}

func NewMemoryIdempotencyRepo() *MemoryIdempotencyRepo {
	return &MemoryIdempotencyRepo{receipts: make(map[string][]byte)}
}

func (m *MemoryIdempotencyRepo) GetResponse(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[key]
	return append([]byte(nil), receipt...), ok, nil
}

func (m *MemoryIdempotencyRepo) PutResponse(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[key]; ok {
		return nil
	}
	m.receipts[key] = append([]byte(nil), payload...)
	return nil
}
