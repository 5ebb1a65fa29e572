package idempotency

import (
	"context"
	"sync"
)

// MemoryBackend keeps reservations in process. It backs the in-memory ledger
// mode and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryBackend) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = Record{Key: key, RequestHash: requestHash, InProgress: true}
	return true, nil
}

func (m *MemoryBackend) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok || rec.RequestHash != requestHash {
		return nil, ErrNotFound
	}
	rec.Status = status
	rec.Body = append([]byte(nil), body...)
	rec.ContentType = contentType
	rec.InProgress = false
	m.records[key] = rec
	return &rec, nil
}

func (m *MemoryBackend) Release(ctx context.Context, key, requestHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok && rec.InProgress && rec.RequestHash == requestHash {
		delete(m.records, key)
	}
	return nil
}
