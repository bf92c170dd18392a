package pairing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store holds live pairing requests keyed by code.
type Store interface {
	// Create stores req unless a live request already holds its code.
	// It reports false on a collision.
	Create(ctx context.Context, req *Request) (bool, error)

	// Get returns ErrCodeNotFound for unknown codes.
	Get(ctx context.Context, code string) (*Request, error)

	// Delete removes the request and reports whether this call removed it.
	// Concurrent callers racing on the same code see exactly one true.
	Delete(ctx context.Context, code string) (bool, error)

	// List returns every stored request, oldest first.
	List(ctx context.Context) ([]Request, error)

	// Sweep removes requests expired at now and returns how many it removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is a process-local Store. Expired entries linger until
// swept, so the owning Service must run its sweep loop.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

// Create implements Store. An expired request does not block its code.
func (m *MemoryStore) Create(_ context.Context, req *Request) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.requests[req.Code]; ok && !existing.Expired(req.CreatedAt) {
		return false, nil
	}
	stored := *req
	m.requests[req.Code] = &stored
	return true, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, code string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	c := *req
	return &c, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[code]; !ok {
		return false, nil
	}
	delete(m.requests, code)
	return true, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Request, error) {
	m.mu.Lock()
	out := make([]Request, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, *req)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Sweep implements Store.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for code, req := range m.requests {
		if req.Expired(now) {
			delete(m.requests, code)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored requests, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
