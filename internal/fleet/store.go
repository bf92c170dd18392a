package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// Store keeps the short-lived, per-display state that does not belong in
// the registry: live status, the pending command queue, the latest
// heartbeat, daily impression counters and a ring of recent errors.
type Store interface {
	SetStatus(ctx context.Context, displayID string, rec StatusRecord) error
	// GetStatus returns ErrNotFound when no status was ever set.
	GetStatus(ctx context.Context, displayID string) (*StatusRecord, error)

	// SaveHeartbeat replaces the latest heartbeat; it expires after HeartbeatTTL.
	SaveHeartbeat(ctx context.Context, displayID string, rec HeartbeatRecord) error
	// LatestHeartbeat returns ErrNotFound when none is live.
	LatestHeartbeat(ctx context.Context, displayID string) (*HeartbeatRecord, error)

	// PushCommand appends to the display's queue. The oldest commands are
	// dropped beyond MaxQueuedCommands.
	PushCommand(ctx context.Context, displayID string, cmd protocol.Command) error
	// DrainCommands atomically returns and clears the queue, oldest first.
	DrainCommands(ctx context.Context, displayID string) ([]protocol.Command, error)

	// IncrImpressions bumps the counter for the UTC day of at.
	IncrImpressions(ctx context.Context, displayID string, at time.Time) (int64, error)
	Impressions(ctx context.Context, displayID string, at time.Time) (int64, error)

	// AppendError keeps the last MaxErrorLog entries for ErrorLogTTL.
	AppendError(ctx context.Context, displayID string, rec ErrorRecord) error
	// RecentErrors returns the kept entries, oldest first.
	RecentErrors(ctx context.Context, displayID string) ([]ErrorRecord, error)
}

func dayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

func (e expiring[T]) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store for single-instance deployments.
// Expiry is checked lazily on read.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	status      map[string]StatusRecord
	heartbeats  map[string]expiring[HeartbeatRecord]
	commands    map[string][]protocol.Command
	impressions map[string]expiring[int64]
	errs        map[string]expiring[[]ErrorRecord]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		status:      make(map[string]StatusRecord),
		heartbeats:  make(map[string]expiring[HeartbeatRecord]),
		commands:    make(map[string][]protocol.Command),
		impressions: make(map[string]expiring[int64]),
		errs:        make(map[string]expiring[[]ErrorRecord]),
	}
}

func (m *MemoryStore) SetStatus(_ context.Context, displayID string, rec StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[displayID] = rec
	return nil
}

func (m *MemoryStore) GetStatus(_ context.Context, displayID string) (*StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.status[displayID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) SaveHeartbeat(_ context.Context, displayID string, rec HeartbeatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[displayID] = expiring[HeartbeatRecord]{value: rec, expiresAt: m.now().Add(HeartbeatTTL)}
	return nil
}

func (m *MemoryStore) LatestHeartbeat(_ context.Context, displayID string) (*HeartbeatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.heartbeats[displayID]
	if !ok || !e.live(m.now()) {
		delete(m.heartbeats, displayID)
		return nil, ErrNotFound
	}
	rec := e.value
	return &rec, nil
}

func (m *MemoryStore) PushCommand(_ context.Context, displayID string, cmd protocol.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := append(m.commands[displayID], cmd)
	if len(q) > MaxQueuedCommands {
		q = q[len(q)-MaxQueuedCommands:]
	}
	m.commands[displayID] = q
	return nil
}

func (m *MemoryStore) DrainCommands(_ context.Context, displayID string) ([]protocol.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.commands[displayID]
	delete(m.commands, displayID)
	if q == nil {
		return []protocol.Command{}, nil
	}
	return q, nil
}

func (m *MemoryStore) IncrImpressions(_ context.Context, displayID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := displayID + ":" + dayKey(at)
	e := m.impressions[key]
	if !e.live(m.now()) {
		e.value = 0
	}
	e.value++
	e.expiresAt = m.now().Add(ImpressionCounterTTL)
	m.impressions[key] = e
	return e.value, nil
}

func (m *MemoryStore) Impressions(_ context.Context, displayID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.impressions[displayID+":"+dayKey(at)]
	if !ok || !e.live(m.now()) {
		return 0, nil
	}
	return e.value, nil
}

func (m *MemoryStore) AppendError(_ context.Context, displayID string, rec ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.errs[displayID]
	if !e.live(m.now()) {
		e.value = nil
	}
	list := append(e.value, rec)
	if len(list) > MaxErrorLog {
		list = list[len(list)-MaxErrorLog:]
	}
	m.errs[displayID] = expiring[[]ErrorRecord]{value: list, expiresAt: m.now().Add(ErrorLogTTL)}
	return nil
}

func (m *MemoryStore) RecentErrors(_ context.Context, displayID string) ([]ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.errs[displayID]
	if !ok || !e.live(m.now()) {
		return []ErrorRecord{}, nil
	}
	out := make([]ErrorRecord, len(e.value))
	copy(out, e.value)
	return out, nil
}
