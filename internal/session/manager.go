package session

import (
	"sync"
	"time"

	"github.com/dunamismax/filezenith/internal/handle"
	"github.com/dunamismax/filezenith/internal/id"
)

// Manager owns all live batches. Closing a batch releases every handle it
// acquired.
type Manager struct {
	mu       sync.Mutex
	batches  map[string]*Batch
	registry *handle.Registry
	idleTTL  time.Duration
	now      func() time.Time
}

func NewManager(registry *handle.Registry, idleTTL time.Duration) *Manager {
	if registry == nil {
		registry = handle.NewRegistry()
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Manager{
		batches:  make(map[string]*Batch),
		registry: registry,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (m *Manager) Registry() *handle.Registry {
	return m.registry
}

func (m *Manager) Create() *Batch {
	b := &Batch{
		id:       id.New(),
		registry: m.registry,
		now:      m.now,
	}
	b.touch()

	m.mu.Lock()
	m.batches[b.id] = b
	m.mu.Unlock()
	return b
}

func (m *Manager) Get(batchID string) (*Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	return b, ok
}

// Close removes the batch and returns the number of handles released.
func (m *Manager) Close(batchID string) (int, bool) {
	m.mu.Lock()
	b, ok := m.batches[batchID]
	delete(m.batches, batchID)
	m.mu.Unlock()

	if !ok {
		return 0, false
	}
	return b.close(), true
}

// Sweep closes batches idle for longer than the TTL and returns how many
// were closed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var stale []*Batch
	for batchID, b := range m.batches {
		if b.idleSince().Before(cutoff) {
			stale = append(stale, b)
			delete(m.batches, batchID)
		}
	}
	m.mu.Unlock()

	for _, b := range stale {
		b.close()
	}
	return len(stale)
}

func (m *Manager) CloseAll() int {
	m.mu.Lock()
	all := make([]*Batch, 0, len(m.batches))
	for _, b := range m.batches {
		all = append(all, b)
	}
	m.batches = make(map[string]*Batch)
	m.mu.Unlock()

	for _, b := range all {
		b.close()
	}
	return len(all)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
