package cache

import (
	"context"
	"sync"
	"time"

	"github.com/reqshield/reqshield/pkg/models"
)

// MemoryStore is the default in-process analysis cache. Expired entries are
// evicted lazily when read; there is no background janitor.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	analysis  *models.RiskAnalysis
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory cache with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Get implements Store. Reading an expired entry removes it.
func (m *MemoryStore) Get(ctx context.Context, key string) (*models.RiskAnalysis, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		// Re-check: the entry may have been replaced since the read lock.
		if current, ok := m.entries[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return entry.analysis, true
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key string, analysis *models.RiskAnalysis) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{
		analysis:  analysis,
		expiresAt: m.now().Add(m.ttl),
	}
	m.mu.Unlock()
}

// Len returns the number of entries currently held, including expired ones
// that have not been read since expiring.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
