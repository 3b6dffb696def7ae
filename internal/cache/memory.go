package cache

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 1024

type memEntry struct {
	approved bool
	expires  time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped on read and
// swept periodically on write.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
	writes  int
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source; intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) Get(_ context.Context, sellerID, productID string) (bool, bool, error) {
	key := Key(sellerID, productID)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return false, false, nil
	}
	return e.approved, true, nil
}

func (m *Memory) GetMany(_ context.Context, sellerID string, productIDs []string) (map[string]bool, error) {
	now := m.now()
	out := make(map[string]bool, len(productIDs))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pid := range productIDs {
		if e, ok := m.entries[Key(sellerID, pid)]; ok && now.Before(e.expires) {
			out[pid] = e.approved
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, sellerID, productID string, approved bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(Key(sellerID, productID), approved, ttl)
	return nil
}

func (m *Memory) SetMany(_ context.Context, sellerID string, decisions map[string]bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, approved := range decisions {
		m.put(Key(sellerID, pid), approved, ttl)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, sellerID, productID string) error {
	m.mu.Lock()
	delete(m.entries, Key(sellerID, productID))
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// put requires m.mu held for writing.
func (m *Memory) put(key string, approved bool, ttl time.Duration) {
	if ttl <= 0 {
		delete(m.entries, key)
		return
	}
	now := m.now()
	m.entries[key] = memEntry{approved: approved, expires: now.Add(ttl)}
	m.writes++
	if m.writes%sweepInterval == 0 {
		for k, e := range m.entries {
			if !now.Before(e.expires) {
				delete(m.entries, k)
			}
		}
	}
}
