package counter

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store with deadline-based key expiry. It backs
// tests and store-less development runs; semantics match Redis for the
// operations the pipeline uses.
type Memory struct {
	mu      sync.Mutex
	ints    map[string]int64
	hashes  map[string]map[string]int64
	blobs   map[string][]byte
	expires map[string]time.Time

	// now is swappable so tests can step through rate-limit windows.
	now func() time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		ints:    map[string]int64{},
		hashes:  map[string]map[string]int64{},
		blobs:   map[string][]byte{},
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

// SetClock overrides the store's notion of time. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(key)
	m.ints[key]++
	return m.ints[key], nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) HIncrBy(_ context.Context, key, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]int64{}
		m.hashes[key] = h
	}
	h[field] += delta
	return nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", nil
	}
	v, ok := h[field]
	if !ok {
		return "", nil
	}
	return itoa(v), nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for f, v := range m.hashes[key] {
		out[f] = itoa(v)
	}
	return out, nil
}

func (m *Memory) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	m.expires[key] = m.now().Add(ttl)
	return nil
}

// GetJSON reads back a cached blob. Convenience for tests; the Store
// interface itself is write-only for caches.
func (m *Memory) GetJSON(key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(key)
	data, ok := m.blobs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// reapLocked drops key if its deadline passed. Caller holds mu.
func (m *Memory) reapLocked(key string) {
	dl, ok := m.expires[key]
	if !ok || m.now().Before(dl) {
		return
	}
	delete(m.ints, key)
	delete(m.hashes, key)
	delete(m.blobs, key)
	delete(m.expires, key)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
