package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// Memory is a process-local limiter for single-instance development setups
// (the SQLite store). Counters are lost on restart.
type Memory struct {
	mu      sync.Mutex
	policy  Policy
	now     func() time.Time
	entries map[string]*memEntry
}

type memEntry struct {
	fails        int
	first        time.Time
	blockedUntil time.Time
}

// NewMemory constructs a process-local limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, entries: make(map[string]*memEntry)}
}

func memKey(email string, ipHash []byte) string { return normalize(email) + "|" + hex.EncodeToString(ipHash) }

// Allow reports whether (email, ip) is currently unblocked.
func (m *Memory) Allow(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(email, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets (email, ip).
func (m *Memory) Success(_ context.Context, email string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.entries, memKey(email, ipHash))
	m.mu.Unlock()
	return nil
}

// Failure counts a failed attempt inside the window and blocks at the threshold.
func (m *Memory) Failure(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := memKey(email, ipHash)
	e, ok := m.entries[k]
	if !ok || now.Sub(e.first) > m.policy.Window {
		e = &memEntry{first: now}
		m.entries[k] = e
	}
	e.fails++
	if e.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}
