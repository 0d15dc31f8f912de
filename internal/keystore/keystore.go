// Package keystore implements the process-wide API-key status table (C2):
// a thread-safe mapping of API key to Valid/Blocked, with single-writer
// updates and snapshot reads.
package keystore

import (
	"sync"

	"github.com/user/billingagent/internal/core"
)

// Store is a thread-safe key-state table. The zero value is not usable;
// construct with New. Reads take a read lock and return independent
// copies, so callers may never block on update processing (§5, §9).
type Store struct {
	mu      sync.RWMutex
	valid   map[string]struct{}
	blocked map[string]string // key -> reason
}

// New returns an empty Store. Before any update is applied, every key is
// unknown and therefore not valid (P8, §4.2).
func New() *Store {
	return &Store{
		valid:   make(map[string]struct{}),
		blocked: make(map[string]string),
	}
}

// IsValid reports whether key is currently in the Valid set. Unknown keys
// return false (fail-closed; §9 fixes this against an inconsistent source
// behavior that treated unknown keys as valid).
func (s *Store) IsValid(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.valid[key]
	return ok
}

// ValidKeys returns an independent snapshot of the Valid set.
func (s *Store) ValidKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.valid))
	for k := range s.valid {
		out = append(out, k)
	}
	return out
}

// BlockedKeys returns an independent snapshot of the Blocked set, along
// with each key's recorded reason.
func (s *Store) BlockedKeys() []core.KeyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.KeyEntry, 0, len(s.blocked))
	for k, reason := range s.blocked {
		out = append(out, core.KeyEntry{Key: k, Status: core.KeyBlocked, Reason: reason})
	}
	return out
}

// ApplyUpdate is the sole mutator (C2 contract, K-1, P2). On status Blocked
// it removes key from Valid and records it (with reason) in Blocked; on
// status Valid it does the reverse. Unknown status values are ignored; the
// caller is expected to log a warning in that case (ApplyUpdate itself
// reports whether it recognized the status so the caller can do so).
func (s *Store) ApplyUpdate(key string, status core.KeyStatus, reason string) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case core.KeyBlocked:
		delete(s.valid, key)
		s.blocked[key] = reason
		return true
	case core.KeyValid:
		delete(s.blocked, key)
		s.valid[key] = struct{}{}
		return true
	default:
		return false
	}
}
