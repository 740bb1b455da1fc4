package submit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Claimer grants the right to submit one code for a task once per TTL window, across every
// process sharing the backing store.
type Claimer interface {
	// Claim returns true when the caller now owns key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release drops a claim the caller owns so the same code can be sent again.
	Release(ctx context.Context, key string) error
}

// ClaimKey identifies one code for one task. A re-prompt for the same task carries a new code
// and therefore a new key. The code itself is not stored.
func ClaimKey(taskID, code string) string {
	sum := sha256.Sum256([]byte(code))
	return taskID + ":" + hex.EncodeToString(sum[:8])
}

// MemoryClaims is an in-process Claimer.
type MemoryClaims struct {
	mu   sync.Mutex
	m    map[string]time.Time
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemoryClaims returns a Claimer whose claims expire after ttl.
func NewMemoryClaims(ttl time.Duration) *MemoryClaims {
	return &MemoryClaims{
		m:    make(map[string]time.Time),
		ttl:  ttl,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Claim records key until now+ttl unless an unexpired claim exists. Expired entries are swept.
func (s *MemoryClaims) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	for k, exp := range s.m {
		if !exp.After(now) {
			delete(s.m, k)
		}
	}
	if _, held := s.m[key]; held {
		return false, nil
	}
	s.m[key] = now.Add(s.ttl)
	return true, nil
}

// Release forgets key.
func (s *MemoryClaims) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}
