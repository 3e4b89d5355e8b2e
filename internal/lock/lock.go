// Package lock provides the non-blocking named locks that keep concurrent
// worker processes from running the same job twice.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out named locks without waiting. A lock held elsewhere is
// reported as acquired=false with a nil error. With force set, an existing
// holder is evicted first; this clears locks left behind by a crashed run.
type Locker interface {
	TryAcquire(ctx context.Context, name string, force bool) (Lease, bool, error)
}

// CampaignLockName is the lock guarding delivery of one campaign.
func CampaignLockName(campaignID int) string {
	return fmt.Sprintf("campaign_%d", campaignID)
}

// MemoryLocker keeps locks in process memory. It serves tests and single
// process deployments.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]*memoryLease
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]*memoryLease{}}
}

type memoryLease struct {
	locker *MemoryLocker
	name   string
}

func (l *MemoryLocker) TryAcquire(_ context.Context, name string, force bool) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok && !force {
		return nil, false, nil
	}
	lease := &memoryLease{locker: l, name: name}
	l.held[name] = lease
	return lease, true, nil
}

// Held reports whether name is currently locked.
func (l *MemoryLocker) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	// A forced acquire may have replaced this lease.
	if m.locker.held[m.name] == m {
		delete(m.locker.held, m.name)
	}
	return nil
}
