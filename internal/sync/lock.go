package sync

import (
	"fmt"
	"sync"
)

// ErrOrgSyncInProgress is returned when a sync is requested for an org that
// already has one running. Requests are rejected, never queued behind the
// running pass: the caller retries once the org is idle.
var ErrOrgSyncInProgress = fmt.Errorf("sync already in progress for this organization")

// orgLock serializes sync passes per organization within this process. Leader
// election guarantees a single process runs sync workers, so a process-local
// lock is sufficient to make the per-org guarantee global.
type orgLock struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newOrgLock() *orgLock {
	return &orgLock{active: make(map[string]struct{})}
}

// TryLock acquires the lock for an org, or returns ErrOrgSyncInProgress
// without blocking.
func (l *orgLock) TryLock(orgID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[orgID]; busy {
		return ErrOrgSyncInProgress
	}
	l.active[orgID] = struct{}{}
	return nil
}

// Unlock releases the lock for an org.
func (l *orgLock) Unlock(orgID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, orgID)
}

// Busy reports whether an org currently holds the lock.
func (l *orgLock) Busy(orgID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[orgID]
	return busy
}
