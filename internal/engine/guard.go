package engine

import "sync"

// RunGuard is the in-process half of per-account run exclusivity. The
// persisted half is the store's running-audit check, which also covers
// other processes sharing the same database.
type RunGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// NewRunGuard returns an empty guard.
func NewRunGuard() *RunGuard {
	return &RunGuard{running: make(map[string]struct{})}
}

// TryAcquire marks accountID as running. It returns false when the account
// is already held.
func (g *RunGuard) TryAcquire(accountID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.running[accountID]; held {
		return false
	}
	g.running[accountID] = struct{}{}
	return true
}

// Release frees accountID.
func (g *RunGuard) Release(accountID string) {
	g.mu.Lock()
	delete(g.running, accountID)
	g.mu.Unlock()
}
