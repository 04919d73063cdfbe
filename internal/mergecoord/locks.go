// Package mergecoord is the Merge Coordinator (spec.md §4.G.5 / §4.D): it
// folds a completed leaf job's commit into a plan's target branch, trying a
// fast in-object-store path first and falling back to a working-tree
// squash merge with agent-assisted conflict resolution, while guaranteeing
// the user's own branch/working tree is restored before it returns.
package mergecoord

import "sync"

// branchKey identifies the resource a merge lock protects: one repository's
// one target branch. Concurrent leaf merges into different target branches
// (e.g. independent plans) never contend.
type branchKey struct {
	repoPath     string
	targetBranch string
}

// LockTable serializes merges into the same (repoPath, targetBranch) pair
// with a per-key mutex, implementing spec.md §5's "merges into the same
// (repo, targetBranch) are totally ordered by a per-branch mutex" without
// holding a single global lock that would serialize unrelated plans.
type LockTable struct {
	mu    sync.Mutex
	locks map[branchKey]*sync.Mutex
}

// NewLockTable returns an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[branchKey]*sync.Mutex)}
}

// Acquire blocks until the named branch's lock is held, returning a release
// function the caller must call exactly once (typically via defer).
func (t *LockTable) Acquire(repoPath, targetBranch string) func() {
	key := branchKey{repoPath: repoPath, targetBranch: targetBranch}

	t.mu.Lock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
