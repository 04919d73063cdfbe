// Package gitres is the Git Resource Layer (spec.md §4.A): every git
// mutation the scheduler performs is funneled through this package so that
// callers never shell out directly. Every method returns quickly and is
// safe to call from a goroutine; nothing here blocks the pump thread for
// longer than a single git invocation, and callers that need true
// async/non-blocking semantics should wrap calls with the Async helpers in
// async.go.
package gitres

import "context"

// LogFunc receives a trace line for every git invocation. A nil LogFunc is
// valid and silently discarded.
type LogFunc func(format string, args ...any)

// CommandExecutor abstracts process execution so tests can substitute a
// fake without shelling out to a real git binary.
type CommandExecutor interface {
	// Run executes a command and returns combined stdout+stderr.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// RunQuiet executes a command and discards output, returning only error.
	RunQuiet(ctx context.Context, dir, name string, args ...string) error
}

// MergeOutcome is the tri-state result of an in-object-store merge attempt.
type MergeOutcome int

const (
	// MergeSuccess means the merge produced a new tree with no conflicts.
	MergeSuccess MergeOutcome = iota
	// MergeConflictFree means nothing needed to change (already an ancestor).
	MergeConflictFree
	// MergeConflict means the merge left conflict markers/files.
	MergeConflict
)

// MergeResult is the return value of MergeWithoutCheckout.
type MergeResult struct {
	Outcome       MergeOutcome
	TreeSHA       string
	ConflictFiles []string
}

// CheckoutMergeOptions configures Merge (the working-tree merge, as opposed
// to the in-object-store MergeWithoutCheckout).
type CheckoutMergeOptions struct {
	Source  string
	Target  string
	Message string
	Squash  bool
	Log     LogFunc
}

// CheckoutMergeResult is the return value of Merge.
type CheckoutMergeResult struct {
	Success       bool
	HasConflicts  bool
	ConflictFiles []string
	Err           error
}

// FileChange is one entry in a commit's change list.
type FileChange struct {
	Status string // "A", "M", "D", "R", ...
	Path   string
}

// DiffStats is an aggregate diff summary between two refs.
type DiffStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// Repository is the full Git Resource Layer surface (spec.md §4.A). All
// methods accept a context for cancellation and a LogFunc for tracing.
type Repository interface {
	CreateWorktree(ctx context.Context, worktreePath, branchName, fromRef string, log LogFunc) error
	RemoveWorktreeSafe(ctx context.Context, worktreePath string, force bool, log LogFunc) bool
	IsValidWorktree(ctx context.Context, path string) bool
	GetCurrentBranch(ctx context.Context, path string) (string, error)
	GetHead(ctx context.Context, path string) (string, error)

	CreateBranch(ctx context.Context, branch, fromRef string, log LogFunc) error
	DeleteLocalBranch(ctx context.Context, branch string, log LogFunc) error
	DeleteRemoteBranch(ctx context.Context, branch string, log LogFunc) error
	BranchExists(ctx context.Context, branch string) bool
	Checkout(ctx context.Context, path, ref string, log LogFunc) error

	HasUncommittedChanges(ctx context.Context, path string) (bool, error)
	StageAll(ctx context.Context, path string, log LogFunc) error
	HasStagedChanges(ctx context.Context, path string) (bool, error)
	Commit(ctx context.Context, repo, message string, log LogFunc) (string, error)
	Push(ctx context.Context, repo, branch string, log LogFunc) error

	StashPush(ctx context.Context, repo, message string, log LogFunc) (bool, error)
	StashPop(ctx context.Context, repo string, log LogFunc) error

	ResolveRef(ctx context.Context, repo, ref string) (string, error)
	GetMergeBase(ctx context.Context, repo, a, b string) (string, error)
	GetCommitLog(ctx context.Context, repo, from, to string) (string, error)
	GetCommitChanges(ctx context.Context, repo, sha string) ([]FileChange, error)
	GetDiffStats(ctx context.Context, repo, from, to string) (DiffStats, error)

	MergeWithoutCheckout(ctx context.Context, repo, source, target string, log LogFunc) (MergeResult, error)
	CommitTree(ctx context.Context, repo, treeSHA string, parents []string, message string, log LogFunc) (string, error)
	ResetHard(ctx context.Context, repo, commitSHA string, log LogFunc) error
	Merge(ctx context.Context, repo string, opts CheckoutMergeOptions) CheckoutMergeResult
	AbortMerge(ctx context.Context, repo string, log LogFunc) error
	ConflictingFiles(ctx context.Context, repo string) ([]string, error)

	DefaultBranch(ctx context.Context, repo string) (string, error)
}

var _ Repository = (*CLIRepository)(nil)
