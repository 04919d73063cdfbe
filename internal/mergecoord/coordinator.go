package mergecoord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/cerr"
	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/model"
)

// conflictPollFallback is the longest waitForResolution waits, after the
// agent has returned, for a conflict-watcher signal (or, with no watcher,
// between polls) before rescanning for conflicting files. The agent call
// itself carries the Delegator's own 5-minute deadline.
const conflictPollFallback = 3 * time.Second

// Request describes one leaf-merge request (spec.md §4.G.5).
type Request struct {
	RepoPath     string
	TargetBranch string
	SourceCommit string
	Message      string
}

// Outcome is the successful result of a leaf merge.
type Outcome struct {
	CommitSHA string
	FastPath  bool
}

// Coordinator is Component D, the Merge Coordinator (spec.md §4.D / §4.G.5):
// it folds one leaf's completed commit into a plan's target branch, trying
// the in-object-store fast path first and falling back to a working-tree
// squash merge with agent-assisted conflict resolution, always restoring
// whatever branch/working-tree state the merge found on entry.
type Coordinator struct {
	repo       gitres.Repository
	locks      *LockTable
	delegator  agent.Delegator
	logger     *logging.Logger
	preference model.MergePreference
}

// NewCoordinator returns a Coordinator. delegator may be nil if the
// configuration never expects slow-path conflicts to need agent help; a
// nil delegator simply fails any merge that reaches the agent step.
func NewCoordinator(repo gitres.Repository, delegator agent.Delegator, logger *logging.Logger, preference model.MergePreference) *Coordinator {
	return &Coordinator{
		repo:       repo,
		locks:      NewLockTable(),
		delegator:  delegator,
		logger:     logger,
		preference: preference,
	}
}

// MergeLeaf folds req.SourceCommit into req.TargetBranch, serialized per
// (RepoPath, TargetBranch) by the Coordinator's internal lock table.
func (c *Coordinator) MergeLeaf(ctx context.Context, req Request) (*Outcome, error) {
	release := c.locks.Acquire(req.RepoPath, req.TargetBranch)
	defer release()

	originalBranch, err := c.repo.GetCurrentBranch(ctx, req.RepoPath)
	if err != nil {
		return nil, cerr.NewMergeError("failed to capture current branch", err).WithTargetBranch(req.TargetBranch)
	}
	dirty, err := c.repo.HasUncommittedChanges(ctx, req.RepoPath)
	if err != nil {
		return nil, cerr.NewMergeError("failed to check working tree state", err).WithTargetBranch(req.TargetBranch)
	}
	onTarget := originalBranch == req.TargetBranch

	if outcome, err, handled := c.tryFastPath(ctx, req, originalBranch, dirty, onTarget); handled {
		return outcome, err
	}

	return c.slowPathMerge(ctx, req, originalBranch, dirty)
}

// tryFastPath implements spec.md §4.G.5 step 2. handled is false when the
// fast path wasn't conclusive (merge-tree itself failed, or reported
// conflicts) and the caller should fall through to the slow path; it is
// true for both a clean fast-path success and a fast-path landing failure
// (which is a terminal error, not a slow-path retry).
func (c *Coordinator) tryFastPath(ctx context.Context, req Request, originalBranch string, dirty, onTarget bool) (*Outcome, error, bool) {
	result, err := c.repo.MergeWithoutCheckout(ctx, req.RepoPath, req.SourceCommit, req.TargetBranch, nil)
	if err != nil {
		return nil, nil, false
	}

	switch result.Outcome {
	case gitres.MergeConflictFree:
		targetHead, err := c.repo.ResolveRef(ctx, req.RepoPath, req.TargetBranch)
		if err != nil {
			return nil, cerr.NewMergeError("source already merged but target head unresolvable", err).
				WithTargetBranch(req.TargetBranch).WithUserStateRestored(true), true
		}
		return &Outcome{CommitSHA: targetHead, FastPath: true}, nil, true

	case gitres.MergeConflict:
		return nil, nil, false

	case gitres.MergeSuccess:
		targetHead, err := c.repo.ResolveRef(ctx, req.RepoPath, req.TargetBranch)
		if err != nil {
			return nil, cerr.NewMergeError("failed to resolve target head", err).
				WithTargetBranch(req.TargetBranch).WithUserStateRestored(true), true
		}
		newCommit, err := c.repo.CommitTree(ctx, req.RepoPath, result.TreeSHA, []string{targetHead}, req.Message, nil)
		if err != nil {
			// commit-tree failure touches no working-tree state at all.
			return nil, nil, false
		}

		restored, landErr := c.landFastPath(ctx, req.RepoPath, req.TargetBranch, originalBranch, dirty, onTarget, newCommit)
		if landErr != nil {
			return nil, cerr.NewMergeError("fast-path landing failed", landErr).
				WithTargetBranch(req.TargetBranch).WithUserStateRestored(restored), true
		}
		return &Outcome{CommitSHA: newCommit, FastPath: true}, nil, true

	default:
		return nil, nil, false
	}
}

// landFastPath carries out spec.md §4.G.5 step 2's three sub-cases for
// moving the target branch to newCommit. It returns whether the caller's
// original state was fully restored by the time it returns (always true on
// the nil-error path; best-effort on failure).
func (c *Coordinator) landFastPath(ctx context.Context, repoPath, targetBranch, originalBranch string, dirty, onTarget bool, newCommit string) (bool, error) {
	switch {
	case onTarget && dirty:
		stashed, err := c.repo.StashPush(ctx, repoPath, "mergecoord: fast-path landing", nil)
		if err != nil {
			return true, err
		}
		if err := c.repo.ResetHard(ctx, repoPath, newCommit, nil); err != nil {
			return c.restoreStashOnly(ctx, repoPath, stashed), err
		}
		if stashed {
			if err := c.repo.StashPop(ctx, repoPath, nil); err != nil {
				return false, err
			}
		}
		return true, nil

	case onTarget && !dirty:
		if err := c.repo.ResetHard(ctx, repoPath, newCommit, nil); err != nil {
			return true, err
		}
		return true, nil

	default: // not onTarget
		stashed, err := c.repo.StashPush(ctx, repoPath, "mergecoord: fast-path landing", nil)
		if err != nil {
			return true, err
		}
		if err := c.repo.Checkout(ctx, repoPath, targetBranch, nil); err != nil {
			return c.restoreStashOnly(ctx, repoPath, stashed), err
		}
		if err := c.repo.ResetHard(ctx, repoPath, newCommit, nil); err != nil {
			return c.restoreOriginalBranch(ctx, repoPath, originalBranch, stashed), err
		}
		if err := c.repo.Checkout(ctx, repoPath, originalBranch, nil); err != nil {
			return false, err
		}
		if stashed {
			if err := c.repo.StashPop(ctx, repoPath, nil); err != nil {
				return false, err
			}
		}
		return true, nil
	}
}

// slowPathMerge implements spec.md §4.G.5 step 3.
func (c *Coordinator) slowPathMerge(ctx context.Context, req Request, originalBranch string, dirty bool) (*Outcome, error) {
	stashed, err := c.repo.StashPush(ctx, req.RepoPath, "mergecoord: slow-path merge", nil)
	if err != nil {
		return nil, cerr.NewMergeError("failed to stash before slow-path merge", err).
			WithTargetBranch(req.TargetBranch).WithUserStateRestored(true)
	}
	if err := c.repo.Checkout(ctx, req.RepoPath, req.TargetBranch, nil); err != nil {
		return nil, cerr.NewMergeError("failed to checkout target branch", err).
			WithTargetBranch(req.TargetBranch).WithUserStateRestored(c.restoreStashOnly(ctx, req.RepoPath, stashed))
	}

	mergeResult := c.repo.Merge(ctx, req.RepoPath, gitres.CheckoutMergeOptions{
		Source:  req.SourceCommit,
		Target:  req.TargetBranch,
		Message: req.Message,
		Squash:  true,
	})

	commitSHA, conflictFiles, mergeErr := c.resolveSlowPathMerge(ctx, req, mergeResult)
	if mergeErr != nil {
		_ = c.repo.AbortMerge(ctx, req.RepoPath, nil)
		restored := c.restoreOriginalBranch(ctx, req.RepoPath, originalBranch, stashed)
		return nil, cerr.NewMergeError("slow-path merge failed", mergeErr).
			WithTargetBranch(req.TargetBranch).
			WithConflictFiles(conflictFiles).
			WithUserStateRestored(restored)
	}

	if err := c.repo.Checkout(ctx, req.RepoPath, originalBranch, nil); err != nil {
		return nil, cerr.NewMergeError("failed to restore original branch after merge", err).
			WithTargetBranch(req.TargetBranch).WithUserStateRestored(false)
	}
	if stashed {
		if err := c.repo.StashPop(ctx, req.RepoPath, nil); err != nil {
			return nil, cerr.NewMergeError("failed to restore stash after merge", err).
				WithTargetBranch(req.TargetBranch).WithUserStateRestored(false)
		}
	}

	return &Outcome{CommitSHA: commitSHA, FastPath: false}, nil
}

// resolveSlowPathMerge completes the squash merge mergeResult started: on a
// clean squash it just returns the commit it already produced; on conflict
// it dispatches the Agent Delegator with the configured preference, waits
// on the conflict watcher instead of polling, verifies no conflict markers
// survive, and finalizes the commit itself.
func (c *Coordinator) resolveSlowPathMerge(ctx context.Context, req Request, mergeResult gitres.CheckoutMergeResult) (string, []string, error) {
	if mergeResult.Err != nil {
		return "", nil, mergeResult.Err
	}
	if !mergeResult.HasConflicts {
		head, err := c.repo.GetHead(ctx, req.RepoPath)
		return head, nil, err
	}

	if c.delegator == nil {
		return "", mergeResult.ConflictFiles, cerr.New("merge conflict and no agent delegator configured")
	}

	watcher, watchErr := newConflictWatcher(req.RepoPath, c.logger)
	if watchErr != nil && c.logger != nil {
		c.logger.Debug("conflict watcher unavailable, will poll", "error", watchErr.Error())
	}
	if watcher != nil {
		defer watcher.Close()
	}

	instruction := buildConflictInstruction(req.SourceCommit, req.TargetBranch, c.preference, mergeResult.ConflictFiles)
	result := c.delegator.Delegate(ctx, agent.Request{
		Task:         "resolve merge conflict",
		Instructions: instruction,
		WorktreePath: req.RepoPath,
	})
	if !result.Success {
		return "", mergeResult.ConflictFiles, fmt.Errorf("agent conflict resolution failed (exit %d): %w", result.ExitCode, result.Err)
	}

	remaining := c.waitForResolution(ctx, req.RepoPath, watcher)
	if len(remaining) > 0 {
		return "", remaining, cerr.New("conflict markers remain after agent resolution")
	}

	if err := c.repo.StageAll(ctx, req.RepoPath, nil); err != nil {
		return "", nil, err
	}
	return c.repo.Commit(ctx, req.RepoPath, req.Message, nil)
}

// waitForResolution rescans for remaining conflict files once the watcher
// signals a write, falling back to a bounded poll if no watcher was
// available. It returns as soon as a scan finds zero conflicting files.
func (c *Coordinator) waitForResolution(ctx context.Context, repoPath string, watcher *conflictWatcher) []string {
	for {
		files, err := c.repo.ConflictingFiles(ctx, repoPath)
		if err == nil && len(files) == 0 {
			return nil
		}

		if watcher != nil {
			select {
			case <-watcher.Changed():
			case <-ctx.Done():
				return files
			case <-time.After(conflictPollFallback):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return files
		case <-time.After(conflictPollFallback):
		}
	}
}

func buildConflictInstruction(sourceCommit, targetBranch string, preference model.MergePreference, conflictFiles []string) string {
	pref := preference
	if pref == "" {
		pref = model.PreferTheirs
	}
	return fmt.Sprintf(
		"Resolve the merge conflict between commit %s and branch %q, preferring %q where the intent is ambiguous. "+
			"Conflicting files: %s. Stage every resolved file; do not leave any conflict markers behind.",
		sourceCommit, targetBranch, pref, strings.Join(conflictFiles, ", "),
	)
}

func (c *Coordinator) restoreStashOnly(ctx context.Context, repoPath string, stashed bool) bool {
	if !stashed {
		return true
	}
	return c.repo.StashPop(ctx, repoPath, nil) == nil
}

func (c *Coordinator) restoreOriginalBranch(ctx context.Context, repoPath, originalBranch string, stashed bool) bool {
	if err := c.repo.Checkout(ctx, repoPath, originalBranch, nil); err != nil {
		return false
	}
	return c.restoreStashOnly(ctx, repoPath, stashed)
}
