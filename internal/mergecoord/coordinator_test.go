package mergecoord

import (
	"context"
	"testing"
	"time"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/model"
)

// fakeRepo is a minimal, fully-controllable gitres.Repository double: every
// method needed by the Coordinator is wired to a configurable field or
// call-recording slice, and every other interface method is a harmless
// no-op so fakeRepo can satisfy gitres.Repository without a mocking
// framework (matching the teacher's hand-written fakes throughout its test
// suite rather than pulling in a mock-generation tool).
type fakeRepo struct {
	currentBranch  string
	dirty          bool
	mergeResult    gitres.MergeResult
	mergeErr       error
	targetHead     string
	commitTreeSHA  string
	commitTreeErr  error
	resetHardErr   error
	checkoutErr    error
	checkoutCalls  []string
	resetHardCalls []string
	stashPushCalls int
	stashPopCalls  int

	workingMerge     gitres.CheckoutMergeResult
	conflictingFiles []string
	commitSHA        string
}

func (f *fakeRepo) CreateWorktree(ctx context.Context, worktreePath, branchName, fromRef string, log gitres.LogFunc) error {
	return nil
}
func (f *fakeRepo) RemoveWorktreeSafe(ctx context.Context, worktreePath string, force bool, log gitres.LogFunc) bool {
	return true
}
func (f *fakeRepo) IsValidWorktree(ctx context.Context, path string) bool { return true }
func (f *fakeRepo) GetCurrentBranch(ctx context.Context, path string) (string, error) {
	return f.currentBranch, nil
}
func (f *fakeRepo) GetHead(ctx context.Context, path string) (string, error) {
	return f.commitSHA, nil
}
func (f *fakeRepo) CreateBranch(ctx context.Context, branch, fromRef string, log gitres.LogFunc) error {
	return nil
}
func (f *fakeRepo) DeleteLocalBranch(ctx context.Context, branch string, log gitres.LogFunc) error {
	return nil
}
func (f *fakeRepo) DeleteRemoteBranch(ctx context.Context, branch string, log gitres.LogFunc) error {
	return nil
}
func (f *fakeRepo) BranchExists(ctx context.Context, branch string) bool { return true }
func (f *fakeRepo) Checkout(ctx context.Context, path, ref string, log gitres.LogFunc) error {
	f.checkoutCalls = append(f.checkoutCalls, ref)
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	f.currentBranch = ref
	return nil
}
func (f *fakeRepo) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	return f.dirty, nil
}
func (f *fakeRepo) StageAll(ctx context.Context, path string, log gitres.LogFunc) error { return nil }
func (f *fakeRepo) HasStagedChanges(ctx context.Context, path string) (bool, error) {
	return false, nil
}
func (f *fakeRepo) Commit(ctx context.Context, repo, message string, log gitres.LogFunc) (string, error) {
	return f.commitSHA, nil
}
func (f *fakeRepo) Push(ctx context.Context, repo, branch string, log gitres.LogFunc) error {
	return nil
}
func (f *fakeRepo) StashPush(ctx context.Context, repo, message string, log gitres.LogFunc) (bool, error) {
	f.stashPushCalls++
	if !f.dirty {
		return false, nil
	}
	f.dirty = false
	return true, nil
}
func (f *fakeRepo) StashPop(ctx context.Context, repo string, log gitres.LogFunc) error {
	f.stashPopCalls++
	f.dirty = true
	return nil
}
func (f *fakeRepo) ResolveRef(ctx context.Context, repo, ref string) (string, error) {
	return f.targetHead, nil
}
func (f *fakeRepo) GetMergeBase(ctx context.Context, repo, a, b string) (string, error) {
	return "", nil
}
func (f *fakeRepo) GetCommitLog(ctx context.Context, repo, from, to string) (string, error) {
	return "", nil
}
func (f *fakeRepo) GetCommitChanges(ctx context.Context, repo, sha string) ([]gitres.FileChange, error) {
	return nil, nil
}
func (f *fakeRepo) GetDiffStats(ctx context.Context, repo, from, to string) (gitres.DiffStats, error) {
	return gitres.DiffStats{}, nil
}
func (f *fakeRepo) MergeWithoutCheckout(ctx context.Context, repo, source, target string, log gitres.LogFunc) (gitres.MergeResult, error) {
	return f.mergeResult, f.mergeErr
}
func (f *fakeRepo) CommitTree(ctx context.Context, repo, treeSHA string, parents []string, message string, log gitres.LogFunc) (string, error) {
	return f.commitTreeSHA, f.commitTreeErr
}
func (f *fakeRepo) ResetHard(ctx context.Context, repo, commitSHA string, log gitres.LogFunc) error {
	f.resetHardCalls = append(f.resetHardCalls, commitSHA)
	return f.resetHardErr
}
func (f *fakeRepo) Merge(ctx context.Context, repo string, opts gitres.CheckoutMergeOptions) gitres.CheckoutMergeResult {
	return f.workingMerge
}
func (f *fakeRepo) AbortMerge(ctx context.Context, repo string, log gitres.LogFunc) error { return nil }
func (f *fakeRepo) ConflictingFiles(ctx context.Context, repo string) ([]string, error) {
	return f.conflictingFiles, nil
}
func (f *fakeRepo) DefaultBranch(ctx context.Context, repo string) (string, error) {
	return "main", nil
}

var _ gitres.Repository = (*fakeRepo)(nil)

type fakeDelegator struct {
	result agent.Result
}

func (d *fakeDelegator) Delegate(ctx context.Context, req agent.Request) agent.Result { return d.result }
func (d *fakeDelegator) Available() bool                                              { return true }

func TestCoordinator_FastPath_OnTargetClean(t *testing.T) {
	repo := &fakeRepo{
		currentBranch: "main",
		dirty:         false,
		mergeResult:   gitres.MergeResult{Outcome: gitres.MergeSuccess, TreeSHA: "tree123"},
		targetHead:    "oldhead",
		commitTreeSHA: "newcommit",
	}
	c := NewCoordinator(repo, nil, nil, model.PreferTheirs)

	out, err := c.MergeLeaf(context.Background(), Request{RepoPath: "/repo", TargetBranch: "main", SourceCommit: "src1", Message: "merge"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.FastPath || out.CommitSHA != "newcommit" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(repo.resetHardCalls) != 1 || repo.resetHardCalls[0] != "newcommit" {
		t.Errorf("expected a single reset-hard to newcommit, got %v", repo.resetHardCalls)
	}
	if repo.stashPushCalls != 0 {
		t.Errorf("clean on-target fast path should never stash")
	}
}

func TestCoordinator_FastPath_NotOnTarget_RestoresOriginalBranch(t *testing.T) {
	repo := &fakeRepo{
		currentBranch: "feature",
		dirty:         true,
		mergeResult:   gitres.MergeResult{Outcome: gitres.MergeSuccess, TreeSHA: "tree123"},
		targetHead:    "oldhead",
		commitTreeSHA: "newcommit",
	}
	c := NewCoordinator(repo, nil, nil, model.PreferTheirs)

	out, err := c.MergeLeaf(context.Background(), Request{RepoPath: "/repo", TargetBranch: "main", SourceCommit: "src1", Message: "merge"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CommitSHA != "newcommit" {
		t.Errorf("unexpected commit: %s", out.CommitSHA)
	}
	if repo.currentBranch != "feature" {
		t.Errorf("expected original branch restored, got %s", repo.currentBranch)
	}
	if repo.stashPushCalls != 1 || repo.stashPopCalls != 1 {
		t.Errorf("expected one stash push and pop, got push=%d pop=%d", repo.stashPushCalls, repo.stashPopCalls)
	}
	want := []string{"main", "feature"}
	if len(repo.checkoutCalls) != len(want) || repo.checkoutCalls[0] != want[0] || repo.checkoutCalls[1] != want[1] {
		t.Errorf("unexpected checkout sequence: %v", repo.checkoutCalls)
	}
}

func TestCoordinator_SlowPath_AgentResolvesConflict(t *testing.T) {
	repo := &fakeRepo{
		currentBranch: "feature",
		dirty:         false,
		mergeResult:   gitres.MergeResult{Outcome: gitres.MergeConflict, ConflictFiles: []string{"a.go"}},
		workingMerge:  gitres.CheckoutMergeResult{HasConflicts: true, ConflictFiles: []string{"a.go"}},
		commitSHA:     "resolved-commit",
	}
	delegator := &fakeDelegator{result: agent.Result{Success: true}}
	c := NewCoordinator(repo, delegator, nil, model.PreferTheirs)

	out, err := c.MergeLeaf(context.Background(), Request{RepoPath: t.TempDir(), TargetBranch: "main", SourceCommit: "src1", Message: "merge"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FastPath {
		t.Errorf("expected slow path")
	}
	if out.CommitSHA != "resolved-commit" {
		t.Errorf("unexpected commit: %s", out.CommitSHA)
	}
	if repo.currentBranch != "feature" {
		t.Errorf("expected original branch restored, got %s", repo.currentBranch)
	}
}

func TestCoordinator_SlowPath_AgentFailureRestoresState(t *testing.T) {
	repo := &fakeRepo{
		currentBranch: "feature",
		dirty:         true,
		mergeResult:   gitres.MergeResult{Outcome: gitres.MergeConflict},
		workingMerge:  gitres.CheckoutMergeResult{HasConflicts: true, ConflictFiles: []string{"a.go"}},
	}
	delegator := &fakeDelegator{result: agent.Result{Success: false, ExitCode: 1}}
	c := NewCoordinator(repo, delegator, nil, model.PreferTheirs)

	_, err := c.MergeLeaf(context.Background(), Request{RepoPath: t.TempDir(), TargetBranch: "main", SourceCommit: "src1", Message: "merge"})
	if err == nil {
		t.Fatal("expected error when agent fails to resolve conflicts")
	}
	if repo.currentBranch != "feature" {
		t.Errorf("expected original branch restored even on failure, got %s", repo.currentBranch)
	}
	if repo.stashPopCalls != 1 {
		t.Errorf("expected stash restored on failure, got %d pops", repo.stashPopCalls)
	}
}

func TestLockTable_SerializesSameBranch(t *testing.T) {
	lt := NewLockTable()
	release := lt.Acquire("/repo", "main")

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		release2 := lt.Acquire("/repo", "main")
		release2()
		close(done)
	}()
	<-started

	select {
	case <-done:
		t.Fatal("second Acquire should have blocked until release")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	<-done
}
