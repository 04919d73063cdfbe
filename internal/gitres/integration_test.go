package gitres

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironham/conductor/internal/testgit"
)

// These tests exercise CLIRepository against a real git binary, rather
// than the mockExecutor used elsewhere in this package, so that the
// actual argument strings passed to git are proven out end to end.

func TestCLIRepository_WorktreeLifecycle(t *testing.T) {
	testgit.SkipIfNoGit(t)
	repo := testgit.NewFixtureRepo(t)
	ctx := context.Background()
	g := NewCLIRepository()

	wtPath := filepath.Join(repo, "wt1")
	if err := g.CreateWorktree(ctx, wtPath, "feature/one", "main", nil); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if !g.IsValidWorktree(ctx, wtPath) {
		t.Fatal("expected worktree to be valid")
	}

	branch, err := g.GetCurrentBranch(ctx, wtPath)
	if err != nil {
		t.Fatalf("GetCurrentBranch: %v", err)
	}
	if branch != "feature/one" {
		t.Fatalf("expected branch feature/one, got %s", branch)
	}

	if err := os.WriteFile(filepath.Join(wtPath, "new.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("write new.txt: %v", err)
	}
	if err := g.StageAll(ctx, wtPath, nil); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	staged, err := g.HasStagedChanges(ctx, wtPath)
	if err != nil {
		t.Fatalf("HasStagedChanges: %v", err)
	}
	if !staged {
		t.Fatal("expected staged changes")
	}

	sha, err := g.Commit(ctx, wtPath, "add new.txt", nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if sha == "" {
		t.Fatal("expected a commit SHA")
	}

	if ok := g.RemoveWorktreeSafe(ctx, wtPath, false, nil); !ok {
		t.Fatal("expected RemoveWorktreeSafe to succeed")
	}
	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Fatal("expected worktree directory to be gone")
	}
}

func TestCLIRepository_MergeWithoutCheckoutFastPath(t *testing.T) {
	testgit.SkipIfNoGit(t)
	repo := testgit.NewFixtureRepo(t)
	ctx := context.Background()
	g := NewCLIRepository()

	testgit.CreateBranch(t, repo, "feature/fast")
	wtPath := filepath.Join(repo, "wt-fast")
	if err := g.CreateWorktree(ctx, wtPath, "work/fast", "feature/fast", nil); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wtPath, "feature.txt"), []byte("feature work\n"), 0o644); err != nil {
		t.Fatalf("write feature.txt: %v", err)
	}
	if err := g.StageAll(ctx, wtPath, nil); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	if _, err := g.Commit(ctx, wtPath, "feature work", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	result, err := g.MergeWithoutCheckout(ctx, repo, "work/fast", "main", nil)
	if err != nil {
		t.Fatalf("MergeWithoutCheckout: %v", err)
	}
	if result.Outcome != MergeSuccess {
		t.Fatalf("expected MergeSuccess, got %v", result.Outcome)
	}
	if result.TreeSHA == "" {
		t.Fatal("expected a tree SHA")
	}

	mainSHA, err := g.ResolveRef(ctx, repo, "main")
	if err != nil {
		t.Fatalf("ResolveRef main: %v", err)
	}
	workSHA, err := g.ResolveRef(ctx, repo, "work/fast")
	if err != nil {
		t.Fatalf("ResolveRef work/fast: %v", err)
	}

	commitSHA, err := g.CommitTree(ctx, repo, result.TreeSHA, []string{mainSHA, workSHA}, "merge work/fast into main", nil)
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	if commitSHA == "" {
		t.Fatal("expected a merge commit SHA")
	}

	if err := g.ResetHard(ctx, repo, commitSHA, nil); err != nil {
		t.Fatalf("ResetHard: %v", err)
	}
	head, err := g.ResolveRef(ctx, repo, "main")
	if err != nil {
		t.Fatalf("ResolveRef main after reset: %v", err)
	}
	if head != commitSHA {
		t.Fatalf("expected main to point at %s, got %s", commitSHA, head)
	}
	if _, err := os.Stat(filepath.Join(repo, "feature.txt")); err != nil {
		t.Fatalf("expected feature.txt materialized on main: %v", err)
	}
}

func TestCLIRepository_MergeConflict(t *testing.T) {
	testgit.SkipIfNoGit(t)
	repo := testgit.NewFixtureRepo(t)
	ctx := context.Background()
	g := NewCLIRepository()

	testgit.CommitFile(t, repo, "shared.txt", "base\n", "seed shared.txt")
	testgit.CreateBranch(t, repo, "feature/conflict")

	wtPath := filepath.Join(repo, "wt-conflict")
	if err := g.CreateWorktree(ctx, wtPath, "work/conflict", "feature/conflict", nil); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wtPath, "shared.txt"), []byte("from branch\n"), 0o644); err != nil {
		t.Fatalf("write shared.txt on branch: %v", err)
	}
	if err := g.StageAll(ctx, wtPath, nil); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	if _, err := g.Commit(ctx, wtPath, "branch edits shared.txt", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	testgit.CommitFile(t, repo, "shared.txt", "from main\n", "main edits shared.txt")

	result, err := g.MergeWithoutCheckout(ctx, repo, "work/conflict", "main", nil)
	if err != nil {
		t.Fatalf("MergeWithoutCheckout: %v", err)
	}
	if result.Outcome != MergeConflict {
		t.Fatalf("expected MergeConflict, got %v", result.Outcome)
	}
	if len(result.ConflictFiles) == 0 {
		t.Fatal("expected at least one conflicting file")
	}
}

func TestCLIRepository_DefaultBranch(t *testing.T) {
	testgit.SkipIfNoGit(t)
	repo := testgit.NewFixtureRepo(t)
	ctx := context.Background()
	g := NewCLIRepository()

	branch, err := g.DefaultBranch(ctx, repo)
	if err != nil {
		t.Fatalf("DefaultBranch: %v", err)
	}
	if branch != "main" {
		t.Fatalf("expected main, got %s", branch)
	}
}
