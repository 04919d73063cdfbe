package gitres

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/ironham/conductor/internal/cerr"
)

// CLIRepository implements Repository by shelling out to the git CLI via a
// pluggable CommandExecutor, the same separation of concerns as the
// teacher's worktree.CLIGitOperations / CLIWorktreeManager / CLIBranchManager
// / CLIDiffProvider, collapsed into one type because the scheduler always
// needs the full surface rather than a subset.
type CLIRepository struct {
	executor CommandExecutor
}

// NewCLIRepository returns a Repository backed by the real git binary.
func NewCLIRepository() *CLIRepository {
	return &CLIRepository{executor: NewCLIExecutor()}
}

// NewCLIRepositoryWithExecutor returns a Repository backed by a custom
// CommandExecutor, for testing.
func NewCLIRepositoryWithExecutor(executor CommandExecutor) *CLIRepository {
	return &CLIRepository{executor: executor}
}

func trace(log LogFunc, format string, args ...any) {
	if log != nil {
		log(format, args...)
	}
}

func (r *CLIRepository) run(ctx context.Context, dir string, log LogFunc, args ...string) ([]byte, error) {
	trace(log, "git %s (in %s)", strings.Join(args, " "), dir)
	out, err := r.executor.Run(ctx, dir, "git", args...)
	if err != nil {
		trace(log, "git %s failed: %v: %s", strings.Join(args, " "), err, string(out))
	}
	return out, err
}

// -----------------------------------------------------------------------------
// Worktrees
// -----------------------------------------------------------------------------

// CreateWorktree creates worktreePath with a new branch attached at fromRef.
// Fails if worktreePath already exists with contents, or fromRef is unknown.
func (r *CLIRepository) CreateWorktree(ctx context.Context, worktreePath, branchName, fromRef string, log LogFunc) error {
	if entries, err := os.ReadDir(worktreePath); err == nil && len(entries) > 0 {
		return cerr.NewGitError("worktree path already exists and is non-empty", cerr.ErrWorktreeExists).
			WithWorktree(worktreePath)
	}

	args := []string{"worktree", "add", "-b", branchName, worktreePath}
	if fromRef != "" {
		args = append(args, fromRef)
	}

	repoDir := repoRootHint(worktreePath)
	out, err := r.run(ctx, repoDir, log, args...)
	if err != nil {
		return cerr.NewGitError("failed to create worktree", err).
			WithWorktree(worktreePath).
			WithBranch(branchName).
			WithGitOutput(string(out))
	}
	return nil
}

// RemoveWorktreeSafe removes worktreePath, falling back to a manual
// directory removal plus prune. It never returns an error: the contract is
// "true on success or already-gone", matching spec.md §4.A.
func (r *CLIRepository) RemoveWorktreeSafe(ctx context.Context, worktreePath string, force bool, log LogFunc) bool {
	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		return true
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)

	repoDir := repoRootHint(worktreePath)
	if _, err := r.run(ctx, repoDir, log, args...); err == nil {
		return true
	}

	_ = os.RemoveAll(worktreePath)
	_, _ = r.run(ctx, repoDir, log, "worktree", "prune")
	_, err := os.Stat(worktreePath)
	return os.IsNotExist(err)
}

// IsValidWorktree reports whether path looks like a checked-out git
// worktree (`git rev-parse --git-dir` succeeds there).
func (r *CLIRepository) IsValidWorktree(ctx context.Context, path string) bool {
	return r.executor.RunQuiet(ctx, path, "git", "rev-parse", "--git-dir") == nil
}

// GetCurrentBranch returns the current branch name, or "HEAD" when detached.
func (r *CLIRepository) GetCurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := r.run(ctx, path, nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", cerr.NewGitError("failed to get current branch", err).WithRepo(path).WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// GetHead returns the SHA HEAD currently points to.
func (r *CLIRepository) GetHead(ctx context.Context, path string) (string, error) {
	return r.ResolveRef(ctx, path, "HEAD")
}

// -----------------------------------------------------------------------------
// Branches
// -----------------------------------------------------------------------------

func (r *CLIRepository) CreateBranch(ctx context.Context, branch, fromRef string, log LogFunc) error {
	repoDir := repoRootHint(fromRef)
	args := []string{"branch", branch}
	if fromRef != "" {
		args = append(args, fromRef)
	}
	out, err := r.run(ctx, repoDir, log, args...)
	if err != nil {
		if strings.Contains(string(out), "already exists") {
			return cerr.NewGitError("branch already exists", cerr.ErrBranchExists).WithBranch(branch).WithGitOutput(string(out))
		}
		return cerr.NewGitError("failed to create branch", err).WithBranch(branch).WithGitOutput(string(out))
	}
	return nil
}

func (r *CLIRepository) DeleteLocalBranch(ctx context.Context, branch string, log LogFunc) error {
	out, err := r.run(ctx, "", log, "branch", "-D", branch)
	if err != nil {
		if strings.Contains(string(out), "not found") {
			return cerr.NewGitError("branch not found", cerr.ErrBranchNotFound).WithBranch(branch).WithGitOutput(string(out))
		}
		return cerr.NewGitError("failed to delete local branch", err).WithBranch(branch).WithGitOutput(string(out))
	}
	return nil
}

func (r *CLIRepository) DeleteRemoteBranch(ctx context.Context, branch string, log LogFunc) error {
	out, err := r.run(ctx, "", log, "push", "origin", "--delete", branch)
	if err != nil {
		return cerr.NewGitError("failed to delete remote branch", err).WithBranch(branch).WithGitOutput(string(out))
	}
	return nil
}

func (r *CLIRepository) BranchExists(ctx context.Context, branch string) bool {
	return r.executor.RunQuiet(ctx, "", "git", "rev-parse", "--verify", "refs/heads/"+branch) == nil
}

func (r *CLIRepository) Checkout(ctx context.Context, path, ref string, log LogFunc) error {
	out, err := r.run(ctx, path, log, "checkout", ref)
	if err != nil {
		return cerr.NewGitError("failed to checkout", err).WithRepo(path).WithBranch(ref).WithGitOutput(string(out))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Staging / commit / push
// -----------------------------------------------------------------------------

func (r *CLIRepository) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	out, err := r.run(ctx, path, nil, "status", "--porcelain")
	if err != nil {
		return false, cerr.NewGitError("failed to check status", err).WithRepo(path).WithGitOutput(string(out))
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func (r *CLIRepository) StageAll(ctx context.Context, path string, log LogFunc) error {
	out, err := r.run(ctx, path, log, "add", "-A")
	if err != nil {
		return cerr.NewGitError("failed to stage changes", err).WithRepo(path).WithGitOutput(string(out))
	}
	return nil
}

func (r *CLIRepository) HasStagedChanges(ctx context.Context, path string) (bool, error) {
	err := r.executor.RunQuiet(ctx, path, "git", "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	return true, nil
}

// Commit stages nothing itself (callers call StageAll first); it commits
// and returns the resulting SHA, or "" with a nil error when there was
// nothing to commit.
func (r *CLIRepository) Commit(ctx context.Context, repo, message string, log LogFunc) (string, error) {
	out, err := r.run(ctx, repo, log, "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(out), "nothing to commit") {
			return "", nil
		}
		return "", cerr.NewGitError("failed to commit", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return r.GetHead(ctx, repo)
}

func (r *CLIRepository) Push(ctx context.Context, repo, branch string, log LogFunc) error {
	out, err := r.run(ctx, repo, log, "push", "-u", "origin", branch)
	if err != nil {
		return cerr.NewGitError("failed to push", err).WithRepo(repo).WithBranch(branch).WithGitOutput(string(out))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Stash
// -----------------------------------------------------------------------------

// StashPush stashes the working tree including untracked files, returning
// whether a stash was actually created (false when the tree was clean).
func (r *CLIRepository) StashPush(ctx context.Context, repo, message string, log LogFunc) (bool, error) {
	dirty, err := r.HasUncommittedChanges(ctx, repo)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	out, err := r.run(ctx, repo, log, "stash", "push", "-u", "-m", message)
	if err != nil {
		return false, cerr.NewGitError("failed to stash", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return true, nil
}

func (r *CLIRepository) StashPop(ctx context.Context, repo string, log LogFunc) error {
	out, err := r.run(ctx, repo, log, "stash", "pop")
	if err != nil {
		return cerr.NewGitError("failed to pop stash", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Refs / log / diff
// -----------------------------------------------------------------------------

func (r *CLIRepository) ResolveRef(ctx context.Context, repo, ref string) (string, error) {
	out, err := r.run(ctx, repo, nil, "rev-parse", ref)
	if err != nil {
		return "", cerr.NewGitError("failed to resolve ref", err).WithRepo(repo).WithBranch(ref).WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *CLIRepository) GetMergeBase(ctx context.Context, repo, a, b string) (string, error) {
	out, err := r.run(ctx, repo, nil, "merge-base", a, b)
	if err != nil {
		return "", cerr.NewGitError("failed to get merge base", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *CLIRepository) GetCommitLog(ctx context.Context, repo, from, to string) (string, error) {
	out, err := r.run(ctx, repo, nil, "log", from+".."+to, "--pretty=format:%s%n%b---")
	if err != nil {
		return "", cerr.NewGitError("failed to get commit log", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return string(out), nil
}

func (r *CLIRepository) GetCommitChanges(ctx context.Context, repo, sha string) ([]FileChange, error) {
	out, err := r.run(ctx, repo, nil, "show", "--name-status", "--pretty=format:", sha)
	if err != nil {
		return nil, cerr.NewGitError("failed to get commit changes", err).WithRepo(repo).WithGitOutput(string(out))
	}
	var changes []FileChange
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		changes = append(changes, FileChange{Status: fields[0], Path: fields[len(fields)-1]})
	}
	return changes, nil
}

func (r *CLIRepository) GetDiffStats(ctx context.Context, repo, from, to string) (DiffStats, error) {
	out, err := r.run(ctx, repo, nil, "diff", "--shortstat", from+"..."+to)
	if err != nil {
		return DiffStats{}, cerr.NewGitError("failed to get diff stats", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return parseShortstat(string(out)), nil
}

func parseShortstat(s string) DiffStats {
	var stats DiffStats
	s = strings.TrimSpace(s)
	if s == "" {
		return stats
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(part, "file"):
			stats.FilesChanged = n
		case strings.Contains(part, "insertion"):
			stats.Insertions = n
		case strings.Contains(part, "deletion"):
			stats.Deletions = n
		}
	}
	return stats
}

// -----------------------------------------------------------------------------
// In-object-store merge (spec.md §4.A mergeWithoutCheckout / commitTree)
// -----------------------------------------------------------------------------

// MergeWithoutCheckout performs a three-way merge entirely in the object
// database using `git merge-tree --write-tree`, touching neither the index
// nor the working tree. On success the caller is expected to materialize
// the result with CommitTree and then fast-forward a branch ref.
func (r *CLIRepository) MergeWithoutCheckout(ctx context.Context, repo, source, target string, log LogFunc) (MergeResult, error) {
	out, err := r.run(ctx, repo, log, "merge-tree", "--write-tree", "--name-only", target, source)
	output := string(out)
	if err == nil {
		treeSHA := strings.TrimSpace(strings.SplitN(output, "\n", 2)[0])
		if treeSHA == "" {
			return MergeResult{Outcome: MergeConflictFree}, nil
		}
		return MergeResult{Outcome: MergeSuccess, TreeSHA: treeSHA}, nil
	}

	if strings.Contains(output, "CONFLICT") || strings.Contains(output, "<<<<<<<") {
		lines := strings.Split(strings.TrimSpace(output), "\n")
		var files []string
		// With --name-only the tree id is followed by one conflicted path per
		// line, then a blank line and informational messages.
		for _, l := range lines[1:] {
			l = strings.TrimSpace(l)
			if l == "" {
				break
			}
			files = append(files, l)
		}
		return MergeResult{Outcome: MergeConflict, ConflictFiles: files}, nil
	}

	return MergeResult{}, cerr.NewGitError("merge-tree failed", err).WithRepo(repo).
		WithBranch(source + "->" + target).WithGitOutput(output)
}

// CommitTree materializes a tree produced by MergeWithoutCheckout into a
// real commit object, without touching the working tree or any branch ref.
func (r *CLIRepository) CommitTree(ctx context.Context, repo, treeSHA string, parents []string, message string, log LogFunc) (string, error) {
	args := []string{"commit-tree", treeSHA}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	args = append(args, "-m", message)
	out, err := r.run(ctx, repo, log, args...)
	if err != nil {
		return "", cerr.NewGitError("failed to commit-tree", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// ResetHard moves the currently checked-out branch in repo to commitSHA,
// discarding index and working-tree differences. This is how the fast
// merge path (MergeWithoutCheckout + CommitTree) lands its result onto
// whichever branch is checked out (spec.md §4.G.5).
func (r *CLIRepository) ResetHard(ctx context.Context, repo, commitSHA string, log LogFunc) error {
	out, err := r.run(ctx, repo, log, "reset", "--hard", commitSHA)
	if err != nil {
		return cerr.NewGitError("failed to reset-hard", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return nil
}

// Merge performs a working-tree merge (checkout required beforehand),
// optionally squashed. On conflict it returns HasConflicts with the
// conflicting files and leaves the merge in progress in the working tree;
// the caller resolves it or calls AbortMerge.
func (r *CLIRepository) Merge(ctx context.Context, repo string, opts CheckoutMergeOptions) CheckoutMergeResult {
	args := []string{"merge"}
	if opts.Squash {
		args = append(args, "--squash")
	} else {
		args = append(args, "--no-ff", "-m", opts.Message)
	}
	args = append(args, opts.Source)

	out, err := r.run(ctx, repo, opts.Log, args...)
	output := string(out)
	if err == nil {
		if opts.Squash {
			if commitErr := r.squashCommit(ctx, repo, opts.Message, opts.Log); commitErr != nil {
				return CheckoutMergeResult{Err: commitErr}
			}
		}
		return CheckoutMergeResult{Success: true}
	}

	conflictFiles, _ := r.ConflictingFiles(ctx, repo)
	if len(conflictFiles) > 0 || strings.Contains(output, "CONFLICT") {
		return CheckoutMergeResult{HasConflicts: true, ConflictFiles: conflictFiles}
	}

	return CheckoutMergeResult{Err: cerr.NewGitError("merge failed", err).WithRepo(repo).
		WithBranch(opts.Source + "->" + opts.Target).WithGitOutput(output)}
}

func (r *CLIRepository) squashCommit(ctx context.Context, repo, message string, log LogFunc) error {
	if err := r.StageAll(ctx, repo, log); err != nil {
		return err
	}
	_, err := r.Commit(ctx, repo, message, log)
	return err
}

// ConflictingFiles lists paths still unmerged in the index (diff-filter=U),
// used both to report CheckoutMergeResult.ConflictFiles and, by the merge
// coordinator's slow path, to verify an agent actually cleared every
// conflict marker before it commits the resolution.
func (r *CLIRepository) ConflictingFiles(ctx context.Context, repo string) ([]string, error) {
	out, err := r.executor.Run(ctx, repo, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	lines := strings.TrimSpace(string(out))
	if lines == "" {
		return nil, nil
	}
	return strings.Split(lines, "\n"), nil
}

func (r *CLIRepository) AbortMerge(ctx context.Context, repo string, log LogFunc) error {
	out, err := r.run(ctx, repo, log, "merge", "--abort")
	if err != nil {
		return cerr.NewGitError("failed to abort merge", err).WithRepo(repo).WithGitOutput(string(out))
	}
	return nil
}

// DefaultBranch returns the branch refs/remotes/origin/HEAD points at, or a
// main/master/trunk fallback when no remote HEAD is configured (spec.md
// §4.G.2).
func (r *CLIRepository) DefaultBranch(ctx context.Context, repo string) (string, error) {
	out, err := r.executor.Run(ctx, repo, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(out))
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:], nil
		}
	}

	for _, candidate := range []string{"main", "master", "trunk"} {
		if r.executor.RunQuiet(ctx, repo, "git", "rev-parse", "--verify", candidate) == nil {
			return candidate, nil
		}
	}

	return "", cerr.NewGitError("unable to determine default branch", cerr.ErrBranchNotFound).WithRepo(repo)
}

// repoRootHint best-efforts a working directory for commands that need one
// but only have a ref or a not-yet-created worktree path; it walks up to
// find an existing ancestor directory so `git worktree add` (run from a
// valid repo checkout) still resolves correctly.
func repoRootHint(path string) string {
	dir := path
	for dir != "" && dir != "." && dir != "/" {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := parentDir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "."
}

func parentDir(path string) string {
	idx := strings.LastIndex(strings.TrimRight(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
