// Package testgit provides a real, on-disk git fixture for integration
// tests of the Git Resource Layer, grounded on the teacher's
// internal/testutil helper.
package testgit

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// NewFixtureRepo initializes a real git repository in a temp directory,
// with an initial commit on "main" (git worktree requires at least one
// commit to exist). Returns the repository path.
func NewFixtureRepo(t *testing.T) string {
	t.Helper()
	SkipIfNoGit(t)

	dir := t.TempDir()

	run(t, dir, "init")
	run(t, dir, "config", "user.email", "conductor-test@example.com")
	run(t, dir, "config", "user.name", "Conductor Test")

	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# fixture\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "initial commit")
	run(t, dir, "branch", "-M", "main")

	return dir
}

// CommitFile creates or updates a file at path and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	full := filepath.Join(repoDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	run(t, repoDir, "add", path)
	run(t, repoDir, "commit", "-m", message)
}

// CreateBranch creates branch in repoDir without checking it out.
func CreateBranch(t *testing.T, repoDir, branch string) {
	t.Helper()
	run(t, repoDir, "branch", branch)
}

// SkipIfNoGit skips the test if the git binary is not on PATH.
func SkipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Conductor Test",
		"GIT_AUTHOR_EMAIL=conductor-test@example.com",
		"GIT_COMMITTER_NAME=Conductor Test",
		"GIT_COMMITTER_EMAIL=conductor-test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}
