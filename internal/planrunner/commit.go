package planrunner

import (
	"context"

	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/jobrunner"
)

// BuildCommitFunc returns the jobrunner.CommitFunc the commit phase
// (spec.md §4.C) uses to finalize a job's work: stage everything, and
// either commit it or, if nothing was staged, report the worktree's
// current HEAD so the job is still recorded as having "completed" at that
// commit without manufacturing an empty one. messageFor (which may itself
// delegate to an agent) is only invoked once staging has confirmed there is
// actually something to commit.
func BuildCommitFunc(repo gitres.Repository) jobrunner.CommitFunc {
	return func(ctx context.Context, worktreePath string, messageFor func() string) (string, error) {
		if err := repo.StageAll(ctx, worktreePath, nil); err != nil {
			return "", err
		}
		staged, err := repo.HasStagedChanges(ctx, worktreePath)
		if err != nil {
			return "", err
		}
		if !staged {
			return repo.GetHead(ctx, worktreePath)
		}
		return repo.Commit(ctx, worktreePath, messageFor(), nil)
	}
}
