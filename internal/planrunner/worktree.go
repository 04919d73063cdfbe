package planrunner

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/cerr"
	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/model"
)

// jobWorktreePath is the deterministic path a job's worktree lives at
// (spec.md §4.G.4): "<repoPath>/<worktreeRoot>/<runnerJobId>".
func jobWorktreePath(spec *model.PlanSpec, job model.JobSpec) string {
	return filepath.Join(spec.RepoPath, spec.WorktreeRoot, job.RunnerJobID)
}

// resolveProducerRef returns the commit a completed producer (job or
// sub-plan) contributed, per spec.md §4.G.4: "the source ref is that
// producer's completedCommit (or its recorded completed branch for
// sub-plan producers)".
func resolveProducerRef(state *model.PlanState, producerID string) (string, error) {
	if sha, ok := state.CompletedCommits[producerID]; ok && sha != "" {
		return sha, nil
	}
	if sp, ok := state.CompletedSubPlans[producerID]; ok && sp.CompletedCommit != "" {
		return sp.CompletedCommit, nil
	}
	return "", cerr.NewNotFoundError("producer commit", producerID)
}

// resolveJobBaseRef returns the ref a job's worktree is branched from: the
// plan's targetBranchRoot for a root job, or its first producer's commit
// otherwise (spec.md §4.G.4).
func resolveJobBaseRef(state *model.PlanState, job model.JobSpec) (string, error) {
	if len(job.ConsumesFrom) == 0 {
		if state.TargetBranchRoot == "" {
			return "", cerr.New("planrunner: targetBranchRoot not yet resolved")
		}
		return state.TargetBranchRoot, nil
	}
	return resolveProducerRef(state, job.ConsumesFrom[0])
}

// prepareJob kicks off worktree creation (and any multi-producer merge)
// for job without blocking the pump thread (spec.md §4.G.4). The returned
// future settles with the base ref's resolved SHA, to be recorded into
// baseCommits by the caller once the future is observed settled.
func (r *Runner) prepareJob(ctx context.Context, spec *model.PlanSpec, state *model.PlanState, job model.JobSpec, worktreePath string) *gitres.Future[prepResult] {
	return gitres.Go(func() (prepResult, error) {
		baseRef, err := resolveJobBaseRef(state, job)
		if err != nil {
			return prepResult{Err: err}, err
		}
		baseSHA, err := r.deps.Repo.ResolveRef(ctx, spec.RepoPath, baseRef)
		if err != nil {
			return prepResult{Err: err}, err
		}
		if err := r.deps.Repo.CreateWorktree(ctx, worktreePath, job.Inputs.TargetBranch, baseSHA, r.logFunc()); err != nil {
			return prepResult{Err: err}, err
		}
		if len(job.ConsumesFrom) > 1 {
			if err := r.mergeExtraProducers(ctx, job, state, worktreePath); err != nil {
				return prepResult{Err: err}, err
			}
		}
		return prepResult{BaseCommit: baseSHA}, nil
	})
}

// mergeExtraProducers implements spec.md §4.G.4's "multi-producer merge
// into worktree": every producer after the first is three-way-merged into
// the worktree's branch, with agent-assisted conflict resolution.
func (r *Runner) mergeExtraProducers(ctx context.Context, job model.JobSpec, state *model.PlanState, worktreePath string) error {
	for _, producerID := range job.ConsumesFrom[1:] {
		ref, err := resolveProducerRef(state, producerID)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("merge %s into %s", producerID, job.ID)
		result := r.deps.Repo.Merge(ctx, worktreePath, gitres.CheckoutMergeOptions{
			Source:  ref,
			Target:  job.Inputs.TargetBranch,
			Message: message,
			Log:     r.logFunc(),
		})
		if result.Err != nil {
			return result.Err
		}
		if !result.HasConflicts {
			continue
		}
		if err := r.resolveMultiProducerConflict(ctx, producerID, message, result.ConflictFiles, worktreePath); err != nil {
			_ = r.deps.Repo.AbortMerge(ctx, worktreePath, r.logFunc())
			return err
		}
	}
	return nil
}

func (r *Runner) resolveMultiProducerConflict(ctx context.Context, producerID, message string, conflictFiles []string, worktreePath string) error {
	if r.deps.Delegator == nil {
		return cerr.New("merge conflict during worktree provisioning and no agent delegator configured")
	}
	pref := r.opts.MergePreference
	if pref == "" {
		pref = model.PreferTheirs
	}
	instruction := fmt.Sprintf(
		"Resolve the merge conflict from folding producer %q into this job's worktree, preferring %q where "+
			"the intent is ambiguous. Conflicting files: %v. Expected commit message: %q. Stage every resolved "+
			"file; do not leave any conflict markers behind.",
		producerID, pref, conflictFiles, message,
	)
	result := r.deps.Delegator.Delegate(ctx, agent.Request{
		Task:         "resolve multi-producer merge conflict",
		Instructions: instruction,
		WorktreePath: worktreePath,
	})
	if !result.Success {
		return fmt.Errorf("agent conflict resolution failed (exit %d): %w", result.ExitCode, result.Err)
	}
	if err := r.deps.Repo.StageAll(ctx, worktreePath, r.logFunc()); err != nil {
		return err
	}
	_, err := r.deps.Repo.Commit(ctx, worktreePath, message, r.logFunc())
	return err
}

// resolveTargetBranchRoot implements spec.md §4.G.2, lazily on a plan's
// first pump cycle.
func (r *Runner) resolveTargetBranchRoot(ctx context.Context, spec *model.PlanSpec, state *model.PlanState) error {
	if state.TargetBranchRoot != "" {
		return nil
	}
	defBranch, err := r.deps.Repo.DefaultBranch(ctx, spec.RepoPath)
	if err != nil {
		return err
	}
	if spec.BaseBranch == defBranch {
		root := fmt.Sprintf("copilot_jobs/%s", spec.ID)
		baseSHA, err := r.deps.Repo.ResolveRef(ctx, spec.RepoPath, spec.BaseBranch)
		if err != nil {
			return err
		}
		if err := r.deps.Repo.CreateBranch(ctx, root, baseSHA, r.logFunc()); err != nil {
			return err
		}
		state.TargetBranchRoot = root
		state.TargetBranchRootCreated = true
		return nil
	}
	state.TargetBranchRoot = spec.BaseBranch
	state.TargetBranchRootCreated = false
	return nil
}
