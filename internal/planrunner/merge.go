package planrunner

import (
	"context"
	"fmt"

	"github.com/ironham/conductor/internal/mergecoord"
	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/reaper"
)

// targetBranchFor returns the branch a leaf merges into: the plan's own
// targetBranch override, or its targetBranchRoot (spec.md §4.G.5).
func targetBranchFor(spec *model.PlanSpec, state *model.PlanState) string {
	if spec.TargetBranch != "" {
		return spec.TargetBranch
	}
	return state.TargetBranchRoot
}

// mergeLeaf folds a completed leaf's commit into the plan's target branch
// (spec.md §4.G.5), updates mergedLeaves and the aggregated work summary on
// success, and degrades the work unit to failed on any merge error (spec.md
// §7 kind 5: "the plan treats it as a job-level failure that degrades the
// plan to Partial/Failed").
func (r *Runner) mergeLeaf(ctx context.Context, planID string, e *entry, workUnitID, sourceCommit string) {
	spec, state := e.spec, e.state
	targetBranch := targetBranchFor(spec, state)
	message := fmt.Sprintf("merge %s into %s", workUnitID, targetBranch)

	_, err := r.deps.Merge.MergeLeaf(ctx, mergecoord.Request{
		RepoPath:     spec.RepoPath,
		TargetBranch: targetBranch,
		SourceCommit: sourceCommit,
		Message:      message,
	})
	if err != nil {
		if r.deps.Logger != nil {
			r.deps.Logger.Error("leaf merge failed", "plan", planID, "workUnit", workUnitID, "error", err.Error())
		}
		demoteToFailed(state, workUnitID)
		return
	}

	if state.MergedLeaves == nil {
		state.MergedLeaves = map[string]bool{}
	}
	state.MergedLeaves[workUnitID] = true

	if summary, ok := r.leafWorkSummary(ctx, spec, state, workUnitID); ok {
		state.AggregatedWorkSummary = state.AggregatedWorkSummary.Add(summary)
	}

	if r.opts.PushOnSuccess {
		_ = r.deps.Repo.Push(ctx, spec.RepoPath, targetBranch, r.logFunc())
	}

	if r.cleanupEnabled(spec) && r.deps.Reaper != nil {
		r.deps.Reaper.CleanupWorkUnit(ctx, &reaper.Plan{Spec: spec, State: state}, workUnitID)
	}
}

// demoteToFailed moves a just-merged-but-failed work unit out of its
// "completed" bucket and into the corresponding failed one.
func demoteToFailed(state *model.PlanState, id string) {
	if state.Done[id] {
		delete(state.Done, id)
		state.Failed[id] = true
		return
	}
	if sp, ok := state.CompletedSubPlans[id]; ok {
		delete(state.CompletedSubPlans, id)
		sp.Status = model.PlanFailed
		state.FailedSubPlans[id] = sp
	}
}

// leafWorkSummary computes the diff-stat contribution of a completed job
// (sub-plans already carry their own aggregated summary forward instead).
func (r *Runner) leafWorkSummary(ctx context.Context, spec *model.PlanSpec, state *model.PlanState, id string) (model.WorkSummary, bool) {
	base, okBase := state.BaseCommits[id]
	head, okHead := state.CompletedCommits[id]
	if !okBase || !okHead {
		return model.WorkSummary{}, false
	}
	stats, err := r.deps.Repo.GetDiffStats(ctx, spec.RepoPath, base, head)
	if err != nil {
		return model.WorkSummary{}, false
	}
	return model.WorkSummary{
		FilesChanged: stats.FilesChanged,
		Insertions:   stats.Insertions,
		Deletions:    stats.Deletions,
		JobsMerged:   1,
	}, true
}

// cleanupEnabled reports whether a completed work unit's worktree should be
// reclaimed immediately after its leaf merge (spec.md §4.G.5), vs. only at
// final plan cleanup.
func (r *Runner) cleanupEnabled(spec *model.PlanSpec) bool {
	return spec.CleanUpSuccessfulWork || r.opts.CleanUpSuccessfulWork
}

// riMerge implements spec.md §4.G.7's Reverse Integration merge: on a
// Succeeded plan, every leaf not already in mergedLeaves is merged now,
// still serialized through the same per-branch lock.
func (r *Runner) riMerge(ctx context.Context, planID string, e *entry) {
	spec, state := e.spec, e.state
	for id := range state.Done {
		if !isLeaf(spec, id) || state.MergedLeaves[id] {
			continue
		}
		r.mergeLeaf(ctx, planID, e, id, state.CompletedCommits[id])
	}
	for id, sp := range state.CompletedSubPlans {
		if !isLeaf(spec, id) || state.MergedLeaves[id] {
			continue
		}
		r.mergeLeaf(ctx, planID, e, id, sp.CompletedCommit)
	}
	state.RIMergeCompleted = true
}
