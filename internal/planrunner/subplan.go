package planrunner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/mergecoord"
	"github.com/ironham/conductor/internal/model"
)

// childPlanID derives the key a launched sub-plan is tracked under in
// r.plans: namespaced by its parent so the same plan-local sub-plan id can
// be reused across sibling parents without colliding.
func childPlanID(parentID, subPlanLocalID string) string {
	return parentID + "/" + subPlanLocalID
}

// launchReadySubPlans scans e's pending sub-plans and launches every one
// whose producers have all completed (spec.md §4.G.8).
func (r *Runner) launchReadySubPlans(ctx context.Context, planID string, e *entry) {
	for id := range e.state.PendingSubPlans {
		sp, ok := subPlanByID(e.spec, id)
		if !ok {
			delete(e.state.PendingSubPlans, id)
			continue
		}
		if !readyToQueue(e.state, sp.ConsumesFrom) {
			continue
		}
		r.launchSubPlan(ctx, planID, e, sp)
	}
}

// launchSubPlan implements spec.md §4.G.8: a nested PlanSpec is launched
// with its source ref computed from the parent's recorded commits, its
// targetBranch set to a deterministically named integration branch, and
// its own worktreeRoot nested under the parent's.
func (r *Runner) launchSubPlan(ctx context.Context, planID string, e *entry, sp model.SubPlanSpec) {
	baseRef, err := r.subPlanBaseRef(e.state, sp)
	if err != nil {
		r.failSubPlan(e, sp.ID, err)
		return
	}

	integrationBranch := fmt.Sprintf("copilot_jobs/%s/subplan/%s", e.spec.ID, sp.ID)
	baseSHA, err := r.deps.Repo.ResolveRef(ctx, e.spec.RepoPath, baseRef)
	if err != nil {
		r.failSubPlan(e, sp.ID, err)
		return
	}
	if err := r.deps.Repo.CreateBranch(ctx, integrationBranch, baseSHA, r.logFunc()); err != nil {
		r.failSubPlan(e, sp.ID, err)
		return
	}

	for _, producerID := range sp.ConsumesFrom[min(1, len(sp.ConsumesFrom)):] {
		ref, err := resolveProducerRef(e.state, producerID)
		if err != nil {
			r.failSubPlan(e, sp.ID, err)
			return
		}
		_, err = r.deps.Merge.MergeLeaf(ctx, mergecoord.Request{
			RepoPath:     e.spec.RepoPath,
			TargetBranch: integrationBranch,
			SourceCommit: ref,
			Message:      fmt.Sprintf("merge %s into subplan %s", producerID, sp.ID),
		})
		if err != nil {
			r.failSubPlan(e, sp.ID, err)
			return
		}
	}

	child := sp.Spec
	child.ID = childPlanID(e.spec.ID, sp.ID)
	if child.RepoPath == "" {
		child.RepoPath = e.spec.RepoPath
	}
	if child.WorktreeRoot == "" {
		child.WorktreeRoot = filepath.Join(e.spec.WorktreeRoot, "subplans", sp.ID)
	}
	child.BaseBranch = integrationBranch
	child.TargetBranch = integrationBranch

	roots := admitSpec(&child)
	childState := model.NewPlanState(roots, time.Now())
	for _, job := range child.Jobs {
		childState.JobIDMap[job.ID] = job.RunnerJobID
	}
	for _, nested := range child.SubPlans {
		childState.PendingSubPlans[nested.ID] = true
	}
	childState.TargetBranchRoot = integrationBranch
	childState.TargetBranchRootCreated = false

	r.plans[child.ID] = &entry{
		spec:         &child,
		state:        childState,
		parentID:     e.spec.ID,
		prepFutures:  map[string]*gitres.Future[prepResult]{},
		subPlanChild: map[string]string{},
	}
	r.order = append(r.order, child.ID)

	delete(e.state.PendingSubPlans, sp.ID)
	if e.state.RunningSubPlans == nil {
		e.state.RunningSubPlans = map[string]bool{}
	}
	e.state.RunningSubPlans[sp.ID] = true
	if e.subPlanChild == nil {
		e.subPlanChild = map[string]string{}
	}
	e.subPlanChild[sp.ID] = child.ID

	r.Start(ctx)
}

func (r *Runner) subPlanBaseRef(state *model.PlanState, sp model.SubPlanSpec) (string, error) {
	if len(sp.ConsumesFrom) == 0 {
		return state.TargetBranchRoot, nil
	}
	return resolveProducerRef(state, sp.ConsumesFrom[0])
}

func (r *Runner) failSubPlan(e *entry, id string, err error) {
	if r.deps.Logger != nil {
		r.deps.Logger.Error("sub-plan launch failed", "subPlan", id, "error", err.Error())
	}
	delete(e.state.PendingSubPlans, id)
	if e.state.FailedSubPlans == nil {
		e.state.FailedSubPlans = map[string]*model.SubPlanRuntime{}
	}
	e.state.FailedSubPlans[id] = &model.SubPlanRuntime{ID: id, Status: model.PlanFailed}
}

// pollSubPlans implements spec.md §4.G.3 step 5.
func (r *Runner) pollSubPlans(ctx context.Context, planID string, e *entry) {
	for id := range e.state.RunningSubPlans {
		childID, ok := e.subPlanChild[id]
		if !ok {
			continue
		}
		child, ok := r.plans[childID]
		if !ok || !child.state.IsComplete() {
			continue
		}

		final := child.state.FinalStatus(len(child.spec.Jobs))
		delete(e.state.RunningSubPlans, id)

		if final != model.PlanSucceeded {
			if e.state.FailedSubPlans == nil {
				e.state.FailedSubPlans = map[string]*model.SubPlanRuntime{}
			}
			e.state.FailedSubPlans[id] = &model.SubPlanRuntime{ID: id, Status: final}
			continue
		}

		commit, err := r.deps.Repo.ResolveRef(ctx, e.spec.RepoPath, child.spec.TargetBranch)
		if err != nil {
			if e.state.FailedSubPlans == nil {
				e.state.FailedSubPlans = map[string]*model.SubPlanRuntime{}
			}
			e.state.FailedSubPlans[id] = &model.SubPlanRuntime{ID: id, Status: model.PlanFailed}
			continue
		}
		if e.state.CompletedSubPlans == nil {
			e.state.CompletedSubPlans = map[string]*model.SubPlanRuntime{}
		}
		e.state.CompletedSubPlans[id] = &model.SubPlanRuntime{
			ID:                id,
			Status:            model.PlanSucceeded,
			IntegrationBranch: child.spec.TargetBranch,
			CompletedCommit:   commit,
		}
		e.state.AggregatedWorkSummary = e.state.AggregatedWorkSummary.Add(child.state.AggregatedWorkSummary)

		if isLeaf(e.spec, id) {
			r.mergeLeaf(ctx, planID, e, id, commit)
		}
		r.queueReadyDependents(e)

		if r.opts.ReclaimSubPlanBranches {
			_ = r.deps.Repo.DeleteLocalBranch(ctx, child.spec.TargetBranch, r.logFunc())
		}
	}
}
