package planrunner

import (
	"context"

	"github.com/ironham/conductor/internal/changebus"
	"github.com/ironham/conductor/internal/jobrunner"
	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/reaper"
)

// pumpAll is the reentry-guarded driver invoked by the pump loop (spec.md
// §4.G.3 / §5: "a reentry guard skips overlapping pumps"). It pumps every
// tracked plan (parents and launched sub-plans alike) once, then persists
// and fires the Change Bus.
func (r *Runner) pumpAll(ctx context.Context) {
	r.mu.Lock()
	if r.pumping {
		r.mu.Unlock()
		return
	}
	r.pumping = true
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.pumping = false
		r.mu.Unlock()
	}()

	r.mu.Lock()
	for _, id := range ids {
		if e, ok := r.plans[id]; ok {
			r.pumpOne(ctx, id, e)
		}
	}
	r.persistLocked()
	r.publishLocked()
	r.mu.Unlock()
}

// pumpOne runs the single-plan pump cycle described by spec.md §4.G.3.
// Caller must hold r.mu.
func (r *Runner) pumpOne(ctx context.Context, planID string, e *entry) {
	if e.state.Status != model.PlanQueued && e.state.Status != model.PlanRunning {
		return
	}
	if e.state.Status == model.PlanQueued {
		e.state.Status = model.PlanRunning
	}

	if err := r.resolveTargetBranchRoot(ctx, e.spec, e.state); err != nil {
		if r.deps.Logger != nil {
			r.deps.Logger.Error("targetBranchRoot resolution failed", "plan", planID, "error", err.Error())
		}
		return
	}

	r.settlePreparing(ctx, planID, e)
	r.submitReady(e)
	r.admitQueued(ctx, e)
	r.pollRunning(ctx, planID, e)
	r.launchReadySubPlans(ctx, planID, e)
	r.pollSubPlans(ctx, planID, e)
	r.checkCompletion(ctx, planID, e)
}

// settlePreparing implements spec.md §4.G.3 step 1: a non-blocking probe of
// each preparing job's worktree-creation future.
func (r *Runner) settlePreparing(ctx context.Context, planID string, e *entry) {
	for id := range e.state.Preparing {
		future, ok := e.prepFutures[id]
		if !ok {
			continue
		}
		result, err, settled := future.Poll()
		if !settled {
			continue
		}
		delete(e.state.Preparing, id)
		delete(e.prepFutures, id)
		if err != nil {
			e.state.Failed[id] = true
			if r.deps.Logger != nil {
				r.deps.Logger.Error("worktree provisioning failed", "plan", planID, "job", id, "error", err.Error())
			}
			continue
		}
		if e.state.BaseCommits == nil {
			e.state.BaseCommits = map[string]string{}
		}
		e.state.BaseCommits[id] = result.BaseCommit
		if e.state.Submitted == nil {
			e.state.Submitted = map[string]bool{}
		}
		e.state.Submitted[id] = true
	}
}

// submitReady implements spec.md §4.G.3 step 2.
func (r *Runner) submitReady(e *entry) {
	for id := range e.state.Submitted {
		job, ok := jobByID(e.spec, id)
		if !ok {
			delete(e.state.Submitted, id)
			continue
		}
		r.deps.JobRunner.Submit(jobrunner.Submission{
			Job:           job,
			WorktreePath:  e.state.WorktreePaths[id],
			IsPlanManaged: true,
		})
		delete(e.state.Submitted, id)
		e.state.Running[id] = true
	}
}

// admitQueued implements spec.md §4.G.3 step 3.
func (r *Runner) admitQueued(ctx context.Context, e *entry) {
	maxParallel := e.spec.MaxParallel
	if maxParallel <= 0 {
		maxParallel = r.opts.MaxParallel
	}
	for len(e.state.Running)+len(e.state.Preparing) < maxParallel && len(e.state.Queued) > 0 {
		var id string
		for k := range e.state.Queued {
			id = k
			break
		}
		delete(e.state.Queued, id)

		job, ok := jobByID(e.spec, id)
		if !ok {
			e.state.Failed[id] = true
			continue
		}
		e.state.Preparing[id] = true
		worktreePath := jobWorktreePath(e.spec, job)
		if e.state.WorktreePaths == nil {
			e.state.WorktreePaths = map[string]string{}
		}
		e.state.WorktreePaths[id] = worktreePath
		e.prepFutures[id] = r.prepareJob(ctx, e.spec, e.state, job, worktreePath)
	}
}

// pollRunning implements spec.md §4.G.3 step 4.
func (r *Runner) pollRunning(ctx context.Context, planID string, e *entry) {
	for id := range e.state.Running {
		job, ok := jobByID(e.spec, id)
		if !ok {
			continue
		}
		st := r.deps.JobRunner.Get(job.RunnerJobID)
		if st == nil {
			continue
		}
		switch st.Status {
		case model.JobSucceeded:
			delete(e.state.Running, id)
			e.state.Done[id] = true
			if e.state.CompletedCommits == nil {
				e.state.CompletedCommits = map[string]string{}
			}
			e.state.CompletedCommits[id] = st.CompletedCommit
			if isLeaf(e.spec, id) {
				r.mergeLeaf(ctx, planID, e, id, st.CompletedCommit)
			}
			r.queueReadyDependents(e)
		case model.JobFailed:
			delete(e.state.Running, id)
			e.state.Failed[id] = true
		case model.JobCanceled:
			delete(e.state.Running, id)
			e.state.Canceled[id] = true
		}
	}
}

// queueReadyDependents implements spec.md §4.G.6 for jobs: a sibling job
// becomes queued iff every id in its consumesFrom is done or a completed
// sub-plan. Sub-plans are not handled here: they wait in pendingSubPlans
// from admission, and launchReadySubPlans launches each once its producers
// are satisfied.
func (r *Runner) queueReadyDependents(e *entry) {
	for _, job := range e.spec.Jobs {
		if started(e.state, job.ID) {
			continue
		}
		if readyToQueue(e.state, job.ConsumesFrom) {
			e.state.Queued[job.ID] = true
		}
	}
}

// checkCompletion implements spec.md §4.G.7.
func (r *Runner) checkCompletion(ctx context.Context, planID string, e *entry) {
	if !e.state.IsComplete() {
		return
	}
	final := e.state.FinalStatus(len(e.spec.Jobs))
	e.state.Status = final

	if final == model.PlanSucceeded {
		r.riMerge(ctx, planID, e)
		if r.cleanupEnabled(e.spec) && r.deps.Reaper != nil {
			r.deps.Reaper.CleanupAllPlanResources(ctx, &reaper.Plan{Spec: e.spec, State: e.state})
		}
	}
}

// publishLocked fires the Change Bus with the current top-level plan
// states (spec.md §4.H). Caller must hold r.mu.
func (r *Runner) publishLocked() {
	if r.deps.Bus == nil {
		return
	}
	var inputs []changebus.PlanHashInput
	for _, id := range r.order {
		e, ok := r.plans[id]
		if !ok || e.parentID != "" {
			continue
		}
		inputs = append(inputs, changebus.PlanHashInput{
			ID:        id,
			Status:    e.state.Status,
			Queued:    len(e.state.Queued),
			Preparing: len(e.state.Preparing),
			Running:   len(e.state.Running),
			Done:      len(e.state.Done),
			Failed:    len(e.state.Failed),
		})
	}
	r.deps.Bus.Publish(inputs)
}
