package planrunner

import "github.com/ironham/conductor/internal/model"

// rootJobIDs returns the ids of every job whose consumesFrom is empty
// (spec.md §4.G.1).
func rootJobIDs(spec *model.PlanSpec) []string {
	var roots []string
	for _, job := range spec.Jobs {
		if len(job.ConsumesFrom) == 0 {
			roots = append(roots, job.ID)
		}
	}
	return roots
}

// producersOf returns the consumesFrom list for a plan-local id, whether it
// names a job or a sub-plan.
func producersOf(spec *model.PlanSpec, id string) []string {
	for _, job := range spec.Jobs {
		if job.ID == id {
			return job.ConsumesFrom
		}
	}
	for _, sp := range spec.SubPlans {
		if sp.ID == id {
			return sp.ConsumesFrom
		}
	}
	return nil
}

// consumersOf returns every plan-local id (job or sub-plan) that lists
// producerID in its own consumesFrom.
func consumersOf(spec *model.PlanSpec, producerID string) []string {
	var out []string
	for _, job := range spec.Jobs {
		for _, c := range job.ConsumesFrom {
			if c == producerID {
				out = append(out, job.ID)
				break
			}
		}
	}
	for _, sp := range spec.SubPlans {
		for _, c := range sp.ConsumesFrom {
			if c == producerID {
				out = append(out, sp.ID)
				break
			}
		}
	}
	return out
}

// isLeaf reports whether id (a job or sub-plan) has no sibling consuming
// from it — a leaf's completedCommit folds directly into the target branch
// (spec.md §4.G.5).
func isLeaf(spec *model.PlanSpec, id string) bool {
	return len(consumersOf(spec, id)) == 0
}

// jobByID looks up a job's spec within a plan by its plan-local id.
func jobByID(spec *model.PlanSpec, id string) (model.JobSpec, bool) {
	for _, job := range spec.Jobs {
		if job.ID == id {
			return job, true
		}
	}
	return model.JobSpec{}, false
}

// subPlanByID looks up a sub-plan's spec within a plan by its plan-local id.
func subPlanByID(spec *model.PlanSpec, id string) (model.SubPlanSpec, bool) {
	for _, sp := range spec.SubPlans {
		if sp.ID == id {
			return sp, true
		}
	}
	return model.SubPlanSpec{}, false
}

// readyToQueue reports whether every producer of id is done or a completed
// sub-plan, i.e. id is ready to move from not-yet-started into queued
// (spec.md §4.G.6).
func readyToQueue(state *model.PlanState, producers []string) bool {
	for _, p := range producers {
		if state.Done[p] {
			continue
		}
		if _, ok := state.CompletedSubPlans[p]; ok {
			continue
		}
		return false
	}
	return true
}

// started reports whether id has already entered the scheduling pipeline
// (queued, preparing, running, done, failed, or canceled) so admission and
// dependent-queueing never re-admit a job twice.
func started(state *model.PlanState, id string) bool {
	return state.Queued[id] || state.Preparing[id] || state.Running[id] ||
		state.Done[id] || state.Failed[id] || state.Canceled[id]
}
