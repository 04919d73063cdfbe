package planrunner

import (
	"github.com/ironham/conductor/internal/changebus"
	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/model"
)

// Snapshot is the persisted shape of every plan this Runner tracks,
// parents and launched sub-plans alike (spec.md §6.1).
type Snapshot struct {
	Plans []PlanEntry `json:"plans"`
}

// PlanEntry is one persisted plan: its spec, its runtime state, and the
// bookkeeping needed to reattach it to its parent (if any) on reload.
type PlanEntry struct {
	Spec            *model.PlanSpec  `json:"spec"`
	State           *model.PlanState `json:"state"`
	ParentID        string           `json:"parentId,omitempty"`
	SubPlanChildren map[string]string `json:"subPlanChildren,omitempty"`
}

// persistLocked writes the current Snapshot through the Store (debounced,
// async — spec.md §4.B). Caller must hold r.mu.
func (r *Runner) persistLocked() {
	if r.deps.Store == nil {
		return
	}
	snap := Snapshot{}
	for _, id := range r.order {
		e, ok := r.plans[id]
		if !ok {
			continue
		}
		snap.Plans = append(snap.Plans, PlanEntry{
			Spec:            e.spec,
			State:           e.state,
			ParentID:        e.parentID,
			SubPlanChildren: e.subPlanChild,
		})
	}
	_ = r.deps.Store.Save(snap)
}

// LoadSnapshot restores every plan from a previously persisted Snapshot.
// Any job caught mid-provisioning (preparing) or mid-handoff (submitted)
// loses its in-flight future across a restart, so both are demoted back to
// queued for reprocessing; a job already Running is left alone; its actual
// status is re-derived from the Job Runner's own reconciled state on the
// next poll (spec.md §4.C / §8 invariant 10).
func (r *Runner) LoadSnapshot(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pe := range snap.Plans {
		e := &entry{
			spec:         pe.Spec,
			state:        pe.State,
			parentID:     pe.ParentID,
			prepFutures:  map[string]*gitres.Future[prepResult]{},
			subPlanChild: pe.SubPlanChildren,
		}
		if e.subPlanChild == nil {
			e.subPlanChild = map[string]string{}
		}
		for id := range e.state.Preparing {
			delete(e.state.Preparing, id)
			e.state.Queued[id] = true
		}
		for id := range e.state.Submitted {
			delete(e.state.Submitted, id)
			e.state.Queued[id] = true
		}
		r.plans[pe.Spec.ID] = e
		r.order = append(r.order, pe.Spec.ID)
	}
}

// Snapshots builds the Change Bus's public, deep-copied view of every
// top-level plan (spec.md §9: "the external snapshot must be a deep,
// immutable copy"). Intended to be passed as changebus.NewBus's ListFunc.
func (r *Runner) Snapshots() []changebus.PlanSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []changebus.PlanSnapshot
	for _, id := range r.order {
		e, ok := r.plans[id]
		if !ok || e.parentID != "" {
			continue
		}
		out = append(out, changebus.PlanSnapshot{
			ID:                    id,
			Name:                  e.spec.Name,
			Status:                e.state.Status,
			Queued:                keysOf(e.state.Queued),
			Preparing:             keysOf(e.state.Preparing),
			Running:               keysOf(e.state.Running),
			Done:                  keysOf(e.state.Done),
			Failed:                keysOf(e.state.Failed),
			Canceled:              keysOf(e.state.Canceled),
			MergedLeaves:          keysOf(e.state.MergedLeaves),
			CleanedWorkUnits:      keysOf(e.state.CleanedWorkUnits),
			TargetBranchRoot:      e.state.TargetBranchRoot,
			AggregatedWorkSummary: e.state.AggregatedWorkSummary,
		})
	}
	return out
}
