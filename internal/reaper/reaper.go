// Package reaper is the Cleanup Reaper (spec.md §4.E): recursive,
// consumer-gated worktree/branch reclamation. A producer is only removed
// once every job or sub-plan that consumes from it has itself already been
// cleaned, so a downstream job never loses the worktree it still needs to
// merge from.
package reaper

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/model"
)

// Reaper reclaims plan-owned worktrees and branches once it is safe to do
// so, per the consumer-gated recursion in spec.md §4.E.
type Reaper struct {
	repo   gitres.Repository
	logger *logging.Logger
}

// NewReaper returns a Reaper backed by repo.
func NewReaper(repo gitres.Repository, logger *logging.Logger) *Reaper {
	return &Reaper{repo: repo, logger: logger}
}

// Plan is the narrow view of PlanState/PlanSpec the Reaper needs: the full
// consumer graph (including sub-plans, since a sub-plan can consume from a
// job and vice versa) plus the runtime bookkeeping it mutates.
type Plan struct {
	Spec  *model.PlanSpec
	State *model.PlanState
}

// consumersOf returns every plan-local id (job or sub-plan) that lists
// producerID in its own ConsumesFrom — the "every consumer of it" set
// spec.md §4.E's canCleanupProducer needs.
func consumersOf(spec *model.PlanSpec, producerID string) []string {
	var consumers []string
	for _, job := range spec.Jobs {
		for _, c := range job.ConsumesFrom {
			if c == producerID {
				consumers = append(consumers, job.ID)
				break
			}
		}
	}
	for _, sp := range spec.SubPlans {
		for _, c := range sp.ConsumesFrom {
			if c == producerID {
				consumers = append(consumers, sp.ID)
				break
			}
		}
	}
	return consumers
}

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

func isDoneOrCompletedSubPlan(state *model.PlanState, id string) bool {
	if state.Done[id] {
		return true
	}
	_, ok := state.CompletedSubPlans[id]
	return ok
}

// CleanupWorkUnit removes id's worktree (and associated bookkeeping),
// idempotent on state.CleanedWorkUnits, then recurses into any producer of
// id that has become eligible (spec.md §4.E). Traversal is iterative (an
// explicit worklist) per SPEC_FULL.md/spec.md §9's arena+index redesign
// note, rather than recursive function calls, so a long producer chain
// cannot blow the stack.
func (rp *Reaper) CleanupWorkUnit(ctx context.Context, plan *Plan, id string) {
	worklist := []string{id}
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if plan.State.CleanedWorkUnits[current] {
			continue
		}
		rp.reclaimOne(ctx, plan, current)

		for _, producerID := range producersOf(plan.Spec, current) {
			if rp.canCleanupProducer(plan, producerID) {
				worklist = append(worklist, producerID)
			}
		}
	}
}

// canCleanupProducer reports whether producerID is eligible for reclamation:
// it must be done (or a completed sub-plan), not yet cleaned, and every one
// of its consumers must already be cleaned (spec.md §4.E).
func (rp *Reaper) canCleanupProducer(plan *Plan, producerID string) bool {
	if plan.State.CleanedWorkUnits[producerID] {
		return false
	}
	if !isDoneOrCompletedSubPlan(plan.State, producerID) {
		return false
	}
	for _, consumer := range consumersOf(plan.Spec, producerID) {
		if !plan.State.CleanedWorkUnits[consumer] {
			return false
		}
	}
	return true
}

// reclaimOne performs the actual worktree removal and bookkeeping clear for
// a single id, marking it cleaned regardless of whether the worktree
// removal itself reports anything to remove (spec.md §7 kind 4: "cleanup
// failure is logged and retried later" — but RemoveWorktreeSafe itself
// never errors, so in practice this always succeeds and is marked cleaned
// immediately; idempotency is what makes a future retry safe if a caller
// invokes CleanupWorkUnit again).
func (rp *Reaper) reclaimOne(ctx context.Context, plan *Plan, id string) {
	if path, ok := plan.State.WorktreePaths[id]; ok && path != "" {
		rp.repo.RemoveWorktreeSafe(ctx, path, true, rp.logFunc())
		delete(plan.State.WorktreePaths, id)
	}
	delete(plan.State.CompletedCommits, id)
	delete(plan.State.BaseCommits, id)
	if plan.State.CleanedWorkUnits == nil {
		plan.State.CleanedWorkUnits = map[string]bool{}
	}
	plan.State.CleanedWorkUnits[id] = true
	if rp.logger != nil {
		rp.logger.Debug("cleaned work unit", "id", id)
	}
}

// CleanupAllPlanResources removes every remaining worktree the plan owns,
// clears all tracking maps, deletes retained sub-plan integration branches,
// removes the plan's worktree root directory, and sweeps
// "<repoPath>/.worktrees" for stale "_merge_*" temporary worktrees left
// behind by an interrupted slow-path merge (spec.md §4.E). Invoked by the
// Plan Runner once a plan succeeds with cleanup enabled.
func (rp *Reaper) CleanupAllPlanResources(ctx context.Context, plan *Plan) {
	for id, path := range plan.State.WorktreePaths {
		rp.repo.RemoveWorktreeSafe(ctx, path, true, rp.logFunc())
		delete(plan.State.WorktreePaths, id)
	}
	plan.State.CompletedCommits = map[string]string{}
	plan.State.BaseCommits = map[string]string{}
	if plan.State.CleanedWorkUnits == nil {
		plan.State.CleanedWorkUnits = map[string]bool{}
	}
	for _, job := range plan.Spec.Jobs {
		plan.State.CleanedWorkUnits[job.ID] = true
	}

	for id, sub := range plan.State.CompletedSubPlans {
		if sub.IntegrationBranch == "" {
			continue
		}
		rp.repo.DeleteLocalBranch(ctx, sub.IntegrationBranch, rp.logFunc())
		plan.State.CleanedWorkUnits[id] = true
	}

	worktreeRoot := filepath.Join(plan.Spec.RepoPath, plan.Spec.WorktreeRoot)
	rp.repo.RemoveWorktreeSafe(ctx, worktreeRoot, true, rp.logFunc())

	rp.sweepStaleMergeWorktrees(ctx, plan.Spec.RepoPath)
}

// sweepStaleMergeWorktrees removes leftover "_merge_*" temporary worktrees
// under <repoPath>/.worktrees that an interrupted slow-path merge (spec.md
// §4.G.5) may have left behind. Best-effort: a listing failure here is not
// fatal, consistent with spec.md §7 kind 4's "cleanup failure is logged and
// retried later".
func (rp *Reaper) sweepStaleMergeWorktrees(ctx context.Context, repoPath string) {
	root := filepath.Join(repoPath, ".worktrees")
	entries, err := listDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry, "_merge_") {
			rp.repo.RemoveWorktreeSafe(ctx, filepath.Join(root, entry), true, rp.logFunc())
		}
	}
}

func (rp *Reaper) logFunc() gitres.LogFunc {
	if rp.logger == nil {
		return nil
	}
	return func(format string, args ...any) { rp.logger.Debug(sprintfSafe(format, args...)) }
}
