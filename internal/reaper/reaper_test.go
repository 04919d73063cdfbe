package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/model"
)

// fakeRepo is a minimal gitres.Repository stub recording removed worktrees.
type fakeRepo struct {
	gitres.Repository
	removed []string
}

func (f *fakeRepo) RemoveWorktreeSafe(ctx context.Context, path string, force bool, log gitres.LogFunc) bool {
	f.removed = append(f.removed, path)
	return true
}

func (f *fakeRepo) DeleteLocalBranch(ctx context.Context, branch string, log gitres.LogFunc) error {
	return nil
}

func diamondPlan() *Plan {
	spec := &model.PlanSpec{
		RepoPath:     "/repo",
		WorktreeRoot: ".worktrees/p1",
		Jobs: []model.JobSpec{
			{ID: "A", ConsumesFrom: nil},
			{ID: "B", ConsumesFrom: []string{"A"}},
			{ID: "C", ConsumesFrom: []string{"A"}},
			{ID: "D", ConsumesFrom: []string{"B", "C"}},
		},
	}
	state := model.NewPlanState([]string{"A"}, time.Now())
	for _, id := range []string{"A", "B", "C", "D"} {
		state.Done[id] = true
		state.WorktreePaths[id] = "/repo/.worktrees/p1/" + id
	}
	return &Plan{Spec: spec, State: state}
}

func TestCleanupWorkUnit_DiamondReclaimsInDependencyOrder(t *testing.T) {
	plan := diamondPlan()
	repo := &fakeRepo{}
	rp := NewReaper(repo, nil)

	rp.CleanupWorkUnit(context.Background(), plan, "D")

	for _, id := range []string{"A", "B", "C", "D"} {
		if !plan.State.CleanedWorkUnits[id] {
			t.Errorf("expected %s cleaned, got cleaned=%v", id, plan.State.CleanedWorkUnits)
		}
	}
}

func TestCleanupWorkUnit_DoesNotReclaimProducerWithLiveConsumer(t *testing.T) {
	plan := diamondPlan()
	repo := &fakeRepo{}
	rp := NewReaper(repo, nil)

	// Only B completes cleanup; C has not been cleaned, so A must stay.
	rp.CleanupWorkUnit(context.Background(), plan, "B")

	if !plan.State.CleanedWorkUnits["B"] {
		t.Fatal("expected B cleaned")
	}
	if plan.State.CleanedWorkUnits["A"] {
		t.Fatal("A should not be cleaned while C (a sibling consumer) is still live")
	}
}

func TestCleanupWorkUnit_Idempotent(t *testing.T) {
	plan := diamondPlan()
	repo := &fakeRepo{}
	rp := NewReaper(repo, nil)

	rp.CleanupWorkUnit(context.Background(), plan, "D")
	firstCount := len(repo.removed)
	rp.CleanupWorkUnit(context.Background(), plan, "D")

	if len(repo.removed) != firstCount {
		t.Fatalf("second CleanupWorkUnit call should be a no-op, removed count changed from %d to %d", firstCount, len(repo.removed))
	}
}

func TestCleanupAllPlanResources_ClearsEverything(t *testing.T) {
	plan := diamondPlan()
	repo := &fakeRepo{}
	rp := NewReaper(repo, nil)

	rp.CleanupAllPlanResources(context.Background(), plan)

	if len(plan.State.WorktreePaths) != 0 {
		t.Errorf("expected all worktree paths cleared, got %v", plan.State.WorktreePaths)
	}
	for _, id := range []string{"A", "B", "C", "D"} {
		if !plan.State.CleanedWorkUnits[id] {
			t.Errorf("expected %s cleaned after CleanupAllPlanResources", id)
		}
	}
}
