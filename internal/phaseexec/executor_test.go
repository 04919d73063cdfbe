package phaseexec

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/model"
)

// fakeDelegator is a scripted agent.Delegator for exercising the commit
// phase's delegated-message path without shelling out to a real agent CLI.
type fakeDelegator struct {
	result agent.Result
	lines  []string
}

func (d *fakeDelegator) Delegate(ctx context.Context, req agent.Request) agent.Result {
	if req.OnProcess != nil {
		req.OnProcess(1)
	}
	for _, line := range d.lines {
		if req.LogOutput != nil {
			req.LogOutput(line)
		}
	}
	return d.result
}

func (d *fakeDelegator) Available() bool { return true }

func newTestState(workCmd string) (*model.JobSpec, *model.JobState) {
	job := &model.JobSpec{
		ID:          "job-1",
		RunnerJobID: uuid.NewString(),
		Policy:      model.Policy{Work: workCmd},
	}
	state := model.NewJobState(time.Now())
	attempt := model.NewAttempt(uuid.NewString(), "", "do the work", time.Now())
	state.Attempts = append(state.Attempts, attempt)
	state.CurrentAttemptID = attempt.AttemptID
	return job, state
}

func TestExecutor_Run_Success(t *testing.T) {
	job, state := newTestState("true")
	commit := func(ctx context.Context, worktreePath string, messageFor func() string) (string, error) {
		return "deadbeef", nil
	}
	exec := NewExecutor("/repo", nil, commit, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), false, nil)

	if state.Status != model.JobSucceeded {
		t.Fatalf("expected Succeeded, got %s", state.Status)
	}
	if state.CompletedCommit != "deadbeef" {
		t.Errorf("expected completedCommit to be set, got %q", state.CompletedCommit)
	}
}

func TestExecutor_Run_EmptyWorkPhaseFailsHard(t *testing.T) {
	job, state := newTestState("")
	exec := NewExecutor("/repo", nil, nil, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), false, nil)

	if state.Status != model.JobFailed {
		t.Fatalf("expected Failed for empty work command, got %s", state.Status)
	}
	attempt := state.CurrentAttempt()
	if attempt.StepStatuses[model.PhaseWork] != model.StepFailed {
		t.Errorf("expected work phase marked Failed, got %s", attempt.StepStatuses[model.PhaseWork])
	}
}

func TestExecutor_Run_NonZeroExitFailsJob(t *testing.T) {
	job, state := newTestState("exit 1")
	exec := NewExecutor("/repo", nil, nil, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), false, nil)

	if state.Status != model.JobFailed {
		t.Fatalf("expected Failed, got %s", state.Status)
	}
}

func TestExecutor_Run_PlanManagedSkipsMergebackAndCleanup(t *testing.T) {
	job, state := newTestState("true")
	commit := func(ctx context.Context, worktreePath string, messageFor func() string) (string, error) { return "", nil }
	exec := NewExecutor("/repo", nil, commit, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), true, nil)

	attempt := state.CurrentAttempt()
	if attempt.StepStatuses[model.PhaseMergeback] != model.StepSkipped {
		t.Errorf("expected mergeback Skipped for plan-managed job, got %s", attempt.StepStatuses[model.PhaseMergeback])
	}
	if attempt.StepStatuses[model.PhaseCleanup] != model.StepSkipped {
		t.Errorf("expected cleanup Skipped for plan-managed job, got %s", attempt.StepStatuses[model.PhaseCleanup])
	}
}

func TestExecutor_RunCommit_DelegatesMessageWhenStaged(t *testing.T) {
	job, state := newTestState("true")
	delegator := &fakeDelegator{
		result: agent.Result{Success: true, SessionID: "session-1"},
		lines:  []string{"", "add the frobnicator", "(done)"},
	}
	var gotMessage string
	commit := func(ctx context.Context, worktreePath string, messageFor func() string) (string, error) {
		gotMessage = messageFor()
		return "deadbeef", nil
	}
	exec := NewExecutor("/repo", delegator, commit, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), false, nil)

	if state.Status != model.JobSucceeded {
		t.Fatalf("expected Succeeded, got %s", state.Status)
	}
	if gotMessage != "add the frobnicator" {
		t.Errorf("expected delegated message, got %q", gotMessage)
	}
	if state.AgentSessionID != "session-1" {
		t.Errorf("expected session id recorded, got %q", state.AgentSessionID)
	}
}

func TestExecutor_RunCommit_FallsBackWhenDelegationFails(t *testing.T) {
	job, state := newTestState("true")
	delegator := &fakeDelegator{result: agent.Result{Success: false}}
	var gotMessage string
	commit := func(ctx context.Context, worktreePath string, messageFor func() string) (string, error) {
		gotMessage = messageFor()
		return "deadbeef", nil
	}
	exec := NewExecutor("/repo", delegator, commit, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), false, nil)

	attempt := state.CurrentAttempt()
	want := "conductor: automated commit for attempt " + attempt.AttemptID
	if gotMessage != want {
		t.Errorf("expected deterministic fallback %q, got %q", want, gotMessage)
	}
}

func TestExecutor_RunCommit_NoDelegatorUsesDeterministicMessage(t *testing.T) {
	job, state := newTestState("true")
	var gotMessage string
	commit := func(ctx context.Context, worktreePath string, messageFor func() string) (string, error) {
		gotMessage = messageFor()
		return "deadbeef", nil
	}
	exec := NewExecutor("/repo", nil, commit, nil, Options{})

	exec.Run(context.Background(), job, state, t.TempDir(), false, nil)

	attempt := state.CurrentAttempt()
	want := "conductor: automated commit for attempt " + attempt.AttemptID
	if gotMessage != want {
		t.Errorf("expected deterministic fallback %q, got %q", want, gotMessage)
	}
}

func TestReconcileOrphan_AllPIDsGoneMarksFailed(t *testing.T) {
	state := model.NewJobState(time.Now())
	state.Status = model.JobRunning
	state.ProcessIDs = []int{999999} // assumed not alive
	attempt := model.NewAttempt(uuid.NewString(), "", "", time.Now())
	state.Attempts = append(state.Attempts, attempt)
	state.CurrentAttemptID = attempt.AttemptID

	settled := make(chan struct{})
	ReconcileOrphan(state, OrphanPolicyFailed, nil, func() { close(settled) })

	<-settled
	if state.Status != model.JobFailed {
		t.Errorf("expected Failed, got %s", state.Status)
	}
}

func TestNewRetryAttempt_RetainsPrechecksAsSkipped(t *testing.T) {
	state := model.NewJobState(time.Now())
	prior := model.NewAttempt(uuid.NewString(), "log1.log", "first try", time.Now())
	prior.StepStatuses[model.PhasePrechecks] = model.StepSuccess
	prior.StepStatuses[model.PhaseWork] = model.StepFailed
	state.Attempts = append(state.Attempts, prior)
	state.CurrentAttemptID = prior.AttemptID

	next := NewRetryAttempt(state, "log2.log", "", time.Now())

	if next.StepStatuses[model.PhasePrechecks] != model.StepSkipped {
		t.Errorf("expected prechecks retained as Skipped, got %s", next.StepStatuses[model.PhasePrechecks])
	}
	if next.StepStatuses[model.PhaseWork] != model.StepAbsent {
		t.Errorf("expected work cleared to Absent, got %s", next.StepStatuses[model.PhaseWork])
	}
	if next.WorkInstruction == "" {
		t.Error("expected auto-generated retry prompt")
	}
}
