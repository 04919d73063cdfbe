// Package model defines the scheduler's data model: PlanSpec, JobSpec, their
// mutable runtime counterparts PlanState and JobState, and the Attempt
// record of a single execution pass. Types here are plain data; the state
// machine transitions that mutate them live in the owning components
// (jobrunner, planrunner) so that this package stays free of behavior and is
// safe to serialize directly (§6.1).
package model

import "time"

// JobStatus is the lifecycle state of a single job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobPreparing JobStatus = "preparing"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Phase names the ordered pipeline a job is driven through by the Phase
// Executor: preflight -> [prechecks] -> work -> commit -> [postchecks] ->
// mergeback -> cleanup.
type Phase string

const (
	PhasePreflight   Phase = "preflight"
	PhasePrechecks   Phase = "prechecks"
	PhaseWork        Phase = "work"
	PhaseCommit      Phase = "commit"
	PhasePostchecks  Phase = "postchecks"
	PhaseMergeback   Phase = "mergeback"
	PhaseCleanup     Phase = "cleanup"
)

// OrderedPhases is the fixed phase sequence every job is driven through.
var OrderedPhases = []Phase{
	PhasePreflight,
	PhasePrechecks,
	PhaseWork,
	PhaseCommit,
	PhasePostchecks,
	PhaseMergeback,
	PhaseCleanup,
}

// StepStatus is the outcome of one phase within one attempt.
type StepStatus string

const (
	StepAbsent  StepStatus = "absent"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// PlanStatus is the lifecycle state of an entire plan.
type PlanStatus string

const (
	PlanQueued    PlanStatus = "queued"
	PlanRunning   PlanStatus = "running"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
	PlanCanceled  PlanStatus = "canceled"
	PlanPartial   PlanStatus = "partial"
)

// MergePreference selects which side wins when the agent resolves a
// conflict it cannot fast-path merge.
type MergePreference string

const (
	PreferOurs   MergePreference = "ours"
	PreferTheirs MergePreference = "theirs"
)

// MergeMode names the merge.mode setting (merge, rebase or squash). The
// value is validated by config and carried in planrunner.Options, but no
// merge step reads it: slow-path leaf merges are always squash merges and
// the conflict instruction's wording does not depend on it.
type MergeMode string

const (
	MergeModeMerge  MergeMode = "merge"
	MergeModeRebase MergeMode = "rebase"
	MergeModeSquash MergeMode = "squash"
)

// -----------------------------------------------------------------------------
// PlanSpec / JobSpec — immutable, user-authored
// -----------------------------------------------------------------------------

// PlanSpec is the immutable, user-authored definition of a plan. Created on
// admission and never mutated afterward; runtime bookkeeping lives in
// PlanState.
type PlanSpec struct {
	ID                    string         `json:"id" yaml:"id"`
	Name                  string         `json:"name" yaml:"name"`
	RepoPath              string         `json:"repoPath" yaml:"repoPath"`
	WorktreeRoot          string         `json:"worktreeRoot" yaml:"worktreeRoot"`
	BaseBranch            string         `json:"baseBranch" yaml:"baseBranch"`
	TargetBranch          string         `json:"targetBranch,omitempty" yaml:"targetBranch,omitempty"`
	MaxParallel           int            `json:"maxParallel" yaml:"maxParallel"`
	Jobs                  []JobSpec      `json:"jobs" yaml:"jobs"`
	SubPlans              []SubPlanSpec  `json:"subPlans,omitempty" yaml:"subPlans,omitempty"`
	CleanUpSuccessfulWork bool           `json:"cleanUpSuccessfulWork" yaml:"cleanUpSuccessfulWork"`
}

// SubPlanSpec is a nested PlanSpec that launches once its own producers (via
// JobSpec.ConsumesFrom referencing the sub-plan's plan-local id from the
// parent) are satisfied.
type SubPlanSpec struct {
	ID           string   `json:"id" yaml:"id"`
	ConsumesFrom []string `json:"consumesFrom,omitempty" yaml:"consumesFrom,omitempty"`
	Spec         PlanSpec `json:"spec" yaml:"spec"`
}

// JobInputs holds the per-job overrides and plan-managed bookkeeping fields.
type JobInputs struct {
	BaseBranchOverride   string `json:"baseBranchOverride,omitempty" yaml:"baseBranchOverride,omitempty"`
	TargetBranch         string `json:"targetBranch,omitempty" yaml:"targetBranch,omitempty"`
	WorktreeRoot         string `json:"worktreeRoot,omitempty" yaml:"worktreeRoot,omitempty"`
	AdditionalInstructions string `json:"additionalInstructions,omitempty" yaml:"additionalInstructions,omitempty"`
	IsPlanManaged        bool   `json:"isPlanManaged" yaml:"isPlanManaged"`
	WorktreePath         string `json:"worktreePath,omitempty" yaml:"worktreePath,omitempty"`
}

// Policy holds the phase command strings (or agent-delegation sigils, see
// spec.md §6.3) for a job.
type Policy struct {
	Preflight  string `json:"preflight,omitempty" yaml:"preflight,omitempty"`
	Prechecks  string `json:"prechecks,omitempty" yaml:"prechecks,omitempty"`
	Work       string `json:"work" yaml:"work"`
	Postchecks string `json:"postchecks,omitempty" yaml:"postchecks,omitempty"`
}

// JobSpec is the plan-local, immutable definition of a single DAG node.
type JobSpec struct {
	ID           string    `json:"id" yaml:"id"`
	RunnerJobID  string    `json:"runnerJobId" yaml:"runnerJobId"`
	Name         string    `json:"name" yaml:"name"`
	Task         string    `json:"task" yaml:"task"`
	ConsumesFrom []string  `json:"consumesFrom,omitempty" yaml:"consumesFrom,omitempty"`
	Inputs       JobInputs `json:"inputs" yaml:"inputs"`
	Policy       Policy    `json:"policy" yaml:"policy"`
}

// -----------------------------------------------------------------------------
// Attempt — one execution pass of a job
// -----------------------------------------------------------------------------

// Attempt records a single execution pass of a job.
type Attempt struct {
	AttemptID       string                `json:"attemptId"`
	StartedAt       time.Time             `json:"startedAt"`
	EndedAt         *time.Time            `json:"endedAt,omitempty"`
	LogFile         string                `json:"logFile"`
	StepStatuses    map[Phase]StepStatus  `json:"stepStatuses"`
	TerminalStatus  JobStatus             `json:"terminalStatus,omitempty"`
	WorkSummary     string                `json:"workSummary,omitempty"`
	Metrics         map[string]float64    `json:"metrics,omitempty"`
	WorkInstruction string                `json:"workInstruction"`
}

// NewAttempt returns a fresh Attempt with every phase marked Absent.
func NewAttempt(id, logFile, workInstruction string, startedAt time.Time) *Attempt {
	steps := make(map[Phase]StepStatus, len(OrderedPhases))
	for _, p := range OrderedPhases {
		steps[p] = StepAbsent
	}
	return &Attempt{
		AttemptID:       id,
		StartedAt:       startedAt,
		LogFile:         logFile,
		StepStatuses:    steps,
		WorkInstruction: workInstruction,
	}
}

// -----------------------------------------------------------------------------
// JobState — mutable runtime view of a JobSpec
// -----------------------------------------------------------------------------

// JobState is the mutable runtime counterpart to a JobSpec.
type JobState struct {
	Status          JobStatus            `json:"status"`
	CurrentPhase    Phase                `json:"currentPhase,omitempty"`
	Attempts        []*Attempt           `json:"attempts"`
	CurrentAttemptID string              `json:"currentAttemptId,omitempty"`
	WorkHistory     []string             `json:"workHistory,omitempty"`
	ProcessIDs      []int                `json:"processIds,omitempty"`
	CompletedCommit string               `json:"completedCommit,omitempty"`
	AgentSessionID  string               `json:"agentSessionId,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// NewJobState returns a freshly queued JobState.
func NewJobState(now time.Time) *JobState {
	return &JobState{
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CurrentAttempt returns the attempt matching CurrentAttemptID, or nil.
func (s *JobState) CurrentAttempt() *Attempt {
	for _, a := range s.Attempts {
		if a.AttemptID == s.CurrentAttemptID {
			return a
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// PlanState — mutable runtime view of a PlanSpec
// -----------------------------------------------------------------------------

// SubPlanRuntime tracks a running or completed sub-plan launched from a
// parent plan.
type SubPlanRuntime struct {
	ID              string     `json:"id"`
	Status          PlanStatus `json:"status"`
	IntegrationBranch string   `json:"integrationBranch"`
	CompletedCommit string     `json:"completedCommit,omitempty"`
}

// PlanState is the mutable runtime counterpart to a PlanSpec. The six
// id-sets are pairwise disjoint and their union is a subset of spec.Jobs
// (spec.md §8 invariant 1).
type PlanState struct {
	Status PlanStatus `json:"status"`

	Queued    map[string]bool `json:"queued"`
	Preparing map[string]bool `json:"preparing"`
	Running   map[string]bool `json:"running"`
	Done      map[string]bool `json:"done"`
	Failed    map[string]bool `json:"failed"`
	Canceled  map[string]bool `json:"canceled"`

	Submitted map[string]bool `json:"submitted"`

	JobIDMap map[string]string `json:"jobIdMap"` // plan-local id -> runnerJobId

	CompletedCommits map[string]string `json:"completedCommits"`
	BaseCommits      map[string]string `json:"baseCommits"`
	WorktreePaths    map[string]string `json:"worktreePaths"`

	TargetBranchRoot        string `json:"targetBranchRoot"`
	TargetBranchRootCreated bool   `json:"targetBranchRootCreated"`

	MergedLeaves     map[string]bool `json:"mergedLeaves"`
	CleanedWorkUnits map[string]bool `json:"cleanedWorkUnits"`

	PendingSubPlans   map[string]bool            `json:"pendingSubPlans"`
	RunningSubPlans   map[string]bool            `json:"runningSubPlans"`
	CompletedSubPlans map[string]*SubPlanRuntime `json:"completedSubPlans"`
	FailedSubPlans    map[string]*SubPlanRuntime `json:"failedSubPlans"`

	RIMergeCompleted bool `json:"riMergeCompleted"`

	AggregatedWorkSummary WorkSummary `json:"aggregatedWorkSummary"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WorkSummary is a monoidal (associative, zero-valued-identity) aggregate of
// per-job work counts, folded across every merged leaf.
type WorkSummary struct {
	FilesChanged int `json:"filesChanged"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
	JobsMerged   int `json:"jobsMerged"`
}

// Add folds other into s and returns s, so call sites can chain
// `summary = summary.Add(next)`.
func (s WorkSummary) Add(other WorkSummary) WorkSummary {
	return WorkSummary{
		FilesChanged: s.FilesChanged + other.FilesChanged,
		Insertions:   s.Insertions + other.Insertions,
		Deletions:    s.Deletions + other.Deletions,
		JobsMerged:   s.JobsMerged + other.JobsMerged,
	}
}

// NewPlanState returns a PlanState with the given root job ids queued.
func NewPlanState(rootJobIDs []string, now time.Time) *PlanState {
	ps := &PlanState{
		Status:            PlanQueued,
		Queued:            map[string]bool{},
		Preparing:         map[string]bool{},
		Running:           map[string]bool{},
		Done:              map[string]bool{},
		Failed:            map[string]bool{},
		Canceled:          map[string]bool{},
		Submitted:         map[string]bool{},
		JobIDMap:          map[string]string{},
		CompletedCommits:  map[string]string{},
		BaseCommits:       map[string]string{},
		WorktreePaths:     map[string]string{},
		MergedLeaves:      map[string]bool{},
		CleanedWorkUnits:  map[string]bool{},
		PendingSubPlans:   map[string]bool{},
		RunningSubPlans:   map[string]bool{},
		CompletedSubPlans: map[string]*SubPlanRuntime{},
		FailedSubPlans:    map[string]*SubPlanRuntime{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, id := range rootJobIDs {
		ps.Queued[id] = true
	}
	return ps
}

// IsComplete reports whether no job remains schedulable and no sub-plan is
// pending or running (spec.md §4.G.7).
func (ps *PlanState) IsComplete() bool {
	return len(ps.Queued) == 0 && len(ps.Preparing) == 0 && len(ps.Running) == 0 &&
		len(ps.PendingSubPlans) == 0 && len(ps.RunningSubPlans) == 0
}

// FinalStatus computes the plan's terminal status per spec.md §4.G.7. Only
// meaningful once IsComplete() is true.
func (ps *PlanState) FinalStatus(totalJobs int) PlanStatus {
	anyFailed := len(ps.Failed) > 0 || len(ps.FailedSubPlans) > 0
	anyDone := len(ps.Done) > 0 || len(ps.CompletedSubPlans) > 0
	anyCanceled := len(ps.Canceled) > 0

	switch {
	case anyFailed && anyDone:
		return PlanPartial
	case anyFailed:
		return PlanFailed
	case anyCanceled && !anyDone:
		if len(ps.Canceled) == totalJobs {
			return PlanCanceled
		}
		return PlanPartial
	case anyCanceled:
		return PlanPartial
	default:
		return PlanSucceeded
	}
}
