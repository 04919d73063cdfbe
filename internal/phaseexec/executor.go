package phaseexec

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/store"
)

// OrphanPolicy controls the terminal status assigned to a restart-recovered
// job whose last tracked PID exits with an unknown exit code (spec.md §9
// Open Question 1; decision recorded in SPEC_FULL.md §13.1).
type OrphanPolicy string

const (
	// OrphanPolicyFailed marks the job Failed: no commit SHA was captured,
	// so invariant 5 (§8) cannot be honored by claiming Succeeded.
	OrphanPolicyFailed OrphanPolicy = "failed"
	// OrphanPolicySucceeded is the source's original best-effort behavior,
	// opt-in for operators who trust their process supervision.
	OrphanPolicySucceeded OrphanPolicy = "succeeded"
)

// EnforcePreflight, when true, fails preflight if the configured agent CLI
// cannot be found (spec.md §6.5 copilotCli.enforceInJobs).
type Options struct {
	EnforcePreflight bool
	OrphanPolicy     OrphanPolicy
	LogDir           string
}

// Executor drives a single job's JobState through the ordered phases,
// recording PIDs for later cancellation and writing attempt progress to a
// per-attempt JobLog.
type Executor struct {
	repoPath  string
	delegator agent.Delegator
	gitCommit CommitFunc
	logger    *logging.Logger
	opts      Options
}

// CommitFunc performs the commit phase's git mechanics (stage + commit +
// resolve HEAD), injected so phaseexec stays decoupled from gitres's
// concrete type and is easy to fake in tests. messageFor is called at most
// once, and only when the implementation has determined there is actually
// something staged to commit, so a no-op attempt never triggers an agent
// delegation for a message that would go unused.
type CommitFunc func(ctx context.Context, worktreePath string, messageFor func() string) (sha string, err error)

// NewExecutor constructs a phase Executor for one job runner.
func NewExecutor(repoPath string, delegator agent.Delegator, commit CommitFunc, logger *logging.Logger, opts Options) *Executor {
	return &Executor{repoPath: repoPath, delegator: delegator, gitCommit: commit, logger: logger, opts: opts}
}

// Run drives job through the full phase sequence, mutating state in place
// and returning once a terminal status is reached. worktreePath is the
// job's dedicated worktree (jobRoot, per spec.md §4.C "cwd = jobRoot").
// isPlanManaged jobs skip mergeback/cleanup, which the Plan Runner owns.
func (e *Executor) Run(ctx context.Context, job *model.JobSpec, state *model.JobState, worktreePath string, isPlanManaged bool, log *store.JobLog) {
	state.Status = model.JobRunning
	attempt := state.CurrentAttempt()
	if attempt == nil {
		return
	}

	phases := model.OrderedPhases
	for _, phase := range phases {
		if isPlanManaged && (phase == model.PhaseMergeback || phase == model.PhaseCleanup) {
			attempt.StepStatuses[phase] = model.StepSkipped
			continue
		}

		state.CurrentPhase = phase
		state.UpdatedAt = time.Now()

		ok := e.runPhase(ctx, job, state, attempt, phase, worktreePath, log)
		if state.Status == model.JobCanceled {
			return
		}
		if !ok {
			state.Status = model.JobFailed
			attempt.TerminalStatus = model.JobFailed
			now := time.Now()
			attempt.EndedAt = &now
			return
		}
	}

	state.Status = model.JobSucceeded
	attempt.TerminalStatus = model.JobSucceeded
	now := time.Now()
	attempt.EndedAt = &now
}

// runPhase executes one phase and returns whether the job may proceed.
func (e *Executor) runPhase(ctx context.Context, job *model.JobSpec, state *model.JobState, attempt *model.Attempt, phase model.Phase, worktreePath string, log *store.JobLog) bool {
	if log != nil {
		log.SectionStart(string(phase))
		defer log.SectionEnd(string(phase))
	}

	command := commandFor(job, phase)

	switch phase {
	case model.PhasePreflight:
		return e.runPreflight(attempt, log)
	case model.PhasePrechecks, model.PhasePostchecks:
		if phase == model.PhasePrechecks && attempt.StepStatuses[phase] == model.StepSkipped {
			// Carried over from a prior attempt's successful prechecks (NewRetryAttempt).
			return true
		}
		if command == "" {
			attempt.StepStatuses[phase] = model.StepSkipped
			return true
		}
		return e.runCommandOrAgent(ctx, job, state, attempt, phase, command, worktreePath, log)
	case model.PhaseWork:
		if command == "" {
			attempt.StepStatuses[phase] = model.StepFailed
			if log != nil {
				log.Writeln("work phase command is empty; failing hard")
			}
			return false
		}
		return e.runCommandOrAgent(ctx, job, state, attempt, phase, command, worktreePath, log)
	case model.PhaseCommit:
		return e.runCommit(ctx, state, attempt, worktreePath, log)
	case model.PhaseMergeback, model.PhaseCleanup:
		// Owned by the Plan Runner / Cleanup Reaper for plan-managed jobs;
		// a standalone job (not plan-managed) treats these as no-ops since
		// it has no plan-level target branch to merge into.
		attempt.StepStatuses[phase] = model.StepSuccess
		return true
	default:
		attempt.StepStatuses[phase] = model.StepSuccess
		return true
	}
}

func commandFor(job *model.JobSpec, phase model.Phase) string {
	switch phase {
	case model.PhasePreflight:
		return job.Policy.Preflight
	case model.PhasePrechecks:
		return job.Policy.Prechecks
	case model.PhaseWork:
		return job.Policy.Work
	case model.PhasePostchecks:
		return job.Policy.Postchecks
	default:
		return ""
	}
}

func (e *Executor) runPreflight(attempt *model.Attempt, log *store.JobLog) bool {
	if e.opts.EnforcePreflight && e.delegator != nil && !e.delegator.Available() {
		attempt.StepStatuses[model.PhasePreflight] = model.StepFailed
		if log != nil {
			log.Writeln("agent CLI not found and enforcement is enabled")
		}
		return false
	}
	attempt.StepStatuses[model.PhasePreflight] = model.StepSuccess
	return true
}

// isAgentCommand reports whether command should be dispatched to the Agent
// Delegator rather than run as a shell command (spec.md §6.3).
func isAgentCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	return strings.HasPrefix(trimmed, "@agent") || strings.HasPrefix(trimmed, "@copilot")
}

func (e *Executor) runCommandOrAgent(ctx context.Context, job *model.JobSpec, state *model.JobState, attempt *model.Attempt, phase model.Phase, command, worktreePath string, log *store.JobLog) bool {
	if isAgentCommand(command) {
		return e.runAgentPhase(ctx, job, state, attempt, phase, command, worktreePath, log)
	}
	return e.runShellPhase(ctx, state, attempt, phase, command, worktreePath, log)
}

func (e *Executor) runShellPhase(ctx context.Context, state *model.JobState, attempt *model.Attempt, phase model.Phase, command, worktreePath string, log *store.JobLog) bool {
	cmd := exec.CommandContext(ctx, shellName(), shellFlag(), command)
	cmd.Dir = worktreePath

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		attempt.StepStatuses[phase] = model.StepFailed
		return false
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		attempt.StepStatuses[phase] = model.StepFailed
		return false
	}

	if err := cmd.Start(); err != nil {
		attempt.StepStatuses[phase] = model.StepFailed
		if log != nil {
			log.Writeln(fmt.Sprintf("failed to start phase command: %v", err))
		}
		return false
	}

	state.ProcessIDs = append(state.ProcessIDs, cmd.Process.Pid)

	done := make(chan struct{}, 2)
	go pipeToLog(stdout, phase, log, done)
	go pipeToLog(stderr, phase, log, done)
	<-done
	<-done

	err = cmd.Wait()
	state.ProcessIDs = removePID(state.ProcessIDs, cmd.Process.Pid)

	if state.Status == model.JobCanceled {
		attempt.StepStatuses[phase] = model.StepFailed
		return false
	}

	if err != nil {
		attempt.StepStatuses[phase] = model.StepFailed
		return false
	}

	attempt.StepStatuses[phase] = model.StepSuccess
	return true
}

func (e *Executor) runAgentPhase(ctx context.Context, job *model.JobSpec, state *model.JobState, attempt *model.Attempt, phase model.Phase, command, worktreePath string, log *store.JobLog) bool {
	if e.delegator == nil {
		attempt.StepStatuses[phase] = model.StepFailed
		return false
	}

	prompt := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(command), "@agent"), "@copilot")
	result := e.delegator.Delegate(ctx, agent.Request{
		Task:         prompt,
		WorktreePath: worktreePath,
		SessionID:    state.AgentSessionID,
		OnProcess:    func(pid int) { state.ProcessIDs = append(state.ProcessIDs, pid) },
		LogOutput:    func(line string) { logLine(log, phase, line) },
	})

	if result.SessionID != "" {
		state.AgentSessionID = result.SessionID
	}

	if !result.Success {
		attempt.StepStatuses[phase] = model.StepFailed
		return false
	}
	attempt.StepStatuses[phase] = model.StepSuccess
	return true
}

func (e *Executor) runCommit(ctx context.Context, state *model.JobState, attempt *model.Attempt, worktreePath string, log *store.JobLog) bool {
	messageFor := func() string {
		return e.resolveCommitMessage(ctx, state, attempt, worktreePath, log)
	}

	sha, err := e.gitCommit(ctx, worktreePath, messageFor)
	if err != nil {
		attempt.StepStatuses[model.PhaseCommit] = model.StepFailed
		if log != nil {
			log.Writeln(fmt.Sprintf("commit failed: %v", err))
		}
		return false
	}

	if sha != "" {
		state.CompletedCommit = sha
	}
	attempt.StepStatuses[model.PhaseCommit] = model.StepSuccess
	return true
}

// resolveCommitMessage asks the Agent Delegator to summarize the attempt's
// work as a commit message (spec.md §4.C: "ask the Agent Delegator to
// produce a message, or fall back to a deterministic one"), mirroring
// runAgentPhase's request shape. Falls back to attempt.WorkSummary, or a
// deterministic message, when no delegator is configured or delegation
// fails to produce usable output.
func (e *Executor) resolveCommitMessage(ctx context.Context, state *model.JobState, attempt *model.Attempt, worktreePath string, log *store.JobLog) string {
	fallback := fmt.Sprintf("conductor: automated commit for attempt %s", attempt.AttemptID)
	if attempt.WorkSummary != "" {
		fallback = attempt.WorkSummary
	}
	if e.delegator == nil {
		return fallback
	}

	var collected strings.Builder
	result := e.delegator.Delegate(ctx, agent.Request{
		Task:         "Summarize the staged changes in this worktree as a single-line git commit message.",
		WorktreePath: worktreePath,
		SessionID:    state.AgentSessionID,
		OnProcess:    func(pid int) { state.ProcessIDs = append(state.ProcessIDs, pid) },
		LogOutput: func(line string) {
			logLine(log, model.PhaseCommit, line)
			collected.WriteString(line)
			collected.WriteByte('\n')
		},
	})
	if result.SessionID != "" {
		state.AgentSessionID = result.SessionID
	}
	if !result.Success {
		return fallback
	}
	if message := firstNonEmptyLine(collected.String()); message != "" {
		return message
	}
	return fallback
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// Cancel marks state Canceled and kills every tracked PID (spec.md §4.C).
func Cancel(state *model.JobState) {
	state.Status = model.JobCanceled
	KillAll(state.ProcessIDs)
	state.ProcessIDs = nil
}

func removePID(pids []int, target int) []int {
	out := pids[:0]
	for _, p := range pids {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

func logLine(log *store.JobLog, phase model.Phase, line string) {
	if log != nil {
		log.WritelnPhase(string(phase), line)
	}
}

func pipeToLog(r io.Reader, phase model.Phase, log *store.JobLog, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	scanLines(r, func(line string) { logLine(log, phase, line) })
}
