// Package jobrunner is the Job Runner (spec.md §4.F): a bounded-concurrency
// queue of jobs that hands each one to the Phase Executor, tracks PIDs for
// cancellation, and reconciles orphaned jobs left Running by an unclean
// restart.
package jobrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/phaseexec"
	"github.com/ironham/conductor/internal/store"
)

// Submission is one unit of work handed to the Runner: the job's immutable
// spec plus the plan-managed bookkeeping the Plan Runner has already
// resolved (worktreePath is created ahead of time by the Plan Runner's
// async provisioning, §4.G.4).
type Submission struct {
	Job           model.JobSpec
	WorktreePath  string
	IsPlanManaged bool
}

// record is the Runner's internal bookkeeping for one in-flight or
// completed job.
type record struct {
	spec         model.JobSpec
	state        *model.JobState
	worktreePath string
	isPlanManaged bool
}

// CommitFunc mirrors phaseexec.CommitFunc; threaded through so the Runner
// can construct an Executor per job without importing gitres directly.
type CommitFunc func(ctx context.Context, worktreePath string, messageFor func() string) (string, error)

// Runner is Component F, the Job Runner (spec.md §4.F): it maintains a FIFO
// queue of submitted jobs bounded by maxConcurrency, running each through
// the Phase Executor on its own goroutine.
type Runner struct {
	mu             sync.Mutex
	jobs           map[string]*record // runnerJobId -> record
	queue          []string
	working        int
	maxConcurrency int

	delegator  agent.Delegator
	commit     CommitFunc
	logger     *logging.Logger
	opts       phaseexec.Options
	logDir     string
	logPeriod  time.Duration

	store *store.Store

	onTerminal func(runnerJobID string) // notifies the Plan Runner's pump, see changebus wiring
}

// New returns a Runner bounded to maxConcurrency simultaneously Running
// jobs. A value of 0 or less is clamped to 1; resolving an "auto" setting
// (CPU count minus one, spec.md §6.5) is up to the caller, and the Runner
// itself just enforces whatever positive bound it is given.
func New(maxConcurrency int, delegator agent.Delegator, commit CommitFunc, logger *logging.Logger, opts phaseexec.Options, st *store.Store) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Runner{
		jobs:           map[string]*record{},
		maxConcurrency: maxConcurrency,
		delegator:      delegator,
		commit:         commit,
		logger:         logger,
		opts:           opts,
		logPeriod:      100 * time.Millisecond,
		store:          st,
	}
}

// OnTerminal registers a callback fired (from the job's own goroutine)
// every time a job reaches a terminal status, so a caller like the Plan
// Runner's pump can be poked instead of polling on a fixed ticker.
func (r *Runner) OnTerminal(fn func(runnerJobID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTerminal = fn
}

// Submit enqueues sub for execution, assigning it a fresh JobState if one
// isn't already tracked (idempotent on sub.Job.RunnerJobID, so the Plan
// Runner can safely re-submit after a restart without double-queuing).
func (r *Runner) Submit(sub Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := sub.Job.RunnerJobID
	if _, exists := r.jobs[id]; exists {
		return
	}
	r.jobs[id] = &record{
		spec:          sub.Job,
		state:         model.NewJobState(time.Now()),
		worktreePath:  sub.WorktreePath,
		isPlanManaged: sub.IsPlanManaged,
	}
	r.queue = append(r.queue, id)
	r.persistLocked()
	r.pumpLocked()
}

// Get returns the job's tracked state (the live value, not a copy), or nil
// if unknown. Callers must not mutate the returned state.
func (r *Runner) Get(runnerJobID string) *model.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[runnerJobID]
	if !ok {
		return nil
	}
	return rec.state
}

// Cancel marks runnerJobID Canceled and kills every PID tracked for it
// (spec.md §4.C cancellation). A job not currently tracked is a no-op.
func (r *Runner) Cancel(runnerJobID string) {
	r.mu.Lock()
	rec, ok := r.jobs[runnerJobID]
	r.mu.Unlock()
	if !ok {
		return
	}
	phaseexec.Cancel(rec.state)
	r.mu.Lock()
	r.removeFromQueueLocked(runnerJobID)
	r.persistLocked()
	r.mu.Unlock()
}

func (r *Runner) removeFromQueueLocked(runnerJobID string) {
	out := r.queue[:0]
	for _, id := range r.queue {
		if id != runnerJobID {
			out = append(out, id)
		}
	}
	r.queue = out
}

// pumpLocked dequeues while working < maxConcurrency (spec.md §4.F). Caller
// must hold r.mu.
func (r *Runner) pumpLocked() {
	for r.working < r.maxConcurrency && len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]
		rec, ok := r.jobs[id]
		if !ok {
			continue
		}
		r.working++
		go r.run(id, rec)
	}
}

// run drives one job to a terminal status on its own goroutine and then
// pumps the queue again.
func (r *Runner) run(id string, rec *record) {
	ctx := context.Background()
	now := time.Now()
	// Run the attempt Retry already opened; otherwise open a fresh one.
	attempt := rec.state.CurrentAttempt()
	if attempt == nil || attempt.TerminalStatus != "" {
		attemptID := uuid.NewString()
		attempt = model.NewAttempt(attemptID, r.attemptLogPath(id, attemptID), rec.spec.Task, now)
		rec.state.Attempts = append(rec.state.Attempts, attempt)
		rec.state.CurrentAttemptID = attempt.AttemptID
	}

	var log *store.JobLog
	if r.logDir != "" {
		if l, err := store.NewJobLog(attempt.LogFile, r.logPeriod); err == nil {
			log = l
			defer log.Close()
		}
	}

	repoPath := rec.worktreePath
	executor := phaseexec.NewExecutor(repoPath, r.delegator, phaseexec.CommitFunc(r.commit), r.logger, r.opts)
	executor.Run(ctx, &rec.spec, rec.state, rec.worktreePath, rec.isPlanManaged, log)

	r.mu.Lock()
	r.working--
	r.persistLocked()
	onTerminal := r.onTerminal
	r.mu.Unlock()

	if onTerminal != nil {
		onTerminal(id)
	}

	r.mu.Lock()
	r.pumpLocked()
	r.mu.Unlock()
}

// attemptLogPath builds the per-attempt log path per spec.md §6.2:
// "<globalStorage>/logs/<runnerJobId>-attempt-<first8OfAttemptId>.log".
func (r *Runner) attemptLogPath(runnerJobID, attemptID string) string {
	short := attemptID
	if len(short) > 8 {
		short = short[:8]
	}
	return joinLogDir(r.logDir, fmt.Sprintf("%s-attempt-%s.log", runnerJobID, short))
}

// SetLogDir configures the directory attempt logs are written under
// (spec.md §6.2). Must be called before Submit to take effect.
func (r *Runner) SetLogDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logDir = dir
}

// Retry opens a fresh Attempt for runnerJobID (spec.md §4.C retry
// semantics) and re-queues it.
func (r *Runner) Retry(runnerJobID, retryContext string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[runnerJobID]
	if !ok {
		return fmt.Errorf("jobrunner: unknown job %s", runnerJobID)
	}
	attempt := phaseexec.NewRetryAttempt(rec.state, "", retryContext, time.Now())
	attempt.LogFile = r.attemptLogPath(runnerJobID, attempt.AttemptID)
	r.queue = append(r.queue, runnerJobID)
	r.persistLocked()
	r.pumpLocked()
	return nil
}

// ReconcileOrphans probes every job this Runner holds with a persisted
// status of Running (loaded via LoadSnapshot before any caller observes
// this Runner's state), per spec.md §4.C / §8 invariant 10.
func (r *Runner) ReconcileOrphans() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.jobs {
		if rec.state.Status != model.JobRunning {
			continue
		}
		rjID := id
		phaseexec.ReconcileOrphan(rec.state, r.opts.OrphanPolicy, r.logger, func() {
			r.mu.Lock()
			r.persistLocked()
			onTerminal := r.onTerminal
			r.mu.Unlock()
			if onTerminal != nil {
				onTerminal(rjID)
			}
		})
	}
}

// Snapshot is the persisted shape of the Runner's state (spec.md §6.1:
// "{ jobs: [...] }").
type Snapshot struct {
	Jobs []JobEntry `json:"jobs"`
}

// JobEntry is one persisted job record: its spec plus runtime state.
type JobEntry struct {
	Spec  model.JobSpec    `json:"spec"`
	State *model.JobState  `json:"state"`
	WorktreePath  string   `json:"worktreePath"`
	IsPlanManaged bool     `json:"isPlanManaged"`
}

func (r *Runner) persistLocked() {
	if r.store == nil {
		return
	}
	snap := Snapshot{}
	for _, rec := range r.jobs {
		snap.Jobs = append(snap.Jobs, JobEntry{
			Spec:          rec.spec,
			State:         rec.state,
			WorktreePath:  rec.worktreePath,
			IsPlanManaged: rec.isPlanManaged,
		})
	}
	_ = r.store.Save(snap)
}

// LoadSnapshot restores jobs from a previously persisted Snapshot. Call
// before any Submit so restored jobs aren't clobbered, then call
// ReconcileOrphans.
func (r *Runner) LoadSnapshot(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range snap.Jobs {
		rec := &record{
			spec:          entry.Spec,
			state:         entry.State,
			worktreePath:  entry.WorktreePath,
			isPlanManaged: entry.IsPlanManaged,
		}
		r.jobs[entry.Spec.RunnerJobID] = rec
		if rec.state.Status == model.JobQueued {
			r.queue = append(r.queue, entry.Spec.RunnerJobID)
		}
	}
}

func joinLogDir(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
