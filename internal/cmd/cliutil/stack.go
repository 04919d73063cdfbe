// Package cliutil assembles the full conductor stack (Git Resource Layer,
// Job Runner, Merge Coordinator, Reaper, Store, Change Bus, Plan Runner)
// the way the teacher's cmd/session package assembles its orchestrator,
// so every CLI subcommand shares one construction path instead of each
// hand-rolling its own wiring.
package cliutil

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/changebus"
	appconfig "github.com/ironham/conductor/internal/config"
	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/jobrunner"
	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/mergecoord"
	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/phaseexec"
	"github.com/ironham/conductor/internal/planrunner"
	"github.com/ironham/conductor/internal/reaper"
	"github.com/ironham/conductor/internal/store"
)

// jobPersistDebounce and planPersistDebounce match spec.md §4.B's two
// distinct persistence windows: the scheduler abstraction's own state
// debounces fast (100ms, since jobs settle quickly and job state is what a
// restarting process needs first), while the plan runner's writes debounce
// slower (1000ms, since a plan snapshot is larger and changes less often
// per pump cycle).
const (
	jobPersistDebounce  = 100 * time.Millisecond
	planPersistDebounce = 1000 * time.Millisecond
)

// StateDir is the directory conductor's per-project state (persisted
// snapshots, logs) lives under, relative to the repo root being scheduled.
const StateDir = ".conductor"

// Stack is every live component a CLI command needs, torn down with Close.
type Stack struct {
	Repo      gitres.Repository
	Logger    *logging.Logger
	JobStore  *store.Store
	PlanStore *store.Store
	JobRunner *jobrunner.Runner
	Merge     *mergecoord.Coordinator
	Reaper    *reaper.Reaper
	Bus       *changebus.Bus
	Plans     *planrunner.Runner
}

// Build wires a full Stack rooted at repoPath, using cfg for policy. It
// loads any previously persisted job/plan snapshots and reconciles orphans
// left by an unclean restart before returning.
func Build(repoPath string, cfg *appconfig.Config) (*Stack, error) {
	stateDir := filepath.Join(repoPath, StateDir)

	logger, err := logging.NewLogger(stateDir, logging.LevelInfo)
	if err != nil {
		return nil, err
	}

	jobStore, err := store.New(stateDir, "jobs.json", jobPersistDebounce, logger)
	if err != nil {
		return nil, err
	}
	planStore, err := store.New(stateDir, "plans.json", planPersistDebounce, logger)
	if err != nil {
		return nil, err
	}

	repo := gitres.NewCLIRepository()

	var delegator agent.Delegator = agent.NewCLIDelegator("copilot", nil, logger)

	orphanPolicy := phaseexec.OrphanPolicyFailed
	if cfg.Orchestrator.OrphanExitPolicy == string(phaseexec.OrphanPolicySucceeded) {
		orphanPolicy = phaseexec.OrphanPolicySucceeded
	}

	logDir := filepath.Join(stateDir, "logs")
	jr := jobrunner.New(
		maxParallel(cfg.Orchestrator.MaxParallel),
		delegator,
		planrunner.BuildCommitFunc(repo),
		logger,
		phaseexec.Options{
			EnforcePreflight: cfg.CopilotCLI.EnforceInJobs,
			OrphanPolicy:     orphanPolicy,
			LogDir:           logDir,
		},
		jobStore,
	)
	jr.SetLogDir(logDir)

	var jobSnap jobrunner.Snapshot
	if ok, err := jobStore.Load(&jobSnap); err == nil && ok {
		jr.LoadSnapshot(jobSnap)
		jr.ReconcileOrphans()
	}

	mc := mergecoord.NewCoordinator(repo, delegator, logger, model.MergePreference(cfg.Merge.Prefer))
	rp := reaper.NewReaper(repo, logger)

	plans := planrunner.New(planrunner.Deps{
		Repo:      repo,
		JobRunner: jr,
		Merge:     mc,
		Reaper:    rp,
		Store:     planStore,
		Delegator: delegator,
		Logger:    logger,
	}, planrunner.Options{
		MaxParallel:            maxParallel(cfg.Orchestrator.MaxParallel),
		MergeMode:              model.MergeMode(cfg.Merge.Mode),
		MergePreference:        model.MergePreference(cfg.Merge.Prefer),
		PushOnSuccess:          cfg.Merge.PushOnSuccess,
		EnforcePreflight:       cfg.CopilotCLI.EnforceInJobs,
		CleanUpSuccessfulWork:  cfg.Plan.CleanUpSuccessfulWork,
		ReclaimSubPlanBranches: cfg.Plan.ReclaimSubPlanBranches,
	})

	bus := changebus.NewBus(plans.Snapshots)

	var planSnap planrunner.Snapshot
	if ok, err := planStore.Load(&planSnap); err == nil && ok {
		plans.LoadSnapshot(planSnap)
	}

	return &Stack{
		Repo:      repo,
		Logger:    logger,
		JobStore:  jobStore,
		PlanStore: planStore,
		JobRunner: jr,
		Merge:     mc,
		Reaper:    rp,
		Bus:       bus,
		Plans:     plans,
	}, nil
}

// Close flushes every store to disk.
func (s *Stack) Close() error {
	if err := s.JobStore.Flush(); err != nil {
		return err
	}
	return s.PlanStore.Flush()
}

// maxParallel implements spec.md §6.5's "0 or absent ⇒ auto: CPU-count
// minus one" default.
func maxParallel(configured int) int {
	if configured > 0 {
		return configured
	}
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}
