// Package planrunner is the Plan Runner (spec.md §4.G), the hardest
// component in the scheduler: it admits plans, provisions a worktree per
// job (chaining base branches across producer/consumer edges), hands ready
// jobs to the Job Runner, folds completed leaves into the plan's target
// branch via the Merge Coordinator, launches nested sub-plans, and detects
// plan completion.
package planrunner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironham/conductor/internal/agent"
	"github.com/ironham/conductor/internal/cerr"
	"github.com/ironham/conductor/internal/changebus"
	"github.com/ironham/conductor/internal/gitres"
	"github.com/ironham/conductor/internal/jobrunner"
	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/mergecoord"
	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/reaper"
	"github.com/ironham/conductor/internal/store"
)

// pumpInterval is the ticker period backstopping the Job Runner's
// OnTerminal wake-up (spec.md §5: "a ticker (default 1500 ms) invokes
// pumpAll iff not already pumping").
const pumpInterval = 1500 * time.Millisecond

// Options configures plan-runner-wide policy (spec.md §6.5).
type Options struct {
	MaxParallel            int
	MergeMode               model.MergeMode
	MergePreference         model.MergePreference
	PushOnSuccess           bool
	EnforcePreflight        bool
	CleanUpSuccessfulWork   bool
	ReclaimSubPlanBranches  bool // spec.md §9 open question 2
}

// Deps wires every collaborating component the Plan Runner drives.
type Deps struct {
	Repo      gitres.Repository
	JobRunner *jobrunner.Runner
	Merge     *mergecoord.Coordinator
	Reaper    *reaper.Reaper
	Store     *store.Store
	Bus       *changebus.Bus
	Delegator agent.Delegator
	Logger    *logging.Logger
}

// entry is the Runner's bookkeeping for one admitted plan, parent or
// nested sub-plan alike.
type entry struct {
	spec        *model.PlanSpec
	state       *model.PlanState
	parentID    string // empty for a top-level plan
	prepFutures map[string]*gitres.Future[prepResult]

	// subPlanChild maps a plan-local sub-plan id to the actual plan id it
	// was launched under in r.plans, once launched (§4.G.8).
	subPlanChild map[string]string
}

// prepResult is what a job's worktree-provisioning future (§4.G.4)
// resolves to: the base ref's resolved SHA, recorded into baseCommits.
type prepResult struct {
	BaseCommit string
	Err        error
}

// Runner is Component G, the Plan Runner (spec.md §4.G).
type Runner struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	plans   map[string]*entry
	order   []string // insertion order, for deterministic pump/hash ordering
	pumping bool

	stopCh chan struct{}
	wakeCh chan struct{}
	once   sync.Once
}

// New returns a Runner wired to deps and opts. Callers must call Start to
// begin pumping.
func New(deps Deps, opts Options) *Runner {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	r := &Runner{
		deps:   deps,
		opts:   opts,
		plans:  map[string]*entry{},
		stopCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
	if deps.JobRunner != nil {
		deps.JobRunner.OnTerminal(func(string) { r.wake() })
	}
	return r
}

// wake pokes the pump loop without waiting for the next ticker tick,
// implementing spec.md §9's redesign note ("the ticker pump should be
// replaced with a cooperative loop driven by a channel/notification
// primitive so that state-changes can also poke the pump").
func (r *Runner) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the pump loop on its own goroutine. Safe to call once;
// subsequent calls are no-ops.
func (r *Runner) Start(ctx context.Context) {
	r.once.Do(func() {
		go r.loop(ctx)
	})
}

// Stop halts the pump loop.
func (r *Runner) Stop() {
	close(r.stopCh)
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.pumpAll(ctx)
		case <-r.wakeCh:
			r.pumpAll(ctx)
		}
	}
}

// Enqueue admits a new top-level plan (spec.md §4.G.1) and returns its
// assigned id.
func (r *Runner) Enqueue(spec *model.PlanSpec) (string, error) {
	if spec == nil {
		return "", cerr.NewValidationError("plan spec is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	roots := admitSpec(spec)
	state := model.NewPlanState(roots, time.Now())
	for _, job := range spec.Jobs {
		state.JobIDMap[job.ID] = job.RunnerJobID
	}
	for _, sp := range spec.SubPlans {
		state.PendingSubPlans[sp.ID] = true
	}
	r.plans[spec.ID] = &entry{
		spec:         spec,
		state:        state,
		prepFutures:  map[string]*gitres.Future[prepResult]{},
		subPlanChild: map[string]string{},
	}
	r.order = append(r.order, spec.ID)
	r.persistLocked()
	r.Start(context.Background())
	r.wake()
	return spec.ID, nil
}

// admitSpec fills in every admission default spec.md §4.G.1 describes and
// returns the root job ids. It is also used (via the sub-plan launcher) to
// admit a nested PlanSpec the first time it is launched.
func admitSpec(spec *model.PlanSpec) []string {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if spec.WorktreeRoot == "" {
		spec.WorktreeRoot = filepath.Join(".worktrees", spec.ID)
	}
	if spec.BaseBranch == "" {
		spec.BaseBranch = "main"
	}
	for i := range spec.Jobs {
		if spec.Jobs[i].RunnerJobID == "" {
			spec.Jobs[i].RunnerJobID = uuid.NewString()
		}
		if spec.Jobs[i].Inputs.TargetBranch == "" {
			spec.Jobs[i].Inputs.TargetBranch = fmt.Sprintf("copilot_jobs/%s/%s", spec.ID, spec.Jobs[i].RunnerJobID)
		}
	}
	return rootJobIDs(spec)
}

// Cancel implements spec.md §5's cancellation semantics for a whole plan:
// cancel every currently-running (and preparing) child job, then mark the
// plan Canceled. It does not await termination; the next pump observes it.
func (r *Runner) Cancel(planID string) error {
	r.mu.Lock()
	e, ok := r.plans[planID]
	if !ok {
		r.mu.Unlock()
		return cerr.NewNotFoundError("plan", planID)
	}
	running := keysOf(e.state.Running)
	preparing := keysOf(e.state.Preparing)
	runningSubPlans := keysOf(e.state.RunningSubPlans)
	var childIDs []string
	for _, id := range runningSubPlans {
		if childID, ok := e.subPlanChild[id]; ok {
			childIDs = append(childIDs, childID)
		}
	}
	r.mu.Unlock()

	for _, id := range running {
		r.deps.JobRunner.Cancel(runnerJobID(e.spec, id))
	}
	for _, childID := range childIDs {
		_ = r.Cancel(childID)
	}

	r.mu.Lock()
	for _, id := range preparing {
		delete(e.state.Preparing, id)
		e.state.Canceled[id] = true
		delete(e.prepFutures, id)
	}
	for _, id := range running {
		delete(e.state.Running, id)
		e.state.Canceled[id] = true
	}
	for _, id := range runningSubPlans {
		delete(e.state.RunningSubPlans, id)
		if e.state.FailedSubPlans == nil {
			e.state.FailedSubPlans = map[string]*model.SubPlanRuntime{}
		}
		e.state.FailedSubPlans[id] = &model.SubPlanRuntime{ID: id, Status: model.PlanCanceled}
	}
	e.state.Status = model.PlanCanceled
	r.persistLocked()
	r.mu.Unlock()
	r.wake()
	return nil
}

// Get returns a plan's current state, or nil if unknown. Callers must not
// mutate the returned value.
func (r *Runner) Get(planID string) *model.PlanState {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.plans[planID]
	if !ok {
		return nil
	}
	return e.state
}

// List returns every top-level plan id this Runner tracks, in admission
// order.
func (r *Runner) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, id := range r.order {
		if e, ok := r.plans[id]; ok && e.parentID == "" {
			out = append(out, id)
		}
	}
	return out
}

func runnerJobID(spec *model.PlanSpec, planLocalID string) string {
	if job, ok := jobByID(spec, planLocalID); ok {
		return job.RunnerJobID
	}
	return planLocalID
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
