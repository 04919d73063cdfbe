// Package changebus is the Change Bus (spec.md §4.H): a single-producer
// event emitter that coalesces state-changed notifications and caches the
// public snapshot list between fires, so a UI or MCP facade can poll
// cheaply instead of re-walking every plan's state on every tick.
package changebus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ironham/conductor/internal/model"
)

// PlanSnapshot is the Change Bus's public, immutable view of one plan. It is
// a deep copy: callers may read it freely without any risk of observing (or
// corrupting) the scheduler's live PlanState, per spec.md §9's redesign
// note ("the external snapshot must be a deep, immutable copy").
type PlanSnapshot struct {
	ID               string
	Name             string
	Status           model.PlanStatus
	Queued           []string
	Preparing        []string
	Running          []string
	Done             []string
	Failed           []string
	Canceled         []string
	MergedLeaves     []string
	CleanedWorkUnits []string
	TargetBranchRoot string
	AggregatedWorkSummary model.WorkSummary
}

// ListFunc produces a fresh set of public snapshots. The Bus treats it as
// expensive and only calls it once per state-hash change, caching the
// result in between (spec.md §4.H: "the public list() snapshot is cached
// and invalidated on every fire").
type ListFunc func() []PlanSnapshot

// Handler receives a notification that at least one plan's state changed.
// It carries no payload: subscribers call List() to read the new snapshot,
// matching the teacher's event.Bus Handler shape but specialized to this
// package's single coalesced event kind.
type Handler func()

// Bus is Component H, the Change Bus (spec.md §4.H).
type Bus struct {
	listFn ListFunc

	mu         sync.Mutex
	lastHash   string
	cached     []PlanSnapshot
	cacheValid bool
	handlers   map[int]Handler
	nextID     int
}

// NewBus returns a Bus that calls listFn to (re)build the public snapshot
// whenever the cache is invalidated.
func NewBus(listFn ListFunc) *Bus {
	return &Bus{listFn: listFn, handlers: map[int]Handler{}}
}

// Subscribe registers handler to be called (synchronously, on the
// publisher's goroutine) every time Publish fires a genuinely new hash.
// Returns an id usable with Unsubscribe.
func (b *Bus) Subscribe(handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Publish computes the lightweight state hash for the given plans (spec.md
// §4.H: "concatenation of each plan's id, status, and the lengths of
// queued/preparing/running/done/failed") and fires a coalesced
// notification to every subscriber iff the hash differs from the last one
// fired. A panicking handler is recovered and logged-equivalent (swallowed)
// so one bad subscriber can't break the pump loop that calls Publish.
func (b *Bus) Publish(plans []PlanHashInput) {
	hash := HashPlans(plans)

	b.mu.Lock()
	if hash == b.lastHash {
		b.mu.Unlock()
		return
	}
	b.lastHash = hash
	b.cacheValid = false
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.safeCall(h)
	}
}

func (b *Bus) safeCall(h Handler) {
	defer func() { _ = recover() }()
	h()
}

// List returns the cached public snapshot, rebuilding it via ListFunc only
// if the cache was invalidated by the most recent Publish.
func (b *Bus) List() []PlanSnapshot {
	b.mu.Lock()
	if b.cacheValid {
		cached := b.cached
		b.mu.Unlock()
		return cached
	}
	b.mu.Unlock()

	fresh := b.listFn()

	b.mu.Lock()
	b.cached = fresh
	b.cacheValid = true
	b.mu.Unlock()
	return fresh
}

// PlanHashInput is the minimal information Publish needs from one plan to
// compute the coalescing hash, decoupling this package from planrunner's
// concrete PlanState type.
type PlanHashInput struct {
	ID        string
	Status    model.PlanStatus
	Queued    int
	Preparing int
	Running   int
	Done      int
	Failed    int
}

// HashPlans computes the lightweight, order-independent... actually
// order-DEPENDENT concatenation spec.md §4.H describes; callers should
// supply plans in a stable order (e.g. sorted by ID) so equivalent states
// always hash identically.
func HashPlans(plans []PlanHashInput) string {
	var b strings.Builder
	for _, p := range plans {
		fmt.Fprintf(&b, "%s|%s|%d|%d|%d|%d|%d;", p.ID, p.Status, p.Queued, p.Preparing, p.Running, p.Done, p.Failed)
	}
	return b.String()
}
