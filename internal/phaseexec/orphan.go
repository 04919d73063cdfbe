package phaseexec

import (
	"time"

	"github.com/ironham/conductor/internal/logging"
	"github.com/ironham/conductor/internal/model"
)

// silentThreshold and warnInterval implement spec.md §4.C's restart-monitor
// heuristic: "if activity-silent for 10 minutes, emit a warning every 5
// minutes".
const (
	pollInterval    = 2 * time.Second
	silentThreshold = 10 * time.Minute
	warnInterval    = 5 * time.Minute
)

// ReconcileOrphan probes a job that was persisted with status Running. If
// every tracked PID is gone, it is marked Failed immediately; no separate
// "orphaned" reason is recorded on the state or its attempt. Otherwise it
// starts passive monitoring in the background and returns immediately so
// startup is never blocked on a live orphan.
//
// policy controls the outcome once the last surviving PID exits: Succeeded
// (the source's original best-effort behavior) or Failed (this repo's
// default, since no commit SHA was captured for invariant 5).
func ReconcileOrphan(state *model.JobState, policy OrphanPolicy, logger *logging.Logger, onSettled func()) {
	alive := AliveSubset(state.ProcessIDs)
	if len(alive) == 0 {
		markOrphanFailed(state)
		if onSettled != nil {
			onSettled()
		}
		return
	}

	state.ProcessIDs = alive
	go monitorOrphan(state, policy, logger, onSettled)
}

func markOrphanFailed(state *model.JobState) {
	state.Status = model.JobFailed
	state.ProcessIDs = nil
	if attempt := state.CurrentAttempt(); attempt != nil {
		attempt.TerminalStatus = model.JobFailed
		now := time.Now()
		attempt.EndedAt = &now
	}
}

func monitorOrphan(state *model.JobState, policy OrphanPolicy, logger *logging.Logger, onSettled func()) {
	lastActivity := time.Now()
	lastWarn := time.Time{}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		alive := AliveSubset(state.ProcessIDs)
		state.ProcessIDs = alive

		if len(alive) == 0 {
			finalizeOrphan(state, policy)
			if onSettled != nil {
				onSettled()
			}
			return
		}

		if time.Since(lastActivity) > silentThreshold && time.Since(lastWarn) > warnInterval {
			if logger != nil {
				logger.Warn("orphaned job has been silent", "silentFor", time.Since(lastActivity).String())
			}
			lastWarn = time.Now()
		}
	}
}

func finalizeOrphan(state *model.JobState, policy OrphanPolicy) {
	attempt := state.CurrentAttempt()
	switch {
	case state.Status == model.JobFailed:
		// already failed before restart; stays failed.
	case policy == OrphanPolicySucceeded:
		state.Status = model.JobSucceeded
		if attempt != nil {
			attempt.TerminalStatus = model.JobSucceeded
		}
	default:
		state.Status = model.JobFailed
		if attempt != nil {
			attempt.TerminalStatus = model.JobFailed
		}
	}
	if attempt != nil && attempt.EndedAt == nil {
		now := time.Now()
		attempt.EndedAt = &now
	}
}
