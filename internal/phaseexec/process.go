// Package phaseexec is the Phase Executor (spec.md §4.C): it drives one job
// through the ordered phase sequence preflight -> [prechecks] -> work ->
// commit -> [postchecks] -> mergeback -> cleanup, spawning shell commands
// or delegating to an agent, tracking PIDs for cancellation, and
// reconciling orphaned jobs on restart.
package phaseexec

import (
	"golang.org/x/sys/unix"
)

// IsProcessAlive reports whether pid names a live process, using kill(pid,
// 0) which checks existence without signaling (POSIX only; this repo does
// not target Windows process probing in the scheduler core).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// KillPID sends SIGKILL to pid. Used for live cancellation (via KillAll);
// a no-op if the process is already dead.
func KillPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	if !IsProcessAlive(pid) {
		return nil
	}
	return unix.Kill(pid, unix.SIGKILL)
}

// KillAll sends SIGKILL to every tracked PID, best-effort (spec.md §4.C
// cancellation: "issues SIGKILL ... to every tracked PID, clears the PID
// set"). Errors are swallowed since a PID may have already exited.
func KillAll(pids []int) {
	for _, pid := range pids {
		_ = KillPID(pid)
	}
}

// AnyAlive reports whether at least one of pids is still running.
func AnyAlive(pids []int) bool {
	for _, pid := range pids {
		if IsProcessAlive(pid) {
			return true
		}
	}
	return false
}

// AliveSubset returns the subset of pids that are still running, preserving
// order. Used by orphan reconciliation (spec.md §8 invariant 10) to narrow
// a persisted PID set down to what's actually still alive after a restart.
func AliveSubset(pids []int) []int {
	var alive []int
	for _, pid := range pids {
		if IsProcessAlive(pid) {
			alive = append(alive, pid)
		}
	}
	return alive
}
