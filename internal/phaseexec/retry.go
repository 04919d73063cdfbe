package phaseexec

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ironham/conductor/internal/model"
)

// NewRetryAttempt opens a fresh Attempt for job, carrying forward any
// Success prechecks step as Skipped and clearing work/postchecks (spec.md
// §4.C retry semantics). retryContext, if empty, is replaced with an
// auto-generated prompt citing the prior attempt's log file, failed phase,
// and prior work instruction.
func NewRetryAttempt(state *model.JobState, logFile, retryContext string, now time.Time) *model.Attempt {
	prior := state.CurrentAttempt()

	workInstruction := retryContext
	if workInstruction == "" {
		workInstruction = autoRetryPrompt(prior)
	}

	attempt := model.NewAttempt(uuid.NewString(), logFile, workInstruction, now)
	if prior != nil && prior.StepStatuses[model.PhasePrechecks] == model.StepSuccess {
		attempt.StepStatuses[model.PhasePrechecks] = model.StepSkipped
	}

	state.Attempts = append(state.Attempts, attempt)
	state.CurrentAttemptID = attempt.AttemptID
	state.Status = model.JobQueued
	state.CurrentPhase = ""
	return attempt
}

func autoRetryPrompt(prior *model.Attempt) string {
	if prior == nil {
		return "retry: no prior attempt recorded"
	}
	failedPhase := firstFailedPhase(prior)
	return fmt.Sprintf(
		"retry: previous attempt failed at phase %q; see log %s for details. Prior work instruction was: %s",
		failedPhase, prior.LogFile, prior.WorkInstruction,
	)
}

func firstFailedPhase(attempt *model.Attempt) model.Phase {
	for _, phase := range model.OrderedPhases {
		if attempt.StepStatuses[phase] == model.StepFailed {
			return phase
		}
	}
	return ""
}
