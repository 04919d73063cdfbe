// Package cerr provides centralized error definitions and classification
// helpers for the conductor scheduler. It defines domain-specific error
// types, sentinel errors, and severity/retry classification so that the
// pump loop and its collaborators never need to unwind through panics or
// raw string matching to decide how to react to a failure.
//
// # Error Types
//
// Domain-specific errors represent errors from a specific component:
//   - PlanError: plan admission, DAG, and pump errors
//   - JobError: per-job phase and attempt errors
//   - GitError: errors from the Git Resource Layer
//   - MergeError: errors from the Merge Coordinator
//
// Semantic errors represent common error conditions:
//   - NotFoundError, ValidationError, TimeoutError
//
// # Usage
//
//	err := cerr.NewGitError("create worktree failed", baseErr).WithBranch("feature-x")
//	if cerr.Is(err, cerr.ErrWorktreeExists) { ... }
//	if cerr.IsRetryable(err) { ... }
package cerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only need this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents how serious an error is.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel errors
// -----------------------------------------------------------------------------

// Plan/job sentinel errors.
var (
	ErrPlanNotFound      = New("plan not found")
	ErrJobNotFound       = New("job not found")
	ErrSubPlanNotFound   = New("sub-plan not found")
	ErrDependencyCycle   = New("dependency cycle detected")
	ErrUnknownProducer   = New("consumesFrom references unknown sibling")
	ErrPlanCanceled      = New("plan canceled")
	ErrInvalidTransition = New("invalid status transition")
)

// Git sentinel errors.
var (
	ErrNotGitRepository = New("not a git repository")
	ErrWorktreeNotFound = New("worktree not found")
	ErrWorktreeExists   = New("worktree already exists")
	ErrBranchNotFound   = New("branch not found")
	ErrBranchExists     = New("branch already exists")
	ErrMergeConflict    = New("merge conflict")
	ErrDirtyWorktree    = New("worktree has uncommitted changes")
)

// General sentinel errors.
var (
	ErrTimeout        = New("operation timed out")
	ErrCanceled       = New("operation canceled")
	ErrInvalidInput   = New("invalid input")
	ErrEmptyWorkPhase = New("work phase command is empty")
)

// -----------------------------------------------------------------------------
// Base error interface
// -----------------------------------------------------------------------------

// SchedError is the base interface satisfied by every error type this
// package defines. It extends error with classification helpers.
type SchedError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity  { return e.severity }
func (e *baseError) IsRetryable() bool   { return e.retryable }
func (e *baseError) IsUserFacing() bool  { return e.userFacing }

// -----------------------------------------------------------------------------
// PlanError
// -----------------------------------------------------------------------------

// PlanError represents errors from plan admission, DAG validation, or the
// pump cycle.
type PlanError struct {
	baseError
	PlanID string
	Phase  string // e.g. "admission", "pump", "completion"
}

func NewPlanError(message string, cause error) *PlanError {
	return &PlanError{baseError: baseError{message: message, cause: cause, severity: SeverityError, userFacing: true}}
}

func (e *PlanError) WithPlanID(id string) *PlanError { e.PlanID = id; return e }
func (e *PlanError) WithPhase(phase string) *PlanError { e.Phase = phase; return e }

func (e *PlanError) Error() string {
	var parts []string
	if e.PlanID != "" {
		parts = append(parts, fmt.Sprintf("plan=%s", e.PlanID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	prefix := "plan error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("plan error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

func (e *PlanError) Is(target error) bool {
	if _, ok := target.(*PlanError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// JobError
// -----------------------------------------------------------------------------

// JobError represents errors from a job's phase executor or attempt.
type JobError struct {
	baseError
	JobID     string
	Phase     string
	AttemptID string
}

func NewJobError(message string, cause error) *JobError {
	return &JobError{baseError: baseError{message: message, cause: cause, severity: SeverityError, userFacing: true}}
}

func (e *JobError) WithJobID(id string) *JobError         { e.JobID = id; return e }
func (e *JobError) WithPhase(phase string) *JobError       { e.Phase = phase; return e }
func (e *JobError) WithAttemptID(id string) *JobError      { e.AttemptID = id; return e }
func (e *JobError) WithRetryable(r bool) *JobError         { e.retryable = r; return e }

func (e *JobError) Error() string {
	var parts []string
	if e.JobID != "" {
		parts = append(parts, fmt.Sprintf("job=%s", e.JobID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.AttemptID != "" {
		parts = append(parts, fmt.Sprintf("attempt=%s", e.AttemptID))
	}
	prefix := "job error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("job error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

func (e *JobError) Is(target error) bool {
	if _, ok := target.(*JobError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// GitError
// -----------------------------------------------------------------------------

// GitError represents errors from the Git Resource Layer.
type GitError struct {
	baseError
	Branch    string
	Worktree  string
	Repo      string
	GitOutput string
}

func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: baseError{message: message, cause: cause, severity: SeverityError, userFacing: true}}
}

func (e *GitError) WithBranch(b string) *GitError       { e.Branch = b; return e }
func (e *GitError) WithWorktree(p string) *GitError     { e.Worktree = p; return e }
func (e *GitError) WithRepo(p string) *GitError         { e.Repo = p; return e }
func (e *GitError) WithGitOutput(out string) *GitError  { e.GitOutput = out; return e }

func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repo != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repo))
	}
	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}
	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// MergeError
// -----------------------------------------------------------------------------

// MergeError represents a failure in the merge coordinator. UserStateRestored
// records whether the caller's original branch/working tree was successfully
// put back the way it was found, per spec.md invariant 7.
type MergeError struct {
	baseError
	TargetBranch      string
	ConflictFiles      []string
	UserStateRestored bool
}

func NewMergeError(message string, cause error) *MergeError {
	return &MergeError{baseError: baseError{message: message, cause: cause, severity: SeverityError, userFacing: true}}
}

func (e *MergeError) WithTargetBranch(b string) *MergeError      { e.TargetBranch = b; return e }
func (e *MergeError) WithConflictFiles(f []string) *MergeError   { e.ConflictFiles = f; return e }
func (e *MergeError) WithUserStateRestored(ok bool) *MergeError  { e.UserStateRestored = ok; return e }

func (e *MergeError) Error() string {
	prefix := "merge error"
	if e.TargetBranch != "" {
		prefix = fmt.Sprintf("merge error [target=%s]", e.TargetBranch)
	}
	msg := e.message
	if len(e.ConflictFiles) > 0 {
		msg = fmt.Sprintf("%s (conflicts: %s)", msg, strings.Join(e.ConflictFiles, ", "))
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *MergeError) Is(target error) bool {
	if _, ok := target.(*MergeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) Error() string {
	return e.baseError.message
}

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{message: message, severity: SeverityWarning, userFacing: true}}
}

func (e *ValidationError) WithField(f string) *ValidationError { e.Field = f; return e }

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its deadline.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{message: operation, severity: SeverityWarning, retryable: true, userFacing: true},
		Operation: operation,
		Duration:  d,
	}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether err represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sched SchedError
	if As(err, &sched) {
		return sched.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err's message is safe to surface to a caller.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var sched SchedError
	if As(err, &sched) {
		return sched.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var sched SchedError
	if As(err, &sched) {
		return sched.Severity()
	}
	return SeverityError
}

// Wrap adds context to err while preserving errors.Is/As chains.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to err while preserving errors.Is/As chains.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
