// Package agent implements the Agent Delegator collaborator (spec.md §6.4):
// phase commands prefixed with "@agent" or "@copilot" are handed off here
// instead of being run as a shell command. The external agent CLI itself is
// out of scope (spec.md Non-goals) — this package only shells out to
// whatever binary the caller configures and interprets its output.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ironham/conductor/internal/logging"
)

// DelegationTimeout is the hard deadline spec.md §5 assigns to a single
// agent-delegation call ("the child agent call ... carr[ies] a 5-minute
// timeout enforced via process-spawn options").
const DelegationTimeout = 5 * time.Minute

// Request describes one delegation call.
type Request struct {
	Task            string
	Instructions    string
	WorktreePath    string
	SessionID       string // non-empty to resume a prior session
	OnProcess       func(pid int)
	LogOutput       func(line string)
}

// Result is the outcome of a delegation call.
type Result struct {
	Success   bool
	SessionID string
	ExitCode  int
	Err       error
}

// Delegator dispatches phase commands to an external coding agent CLI.
type Delegator interface {
	Delegate(ctx context.Context, req Request) Result
	// Available reports whether the configured agent CLI can be found,
	// for the preflight phase's enforcement check (spec.md §4.C).
	Available() bool
}

// CLIDelegator shells out to a configured agent binary (e.g. the user's
// `copilot` or `claude` CLI) once per delegation call.
type CLIDelegator struct {
	binary string
	args   []string
	logger *logging.Logger
}

// NewCLIDelegator returns a Delegator that invokes binary with args,
// appending the task/instructions/session flags understood by most
// coding-agent CLIs (task text on stdin, --resume <id> when continuing).
func NewCLIDelegator(binary string, args []string, logger *logging.Logger) *CLIDelegator {
	return &CLIDelegator{binary: binary, args: args, logger: logger}
}

// Available reports whether the configured binary is on PATH.
func (d *CLIDelegator) Available() bool {
	_, err := exec.LookPath(d.binary)
	return err == nil
}

// Delegate runs the agent CLI, enforcing DelegationTimeout, streaming
// output line-by-line to req.LogOutput, and extracting a session id from
// whatever the process printed.
func (d *CLIDelegator) Delegate(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, DelegationTimeout)
	defer cancel()

	args := append([]string{}, d.args...)
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}

	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Dir = req.WorktreePath

	prompt := req.Task
	if req.Instructions != "" {
		prompt = fmt.Sprintf("%s\n\n%s", req.Task, req.Instructions)
	}
	cmd.Stdin = strings.NewReader(prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Err: fmt.Errorf("pipe stdout: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{Err: fmt.Errorf("pipe stderr: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return Result{Err: fmt.Errorf("start agent process: %w", err)}
	}
	if req.OnProcess != nil {
		req.OnProcess(cmd.Process.Pid)
	}

	var collected strings.Builder
	done := make(chan struct{}, 2)
	go streamLines(stdout, req.LogOutput, &collected, done)
	go streamLines(stderr, req.LogOutput, &collected, done)
	<-done
	<-done

	waitErr := cmd.Wait()
	sessionID := TryExtractSessionID(collected.String())

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		if d.logger != nil {
			d.logger.Warn("agent delegation failed", "exitCode", exitCode, "error", waitErr.Error())
		}
		return Result{Success: false, SessionID: sessionID, ExitCode: exitCode, Err: waitErr}
	}

	return Result{Success: true, SessionID: sessionID, ExitCode: 0}
}

func streamLines(r io.Reader, logOutput func(string), collected *strings.Builder, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		collected.WriteString(line)
		collected.WriteByte('\n')
		if logOutput != nil {
			logOutput(line)
		}
	}
}

// -----------------------------------------------------------------------------
// Session-id extraction
// -----------------------------------------------------------------------------

// sessionIDPatterns are tried in order against collected agent output; the
// first match wins. Centralizing this in one helper is a direct response to
// spec.md §9's redesign note: "factor this into a single
// tryExtractSessionId(text) helper used uniformly" rather than scattering
// regex matching across every delegation call site.
var sessionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)session[_\s-]?id["':\s]+([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`),
	regexp.MustCompile(`(?i)resume(?:\s+with)?\s+--resume\s+([0-9a-fA-F-]{36})`),
	regexp.MustCompile(`(?i)share(?:d)?\s+(?:at|url)?:?\s*\S*?/s/([0-9a-fA-F-]{36})`),
	regexp.MustCompile(`([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`),
}

// TryExtractSessionID scans text against sessionIDPatterns in order,
// returning the first UUID-shaped match, or "" if none is found.
func TryExtractSessionID(text string) string {
	for _, pattern := range sessionIDPatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

var _ Delegator = (*CLIDelegator)(nil)
