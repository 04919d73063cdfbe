package gitres

import (
	"context"
	"os/exec"
)

// CLIExecutor runs commands with os/exec. It is the production
// CommandExecutor; tests substitute a fake implementing the same interface.
type CLIExecutor struct{}

// NewCLIExecutor returns a CommandExecutor backed by the real git binary.
func NewCLIExecutor() *CLIExecutor {
	return &CLIExecutor{}
}

func (e *CLIExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func (e *CLIExecutor) RunQuiet(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

var _ CommandExecutor = (*CLIExecutor)(nil)
