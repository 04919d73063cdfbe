// Package job provides the "job" CLI subcommand: inspecting and retrying
// individual jobs tracked by a previously submitted plan.
package job

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironham/conductor/internal/cmd/cliutil"
	appconfig "github.com/ironham/conductor/internal/config"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect individual jobs",
}

var statusCmd = &cobra.Command{
	Use:   "status <runnerJobId>",
	Short: "Show a job's last-persisted status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs <runnerJobId>",
	Short: "Print a job's most recent attempt log",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var retryCmd = &cobra.Command{
	Use:   "retry <runnerJobId> [context]",
	Short: "Retry a failed job",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRetry,
}

var repoPath string

func init() {
	jobCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the git repository being scheduled")
}

// Register attaches the job command tree to parent.
func Register(parent *cobra.Command) {
	parent.AddCommand(jobCmd)
	jobCmd.AddCommand(statusCmd)
	jobCmd.AddCommand(logsCmd)
	jobCmd.AddCommand(retryCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	stack, err := cliutil.Build(repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	state := stack.JobRunner.Get(args[0])
	if state == nil {
		return fmt.Errorf("no such job: %s", args[0])
	}
	fmt.Printf("job:     %s\n", args[0])
	fmt.Printf("status:  %s\n", state.Status)
	fmt.Printf("phase:   %s\n", state.CurrentPhase)
	fmt.Printf("attempts: %d\n", len(state.Attempts))
	if state.CompletedCommit != "" {
		fmt.Printf("commit:  %s\n", state.CompletedCommit)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	stack, err := cliutil.Build(repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	state := stack.JobRunner.Get(args[0])
	if state == nil {
		return fmt.Errorf("no such job: %s", args[0])
	}
	if len(state.Attempts) == 0 {
		fmt.Println("no attempts recorded")
		return nil
	}
	latest := state.Attempts[len(state.Attempts)-1]
	f, err := os.Open(latest.LogFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	return scanner.Err()
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	stack, err := cliutil.Build(repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	retryContext := ""
	if len(args) > 1 {
		retryContext = args[1]
	}
	if err := stack.JobRunner.Retry(args[0], retryContext); err != nil {
		return err
	}
	fmt.Printf("job %s queued for retry\n", args[0])
	return nil
}
