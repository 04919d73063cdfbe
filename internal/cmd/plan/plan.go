// Package plan provides the "plan" CLI subcommand: submitting, listing,
// inspecting, and canceling plans, mirroring the teacher's cmd/session
// command-tree shape.
package plan

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ironham/conductor/internal/cmd/cliutil"
	appconfig "github.com/ironham/conductor/internal/config"
	"github.com/ironham/conductor/internal/model"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plans",
}

var submitCmd = &cobra.Command{
	Use:   "submit <plan.yaml>",
	Short: "Submit a plan and run it to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <planId>",
	Short: "Show a plan's last-persisted status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <planId>",
	Short: "Cancel a plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tracked plan",
	RunE:  runList,
}

var repoPath string

func init() {
	planCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the git repository being scheduled")
}

// Register attaches the plan command tree to parent.
func Register(parent *cobra.Command) {
	parent.AddCommand(planCmd)
	planCmd.AddCommand(submitCmd)
	planCmd.AddCommand(statusCmd)
	planCmd.AddCommand(cancelCmd)
	planCmd.AddCommand(listCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read plan file: %w", err)
	}
	var spec model.PlanSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("parse plan file: %w", err)
	}
	if spec.RepoPath == "" {
		spec.RepoPath = repoPath
	}

	cfg := appconfig.Get()
	stack, err := cliutil.Build(spec.RepoPath, cfg)
	if err != nil {
		return err
	}

	planID, err := stack.Plans.Enqueue(&spec)
	if err != nil {
		return fmt.Errorf("enqueue plan: %w", err)
	}
	fmt.Printf("submitted plan %s\n", planID)

	for {
		state := stack.Plans.Get(planID)
		if state != nil && state.IsComplete() {
			fmt.Printf("plan %s finished: %s\n", planID, state.FinalStatus(len(spec.Jobs)))
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return stack.Close()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	stack, err := cliutil.Build(repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	state := stack.Plans.Get(args[0])
	if state == nil {
		return fmt.Errorf("no such plan: %s", args[0])
	}
	fmt.Printf("plan:    %s\n", args[0])
	fmt.Printf("status:  %s\n", state.Status)
	fmt.Printf("done:    %d\n", len(state.Done))
	fmt.Printf("failed:  %d\n", len(state.Failed))
	fmt.Printf("running: %d\n", len(state.Running))
	fmt.Printf("merged leaves: %d\n", len(state.MergedLeaves))
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	stack, err := cliutil.Build(repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Plans.Cancel(args[0]); err != nil {
		return err
	}
	fmt.Printf("plan %s canceled\n", args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	stack, err := cliutil.Build(repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	ids := stack.Plans.List()
	if len(ids) == 0 {
		fmt.Println("no plans tracked")
		return nil
	}
	for _, id := range ids {
		state := stack.Plans.Get(id)
		if state == nil {
			continue
		}
		fmt.Printf("%s\t%s\n", id, state.Status)
	}
	return nil
}
