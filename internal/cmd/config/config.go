// Package config provides the "config" CLI subcommand: inspecting
// conductor's resolved configuration and where it's loaded from.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/ironham/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View conductor configuration",
	RunE:  runShow,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE:  runShow,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runPath,
}

// Register attaches the config command tree to parent.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(pathCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stdout, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(os.Stdout, "Config file: (none - using defaults)")
	}
	fmt.Println()

	fmt.Println("orchestrator:")
	fmt.Printf("  max_parallel: %d\n", cfg.Orchestrator.MaxParallel)
	fmt.Printf("  orphan_exit_policy: %s\n", cfg.Orchestrator.OrphanExitPolicy)

	fmt.Println("merge:")
	fmt.Printf("  mode: %s\n", cfg.Merge.Mode)
	fmt.Printf("  prefer: %s\n", cfg.Merge.Prefer)
	fmt.Printf("  push_on_success: %v\n", cfg.Merge.PushOnSuccess)

	fmt.Println("copilot_cli:")
	fmt.Printf("  enforce_in_jobs: %v\n", cfg.CopilotCLI.EnforceInJobs)

	fmt.Println("plan:")
	fmt.Printf("  clean_up_successful_work: %v\n", cfg.Plan.CleanUpSuccessfulWork)
	fmt.Printf("  reclaim_subplan_branches: %v\n", cfg.Plan.ReclaimSubPlanBranches)

	fmt.Println("worktree:")
	fmt.Printf("  root_template: %s\n", cfg.Worktree.RootTemplate)

	fmt.Println("branch:")
	fmt.Printf("  target_template: %s\n", cfg.Branch.TargetTemplate)

	return cfg.Validate()
}

func runPath(cmd *cobra.Command, args []string) error {
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", appconfig.ConfigFile())
	}
	fmt.Println("\nEnvironment variables: CONDUCTOR_* (e.g., CONDUCTOR_MERGE_MODE)")
	return nil
}
