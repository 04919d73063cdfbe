// Package config is conductor's configuration surface (spec.md §6.5):
// a viper-backed Config struct with mapstructure tags, YAML-file-plus-env
// overrides, mirroring the teacher's internal/config package field for
// field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/viper"

	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/phaseexec"
)

// Config is the complete conductor configuration.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Merge        MergeConfig        `mapstructure:"merge"`
	CopilotCLI   CopilotCLIConfig   `mapstructure:"copilot_cli"`
	Plan         PlanDefaultsConfig `mapstructure:"plan"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Branch       BranchConfig       `mapstructure:"branch"`
}

// OrchestratorConfig controls scheduler-wide policy.
type OrchestratorConfig struct {
	// MaxParallel is the upper bound on simultaneously Running work units
	// per scheduler. 0 means auto: CPU-count minus one.
	MaxParallel int `mapstructure:"max_parallel"`
	// OrphanExitPolicy is the terminal status assigned to a job found
	// Running with no live PID on restart (spec.md §9 open question 1).
	// One of "failed" or "succeeded".
	OrphanExitPolicy string `mapstructure:"orphan_exit_policy"`
}

// MergeConfig controls leaf-merge behavior (spec.md §6.5).
type MergeConfig struct {
	// Mode is merge, rebase, or squash. It is validated and passed to the
	// Plan Runner, which does not read it (see model.MergeMode).
	Mode string `mapstructure:"mode"`
	// Prefer is the conflict-resolution preference relayed to the agent:
	// ours or theirs.
	Prefer string `mapstructure:"prefer"`
	// PushOnSuccess pushes targetBranch to origin after each successful
	// merge, and also gates remote branch deletion during cleanup.
	PushOnSuccess bool `mapstructure:"push_on_success"`
}

// CopilotCLIConfig controls the agent CLI preflight check.
type CopilotCLIConfig struct {
	// EnforceInJobs fails preflight if the agent CLI is not detected.
	EnforceInJobs bool `mapstructure:"enforce_in_jobs"`
}

// PlanDefaultsConfig controls plan-level defaults not overridden per-plan.
type PlanDefaultsConfig struct {
	// CleanUpSuccessfulWork reclaims a work unit's worktree right after its
	// leaf merge, and the plan's remaining resources once the plan
	// succeeds; when neither this nor the plan's own cleanUpSuccessfulWork
	// is set, the Plan Runner reclaims neither.
	CleanUpSuccessfulWork bool `mapstructure:"clean_up_successful_work"`
	// ReclaimSubPlanBranches opts into deleting a sub-plan's integration
	// branch immediately once it's folded into the parent, instead of
	// retaining it for inspection (spec.md §9 open question 2).
	ReclaimSubPlanBranches bool `mapstructure:"reclaim_subplan_branches"`
}

// WorktreeConfig controls where per-job worktrees are rooted.
type WorktreeConfig struct {
	// RootTemplate is a text/template-style string for a PlanSpec's
	// WorktreeRoot ("{{.PlanID}}" standing for the plan id). It is shown by
	// `config show` but not read when plans are admitted: the Plan Runner
	// defaults WorktreeRoot to ".worktrees/<planId>".
	RootTemplate string `mapstructure:"root_template"`
}

// BranchConfig controls derived branch naming.
type BranchConfig struct {
	// TargetTemplate is a template for a job's scratch branch name
	// ("{{.PlanID}}" and "{{.JobID}}" standing for the ids). It is shown by
	// `config show` but not read when plans are admitted: the Plan Runner
	// defaults a job's branch to "copilot_jobs/<planId>/<runnerJobId>".
	TargetTemplate string `mapstructure:"target_template"`
}

// Default returns a Config populated with every spec.md-mandated default.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallel:      0,
			OrphanExitPolicy: string(phaseexec.OrphanPolicyFailed),
		},
		Merge: MergeConfig{
			Mode:          string(model.MergeModeMerge),
			Prefer:        string(model.PreferTheirs),
			PushOnSuccess: false,
		},
		CopilotCLI: CopilotCLIConfig{
			EnforceInJobs: true,
		},
		Plan: PlanDefaultsConfig{
			CleanUpSuccessfulWork:  true,
			ReclaimSubPlanBranches: false,
		},
		Worktree: WorktreeConfig{
			RootTemplate: ".worktrees/{{.PlanID}}",
		},
		Branch: BranchConfig{
			TargetTemplate: "copilot_jobs/{{.PlanID}}/{{.JobID}}",
		},
	}
}

// SetDefaults registers every default with viper so they're in effect even
// without a config file on disk.
func SetDefaults() {
	d := Default()

	viper.SetDefault("orchestrator.max_parallel", d.Orchestrator.MaxParallel)
	viper.SetDefault("orchestrator.orphan_exit_policy", d.Orchestrator.OrphanExitPolicy)

	viper.SetDefault("merge.mode", d.Merge.Mode)
	viper.SetDefault("merge.prefer", d.Merge.Prefer)
	viper.SetDefault("merge.push_on_success", d.Merge.PushOnSuccess)

	viper.SetDefault("copilot_cli.enforce_in_jobs", d.CopilotCLI.EnforceInJobs)

	viper.SetDefault("plan.clean_up_successful_work", d.Plan.CleanUpSuccessfulWork)
	viper.SetDefault("plan.reclaim_subplan_branches", d.Plan.ReclaimSubPlanBranches)

	viper.SetDefault("worktree.root_template", d.Worktree.RootTemplate)

	viper.SetDefault("branch.target_template", d.Branch.TargetTemplate)
}

// Load unmarshals viper's current state (defaults + config file + env
// overrides) into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to Default() if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the directory conductor's config file lives in,
// honoring XDG_CONFIG_HOME, falling back to ~/.config/conductor.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".config", "conductor")
}

// ConfigFile returns the path to conductor's config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidMergeModes returns the accepted values of merge.mode.
func ValidMergeModes() []string { return []string{"merge", "rebase", "squash"} }

// IsValidMergeMode reports whether mode is one of ValidMergeModes.
func IsValidMergeMode(mode string) bool { return slices.Contains(ValidMergeModes(), mode) }

// ValidMergePreferences returns the accepted values of merge.prefer.
func ValidMergePreferences() []string { return []string{"ours", "theirs"} }

// IsValidMergePreference reports whether pref is one of ValidMergePreferences.
func IsValidMergePreference(pref string) bool { return slices.Contains(ValidMergePreferences(), pref) }

// ValidOrphanExitPolicies returns the accepted values of
// orchestrator.orphan_exit_policy.
func ValidOrphanExitPolicies() []string { return []string{"failed", "succeeded"} }

// IsValidOrphanExitPolicy reports whether policy is one of
// ValidOrphanExitPolicies.
func IsValidOrphanExitPolicy(policy string) bool {
	return slices.Contains(ValidOrphanExitPolicies(), policy)
}

// Validate checks every enumerated field (spec.md §6.5) for an
// out-of-range value.
func (c *Config) Validate() error {
	if !IsValidMergeMode(c.Merge.Mode) {
		return fmt.Errorf("invalid merge.mode %q: valid values are %v", c.Merge.Mode, ValidMergeModes())
	}
	if !IsValidMergePreference(c.Merge.Prefer) {
		return fmt.Errorf("invalid merge.prefer %q: valid values are %v", c.Merge.Prefer, ValidMergePreferences())
	}
	if !IsValidOrphanExitPolicy(c.Orchestrator.OrphanExitPolicy) {
		return fmt.Errorf("invalid orchestrator.orphan_exit_policy %q: valid values are %v", c.Orchestrator.OrphanExitPolicy, ValidOrphanExitPolicies())
	}
	if c.Orchestrator.MaxParallel < 0 {
		return fmt.Errorf("orchestrator.max_parallel must be non-negative, got %d", c.Orchestrator.MaxParallel)
	}
	return nil
}
