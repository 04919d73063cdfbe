// Package cmd provides conductor's CLI command structure. Commands are
// organized into domain-specific subpackages, mirroring the teacher's
// cmd/session, cmd/planning, ... convention.
//
// Subpackage organization:
//   - plan/: Plan lifecycle (submit, status, cancel, list)
//   - job/: Job inspection (status, logs, retry)
//   - config/: Configuration management (show, path)
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/ironham/conductor/internal/config"
	cmdconfig "github.com/ironham/conductor/internal/cmd/config"
	"github.com/ironham/conductor/internal/cmd/job"
	"github.com/ironham/conductor/internal/cmd/plan"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Plan/job DAG scheduler with git-worktree-isolated parallel execution",
	Long: `conductor runs a DAG of jobs in parallel, each isolated in its own
git worktree, merging completed work back into a target branch and
recovering cleanly from a crash or restart.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/conductor/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	plan.Register(rootCmd)
	job.Register(rootCmd)
	cmdconfig.Register(rootCmd)
}

func initConfig() {
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/conductor")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONDUCTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
