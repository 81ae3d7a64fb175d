// Command forgehandctl is the operator CLI for forgehand-worker: submit new
// tasks, inspect pool/queue status, and manage the dead-letter queue.
// Grounded on app/cli/cmd/root.go's cobra.Command tree shape (SilenceErrors/
// SilenceUsage, a PersistentPreRun that resolves shared state before any
// subcommand runs) and app/cli/cmd/doctor.go's tablewriter+fatih/color
// status rendering.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forgehand/config"
)

var (
	configPath      string
	workDirOverride string
	cfg             *config.Config
	workDir         string
)

var rootCmd = &cobra.Command{
	Use:           "forgehandctl [command] [flags]",
	Short:         "Operate a forgehand-worker instance",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		workDir = workDirOverride
		if workDir == "" {
			workDir = cfg.Pool.WorkDir
		}
		if workDir == "" {
			workDir = "./forgehand-data"
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to forgehand config YAML")
	rootCmd.PersistentFlags().StringVar(&workDirOverride, "work-dir", "", "override the configured work directory")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(deadLetterCmd)

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
