// Package main provides the codemesh binary entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "codemesh"
)

// errRunFailed signals a run that finished with overall_status failed. The
// report has already been printed.
var errRunFailed = errors.New("run failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	agentsPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-worker code generation orchestrator",
		Long: `codemesh turns a natural-language request into a plan of tasks and runs
them through planner, architect, coder and tester workers. Tasks can be
delegated to external agents over the agent-to-agent protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&flags.agentsPath, "agents", "", "External agents file ({\"external_agents\": [...]})")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(&flags), agentsCmd(&flags), versionCmd())
	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <request>",
		Short: "Run a request to completion and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), *flags)
			if err != nil {
				return err
			}
			return app.run(cmd.Context(), args[0], cmd.OutOrStdout())
		},
	}
}

func agentsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "Discover and list the configured external agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context(), *flags)
			if err != nil {
				return err
			}
			renderAgents(cmd.OutOrStdout(), app.mesh.Registry().List())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	}
}
