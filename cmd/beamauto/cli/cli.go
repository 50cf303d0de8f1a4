// Package cli implements the "beamauto" command tree: operating a
// beamline Automator from the command line, either one action at a time
// or interactively via the console.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand returns the root "beamauto" command with every
// subcommand wired in.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "beamauto",
		Short: "Operate a beamline's instruments through the Automator scheduler",
		Long:  "beamauto loads a beamline topology, runs its Automator and pump-flow engine, and lets an operator submit Actions (sample runs, equilibration, pump switches, stop-flow, exposure), inspect and reorder queues, and answer check barriers.",
	}

	root.PersistentFlags().String("topology", "topology.json", "beamline topology file")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(
		newConsoleCmd(),
		newStateCmd(),
		newQueueCmd(),
		newCheckCmd(),
		newAbortCmd(),
		newRunCmd(),
		newEquilibrateCmd(),
		newSwitchPumpsCmd(),
		newStopFlowCmd(),
		newExposeCmd(),
		newStatsCmd(),
	)

	return root
}

func rootLogger(cmd *cobra.Command) *slog.Logger {
	levelStr, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func sessionFromCmd(cmd *cobra.Command) (*session, error) {
	topoPath, _ := cmd.Flags().GetString("topology")
	return newSession(rootLogger(cmd), topoPath)
}

func printErr(cmd *cobra.Command, err error) error {
	return fmt.Errorf("%s: %w", cmd.Name(), err)
}
