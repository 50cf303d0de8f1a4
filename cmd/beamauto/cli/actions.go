package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"beamauto/internal/action"
)

func actionConfig(cmd *cobra.Command) action.Config {
	return action.Config{Logger: rootLogger(cmd)}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sample acquisition",
	}
	cmd.AddCommand(newRunSecCmd(), newRunBatchCmd())
	return cmd
}

func newRunSecCmd() *cobra.Command {
	var p action.SecSampleParams
	cmd := &cobra.Command{
		Use:   "sec",
		Short: "Run a SEC sample: expose/inject/coflow under a rendezvous barrier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			act, err := action.NewSecSample(actionConfig(cmd), s.auto, p)
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted sec sample action %s\n", act.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&p.ExposureControl, "exposure-control", "exposure", "exposure control name")
	cmd.Flags().StringVar(&p.PumpControl, "pump-control", "pump1", "pump control name")
	cmd.Flags().StringVar(&p.CoflowControl, "coflow-control", "coflow1", "coflow control name")
	cmd.Flags().Float64Var(&p.FlowRate, "flow-rate", 0, "injection/elution flow rate (mL/min)")
	cmd.Flags().Float64Var(&p.InjectionVolume, "injection-volume", 0, "injection volume (mL)")
	cmd.Flags().Float64Var(&p.ElutionVolume, "elution-volume", 0, "elution volume (mL)")
	cmd.Flags().Float64Var(&p.PressureLimit, "pressure-limit", 0, "pressure limit (psi)")
	cmd.Flags().StringVar(&p.AcqMethod, "acq-method", "", "acquisition method name")
	cmd.Flags().StringVar(&p.SamplePrepMethod, "sample-prep-method", "", "sample prep method name")
	cmd.Flags().BoolVar(&p.StopFlowAfterRun, "stop-flow-after-run", false, "stop pump flow right after the injection, before the run-finish barrier")
	cmd.Flags().BoolVar(&p.CoflowWasStopped, "coflow-was-stopped", false, "coflow was already stopped; start it instead of changing its rate")
	cmd.Flags().Float64Var(&p.CoflowRate, "coflow-rate", 0, "coflow rate (mL/min)")
	cmd.Flags().BoolVar(&p.StopCoflow, "stop-coflow", false, "plant a trailing stop-coflow barrier after the run")
	return cmd
}

func newRunBatchCmd() *cobra.Command {
	var p action.BatchSampleParams
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch (autosampler) sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			act, err := action.NewBatchSample(actionConfig(cmd), s.auto, p)
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted batch sample action %s\n", act.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&p.ExposureControl, "exposure-control", "exposure", "exposure control name")
	cmd.Flags().StringVar(&p.AutosamplerControl, "autosampler-control", "autosampler", "autosampler control name")
	cmd.Flags().StringVar(&p.CoflowControl, "coflow-control", "coflow1", "coflow control name")
	cmd.Flags().BoolVar(&p.CoflowWasStopped, "coflow-was-stopped", false, "coflow was already stopped; start it instead of changing its rate")
	cmd.Flags().Float64Var(&p.CoflowRate, "coflow-rate", 0, "coflow rate (mL/min)")
	cmd.Flags().BoolVar(&p.StopCoflow, "stop-coflow", false, "plant a trailing stop-coflow barrier after the run")
	return cmd
}

func newEquilibrateCmd() *cobra.Command {
	var p action.EquilibrateParams
	cmd := &cobra.Command{
		Use:   "equilibrate",
		Short: "Equilibrate a flow path to a buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			act, err := action.NewEquilibrate(actionConfig(cmd), s.auto, p)
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted equilibrate action %s\n", act.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&p.PumpControl, "pump-control", "pump1", "pump control name")
	cmd.Flags().StringVar(&p.CoflowControl, "coflow-control", "coflow1", "coflow control name")
	cmd.Flags().StringVar(&p.ExposureControl, "exposure-control", "exposure", "exposure control name")
	cmd.Flags().BoolVar(&p.TwoFlowPath, "two-flow-path", false, "dual flow-path system (exposure left out of the barriers)")
	cmd.Flags().BoolVar(&p.CoflowParticipates, "coflow-participates", false, "coflow rendezvouses in the start and closing barriers")
	cmd.Flags().IntVar(&p.BufferPosition, "buffer-position", 1, "selector valve buffer position")
	cmd.Flags().BoolVar(&p.PurgeFirst, "purge-first", false, "purge the line before equilibrating")
	cmd.Flags().Float64Var(&p.PurgeRate, "purge-rate", 0, "purge rate (mL/min)")
	cmd.Flags().Float64Var(&p.PurgeVolume, "purge-volume", 0, "purge volume (mL)")
	cmd.Flags().Float64Var(&p.PurgeAccel, "purge-accel", 0, "purge acceleration (mL/min^2)")
	cmd.Flags().Float64Var(&p.EquilRate, "equil-rate", 0, "equilibration rate (mL/min)")
	cmd.Flags().Float64Var(&p.EquilVolume, "equil-volume", 0, "equilibration volume (mL)")
	cmd.Flags().Float64Var(&p.EquilAccel, "equil-accel", 0, "equilibration acceleration (mL/min^2)")
	cmd.Flags().BoolVar(&p.StopFlowAfter, "stop-flow-after", false, "stop flow after equilibrating")
	return cmd
}

func newSwitchPumpsCmd() *cobra.Command {
	var p action.SwitchPumpsParams
	cmd := &cobra.Command{
		Use:   "switch-pumps",
		Short: "Switch the active flow path between two pumps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			act, err := action.NewSwitchPumps(actionConfig(cmd), s.auto, p)
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted switch-pumps action %s\n", act.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&p.PumpAControl, "pump-a-control", "pump1", "pump A control name")
	cmd.Flags().StringVar(&p.PumpBControl, "pump-b-control", "pump2", "pump B control name")
	cmd.Flags().StringVar(&p.NewActiveControl, "new-active-control", "pump2", "control that becomes active after the switch")
	cmd.Flags().BoolVar(&p.EquilibrateCoflow, "equilibrate-coflow", false, "equilibrate coflow in line with the switch")
	cmd.Flags().StringVar(&p.CoflowControl, "coflow-control", "coflow1", "coflow control name")
	return cmd
}

func newStopFlowCmd() *cobra.Command {
	var p action.StopFlowParams
	cmd := &cobra.Command{
		Use:   "stop-flow",
		Short: "Stop flow on a pump (and optionally its coflow)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			act, err := action.NewStopFlow(actionConfig(cmd), s.auto, p)
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted stop-flow action %s\n", act.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&p.PumpControl, "pump-control", "pump1", "pump control name")
	cmd.Flags().StringVar(&p.CoflowControl, "coflow-control", "coflow1", "coflow control name")
	cmd.Flags().BoolVar(&p.StopCoflow, "stop-coflow", false, "also stop the coflow")
	return cmd
}

func newExposeCmd() *cobra.Command {
	var p action.ExposureParams
	cmd := &cobra.Command{
		Use:   "expose",
		Short: "Run a standalone exposure, optionally gated by an operator check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			act, err := action.NewExposure(actionConfig(cmd), s.auto, p)
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted exposure action %s\n", act.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&p.ExposureControl, "exposure-control", "exposure", "exposure control name")
	cmd.Flags().BoolVar(&p.Confirm, "confirm", false, "require an operator check barrier before opening the shutter")
	return cmd
}
