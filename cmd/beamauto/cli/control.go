package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"beamauto/internal/auth"
	"beamauto/internal/automator"
	"beamauto/internal/sysmetrics"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state [run|pause]",
		Short: "Get or set the global run/pause state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), s.auto.State())
				return nil
			}
			switch args[0] {
			case "run":
				s.auto.SetAutomatorState(automator.StateRun)
			case "pause":
				s.auto.SetAutomatorState(automator.StatePause)
			default:
				return fmt.Errorf("state must be \"run\" or \"pause\", got %q", args[0])
			}
			return nil
		},
	}
	return cmd
}

func newQueueCmd() *cobra.Command {
	var remove, reorder string
	var cmdID int64
	var delta int

	cmd := &cobra.Command{
		Use:   "queue [control]",
		Short: "List, remove, or reorder queued commands for a control",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			if remove != "" {
				if !s.auto.RemoveCmd(remove, cmdID) {
					return fmt.Errorf("no such queued command %d on %s", cmdID, remove)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d from %s\n", cmdID, remove)
				return nil
			}
			if reorder != "" {
				s.auto.ReorderCmd(reorder, cmdID, delta)
				fmt.Fprintf(cmd.OutOrStdout(), "reordered %d on %s by %d\n", cmdID, reorder, delta)
				return nil
			}

			names := s.auto.ControlNames()
			if len(args) == 1 {
				names = []string{args[0]}
			}
			for _, name := range names {
				ctrl := s.auto.Control(name)
				if ctrl == nil {
					return fmt.Errorf("unknown control: %s", name)
				}
				st := ctrl.Status()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: status=%s/%s queued=%v\n", name, st.Wait, st.Reported, ctrl.QueuedIDs())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&remove, "remove", "", "remove a queued command from this control (use with --cmd-id)")
	cmd.Flags().StringVar(&reorder, "reorder", "", "reorder a queued command on this control (use with --cmd-id and --delta)")
	cmd.Flags().Int64Var(&cmdID, "cmd-id", 0, "command id to remove/reorder")
	cmd.Flags().IntVar(&delta, "delta", 0, "slots to move earlier (use with --reorder)")
	return cmd
}

// newCheckCmd groups the commands that authenticate and apply an
// operator's answer to the outstanding check barrier. These commands
// never call Automator.CheckResponse on an unverified answer: "login" issues them a signed
// token bound to the barrier currently waiting, and "answer" verifies
// that token before applying its decision.
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Authenticate and answer the outstanding check barrier",
	}
	cmd.AddCommand(newCheckLoginCmd(), newCheckAnswerCmd(), newCheckHashPasswordCmd())
	return cmd
}

func newCheckLoginCmd() *cobra.Command {
	var operator, password string
	var decision bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify an operator's password and sign a check-response token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			op, ok := s.operator(operator)
			if !ok {
				return printErr(cmd, fmt.Errorf("unknown operator %q", operator))
			}
			valid, err := auth.VerifyPassword(password, op.PasswordHash)
			if err != nil {
				return printErr(cmd, fmt.Errorf("verify password: %w", err))
			}
			if !valid {
				return printErr(cmd, fmt.Errorf("wrong password for operator %q", operator))
			}

			waitID, armed := s.auto.PendingCheckWaitID()
			if !armed {
				return printErr(cmd, fmt.Errorf("no check barrier is currently waiting"))
			}

			token, expiresAt, err := s.checkTokens.IssueCheckResponse(waitID, operator, decision)
			if err != nil {
				return printErr(cmd, fmt.Errorf("issue check token: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s; relay this token via \"check answer\"\n", expiresAt.Format("15:04:05"))
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name (required)")
	cmd.Flags().StringVar(&password, "password", "", "operator console password (required)")
	cmd.Flags().BoolVar(&decision, "decision", false, "the check-response decision to sign")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newCheckAnswerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer <token>",
		Short: "Verify a signed check-response token and apply its decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			waitID, armed := s.auto.PendingCheckWaitID()
			if !armed {
				return printErr(cmd, fmt.Errorf("no check barrier is currently waiting"))
			}

			claims, err := s.checkTokens.VerifyCheckResponse(args[0], waitID)
			if err != nil {
				return printErr(cmd, err)
			}
			ctx := auth.WithClaims(cmd.Context(), claims)
			answered := auth.ClaimsFromContext(ctx)
			s.logger.Info("check barrier answered", "operator", answered.Operator, "decision", answered.Decision, "wait_id", answered.WaitID)
			s.auto.CheckResponse(answered.Decision)
			return nil
		},
	}
	return cmd
}

func newCheckHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash a password for pasting into the topology file's operators list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return printErr(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Request every control's in-flight activity stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()
			s.auto.Abort()
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show scheduled job status (full-status poll)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()
			for _, info := range s.sched.ListJobs() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  schedule=%s last=%s next=%s\n", info.Name, info.Schedule, info.LastRun, info.NextRun)
			}
			for _, fp := range s.topo.FlowPaths {
				for _, b := range s.engine.Buffers(fp.ID) {
					fmt.Fprintf(cmd.OutOrStdout(), "path %d buffer %d (%s): %.2f mL active=%v\n", fp.ID, b.Position, b.Description, b.Volume, b.Active)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "process: cpu=%.1f%% mem=%dKB\n", sysmetrics.CPUPercent(), sysmetrics.MemoryInuse()/1024)
			return nil
		},
	}
}
