package cli

import (
	"os"

	"github.com/spf13/cobra"

	"beamauto/internal/repl"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Start an interactive operator console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFromCmd(cmd)
			if err != nil {
				return printErr(cmd, err)
			}
			defer s.Close()

			r := repl.New(s.auto, os.Stdin, cmd.OutOrStdout())
			return r.Run()
		},
	}
}
