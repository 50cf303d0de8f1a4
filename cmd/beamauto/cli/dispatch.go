package cli

import (
	"log/slog"

	"beamauto/internal/automator"
)

// echoDispatch builds a DispatchFunc that logs the command and reports
// "idle", simulating an instrument that always succeeds immediately.
// newSession registers it for every topology control, pumps included;
// it does not drive the pumpengine.Engine. Real deployments replace this per control with
// a DispatchFunc that actually talks to the instrument.
func echoDispatch(logger *slog.Logger, name string) automator.DispatchFunc {
	log := logger.With("control", name)
	return func(cmd string, args []any, kwargs map[string]any) (string, bool) {
		if cmd != "status" {
			log.Info("dispatch", "cmd", cmd, "args", args)
		}
		return "idle", true
	}
}
