package pumpengine

import (
	"context"
	"log/slog"
	"time"
)

// switchDedupKey is a reserved callgroup key (no real flow path ever
// uses a negative id) so at most one switch is ever in flight regardless
// of which two paths it names.
const switchDedupKey = -1

// SwitchParams are the inputs to one switch-active-flow-path run
// (§4.3.3), moving the system's active path from OldPath to NewPath.
type SwitchParams struct {
	OldPath int
	NewPath int

	StopFlowOld bool
	StopFlowNew bool

	SwitchWithSample bool

	SelectorValveName string
	SelectorPosition  int
	OutletValveName   string
	OutletPosition    int

	PurgeActive bool
	Purge       PurgeParams

	RestoreFlowAfterSwitch bool
}

// StartSwitch launches a switch worker claiming both OldPath and NewPath
// (neither may have any other procedure active), refusing if samples are
// running on the active path and SwitchWithSample is false.
func (e *Engine) StartSwitch(ctx context.Context, params SwitchParams) error {
	ch := e.dedup.DoChan(switchDedupKey, func() error {
		oldP := e.path(params.OldPath)
		newP := e.path(params.NewPath)
		if oldP.Status() != procNone || newP.Status() != procNone {
			return ErrAlreadyActive
		}
		if !params.SwitchWithSample {
			running, err := e.driver.SamplesRunning(params.OldPath)
			if err != nil {
				return err
			}
			if running {
				return ErrSamplesRunning
			}
		}

		runCtx, finishOld, ok := oldP.tryStart(e.ctx, procSwitching)
		if !ok {
			return ErrAlreadyActive
		}
		_, finishNew, ok2 := newP.tryStart(e.ctx, procSwitching)
		if !ok2 {
			finishOld()
			return ErrAlreadyActive
		}

		e.group.Go(func() error {
			defer finishOld()
			defer finishNew()
			return runSwitch(runCtx, e.logger, e.driver, oldP, newP, params, e.poll)
		})
		return nil
	})
	return <-ch
}

func runSwitch(ctx context.Context, logger *slog.Logger, driver Driver, oldP, newP *flowPath, params SwitchParams, poll time.Duration) error {
	oldRate, err := driver.FlowRate(params.OldPath)
	if err != nil {
		return err
	}
	newRate, err := driver.FlowRate(params.NewPath)
	if err != nil {
		return err
	}

	oldP.armSwitchRestore(oldRate, params.RestoreFlowAfterSwitch)
	newP.armSwitchRestore(newRate, params.RestoreFlowAfterSwitch)
	defer oldP.disarmSwitchRestore()
	defer newP.disarmSwitchRestore()

	if params.StopFlowOld {
		if err := driver.SetFlowRate(ctx, params.OldPath, 0); err != nil {
			return err
		}
		if err := waitForFlow(ctx, driver, params.OldPath, 0, poll); err != nil {
			return err
		}
	}
	if params.StopFlowNew {
		if err := driver.SetFlowRate(ctx, params.NewPath, 0); err != nil {
			return err
		}
		if err := waitForFlow(ctx, driver, params.NewPath, 0, poll); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return nil
	default:
	}

	if params.SelectorValveName != "" {
		if err := driver.SetValvePosition(ctx, params.SelectorValveName, params.SelectorPosition); err != nil {
			return err
		}
	}
	if params.OutletValveName != "" {
		if err := driver.SetValvePosition(ctx, params.OutletValveName, params.OutletPosition); err != nil {
			return err
		}
	}
	if err := driver.SetActivePath(ctx, params.NewPath); err != nil {
		return err
	}
	if err := driver.SetAutosamplerPath(ctx, params.NewPath); err != nil {
		return err
	}

	if params.PurgeActive {
		// The purge's own RestoreFlowAfterPurge mechanism restores
		// NewPath's rate, so purge and the restore step below never
		// race over the same pump (§4.3.3 step 7's note).
		if err := runPurge(ctx, logger, driver, newP, params.NewPath, params.Purge, poll); err != nil {
			return err
		}
	}

	if params.RestoreFlowAfterSwitch {
		if err := driver.SetFlowRate(ctx, params.OldPath, oldRate); err != nil {
			return err
		}
		if !params.PurgeActive {
			if err := driver.SetFlowRate(ctx, params.NewPath, newRate); err != nil {
				return err
			}
		}
	}
	return nil
}
