package pumpengine

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// PurgeParams are the inputs to one purge-flow-path run (§4.3.1).
type PurgeParams struct {
	Volume      float64 // mL to deliver
	Rate        float64 // mL/min purge rate
	Accel       float64 // mL/min^2
	MaxPressure float64 // purge high-pressure limit

	PurgeWithSample       bool // tolerate purging while samples run on this path
	StopBeforePurge       bool
	StopAfterPurge        bool
	RestoreFlowAfterPurge bool // restore the pre-purge rate if not stopping after

	ValveName      string // purge/column selector valve for this path; "" if none
	PurgePosition  int
	ColumnPosition int
}

// StartPurge launches a purge worker on path if no procedure is already
// active there and (absent PurgeWithSample) no samples are currently
// running on the active path. Concurrent StartPurge calls racing for the
// same path are deduplicated so only one evaluates the preconditions.
func (e *Engine) StartPurge(ctx context.Context, path int, params PurgeParams) error {
	ch := e.dedup.DoChan(path, func() error {
		if !params.PurgeWithSample {
			running, err := e.driver.SamplesRunning(path)
			if err != nil {
				return err
			}
			if running {
				return ErrSamplesRunning
			}
		}
		p := e.path(path)
		runCtx, finish, ok := p.tryStart(e.ctx, procPurging)
		if !ok {
			return ErrAlreadyActive
		}
		e.group.Go(func() error {
			defer finish()
			return runPurge(runCtx, e.logger, e.driver, p, path, params, e.poll)
		})
		return nil
	})
	return <-ch
}

// runPurge is the purge worker body: drives the valve and pump settings
// to their purge values, integrates delivered volume at each poll tick,
// and decelerates early enough that it lands on target without
// overshoot (§4.3.1 steps 3-8).
func runPurge(ctx context.Context, logger *slog.Logger, driver Driver, p *flowPath, path int, params PurgeParams, poll time.Duration) error {
	preFlow, err := driver.FlowRate(path)
	if err != nil {
		return err
	}

	if params.StopBeforePurge {
		if err := driver.SetFlowRate(ctx, path, 0); err != nil {
			return err
		}
		if err := waitForFlow(ctx, driver, path, 0, poll); err != nil {
			return err
		}
	}

	if params.ValveName != "" {
		pos, err := driver.ValvePosition(params.ValveName)
		if err != nil {
			return err
		}
		if pos != params.PurgePosition {
			if err := driver.SetValvePosition(ctx, params.ValveName, params.PurgePosition); err != nil {
				return err
			}
		}
	}

	savedAccel, err := driver.FlowAccel(path)
	if err != nil {
		return err
	}
	savedPressure, err := driver.PressureLimit(path)
	if err != nil {
		return err
	}

	finalFlow := 0.0
	if params.RestoreFlowAfterPurge && !params.StopAfterPurge {
		finalFlow = preFlow
	}

	if err := driver.SetFlowAccel(ctx, path, params.Accel); err != nil {
		return err
	}
	if err := driver.SetPressureLimit(ctx, path, params.MaxPressure); err != nil {
		return err
	}
	if err := driver.SetFlowRate(ctx, path, params.Rate); err != nil {
		return err
	}

	remaining := params.Volume
	prevFlow, err := driver.FlowRate(path)
	if err != nil {
		return err
	}
	prevTime := time.Now()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	decelerating := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			curFlow, err := driver.FlowRate(path)
			if err != nil {
				return err
			}
			dt := now.Sub(prevTime).Seconds()
			deltaV := ((curFlow + prevFlow) / 2 / 60) * dt
			remaining -= deltaV
			p.buffers.Debit(deltaV)
			prevFlow, prevTime = curFlow, now

			if !decelerating {
				var stopVol float64
				if params.Accel > 0 {
					if params.StopAfterPurge {
						stopVol = (curFlow / params.Accel) * (curFlow / 2)
					} else {
						stopVol = math.Abs(curFlow-finalFlow) / params.Accel * (curFlow / 2)
					}
				}
				if remaining-stopVol <= 0 {
					decelerating = true
					if err := driver.SetFlowRate(ctx, path, finalFlow); err != nil {
						return err
					}
				}
				continue
			}

			if flowAt(curFlow, finalFlow) {
				if params.ValveName != "" {
					if err := driver.SetValvePosition(ctx, params.ValveName, params.ColumnPosition); err != nil {
						return err
					}
				}
				if err := driver.SetFlowAccel(ctx, path, savedAccel); err != nil {
					return err
				}
				if err := driver.SetPressureLimit(ctx, path, savedPressure); err != nil {
					return err
				}
				return nil
			}
		}
	}
}

// flowAt reports whether observed is close enough to target to treat the
// ramp as complete.
func flowAt(observed, target float64) bool {
	const eps = 1e-3
	return math.Abs(observed-target) <= eps
}

// waitForFlow blocks (polling at interval) until the driver reports flow
// on path within flowAt's tolerance of target, or ctx is done.
func waitForFlow(ctx context.Context, driver Driver, path int, target float64, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rate, err := driver.FlowRate(path)
		if err != nil {
			return err
		}
		if flowAt(rate, target) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
