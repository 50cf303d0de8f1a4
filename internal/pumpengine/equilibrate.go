package pumpengine

import (
	"context"
	"log/slog"
	"time"
)

// EquilibrateParams are the inputs to one equilibrate-flow-path run
// (§4.3.2). PurgeFirst optionally runs a full purge phase first, using
// Purge's own parameters, before the equilibration ramp begins.
type EquilibrateParams struct {
	Volume float64
	Rate   float64
	Accel  float64

	StopAfterEquilibrate bool

	PurgeFirst bool
	Purge      PurgeParams
}

// StartEquilibrate launches an equilibrate worker on path under the same
// mutual-exclusion and sample-running preconditions as StartPurge.
func (e *Engine) StartEquilibrate(ctx context.Context, path int, params EquilibrateParams) error {
	ch := e.dedup.DoChan(path, func() error {
		if !params.Purge.PurgeWithSample {
			running, err := e.driver.SamplesRunning(path)
			if err != nil {
				return err
			}
			if running {
				return ErrSamplesRunning
			}
		}
		p := e.path(path)
		runCtx, finish, ok := p.tryStart(e.ctx, procEquilibrating)
		if !ok {
			return ErrAlreadyActive
		}
		e.group.Go(func() error {
			defer finish()
			return runEquilibrate(runCtx, e.logger, e.driver, p, path, params, e.poll)
		})
		return nil
	})
	return <-ch
}

func runEquilibrate(ctx context.Context, logger *slog.Logger, driver Driver, p *flowPath, path int, params EquilibrateParams, poll time.Duration) error {
	if params.PurgeFirst {
		if err := runPurge(ctx, logger, driver, p, path, params.Purge, poll); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}

	if err := driver.SetFlowAccel(ctx, path, params.Accel); err != nil {
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
	decel := false
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

			if !decel {
				var stopVol float64
				if params.Accel > 0 && params.StopAfterEquilibrate {
					stopVol = (curFlow / params.Accel) * (curFlow / 2)
				}
				if remaining-stopVol <= 0 {
					decel = true
					if params.StopAfterEquilibrate {
						if err := driver.SetFlowRate(ctx, path, 0); err != nil {
							return err
						}
					} else {
						return nil
					}
				}
				continue
			}

			if flowAt(curFlow, 0) {
				return nil
			}
		}
	}
}
