package pumpengine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"beamauto/internal/callgroup"
	"beamauto/internal/logging"
)

// Config configures a new Engine.
type Config struct {
	Logger *slog.Logger

	// PollInterval sets the integrator tick for purge/equilibrate/switch
	// monitoring. Default 200ms. The buffer-inventory integrator does not
	// use it; it ticks at a fixed 1s.
	PollInterval time.Duration
}

// Engine runs the long-running pump-flow procedures for a dual- (or
// single-) path HPLC system: one worker goroutine per active procedure,
// supervised by an errgroup so StopAll/Close can wait for clean
// shutdown, plus a per-path buffer inventory. dedup prevents two
// concurrent starts racing into the same path before tryStart's mutex
// is reached.
type Engine struct {
	logger *slog.Logger
	driver Driver
	poll   time.Duration

	paths map[int]*flowPath
	group *errgroup.Group
	dedup callgroup.Group[int]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine constructs an Engine for the given flow path ids (1 for a
// single-path system, 1 and 2 for dual-path).
func NewEngine(ctx context.Context, cfg Config, driver Driver, pathIDs []int) *Engine {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)

	paths := make(map[int]*flowPath, len(pathIDs))
	for _, id := range pathIDs {
		paths[id] = newFlowPath(id)
	}

	e := &Engine{
		logger: logging.Default(cfg.Logger).With("component", "pumpengine"),
		driver: driver,
		poll:   poll,
		paths:  paths,
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}
	return e
}

func (e *Engine) path(id int) *flowPath {
	p, ok := e.paths[id]
	if !ok {
		p = newFlowPath(id)
		e.paths[id] = p
	}
	return p
}

// Status reports which procedure, if any, is active on path.
func (e *Engine) Status(path int) string {
	return e.path(path).Status().String()
}

// StopAll cancels every in-flight procedure on every path (§4.3's
// stop_all). A path caught mid-switch is restored to its pre-switch
// rate if that switch had RestoreFlowAfterSwitch set; every other path
// is zeroed.
func (e *Engine) StopAll(ctx context.Context) error {
	for id, p := range e.paths {
		p.cancelActive()
		if rate, ok := p.consumeSwitchRestore(); ok {
			if err := e.driver.SetFlowRate(ctx, id, rate); err != nil {
				return err
			}
			continue
		}
		if err := e.driver.SetFlowRate(ctx, id, 0); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every worker spawned via this Engine has returned,
// and returns the first non-nil error any of them produced.
func (e *Engine) Wait() error {
	return e.group.Wait()
}

// Close cancels every worker and waits for them to exit.
func (e *Engine) Close() error {
	e.cancel()
	return e.Wait()
}

// SetBuffer replaces {volume, description} for position on path,
// creating the entry if needed.
func (e *Engine) SetBuffer(path, position int, description string, volume float64) {
	e.path(path).buffers.Set(position, description, volume)
}

// RemoveBuffer deletes position's bookkeeping entry on path.
func (e *Engine) RemoveBuffer(path, position int) {
	e.path(path).buffers.Remove(position)
}

// SelectBuffer marks position active on path (and every other known
// position on that path inactive).
func (e *Engine) SelectBuffer(path, position int) {
	e.path(path).buffers.SelectActive(position)
}

// Buffers returns a snapshot of every known buffer on path.
func (e *Engine) Buffers(path int) []Buffer {
	return e.path(path).buffers.Snapshot()
}

// RunBufferIntegrator starts the ~1Hz background integrator for path
// that debits the active buffer by rate*Δt each tick (§4.3.4). It runs
// until ctx is cancelled.
func (e *Engine) RunBufferIntegrator(ctx context.Context, path int) {
	e.group.Go(func() error {
		p := e.path(path)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		prev := time.Now()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-e.ctx.Done():
				return nil
			case now := <-ticker.C:
				rate, err := e.driver.FlowRate(path)
				if err != nil {
					e.logger.Error("buffer integrator flow read failed", "path", path, "err", err)
					prev = now
					continue
				}
				dt := now.Sub(prev).Seconds()
				prev = now
				p.buffers.Debit(rate / 60 * dt)
			}
		}
	})
}
