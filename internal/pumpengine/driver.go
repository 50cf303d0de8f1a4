// Package pumpengine implements the HPLC driver's long-running flow
// procedures — purge, equilibrate, switch — and the buffer-volume
// inventory that tracks delivered liquid against known reservoir
// volumes. It is architecturally part of the automation core because
// its mutual-exclusion rules and completion signals drive whether an
// Action's hardware commands (see internal/action) are safe to run.
package pumpengine

import "context"

// Driver is the hardware-facing surface the engine drives. One Driver
// serves every flow path; path identifies which of the (one or two)
// independent pump+valve chains a call targets.
type Driver interface {
	FlowRate(path int) (float64, error)
	SetFlowRate(ctx context.Context, path int, rate float64) error

	FlowAccel(path int) (float64, error)
	SetFlowAccel(ctx context.Context, path int, accel float64) error

	PressureLimit(path int) (float64, error)
	SetPressureLimit(ctx context.Context, path int, limit float64) error

	ValvePosition(name string) (int, error)
	SetValvePosition(ctx context.Context, name string, pos int) error

	// SamplesRunning reports whether the Automator currently has
	// sample-handling commands queued or running against path.
	SamplesRunning(path int) (bool, error)

	// SetActivePath records which flow path is now the system's active
	// one (the one samples submit against by default).
	SetActivePath(ctx context.Context, path int) error

	// SetAutosamplerPath reassigns the autosampler's linked pump to path.
	SetAutosamplerPath(ctx context.Context, path int) error
}
