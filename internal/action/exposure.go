package action

import "beamauto/internal/automator"

// ExposureParams describes a standalone, ad-hoc exposure not tied to an
// HPLC or autosampler run — a dark frame, a beam-check shot, or a
// manually triggered sample already sitting in the beam (§4.2.5,
// supplemented: the distilled spec covers exposures only as children of
// sec_sample/batch_sample; this is the bare single-control case the
// original autocon.py also exposes directly).
type ExposureParams struct {
	ExposureControl string
	ExposureArgs    map[string]any

	// Confirm requires an operator check barrier before the shutter
	// opens, for exposures an operator wants to gate manually.
	Confirm bool
}

// NewExposure builds and initializes the standalone exposure Action.
func NewExposure(cfg Config, auto *automator.Automator, p ExposureParams) (*Action, error) {
	controls := []string{p.ExposureControl}

	var plan Plan
	plan.Barrier(auto.NewWaitID(), controls)
	if p.Confirm {
		plan.CheckBarrier(auto.NewWaitID(), controls)
	}

	plan.Hardware(p.ExposureControl, "expose", nil, p.ExposureArgs)

	plan.Barrier(auto.NewWaitID(), controls)

	act := New(cfg, auto, "exposure", map[string]any{
		"exposure_control": p.ExposureControl,
	})
	if err := act.Initialize(plan); err != nil {
		return nil, err
	}
	return act, nil
}
