package action

import "beamauto/internal/automator"

// EquilibrateParams describes equilibrating one HPLC flow path onto a new
// buffer (§4.2.3). On a single-flow-path system the exposure control
// participates in the barriers (nothing else can safely run while the
// column re-equilibrates); on a two-flow-path system exposure is omitted
// so the other path may keep running samples. Coflow only participates
// if CoflowParticipates is set.
type EquilibrateParams struct {
	PumpControl     string
	CoflowControl   string
	ExposureControl string

	TwoFlowPath        bool
	CoflowParticipates bool

	BufferPosition int

	PurgeFirst   bool
	PurgeRate    float64
	PurgeVolume  float64
	PurgeAccel   float64

	EquilRate   float64
	EquilVolume float64
	EquilAccel  float64

	StopFlowAfter bool
}

func (p EquilibrateParams) controls() []string {
	controls := []string{p.PumpControl}
	if p.CoflowParticipates {
		controls = append(controls, p.CoflowControl)
	}
	if !p.TwoFlowPath {
		controls = append(controls, p.ExposureControl)
	}
	return controls
}

// NewEquilibrate builds and initializes the equilibrate Action.
func NewEquilibrate(cfg Config, auto *automator.Automator, p EquilibrateParams) (*Action, error) {
	controls := p.controls()

	var plan Plan
	plan.Barrier(auto.NewWaitID(), controls)

	plan.Hardware(p.PumpControl, "select_buffer", nil, map[string]any{"position": p.BufferPosition})

	if p.PurgeFirst {
		plan.Hardware(p.PumpControl, "purge", nil, map[string]any{
			"rate":   p.PurgeRate,
			"volume": p.PurgeVolume,
			"accel":  p.PurgeAccel,
		})
	}

	plan.Hardware(p.PumpControl, "equilibrate", nil, map[string]any{
		"rate":   p.EquilRate,
		"volume": p.EquilVolume,
		"accel":  p.EquilAccel,
	})

	if p.StopFlowAfter {
		plan.Hardware(p.PumpControl, "stop_flow", nil, nil)
	}

	plan.Barrier(auto.NewWaitID(), controls)

	act := New(cfg, auto, "equilibrate", map[string]any{
		"pump_control":     p.PumpControl,
		"two_flow_path":     p.TwoFlowPath,
		"buffer_position":   p.BufferPosition,
	})
	if err := act.Initialize(plan); err != nil {
		return nil, err
	}
	return act, nil
}
