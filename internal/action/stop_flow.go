package action

import "beamauto/internal/automator"

// StopFlowParams describes a standalone flow-path teardown: minimal
// barriers around a single stop_flow dispatch (§4.2.5).
type StopFlowParams struct {
	PumpControl   string
	CoflowControl string
	StopCoflow    bool
}

func (p StopFlowParams) controls() []string {
	controls := []string{p.PumpControl}
	if p.StopCoflow {
		controls = append(controls, p.CoflowControl)
	}
	return controls
}

// NewStopFlow builds and initializes the stop-flow Action.
func NewStopFlow(cfg Config, auto *automator.Automator, p StopFlowParams) (*Action, error) {
	controls := p.controls()

	var plan Plan
	plan.Barrier(auto.NewWaitID(), controls)

	plan.Hardware(p.PumpControl, "stop_flow", nil, nil)
	if p.StopCoflow {
		plan.Hardware(p.CoflowControl, "stop", nil, nil)
	}

	plan.Barrier(auto.NewWaitID(), controls)

	act := New(cfg, auto, "stop_flow", map[string]any{
		"pump_control": p.PumpControl,
	})
	if err := act.Initialize(plan); err != nil {
		return nil, err
	}
	return act, nil
}
