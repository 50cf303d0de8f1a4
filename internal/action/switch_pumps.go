package action

import "beamauto/internal/automator"

// SwitchPumpsParams describes switching the active HPLC pump on a
// dual-path system (§4.2.4).
type SwitchPumpsParams struct {
	PumpAControl string
	PumpBControl string

	// NewActiveControl is whichever of PumpAControl/PumpBControl becomes
	// active after the switch.
	NewActiveControl string
	SwitchArgs       map[string]any

	EquilibrateCoflow bool
	CoflowControl     string
	CoflowEquilArgs   map[string]any
}

func (p SwitchPumpsParams) controls() []string {
	controls := []string{p.PumpAControl, p.PumpBControl}
	if p.EquilibrateCoflow {
		controls = append(controls, p.CoflowControl)
	}
	return controls
}

// NewSwitchPumps builds and initializes the switch-pumps Action: both
// pump paths rendezvous, the newly active pump switches over (optionally
// alongside an in-line coflow equilibration), then a closing barrier.
func NewSwitchPumps(cfg Config, auto *automator.Automator, p SwitchPumpsParams) (*Action, error) {
	controls := p.controls()

	var plan Plan
	plan.Barrier(auto.NewWaitID(), controls)

	plan.Hardware(p.NewActiveControl, "switch_pumps", nil, p.SwitchArgs)
	if p.EquilibrateCoflow {
		plan.Hardware(p.CoflowControl, "equilibrate", nil, p.CoflowEquilArgs)
	}

	plan.Barrier(auto.NewWaitID(), controls)

	act := New(cfg, auto, "switch_pumps", map[string]any{
		"pump_a":             p.PumpAControl,
		"pump_b":             p.PumpBControl,
		"new_active_control": p.NewActiveControl,
	})
	if err := act.Initialize(plan); err != nil {
		return nil, err
	}
	return act, nil
}
