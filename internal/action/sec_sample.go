package action

import "beamauto/internal/automator"

// SecSampleParams describes one SEC (size-exclusion chromatography) sample
// run: an exposure taken while the HPLC pump injects a sample, with the
// coflow pump running alongside (§4.2.1).
type SecSampleParams struct {
	ExposureControl string
	PumpControl     string
	CoflowControl   string

	ExposureArgs map[string]any

	FlowRate          float64
	InjectionVolume   float64
	ElutionVolume     float64
	PressureLimit     float64
	AcqMethod         string
	SamplePrepMethod  string
	PostRunSettle     map[string]any
	StopFlowAfterRun  bool

	CoflowWasStopped bool
	CoflowRate       float64

	// StopCoflow, when set, plants a second stop+finish barrier across all
	// three controls after the run barrier (§4.2.1 step 7).
	StopCoflow bool
}

func (p SecSampleParams) controls() []string {
	return []string{p.ExposureControl, p.PumpControl, p.CoflowControl}
}

// NewSecSample builds and initializes the Action for one SEC sample run:
// a sample-start barrier, an operator check barrier, the expose/inject/
// coflow hardware triple, a run-finish barrier, and an optional
// stop_coflow tail barrier — each barrier using a freshly allocated
// waitID (never a reused or aliased one; see the Automator package's
// NewWaitID and the design note it's grounded on).
func NewSecSample(cfg Config, auto *automator.Automator, p SecSampleParams) (*Action, error) {
	controls := p.controls()

	var plan Plan
	plan.Barrier(auto.NewWaitID(), controls)
	plan.CheckBarrier(auto.NewWaitID(), controls)

	plan.Hardware(p.ExposureControl, "expose", nil, p.ExposureArgs)

	plan.Hardware(p.PumpControl, "inject", nil, map[string]any{
		"flow_rate":          p.FlowRate,
		"injection_volume":   p.InjectionVolume,
		"elution_volume":     p.ElutionVolume,
		"pressure_limit":     p.PressureLimit,
		"acq_method":         p.AcqMethod,
		"sample_prep_method": p.SamplePrepMethod,
		"post_run_settle":    p.PostRunSettle,
	})
	if p.StopFlowAfterRun {
		plan.Hardware(p.PumpControl, "stop_flow", nil, nil)
	}

	coflowCmd := "change_flow"
	if p.CoflowWasStopped {
		coflowCmd = "start"
	}
	plan.Hardware(p.CoflowControl, coflowCmd, nil, map[string]any{"flow_rate": p.CoflowRate})

	plan.Barrier(auto.NewWaitID(), controls)

	if p.StopCoflow {
		plan.Hardware(p.CoflowControl, "stop", nil, nil)
		plan.Barrier(auto.NewWaitID(), controls)
	}

	act := New(cfg, auto, "sec_sample", map[string]any{
		"exposure_control": p.ExposureControl,
		"pump_control":      p.PumpControl,
		"coflow_control":    p.CoflowControl,
		"flow_rate":         p.FlowRate,
	})
	if err := act.Initialize(plan); err != nil {
		return nil, err
	}
	return act, nil
}
