package action

import "beamauto/internal/automator"

// BatchSampleParams describes one batch-mode sample run: the injecting
// actor is an autosampler instead of the HPLC pump (§4.2.2).
type BatchSampleParams struct {
	ExposureControl   string
	AutosamplerControl string
	CoflowControl     string

	ExposureArgs map[string]any

	LoadArgs map[string]any

	CoflowWasStopped bool
	CoflowRate       float64

	StopCoflow bool
}

func (p BatchSampleParams) controls() []string {
	return []string{p.ExposureControl, p.AutosamplerControl, p.CoflowControl}
}

// NewBatchSample mirrors NewSecSample's barrier structure, but the
// autosampler loads and moves to the inject position, waits for the
// exposure to actually start (a two-party barrier between the
// autosampler and exposure controls, distinct from the three-party
// start/finish barriers), and only then injects.
func NewBatchSample(cfg Config, auto *automator.Automator, p BatchSampleParams) (*Action, error) {
	controls := p.controls()

	var plan Plan
	plan.Barrier(auto.NewWaitID(), controls)
	plan.CheckBarrier(auto.NewWaitID(), controls)

	plan.Hardware(p.ExposureControl, "expose", nil, p.ExposureArgs)
	plan.Hardware(p.AutosamplerControl, "load_and_move_to_inject", nil, p.LoadArgs)

	exposeStarted := auto.NewWaitID()
	plan.Barrier(exposeStarted, []string{p.ExposureControl, p.AutosamplerControl})

	plan.Hardware(p.AutosamplerControl, "inject", nil, nil)

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

	act := New(cfg, auto, "batch_sample", map[string]any{
		"exposure_control":    p.ExposureControl,
		"autosampler_control": p.AutosamplerControl,
		"coflow_control":      p.CoflowControl,
	})
	if err := act.Initialize(plan); err != nil {
		return nil, err
	}
	return act, nil
}
