package cli

import (
	"context"
	"log/slog"
	"sync"

	"beamauto/internal/pumpengine"
)

// simDriver is a software stand-in for the serial/fieldbus layer the
// spec explicitly excludes (no driver-level framing). It applies a
// commanded flow rate at once (no ramp) and echoes every other setter back
// on the next getter, so the Automator and pumpengine can be exercised
// end to end without real hardware attached. Swap this for a real
// Driver implementation to talk to actual pumps.
type simDriver struct {
	logger *slog.Logger

	mu       sync.Mutex
	rate     map[int]float64
	accel    map[int]float64
	pressure map[int]float64
	valves   map[string]int
	running  map[int]bool
	active   int
	autosamp int
}

func newSimDriver(logger *slog.Logger) *simDriver {
	return &simDriver{
		logger:   logger,
		rate:     make(map[int]float64),
		accel:    make(map[int]float64),
		pressure: make(map[int]float64),
		valves:   make(map[string]int),
		running:  make(map[int]bool),
	}
}

func (d *simDriver) FlowRate(path int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate[path], nil
}

func (d *simDriver) SetFlowRate(ctx context.Context, path int, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate[path] = rate
	return nil
}

func (d *simDriver) FlowAccel(path int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accel[path], nil
}

func (d *simDriver) SetFlowAccel(ctx context.Context, path int, accel float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accel[path] = accel
	return nil
}

func (d *simDriver) PressureLimit(path int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pressure[path], nil
}

func (d *simDriver) SetPressureLimit(ctx context.Context, path int, limit float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pressure[path] = limit
	return nil
}

func (d *simDriver) ValvePosition(name string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valves[name], nil
}

func (d *simDriver) SetValvePosition(ctx context.Context, name string, pos int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.valves[name] = pos
	return nil
}

func (d *simDriver) SamplesRunning(path int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[path], nil
}

func (d *simDriver) SetActivePath(ctx context.Context, path int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = path
	return nil
}

func (d *simDriver) SetAutosamplerPath(ctx context.Context, path int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autosamp = path
	return nil
}

var _ pumpengine.Driver = (*simDriver)(nil)
