package pumpengine_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"beamauto/internal/pumpengine"
)

// fakeDriver simulates a pump that ramps flow toward whatever was last
// commanded at a configurable acceleration, polled on demand.
type fakeDriver struct {
	mu sync.Mutex

	rate   map[int]float64
	target map[int]float64
	accel  map[int]float64
	last   map[int]time.Time

	pressure map[int]float64
	valves   map[string]int
	running  map[int]bool

	activePath      int
	autosamplerPath int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		rate:     make(map[int]float64),
		target:   make(map[int]float64),
		accel:    make(map[int]float64, 2),
		last:     make(map[int]time.Time),
		pressure: make(map[int]float64),
		valves:   make(map[string]int),
		running:  make(map[int]bool),
	}
}

func (f *fakeDriver) advance(path int) {
	now := time.Now()
	last, ok := f.last[path]
	if !ok {
		f.last[path] = now
		return
	}
	dt := now.Sub(last).Minutes()
	f.last[path] = now

	cur := f.rate[path]
	tgt := f.target[path]
	accel := f.accel[path]
	if accel <= 0 || cur == tgt {
		f.rate[path] = tgt
		return
	}
	maxDelta := accel * dt
	diff := tgt - cur
	if math.Abs(diff) <= maxDelta {
		f.rate[path] = tgt
	} else if diff > 0 {
		f.rate[path] = cur + maxDelta
	} else {
		f.rate[path] = cur - maxDelta
	}
}

func (f *fakeDriver) FlowRate(path int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance(path)
	return f.rate[path], nil
}

func (f *fakeDriver) SetFlowRate(ctx context.Context, path int, rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advance(path)
	f.target[path] = rate
	return nil
}

func (f *fakeDriver) FlowAccel(path int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accel[path], nil
}

func (f *fakeDriver) SetFlowAccel(ctx context.Context, path int, accel float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accel[path] = accel
	return nil
}

func (f *fakeDriver) PressureLimit(path int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pressure[path], nil
}

func (f *fakeDriver) SetPressureLimit(ctx context.Context, path int, limit float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressure[path] = limit
	return nil
}

func (f *fakeDriver) ValvePosition(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valves[name], nil
}

func (f *fakeDriver) SetValvePosition(ctx context.Context, name string, pos int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valves[name] = pos
	return nil
}

func (f *fakeDriver) SamplesRunning(path int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[path], nil
}

func (f *fakeDriver) SetActivePath(ctx context.Context, path int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activePath = path
	return nil
}

func (f *fakeDriver) SetAutosamplerPath(ctx context.Context, path int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autosamplerPath = path
	return nil
}

// P6: purging a fixed volume, with a linear ramp up to the purge rate
// and a linear deceleration back to zero (about 0.72 s and 0.72 mL
// each way at this acceleration), delivers that volume to within a
// small tolerance proportional to the poll interval.
func TestPurgeVolumeAccuracy(t *testing.T) {
	driver := newFakeDriver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := pumpengine.NewEngine(ctx, pumpengine.Config{PollInterval: 15 * time.Millisecond}, driver, []int{1})
	engine.SetBuffer(1, 1, "buffer A", 50.0)
	engine.SelectBuffer(1, 1)

	err := engine.StartPurge(ctx, 1, pumpengine.PurgeParams{
		Volume:         2.0, // mL
		Rate:           120, // mL/min -> 2 mL/s, ~1s to deliver
		Accel:          10000,
		MaxPressure:    200,
		StopAfterPurge: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && engine.Status(1) != "idle" {
		time.Sleep(10 * time.Millisecond)
	}
	if engine.Status(1) != "idle" {
		t.Fatal("purge never completed")
	}

	bufs := engine.Buffers(1)
	if len(bufs) != 1 {
		t.Fatalf("expected one buffer, got %d", len(bufs))
	}
	delivered := 50.0 - bufs[0].Volume
	if math.Abs(delivered-2.0) > 0.3 {
		t.Fatalf("expected ~2.0 mL delivered, got %.3f", delivered)
	}
}

// P7: at most one of {purge, equilibrate, switch} may be active on a
// given flow path at once.
func TestMutualExclusionPerPath(t *testing.T) {
	driver := newFakeDriver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := pumpengine.NewEngine(ctx, pumpengine.Config{PollInterval: 10 * time.Millisecond}, driver, []int{1})

	if err := engine.StartPurge(ctx, 1, pumpengine.PurgeParams{
		Volume: 100, Rate: 0.1, Accel: 0.001, StopAfterPurge: true,
	}); err != nil {
		t.Fatal(err)
	}

	err := engine.StartEquilibrate(ctx, 1, pumpengine.EquilibrateParams{Volume: 1, Rate: 1})
	if !errors.Is(err, pumpengine.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	if err := engine.StopAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}
}

// Cancelling a switch mid-flight restores the path it had already
// started pulling off of, rather than zeroing every path indiscriminately.
func TestStopAllRestoresPreSwitchRate(t *testing.T) {
	driver := newFakeDriver()
	driver.rate[1] = 5.0
	driver.accel[1] = 0.001 // slow enough that StopFlowOld never finishes before StopAll fires

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := pumpengine.NewEngine(ctx, pumpengine.Config{PollInterval: 10 * time.Millisecond}, driver, []int{1, 2})

	err := engine.StartSwitch(ctx, pumpengine.SwitchParams{
		OldPath:                1,
		NewPath:                2,
		StopFlowOld:            true,
		RestoreFlowAfterSwitch: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && engine.Status(1) != "switching" {
		time.Sleep(5 * time.Millisecond)
	}
	if engine.Status(1) != "switching" {
		t.Fatal("switch never started")
	}

	if err := engine.StopAll(ctx); err != nil {
		t.Fatal(err)
	}

	driver.mu.Lock()
	got := driver.target[1]
	driver.mu.Unlock()
	if got != 5.0 {
		t.Fatalf("expected path 1 restored to pre-switch rate 5.0, got %.3f", got)
	}

	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}
}

// Samples running on the active path refuse a purge that doesn't opt in
// to PurgeWithSample.
func TestPurgeRefusedWhileSamplesRunning(t *testing.T) {
	driver := newFakeDriver()
	driver.running[1] = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := pumpengine.NewEngine(ctx, pumpengine.Config{PollInterval: 10 * time.Millisecond}, driver, []int{1})
	err := engine.StartPurge(ctx, 1, pumpengine.PurgeParams{Volume: 1, Rate: 1, Accel: 1})
	if !errors.Is(err, pumpengine.ErrSamplesRunning) {
		t.Fatalf("expected ErrSamplesRunning, got %v", err)
	}
}
