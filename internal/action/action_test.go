package action_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"beamauto/internal/action"
	"beamauto/internal/automator"
)

func idleEcho(calls *[]string, mu *sync.Mutex) automator.DispatchFunc {
	return func(cmd string, args []any, kwargs map[string]any) (string, bool) {
		if cmd != "status" {
			mu.Lock()
			*calls = append(*calls, cmd)
			mu.Unlock()
		}
		return "idle", true
	}
}

// busyEcho records every non-status command like idleEcho, but always
// reports state, so the control never goes idle and never runs its queue.
func busyEcho(calls *[]string, mu *sync.Mutex, state string) automator.DispatchFunc {
	return func(cmd string, args []any, kwargs map[string]any) (string, bool) {
		if cmd != "status" {
			mu.Lock()
			*calls = append(*calls, cmd)
			mu.Unlock()
		}
		return state, true
	}
}

func newTestAutomator(t *testing.T) *automator.Automator {
	t.Helper()
	a := automator.New(automator.Config{IdleTick: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(func() {
		cancel()
		a.Stop()
		select {
		case <-a.Done():
		case <-time.After(time.Second):
			t.Fatal("automator did not stop")
		}
	})
	return a
}

func waitForStatus(t *testing.T, act *action.Action, want action.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if act.Aggregate() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status never reached %s, stuck at %s", want, act.Aggregate())
}

// A stop_flow Action with no operator confirmation should queue, run its
// two barrier sandwich plus stop_flow dispatch, and reach Done.
func TestStopFlowReachesDone(t *testing.T) {
	auto := newTestAutomator(t)

	var mu sync.Mutex
	var calls []string
	if err := auto.AddControl("pump", "hplc", idleEcho(&calls, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	act, err := action.NewStopFlow(action.Config{}, auto, action.StopFlowParams{PumpControl: "pump"})
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, act, action.Done)

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, c := range calls {
		if c == "stop_flow" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stop_flow dispatched, got %v", calls)
	}
}

// S3: aborting an Action while its first barrier is still outstanding
// removes the queued children and leaves the aggregate latched at Abort,
// never reaching Done.
func TestAbortDuringFirstBarrier(t *testing.T) {
	auto := newTestAutomator(t)

	var mu sync.Mutex
	var callsPump, callsExp, callsCoflow []string
	if err := auto.AddControl("pump", "hplc", idleEcho(&callsPump, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}
	if err := auto.AddControl("exposure", "det", busyEcho(&callsExp, &mu, "exposing"), automator.Status{}); err != nil {
		t.Fatal(err)
	}
	if err := auto.AddControl("coflow", "pump", idleEcho(&callsCoflow, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	// exposure keeps reporting a busy state, so it never goes idle to
	// pick up its queued start barrier, and the Action's first barrier
	// stays outstanding until we abort it.
	act, err := action.NewSecSample(action.Config{}, auto, action.SecSampleParams{
		ExposureControl: "exposure",
		PumpControl:     "pump",
		CoflowControl:   "coflow",
		ExposureArgs:    map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if act.Aggregate() == action.Done {
		t.Fatal("action finished before it should have had a chance to")
	}

	act.Abort()
	waitForStatus(t, act, action.Abort)

	time.Sleep(100 * time.Millisecond)
	if act.Aggregate() != action.Abort {
		t.Fatalf("expected aggregate to stay latched at abort, got %s", act.Aggregate())
	}

	mu.Lock()
	defer mu.Unlock()
	for _, c := range callsExp {
		if c == "expose" {
			t.Fatal("expose should never have dispatched before the aborted barrier released")
		}
	}
}

// General aggregation: a freshly initialized Action with only queued
// children starts at Queue.
func TestInitialStatusIsQueue(t *testing.T) {
	auto := newTestAutomator(t)
	var mu sync.Mutex
	var calls []string
	if err := auto.AddControl("pump", "hplc", idleEcho(&calls, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	auto.SetAutomatorState(automator.StatePause)
	act, err := action.NewStopFlow(action.Config{}, auto, action.StopFlowParams{PumpControl: "pump"})
	if err != nil {
		t.Fatal(err)
	}
	if got := act.Aggregate(); got != action.Queue {
		t.Fatalf("expected initial aggregate Queue, got %s", got)
	}
	auto.SetAutomatorState(automator.StateRun)
	waitForStatus(t, act, action.Done)
}
