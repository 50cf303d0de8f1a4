package automator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"beamauto/internal/automator"
)

// echoDispatch always reports "idle" and succeeds; fine for controls
// whose test doesn't care about intermediate hardware states.
func echoDispatch(t *testing.T, calls *[]string, mu *sync.Mutex) automator.DispatchFunc {
	return func(cmd string, args []any, kwargs map[string]any) (string, bool) {
		if cmd != "status" {
			mu.Lock()
			*calls = append(*calls, cmd)
			mu.Unlock()
		}
		return "idle", true
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

// S1: wait_time on A ordered before op1, but B's op2 runs while A is
// still waiting.
func TestWaitTimeOrdering(t *testing.T) {
	a := newTestAutomator(t)

	var mu sync.Mutex
	var callsA, callsB []string
	if err := a.AddControl("A", "echo", echoDispatch(t, &callsA, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddControl("B", "echo", echoDispatch(t, &callsB, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	var runOrder []string
	var runMu sync.Mutex
	a.OnRun(func(e automator.RunEvent) {
		runMu.Lock()
		runOrder = append(runOrder, e.CmdName)
		runMu.Unlock()
	})

	waitID := a.NewWaitID()
	if _, err := a.AddCmd("A", automator.NewWaitTime(waitID, 200*time.Millisecond), false); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddCmd("A", automator.NewCommand("op1", nil, nil), false); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddCmd("B", automator.NewCommand("op2", nil, nil), false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runMu.Lock()
		n := len(runOrder)
		runMu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	runMu.Lock()
	defer runMu.Unlock()
	if len(runOrder) < 3 {
		t.Fatalf("expected 3 run events, got %v", runOrder)
	}
	if runOrder[0] != "wait_time_1" {
		t.Errorf("expected wait_time first, got %s", runOrder[0])
	}
	if runOrder[1] != "op2" {
		t.Errorf("expected op2 before op1, got order %v", runOrder)
	}
	if runOrder[2] != "op1" {
		t.Errorf("expected op1 last, got order %v", runOrder)
	}
}

// S2 (P3): a wait_sync barrier across three controls releases only once
// every participant has arrived at it, and releases all of them
// together. Z is delayed behind an extra op so it arrives later than X
// and Y.
func TestBarrierReleaseSymmetry(t *testing.T) {
	a := newTestAutomator(t)

	var mu sync.Mutex
	var callsX, callsY, callsZ []string
	if err := a.AddControl("X", "echo", echoDispatch(t, &callsX, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddControl("Y", "echo", echoDispatch(t, &callsY, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}
	if err := a.AddControl("Z", "echo", echoDispatch(t, &callsZ, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	var finished []string
	var finMu sync.Mutex
	a.OnFinish(func(e automator.FinishEvent) {
		finMu.Lock()
		finished = append(finished, e.Control)
		finMu.Unlock()
	})

	waitID := a.NewWaitID()
	token := "wait_sync_1"
	conds := []automator.InstCond{
		{Control: "X", AcceptStates: []string{token}},
		{Control: "Y", AcceptStates: []string{token}},
		{Control: "Z", AcceptStates: []string{token}},
	}

	// Z has to finish a preceding op before it reaches the barrier.
	if _, err := a.AddCmd("Z", automator.NewWaitTime(a.NewWaitID(), 200*time.Millisecond), false); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"X", "Y", "Z"} {
		if _, err := a.AddCmd(name, automator.NewWaitSync(waitID, token, conds), false); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	finMu.Lock()
	n := len(finished)
	finMu.Unlock()
	if n != 0 {
		t.Fatalf("barrier released early before Z arrived: %v", finished)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		finMu.Lock()
		n := len(finished)
		finMu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	finMu.Lock()
	defer finMu.Unlock()
	if len(finished) < 3 {
		t.Fatalf("expected barrier to release all three controls, got %v", finished)
	}
}

// S4: a negative check response pauses the global state; the check
// barrier persists and is re-evaluated once resumed.
func TestCheckNegativeResponsePauses(t *testing.T) {
	a := newTestAutomator(t)

	var mu sync.Mutex
	var calls []string
	if err := a.AddControl("C", "echo", echoDispatch(t, &calls, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	var checked bool
	var checkMu sync.Mutex
	a.OnCheck(func(e automator.CheckEvent) {
		checkMu.Lock()
		checked = true
		checkMu.Unlock()
	})

	waitID := a.NewWaitID()
	token := "wait_check_1"
	conds := []automator.InstCond{{Control: "C", AcceptStates: []string{token}}}
	if _, err := a.AddCmd("C", automator.NewWaitCheck(waitID, token, conds), false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		checkMu.Lock()
		c := checked
		checkMu.Unlock()
		if c {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	checkMu.Lock()
	c := checked
	checkMu.Unlock()
	if !c {
		t.Fatal("on_check never fired")
	}

	a.CheckResponse(false)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == automator.StatePause {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a.State() != automator.StatePause {
		t.Fatal("expected global state to pause after a negative check response")
	}
}

// P2: cmdIDs and waitIDs are strictly monotone and never reused.
func TestMonotoneIDs(t *testing.T) {
	a := newTestAutomator(t)
	var mu sync.Mutex
	var calls []string
	if err := a.AddControl("A", "echo", echoDispatch(t, &calls, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	var lastCmdID int64
	for i := 0; i < 5; i++ {
		id, err := a.AddCmd("A", automator.NewCommand("noop", nil, nil), false)
		if err != nil {
			t.Fatal(err)
		}
		if id <= lastCmdID {
			t.Fatalf("cmdID not monotone: %d <= %d", id, lastCmdID)
		}
		lastCmdID = id
	}

	var lastWaitID int64
	for i := 0; i < 5; i++ {
		id := a.NewWaitID()
		if id <= lastWaitID {
			t.Fatalf("waitID not monotone: %d <= %d", id, lastWaitID)
		}
		lastWaitID = id
	}
}

// P1: commands on one control dispatch strictly FIFO absent head-inserts.
func TestFIFOPerControl(t *testing.T) {
	a := newTestAutomator(t)
	var mu sync.Mutex
	var calls []string
	if err := a.AddControl("A", "echo", echoDispatch(t, &calls, &mu), automator.Status{}); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []string{"op1", "op2", "op3"} {
		if _, err := a.AddCmd("A", automator.NewCommand(cmd, nil, nil), false); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"op1", "op2", "op3"}
	if len(calls) < 3 {
		t.Fatalf("expected 3 dispatches, got %v", calls)
	}
	for i, w := range want {
		if calls[i] != w {
			t.Fatalf("FIFO violated: got %v, want prefix %v", calls, want)
		}
	}
}
