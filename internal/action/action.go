// Package action implements the Action family: composite operations that
// expand one operator intent (run a sample, equilibrate a column, switch
// flow paths, stop flow, expose) into a coordinated plan of Automator
// commands and wait barriers, then aggregate the children's progress
// into one external status.
package action

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beamauto/internal/automator"
	"beamauto/internal/logging"

	"github.com/google/uuid"
)

// ChildStatus is the per-child progress state the Action tracks for each
// command it planted.
type ChildStatus string

const (
	ChildQueue ChildStatus = "queue"
	ChildRun   ChildStatus = "run"
	ChildWait  ChildStatus = "wait"
	ChildDone  ChildStatus = "done"
)

// Status is the Action's aggregate external status (§4.2).
type Status string

const (
	Queue Status = "queue"
	Wait  Status = "wait"
	Run   Status = "run"
	Done  Status = "done"
	Pause Status = "pause"
	Abort Status = "abort"
)

// step is one planned (control, command) enqueuing.
type step struct {
	control string
	spec    automator.CommandSpec
	isWait  bool
}

// Plan is the ordered set of enqueuings an Action's constructor builds
// before calling Initialize. Building the plan never touches the
// Automator; Initialize is what actually calls AddCmd.
type Plan struct {
	steps []step
}

// Hardware appends a hardware-dispatch command to the plan.
func (p *Plan) Hardware(control, cmd string, args []any, kwargs map[string]any) {
	p.steps = append(p.steps, step{control: control, spec: automator.NewCommand(cmd, args, kwargs)})
}

// Time appends a wait_time_<waitID> command on one control.
func (p *Plan) Time(control string, waitID int64, d time.Duration) {
	p.steps = append(p.steps, step{control: control, spec: automator.NewWaitTime(waitID, d), isWait: true})
}

// Barrier appends the same wait_sync_<waitID> barrier command, sharing
// one token and the full participant list, onto every control in
// controls (I5: a single logical barrier lives as one record per
// participant). Every call must be given a fresh waitID (see
// automator.Automator.NewWaitID) — never the id of an earlier, distinct
// barrier.
func (p *Plan) Barrier(waitID int64, controls []string) {
	token := fmt.Sprintf("wait_sync_%d", waitID)
	conds := make([]automator.InstCond, len(controls))
	for i, c := range controls {
		conds[i] = automator.InstCond{Control: c, AcceptStates: []string{token}}
	}
	for _, c := range controls {
		p.steps = append(p.steps, step{control: c, spec: automator.NewWaitSync(waitID, token, conds), isWait: true})
	}
}

// CheckBarrier is Barrier's operator-confirmation variant.
func (p *Plan) CheckBarrier(waitID int64, controls []string) {
	token := fmt.Sprintf("wait_check_%d", waitID)
	conds := make([]automator.InstCond, len(controls))
	for i, c := range controls {
		conds[i] = automator.InstCond{Control: c, AcceptStates: []string{token}}
	}
	for _, c := range controls {
		p.steps = append(p.steps, step{control: c, spec: automator.NewWaitCheck(waitID, token, conds), isWait: true})
	}
}

// Config configures a new Action.
type Config struct {
	Logger *slog.Logger
}

// Action tracks one composite operation's children across the Automator
// and exposes a single aggregate Status to its own subscribers.
//
// Lifetime: begins at Initialize, ends at Delete (or Abort) or once
// every child reaches ChildDone.
type Action struct {
	logger *slog.Logger
	auto   *automator.Automator

	id   uuid.UUID
	kind string
	info map[string]any

	mu          sync.Mutex
	names       []string
	ids         []int64
	isWaitChild []bool
	childStatus []ChildStatus
	aggregate   Status

	subs        []automator.Subscription
	subscribers []func(Status)
	subMu       sync.Mutex
}

// New constructs an Action bound to auto. kind names the concrete action
// ("sec_sample", "batch_sample", ...) for logging; info carries the
// caller's parameter dictionary for introspection. Call Initialize with
// a built Plan to actually enqueue its children.
func New(cfg Config, auto *automator.Automator, kind string, info map[string]any) *Action {
	return &Action{
		logger:    logging.Default(cfg.Logger).With("component", "action", "kind", kind),
		auto:      auto,
		id:        uuid.Must(uuid.NewV7()),
		kind:      kind,
		info:      info,
		aggregate: Queue,
	}
}

// ID returns this Action instance's UUIDv7 identity, used for
// logging/correlation distinct from the Automator's monotonic cmdIDs.
func (a *Action) ID() uuid.UUID { return a.id }

// Kind returns the concrete action name ("sec_sample", "equilibrate", ...).
func (a *Action) Kind() string { return a.kind }

// Initialize transiently pauses the scheduler, enqueues the plan's steps
// in order (recording each assigned cmdID), restores the prior global
// state, and subscribes to run/finish/check so the Action can track its
// children (§4.2 common contract).
func (a *Action) Initialize(plan Plan) error {
	prior := a.auto.State()
	a.auto.SetAutomatorState(automator.StatePause)
	defer a.auto.SetAutomatorState(prior)

	a.mu.Lock()
	for _, s := range plan.steps {
		cmdID, err := a.auto.AddCmd(s.control, s.spec, false)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("action %s: enqueue on %s: %w", a.kind, s.control, err)
		}
		a.names = append(a.names, s.control)
		a.ids = append(a.ids, cmdID)
		a.isWaitChild = append(a.isWaitChild, s.isWait)
		a.childStatus = append(a.childStatus, ChildQueue)
	}
	a.mu.Unlock()

	a.subs = append(a.subs,
		a.auto.OnRun(a.onRun),
		a.auto.OnFinish(a.onFinish),
		a.auto.OnCheck(a.onCheck),
		a.auto.OnStateChange(a.onStateChange),
	)

	a.logger.Info("action initialized", "id", a.id, "children", len(a.ids))
	return nil
}

func (a *Action) indexOf(cmdID int64) int {
	for i, id := range a.ids {
		if id == cmdID {
			return i
		}
	}
	return -1
}

func (a *Action) onRun(e automator.RunEvent) {
	a.mu.Lock()
	i := a.indexOf(e.CmdID)
	if i < 0 {
		a.mu.Unlock()
		return
	}
	if a.isWaitChild[i] {
		a.childStatus[i] = ChildWait
	} else {
		a.childStatus[i] = ChildRun
	}
	a.mu.Unlock()
	a.recompute()
}

func (a *Action) onFinish(e automator.FinishEvent) {
	a.mu.Lock()
	i := a.indexOf(e.CmdID)
	if i < 0 {
		a.mu.Unlock()
		return
	}
	a.childStatus[i] = ChildDone
	allDone := true
	for _, cs := range a.childStatus {
		if cs != ChildDone {
			allDone = false
			break
		}
	}
	a.mu.Unlock()
	a.recompute()
	if allDone {
		a.teardownSubs()
	}
}

func (a *Action) onCheck(e automator.CheckEvent) {
	// Children already show ChildWait from onRun; no extra state needed,
	// but recompute picks up any global-state side effects.
	a.recompute()
}

func (a *Action) onStateChange(e automator.StateChangeEvent) {
	a.recompute()
}

// aggregationTable applies §4.2's table, in the listed precedence order.
func (a *Action) aggregationTable() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	allQueue, allDone, anyWait, anyRun := true, true, false, false
	for _, cs := range a.childStatus {
		if cs != ChildQueue {
			allQueue = false
		}
		if cs != ChildDone {
			allDone = false
		}
		if cs == ChildWait {
			anyWait = true
		}
		if cs == ChildRun {
			anyRun = true
		}
	}

	switch {
	case allQueue:
		return Queue
	case allDone:
		return Done
	case anyWait && !anyRun:
		return Wait
	case anyRun:
		return Run
	case a.auto.State() != automator.StateRun && !allDone:
		return Pause
	default:
		return Queue
	}
}

func (a *Action) recompute() {
	next := a.aggregationTable()
	a.mu.Lock()
	changed := a.aggregate != next
	a.aggregate = next
	a.mu.Unlock()
	if changed {
		a.emit(next)
	}
}

// Aggregate returns the Action's current external status.
func (a *Action) Aggregate() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aggregate
}

// Subscribe registers fn to be called whenever the aggregate status
// changes.
func (a *Action) Subscribe(fn func(Status)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

func (a *Action) emit(s Status) {
	a.subMu.Lock()
	snapshot := make([]func(Status), len(a.subscribers))
	copy(snapshot, a.subscribers)
	a.subMu.Unlock()
	for _, fn := range snapshot {
		fn(s)
	}
}

func (a *Action) teardownSubs() {
	for _, s := range a.subs {
		s.Unsubscribe()
	}
}

// Abort pauses the scheduler, removes every still-queued child,
// stop_running_items every running/waiting child, unsubscribes, restores
// the prior global state, and latches the aggregate to Abort.
func (a *Action) Abort() {
	a.teardown()
	a.mu.Lock()
	a.aggregate = Abort
	a.mu.Unlock()
	a.emit(Abort)
}

// Delete is Abort without latching the aggregate to Abort: used for
// ordinary teardown of an Action the caller no longer wants to track.
func (a *Action) Delete() {
	a.teardown()
}

func (a *Action) teardown() {
	prior := a.auto.State()
	a.auto.SetAutomatorState(automator.StatePause)
	defer a.auto.SetAutomatorState(prior)

	// Unsubscribe before mutating commands, so the Action never observes
	// its own teardown events.
	a.teardownSubs()

	a.mu.Lock()
	names := append([]string(nil), a.names...)
	ids := append([]int64(nil), a.ids...)
	statuses := append([]ChildStatus(nil), a.childStatus...)
	a.mu.Unlock()

	for i, name := range names {
		switch statuses[i] {
		case ChildDone:
			continue
		case ChildQueue:
			a.auto.RemoveCmd(name, ids[i])
		default:
			a.auto.StopRunningItem(name)
		}
	}
}
