// Package automator implements the cooperative multi-queue scheduler that
// coordinates a beamline's instruments. One Automator owns a set of named
// Controls, each with its own command FIFO and status cell; a single
// scheduler goroutine advances every control's queue, resolves the three
// wait primitives (time, status/barrier, operator-check), and propagates
// lifecycle events to subscribers.
//
// Concurrency model:
//   - Exactly one goroutine runs the scheduling loop (Start spawns it).
//   - A per-control mutex guards that control's queue and status; the
//     loop never holds two controls' mutexes at once.
//   - A registry mutex guards control registration/lookup.
//   - A state mutex guards the global run/pause flag.
//   - External callers (AddCmd, RemoveCmd, ReorderCmd, StopRunningItem,
//     SetAutomatorState, CheckResponse) may be called concurrently from any
//     goroutine; they never block on the scheduler loop's own sleep.
package automator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beamauto/internal/logging"
	"beamauto/internal/notify"
)

// ErrUnknownControl is returned by AddCmd and friends when named a
// control that was never registered.
var ErrUnknownControl = errors.New("automator: unknown control")

// ErrControlExists is returned by AddControl for a duplicate name.
var ErrControlExists = errors.New("automator: control already registered")

const (
	idleTick   = 500 * time.Millisecond
	initialRun = -1
)

// Config configures a new Automator.
type Config struct {
	Logger *slog.Logger

	// IdleTick overrides the scheduler's idle poll interval (default
	// 500ms, matching the ~2Hz cadence of §4.1's loop).
	IdleTick time.Duration
}

// Automator is the cooperative scheduler described in package automator's
// doc comment.
type Automator struct {
	logger *slog.Logger
	tick   time.Duration

	regMu    sync.Mutex
	names    []string
	controls map[string]*Control

	stateMu sync.Mutex
	state   GlobalState

	cmdID  atomic.Int64
	waitID atomic.Int64

	events  eventBus
	pending pendingCheck
	wake    *notify.Signal

	abortRequested atomic.Bool
	stopRequested  atomic.Bool
	doneCh         chan struct{}
	startOnce      sync.Once
}

// New creates an Automator in the "run" state with no registered
// controls. Call Start to launch its scheduler goroutine.
func New(cfg Config) *Automator {
	tick := cfg.IdleTick
	if tick <= 0 {
		tick = idleTick
	}
	return &Automator{
		logger:   logging.Default(cfg.Logger).With("component", "automator"),
		tick:     tick,
		controls: make(map[string]*Control),
		state:    StateRun,
		wake:     notify.NewSignal(),
		doneCh:   make(chan struct{}),
	}
}

// AddControl registers a control. Fails if name is already registered.
func (a *Automator) AddControl(name, kind string, dispatch DispatchFunc, initial Status) error {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	if _, ok := a.controls[name]; ok {
		return fmt.Errorf("%w: %s", ErrControlExists, name)
	}
	if initial.Wait == WaitNone && initial.Reported == "" {
		initial = IdleStatus()
	}
	a.controls[name] = newControl(name, kind, dispatch, initial)
	a.names = append(a.names, name)
	return nil
}

// Control returns the named control, or nil if unregistered.
func (a *Automator) Control(name string) *Control {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	return a.controls[name]
}

// ControlNames returns registered control names in registration order.
func (a *Automator) ControlNames() []string {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

func (a *Automator) control(name string) (*Control, error) {
	a.regMu.Lock()
	ctrl, ok := a.controls[name]
	a.regMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownControl, name)
	}
	return ctrl, nil
}

// NewWaitID allocates a fresh, process-unique wait id (I3). Callers
// building multi-barrier plans (the action package) must call this once
// per barrier — never reuse an id across two logically distinct
// barriers, which is the aliasing mistake SPEC_FULL.md's design notes
// call out to avoid.
func (a *Automator) NewWaitID() int64 {
	return a.waitID.Add(1)
}

// AddCmd enqueues spec onto the named control's FIFO and returns the
// freshly assigned, monotonic cmdID (I3). atStart requests head-insertion
// (I4), used only for urgent aborts.
func (a *Automator) AddCmd(control string, spec CommandSpec, atStart bool) (int64, error) {
	ctrl, err := a.control(control)
	if err != nil {
		return 0, err
	}
	id := a.cmdID.Add(1)
	cmd := &Command{CmdID: id, Cmd: spec.Cmd, Args: spec.Args, Kwargs: spec.Kwargs, Wait: spec.wait}
	ctrl.enqueue(cmd, atStart)
	a.wake.Notify()
	return id, nil
}

// RemoveCmd removes a still-queued command. Returns false if not found
// (already running, already finished, or never existed). Never affects
// a running command.
func (a *Automator) RemoveCmd(control string, cmdID int64) bool {
	ctrl, err := a.control(control)
	if err != nil {
		return false
	}
	return ctrl.remove(cmdID)
}

// ReorderCmd shifts a still-queued command by delta positions (positive
// = earlier), clamped to the queue bounds. No-op if cmdID isn't queued.
func (a *Automator) ReorderCmd(control string, cmdID int64, delta int) {
	ctrl, err := a.control(control)
	if err != nil {
		return
	}
	ctrl.reorder(cmdID, delta)
}

// State returns the current global run/pause state.
func (a *Automator) State() GlobalState {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

// SetAutomatorState transitions the global state between "run" and
// "pause", emitting on_state_change iff it actually changed. Any other
// value is rejected silently (§6).
func (a *Automator) SetAutomatorState(state GlobalState) {
	if state != StateRun && state != StatePause {
		return
	}
	a.stateMu.Lock()
	changed := a.state != state
	a.state = state
	a.stateMu.Unlock()
	if changed {
		a.events.stateChange.emit(a.logger, StateChangeEvent{NewState: state})
		a.wake.Notify()
	}
}

// StopRunningItem stops the named control's in-flight activity: if it's
// holding a time or sync/check wait, the wait is consumed (status reset
// to idle); otherwise a synthetic abort command is head-inserted and
// dispatched immediately. Emits on_abort either way (P5).
func (a *Automator) StopRunningItem(name string) {
	ctrl, err := a.control(name)
	if err != nil {
		return
	}
	a.stopControl(ctrl)
}

// StopRunningItems applies StopRunningItem to every registered control.
func (a *Automator) StopRunningItems() {
	for _, name := range a.ControlNames() {
		a.StopRunningItem(name)
	}
}

func (a *Automator) stopControl(ctrl *Control) {
	ctrl.mu.Lock()
	status := ctrl.status
	oldRunID := ctrl.runID

	switch status.Wait {
	case WaitTime, WaitSync, WaitCheck:
		ctrl.status = IdleStatus()
		ctrl.runID = initialRun
		ctrl.mu.Unlock()
		a.pending.disarmIfMatches(status.WaitID)
	default:
		// Not waiting: head-insert a synthetic abort and dispatch it now.
		ctrl.mu.Unlock()
		ctrl.enqueue(&Command{CmdID: a.cmdID.Add(1), Cmd: "abort"}, true)
		a.dispatchAbort(ctrl)
	}

	a.events.abort.emit(a.logger, AbortEvent{OldRunID: oldRunID, Control: ctrl.name})
	a.wake.Notify()
}

func (a *Automator) dispatchAbort(ctrl *Control) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.queue) == 0 || ctrl.queue[0].Cmd != "abort" {
		return
	}
	cmd := ctrl.queue[0]
	ctrl.queue = ctrl.queue[1:]
	ctrl.runID = cmd.CmdID
	state, ok := a.safeDispatch(ctrl, cmd.Cmd, cmd.Args, withInstName(cmd.Kwargs, ctrl.name))
	if !ok {
		a.events.errorEvt.emit(a.logger, ErrorEvent{CmdID: cmd.CmdID, CmdName: cmd.Cmd, Control: ctrl.name})
		return
	}
	ctrl.status = ReportedStatus(state)
	if ctrl.status.IsIdle() {
		ctrl.runID = initialRun
	}
}

// CheckResponse delivers an operator's boolean answer to the single
// currently outstanding wait_check_* barrier, if any. Extra or
// unsolicited responses are dropped.
func (a *Automator) CheckResponse(ok bool) {
	a.pending.respond(ok)
}

// PendingCheckWaitID returns the id the currently outstanding
// wait_check_* barrier is armed with, if any: the cmdID of the
// wait_check_* command whose release armed it. Callers authenticating a check response
// (e.g. verifying a signed token) use this to bind their verification to
// the barrier actually waiting, not a stale or guessed one.
func (a *Automator) PendingCheckWaitID() (int64, bool) {
	return a.pending.current()
}

// PollFullStatus issues a one-off "full_status" dispatch to name, outside
// the scheduler's own per-tick "status" poll. It's safe to call from
// another goroutine (e.g. a scheduled job): the dispatch contract (§6)
// allows "status"/"full_status" to be invoked off the loop goroutine.
// The returned state is applied the same way a tick's status poll would
// apply it, including the non-idle -> idle on_finish transition.
func (a *Automator) PollFullStatus(name string) error {
	ctrl, err := a.control(name)
	if err != nil {
		return err
	}
	state, ok := a.safeDispatch(ctrl, "full_status", nil, withInstName(nil, ctrl.name))
	if !ok {
		a.events.errorEvt.emit(a.logger, ErrorEvent{CmdID: -1, CmdName: "full_status", Control: ctrl.name})
		return fmt.Errorf("full_status dispatch failed for %s", name)
	}
	a.setReported(ctrl, state)
	return nil
}

// Abort requests that every control's in-flight activity be stopped; the
// request is applied cooperatively by the scheduler loop, not
// synchronously from the caller's goroutine.
func (a *Automator) Abort() {
	a.abortRequested.Store(true)
	a.wake.Notify()
}

// Start launches the scheduler loop on a new goroutine. It returns
// immediately; use Stop (or cancel ctx) to shut it down and Done to wait
// for termination.
func (a *Automator) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go a.run(ctx)
	})
}

// Stop requests the scheduler loop exit after its current tick.
func (a *Automator) Stop() {
	a.stopRequested.Store(true)
	a.wake.Notify()
}

// Done returns a channel closed once the scheduler loop has exited.
func (a *Automator) Done() <-chan struct{} {
	return a.doneCh
}

func (a *Automator) safeDispatch(ctrl *Control, cmd string, args []any, kwargs map[string]any) (state string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("dispatch panic", "control", ctrl.name, "cmd", cmd, "panic", r)
			ok = false
		}
	}()
	return ctrl.dispatch(cmd, args, kwargs)
}

// withInstName returns kwargs with "inst_name" set, per the dispatch
// contract (§6): every call's kwargs includes the target control's name.
func withInstName(kwargs map[string]any, name string) map[string]any {
	out := make(map[string]any, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	out["inst_name"] = name
	return out
}

// pendingCheck is the single-slot rendezvous for the currently
// outstanding wait_check_* barrier (the design-note alternative to the
// source's shared mutable deque).
type pendingCheck struct {
	mu     sync.Mutex
	active bool
	waitID int64
	respCh chan bool
}

func (p *pendingCheck) arm(waitID int64) <-chan bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.waitID = waitID
	p.respCh = make(chan bool, 1)
	return p.respCh
}

func (p *pendingCheck) disarm(waitID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && p.waitID == waitID {
		p.active = false
	}
}

func (p *pendingCheck) disarmIfMatches(waitID int64) {
	p.disarm(waitID)
}

func (p *pendingCheck) current() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitID, p.active
}

func (p *pendingCheck) respond(ok bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return false
	}
	select {
	case p.respCh <- ok:
	default:
	}
	return true
}

// OnRun subscribes fn to the run event.
func (a *Automator) OnRun(fn func(RunEvent)) Subscription { return a.events.run.subscribe(fn) }

// OnFinish subscribes fn to the finish event.
func (a *Automator) OnFinish(fn func(FinishEvent)) Subscription { return a.events.finish.subscribe(fn) }

// OnCheck subscribes fn to the check event.
func (a *Automator) OnCheck(fn func(CheckEvent)) Subscription { return a.events.check.subscribe(fn) }

// OnError subscribes fn to the error event.
func (a *Automator) OnError(fn func(ErrorEvent)) Subscription { return a.events.errorEvt.subscribe(fn) }

// OnStateChange subscribes fn to the state_change event.
func (a *Automator) OnStateChange(fn func(StateChangeEvent)) Subscription {
	return a.events.stateChange.subscribe(fn)
}

// OnAbort subscribes fn to the abort event.
func (a *Automator) OnAbort(fn func(AbortEvent)) Subscription { return a.events.abort.subscribe(fn) }
