package automator

import (
	"context"
	"time"
)

// run is the scheduler loop (§4.1). Exactly one goroutine executes this,
// spawned by Start.
func (a *Automator) run(ctx context.Context) {
	defer close(a.doneCh)

	for {
		if a.stopRequested.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if a.abortRequested.CompareAndSwap(true, false) {
			a.StopRunningItems()
			continue
		}

		if a.State() == StatePause {
			a.sleep(ctx, a.wake.C())
			continue
		}

		anyProgress := false
		for _, name := range a.ControlNames() {
			ctrl, err := a.control(name)
			if err != nil {
				continue
			}
			if ctrl.Status().IsWaiting() {
				a.checkWait(ctrl)
			} else {
				a.checkStatus(ctrl)
			}
			if ctrl.Status().IsIdle() && ctrl.QueueLen() > 0 {
				a.runNextCmd(ctrl)
				anyProgress = true
			}
		}

		if !anyProgress {
			a.sleep(ctx, a.wake.C())
		}
	}
}

func (a *Automator) sleep(ctx context.Context, wakeCh <-chan struct{}) {
	timer := time.NewTimer(a.tick)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wakeCh:
	}
}

// checkStatus polls hardware state for an idle/reported (non-waiting)
// control (§4.1.1).
func (a *Automator) checkStatus(ctrl *Control) {
	state, ok := a.safeDispatch(ctrl, "status", nil, withInstName(nil, ctrl.name))
	if !ok {
		a.events.errorEvt.emit(a.logger, ErrorEvent{CmdID: -1, CmdName: "status", Control: ctrl.name})
		return
	}
	a.setReported(ctrl, state)
}

// setReported overwrites a control's status with a freshly polled
// hardware state, emitting on_finish if this is a non-idle -> idle
// transition (covers both §4.1.1's status-poll rule and a wait's
// resolve-to-idle on release).
func (a *Automator) setReported(ctrl *Control, state string) {
	ctrl.mu.Lock()
	wasNonIdle := !ctrl.status.IsIdle()
	prevRunID := ctrl.runID
	ctrl.status = ReportedStatus(state)
	becameIdle := ctrl.status.IsIdle()
	if becameIdle {
		ctrl.runID = initialRun
	}
	ctrl.mu.Unlock()

	if wasNonIdle && becameIdle {
		a.events.finish.emit(a.logger, FinishEvent{CmdID: prevRunID, Control: ctrl.name, GlobalState: a.State()})
	}
}

// runNextCmd pops and starts the head of ctrl's queue (§4.1.2).
func (a *Automator) runNextCmd(ctrl *Control) {
	ctrl.mu.Lock()
	if len(ctrl.queue) == 0 {
		ctrl.mu.Unlock()
		return
	}
	cmd := ctrl.queue[0]
	ctrl.queue = ctrl.queue[1:]
	prevRunID := ctrl.runID
	ctrl.runID = cmd.CmdID
	ctrl.mu.Unlock()

	a.events.run.emit(a.logger, RunEvent{CmdID: cmd.CmdID, CmdName: cmd.Cmd, PrevCmdID: prevRunID, GlobalState: a.State()})

	if cmd.Wait != nil {
		a.installWait(ctrl, cmd.CmdID, cmd.Wait)
		return
	}

	state, ok := a.safeDispatch(ctrl, cmd.Cmd, cmd.Args, withInstName(cmd.Kwargs, ctrl.name))
	if !ok {
		a.events.errorEvt.emit(a.logger, ErrorEvent{CmdID: cmd.CmdID, CmdName: cmd.Cmd, Control: ctrl.name})
		// Leave the control at whatever state it now reports; do not requeue.
		a.checkStatus(ctrl)
		return
	}
	expectedState := state

	actualState, ok := a.safeDispatch(ctrl, "status", nil, withInstName(nil, ctrl.name))
	if !ok {
		a.events.errorEvt.emit(a.logger, ErrorEvent{CmdID: -1, CmdName: "status", Control: ctrl.name})
		return
	}

	if actualState == expectedState {
		ctrl.mu.Lock()
		ctrl.status = ReportedStatus(actualState)
		if ctrl.status.IsIdle() {
			ctrl.runID = initialRun
		}
		ctrl.mu.Unlock()
		a.events.finish.emit(a.logger, FinishEvent{CmdID: cmd.CmdID, Control: ctrl.name, GlobalState: a.State()})
		return
	}

	waitID := a.NewWaitID()
	spec := newWaitCmd(waitID, ctrl.name, expectedState)
	ctrl.mu.Lock()
	ctrl.status = Status{Wait: WaitCmd, WaitID: waitID, InstConds: spec.instConds}
	ctrl.mu.Unlock()
}

func (a *Automator) installWait(ctrl *Control, cmdID int64, spec *waitSpec) {
	ctrl.mu.Lock()
	switch spec.kind {
	case WaitTime:
		ctrl.status = Status{Wait: WaitTime, WaitID: cmdID, TStart: time.Now(), TWait: spec.tWait}
	case WaitSync, WaitCheck:
		ctrl.status = Status{Wait: spec.kind, WaitID: cmdID, Token: spec.token, InstConds: spec.instConds}
	case WaitCmd:
		ctrl.status = Status{Wait: WaitCmd, WaitID: cmdID, InstConds: spec.instConds}
	}
	ctrl.mu.Unlock()
}

// checkWait evaluates ctrl's pending wait predicate without blocking,
// except for wait_check_* which blocks the scheduler goroutine on the
// operator response channel once its barrier has released (§4.1.3).
func (a *Automator) checkWait(ctrl *Control) {
	status := ctrl.Status()
	switch status.Wait {
	case WaitTime:
		if time.Since(status.TStart) >= status.TWait {
			a.checkStatus(ctrl)
		}
	case WaitCmd:
		a.checkCmdWait(ctrl, status)
	case WaitSync:
		if a.barrierReady(status) {
			a.releaseBarrier(status)
			a.checkStatus(ctrl)
		}
	case WaitCheck:
		if a.barrierReady(status) {
			a.resolveCheck(ctrl, status)
		}
	}
}

func (a *Automator) checkCmdWait(ctrl *Control, status Status) {
	resolved := true
	for _, cond := range status.InstConds {
		other, err := a.control(cond.Control)
		if err != nil {
			return
		}
		if other.Status().Wait == WaitCmd {
			a.checkStatus(other)
		}
		os := other.Status()
		if os.Wait != WaitNone || !cond.accepts(os.Reported) {
			resolved = false
		}
	}
	if resolved {
		a.checkStatus(ctrl)
	}
}

func (a *Automator) barrierReady(status Status) bool {
	for _, cond := range status.InstConds {
		other, err := a.control(cond.Control)
		if err != nil {
			return false
		}
		os := other.Status()
		if os.Wait != status.Wait || os.Token != status.Token {
			return false
		}
	}
	return true
}

// releaseBarrier rechecks every participant (resolving each to its
// post-barrier hardware state) and then returns; the caller rechecks
// "self" afterward, matching §4.1.3's "recheck every participant and
// then this control."
func (a *Automator) releaseBarrier(status Status) {
	for _, cond := range status.InstConds {
		other, err := a.control(cond.Control)
		if err != nil {
			continue
		}
		a.checkStatus(other)
	}
}

// resolveCheck emits on_check and blocks the scheduler goroutine on the
// operator response. It releases ctrl's own mutex (it isn't held across
// this call — barrierReady/emit only read snapshots) so StopRunningItem
// can still consume the wait concurrently while we're blocked. While
// waiting it polls every 100ms and gives up if Stop was called or the
// wait was consumed; on a response, we re-validate the wait is still the
// one we armed before acting on it.
func (a *Automator) resolveCheck(ctrl *Control, status Status) {
	a.events.check.emit(a.logger, CheckEvent{CmdID: status.WaitID, Control: ctrl.name, GlobalState: a.State()})

	respCh := a.pending.arm(status.WaitID)
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()
	var ok bool
	for answered := false; !answered; {
		select {
		case ok = <-respCh:
			answered = true
		case <-poll.C:
			if cur := ctrl.Status(); a.stopRequested.Load() || cur.Wait != WaitCheck || cur.WaitID != status.WaitID {
				a.pending.disarm(status.WaitID)
				return
			}
		}
	}
	a.pending.disarm(status.WaitID)

	// If the wait was already consumed by StopRunningItem while we were
	// blocked, there's nothing left to release.
	if current := ctrl.Status(); current.Wait != WaitCheck || current.WaitID != status.WaitID {
		return
	}

	if !ok {
		a.SetAutomatorState(StatePause)
		return
	}
	a.releaseBarrier(status)
	a.checkStatus(ctrl)
}
