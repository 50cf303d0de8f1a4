package pumpengine

import (
	"context"
	"errors"
	"sync"
)

// procKind names which of the mutually exclusive long-running
// procedures, if any, currently owns a flow path (§4.3's mutual
// exclusion rules).
type procKind int

const (
	procNone procKind = iota
	procPurging
	procEquilibrating
	procSwitching
)

func (k procKind) String() string {
	switch k {
	case procPurging:
		return "purging"
	case procEquilibrating:
		return "equilibrating"
	case procSwitching:
		return "switching"
	default:
		return "idle"
	}
}

// ErrAlreadyActive is returned when starting a procedure on a flow path
// that already has one of {purge, equilibrate, switch} in progress.
var ErrAlreadyActive = errors.New("pumpengine: a procedure is already active on this flow path")

// ErrSamplesRunning is returned when starting a procedure that doesn't
// tolerate concurrent sample handling while samples are in fact running.
var ErrSamplesRunning = errors.New("pumpengine: samples are running on the active path")

// flowPath holds one independent pump+valve chain's mutual-exclusion
// state and buffer inventory.
type flowPath struct {
	id int

	mu     sync.Mutex
	active procKind
	cancel context.CancelFunc

	// preSwitchRate/restoreAfterSwitch/hasSwitchSnapshot let StopAll
	// restore a path's rate if it cancels a switch mid-flight instead of
	// just zeroing it, the way runSwitch's own completion path would
	// have.
	preSwitchRate      float64
	restoreAfterSwitch bool
	hasSwitchSnapshot  bool

	buffers *bufferInventory
}

func newFlowPath(id int) *flowPath {
	return &flowPath{id: id, buffers: newBufferInventory()}
}

// Status reports which procedure, if any, is active on this path.
func (p *flowPath) Status() procKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// tryStart claims kind for this path. Returns a finish func to call
// (always, via defer) once the worker exits, and false if another
// procedure already owns the path.
func (p *flowPath) tryStart(ctx context.Context, kind procKind) (runCtx context.Context, finish func(), ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != procNone {
		return nil, nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.active = kind
	p.cancel = cancel
	return runCtx, func() {
		p.mu.Lock()
		p.active = procNone
		p.cancel = nil
		p.mu.Unlock()
	}, true
}

// cancelActive cancels whatever procedure is running on this path, if
// any (used by stop_all).
func (p *flowPath) cancelActive() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// armSwitchRestore records rate as the flow this path had just before a
// switch began. If the switch is later cancelled mid-flight, StopAll
// consults this to restore the path instead of zeroing it.
func (p *flowPath) armSwitchRestore(rate float64, restore bool) {
	p.mu.Lock()
	p.preSwitchRate = rate
	p.restoreAfterSwitch = restore
	p.hasSwitchSnapshot = true
	p.mu.Unlock()
}

// disarmSwitchRestore clears the snapshot once a switch has resolved its
// own rates, normally or otherwise. Safe to call even if nothing is armed.
func (p *flowPath) disarmSwitchRestore() {
	p.mu.Lock()
	p.hasSwitchSnapshot = false
	p.mu.Unlock()
}

// consumeSwitchRestore returns the pre-switch rate to restore to and
// clears the snapshot, if one is armed and RestoreFlowAfterSwitch was
// requested for it. ok is false if there's nothing to restore, in which
// case the caller should fall back to its default (zeroing the path).
func (p *flowPath) consumeSwitchRestore() (rate float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasSwitchSnapshot && p.restoreAfterSwitch {
		rate, ok = p.preSwitchRate, true
	}
	p.hasSwitchSnapshot = false
	return rate, ok
}
