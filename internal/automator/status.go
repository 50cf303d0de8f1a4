package automator

import "time"

// WaitKind distinguishes the kind of rendezvous a control's status
// currently encodes. The zero value WaitNone means the control is either
// idle or holding an opaque hardware-reported state, not waiting on
// anything.
type WaitKind string

const (
	WaitNone  WaitKind = ""
	WaitTime  WaitKind = "time"
	WaitCmd   WaitKind = "cmd"
	WaitSync  WaitKind = "sync"
	WaitCheck WaitKind = "check"
)

// idleState is the distinguished Reported value meaning no command is in
// flight on a control and no wait predicate is pending.
const idleState = "idle"

// InstCond names one participant of a wait_cmd or wait_sync/wait_check
// barrier: a control name and the set of reported states that satisfy
// this participant's side of the predicate.
type InstCond struct {
	Control      string
	AcceptStates []string
}

func (c InstCond) accepts(state string) bool {
	for _, s := range c.AcceptStates {
		if s == state {
			return true
		}
	}
	return false
}

// Status is the tagged state of a single control. Exactly one of the
// following shapes is active at a time, selected by Wait:
//
//   - Wait == WaitNone, Reported == "idle": the control is idle.
//   - Wait == WaitNone, Reported == <anything else>: an opaque
//     hardware-reported state, passed through verbatim from the
//     dispatch callback.
//   - Wait == WaitTime: a timed wait; TStart/TWait are set.
//   - Wait == WaitCmd: single-instrument completion wait; InstConds has
//     exactly one entry, naming the control itself.
//   - Wait == WaitSync: multi-instrument barrier; every InstConds entry
//     must show Token as its reported state before the barrier releases.
//   - Wait == WaitCheck: same release rule as WaitSync, plus an operator
//     confirmation gate.
type Status struct {
	Wait     WaitKind
	Reported string

	WaitID int64

	TStart time.Time
	TWait  time.Duration

	Token     string
	InstConds []InstCond
}

// IdleStatus returns the distinguished idle status.
func IdleStatus() Status { return Status{Reported: idleState} }

// ReportedStatus wraps an opaque hardware-reported state.
func ReportedStatus(state string) Status { return Status{Reported: state} }

// IsIdle reports whether the status represents an idle control (I2).
func (s Status) IsIdle() bool { return s.Wait == WaitNone && s.Reported == idleState }

// IsWaiting reports whether the status is any of the wait_* tags.
func (s Status) IsWaiting() bool { return s.Wait != WaitNone }
