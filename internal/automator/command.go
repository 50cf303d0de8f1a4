package automator

import (
	"fmt"
	"time"
)

// Command is one queued unit of work for a control: either a hardware
// operation (Wait == nil) dispatched through the control's callback, or a
// wait pseudo-operation (Wait != nil) that the scheduler resolves itself
// without touching hardware.
type Command struct {
	CmdID  int64
	Cmd    string
	Args   []any
	Kwargs map[string]any
	Wait   *waitSpec
}

// waitSpec carries the predicate parameters for a wait_* pseudo-command.
// It mirrors the wait-family kwargs described for the dispatch contract
// (condition, t_wait, inst_conds) as a typed value instead of a loosely
// typed map, matching how hardware command parameters (Kwargs) stay a map
// because their shape is genuinely driver-specific.
type waitSpec struct {
	kind      WaitKind
	tWait     time.Duration
	token     string
	instConds []InstCond
}

// CommandSpec describes a command to enqueue, before it has been assigned
// a CmdID by AddCmd.
type CommandSpec struct {
	Cmd    string
	Args   []any
	Kwargs map[string]any
	wait   *waitSpec
}

// NewCommand builds a hardware-dispatch command spec.
func NewCommand(cmd string, args []any, kwargs map[string]any) CommandSpec {
	return CommandSpec{Cmd: cmd, Args: args, Kwargs: kwargs}
}

// NewWaitTime builds a wait_time_<id> command spec that releases once
// tWait has elapsed since installation.
func NewWaitTime(waitID int64, tWait time.Duration) CommandSpec {
	return CommandSpec{
		Cmd:  fmt.Sprintf("wait_time_%d", waitID),
		wait: &waitSpec{kind: WaitTime, tWait: tWait},
	}
}

// NewWaitSync builds a wait_sync_<id> barrier command spec. The same
// waitID and token must be used on every participating control for the
// barrier to release (I5).
func NewWaitSync(waitID int64, token string, instConds []InstCond) CommandSpec {
	return CommandSpec{
		Cmd:  fmt.Sprintf("wait_sync_%d", waitID),
		wait: &waitSpec{kind: WaitSync, token: token, instConds: instConds},
	}
}

// NewWaitCheck builds a wait_check_<id> barrier command spec: same
// release rule as NewWaitSync, plus a blocking operator confirmation once
// all participants arrive.
func NewWaitCheck(waitID int64, token string, instConds []InstCond) CommandSpec {
	return CommandSpec{
		Cmd:  fmt.Sprintf("wait_check_%d", waitID),
		wait: &waitSpec{kind: WaitCheck, token: token, instConds: instConds},
	}
}

// newWaitCmd builds the internal wait_cmd_<id> status the scheduler
// installs itself when a dispatched command's actual post-dispatch state
// doesn't synchronously match its expected state (§4.1.2).
func newWaitCmd(waitID int64, control, expectedState string) waitSpec {
	return waitSpec{
		kind:      WaitCmd,
		instConds: []InstCond{{Control: control, AcceptStates: []string{expectedState}}},
	}
}
