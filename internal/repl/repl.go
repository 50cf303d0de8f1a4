// Package repl provides an in-process operator console for a running
// beamline Automator. The console is a client of the Automator and the
// Actions it tracks, not their owner: it submits commands and reads
// state through public APIs, and never starts or stops the scheduler
// loop itself.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"beamauto/internal/action"
	"beamauto/internal/automator"
)

// REPL is an interactive read-eval-print loop for operating a running
// Automator: inspecting and reordering queues, answering check barriers,
// pausing/resuming, aborting, and watching tracked Actions.
type REPL struct {
	auto *automator.Automator

	actions map[string]*action.Action // label -> Action

	in  *bufio.Scanner
	out io.Writer
}

// New creates a console attached to an already-running Automator.
func New(auto *automator.Automator, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		auto:    auto,
		actions: make(map[string]*action.Action),
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

// Track registers act under label so "actions" and "status" can report
// on it. Call this right after constructing an Action with one of the
// NewXxx constructors.
func (r *REPL) Track(label string, act *action.Action) {
	r.actions[label] = act
}

// Run starts the console loop. It blocks until the operator exits.
func (r *REPL) Run() error {
	r.printf("beamline console. Type 'help' for commands.\n")
	r.printf("> ")

	for r.in.Scan() {
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			r.printf("> ")
			continue
		}

		if exit := r.execute(line); exit {
			return nil
		}

		r.printf("> ")
	}

	return r.in.Err()
}

// execute parses and executes a single command. Returns true if the
// console should exit.
func (r *REPL) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "help":
		r.cmdHelp()
	case "state":
		r.cmdState(args)
	case "queue":
		r.cmdQueue(args)
	case "remove":
		r.cmdRemove(args)
	case "reorder":
		r.cmdReorder(args)
	case "check":
		r.cmdCheck(args)
	case "abort":
		r.cmdAbort()
	case "actions":
		r.cmdActions()
	case "status":
		r.cmdActionStatus(args)
	case "exit", "quit":
		return true
	default:
		r.printf("Unknown command: %s. Type 'help' for commands.\n", cmd)
	}

	return false
}

func (r *REPL) cmdHelp() {
	r.printf(`Commands:
  help                          Show this help
  state [run|pause]             Get or set the global run/pause state
  queue [control]                List queued command ids (all controls, or one)
  remove <control> <cmdID>      Remove a queued command
  reorder <control> <cmdID> <delta>  Move a queued command delta slots earlier
  check <true|false>             Answer the outstanding check barrier
  abort                          Request every control stop in-flight work
  actions                        List tracked actions and their aggregate status
  status <label>                 Show one tracked action's aggregate status
  exit                            Exit the console
`)
}

func (r *REPL) cmdState(args []string) {
	if len(args) == 0 {
		r.printf("State: %s\n", r.auto.State())
		return
	}
	switch args[0] {
	case "run":
		r.auto.SetAutomatorState(automator.StateRun)
		r.printf("State set to run.\n")
	case "pause":
		r.auto.SetAutomatorState(automator.StatePause)
		r.printf("State set to pause.\n")
	default:
		r.printf("Usage: state [run|pause]\n")
	}
}

func (r *REPL) cmdQueue(args []string) {
	if len(args) == 0 {
		for _, name := range r.auto.ControlNames() {
			r.printControlQueue(name)
		}
		return
	}
	r.printControlQueue(args[0])
}

func (r *REPL) printControlQueue(name string) {
	ctrl := r.auto.Control(name)
	if ctrl == nil {
		r.printf("Unknown control: %s\n", name)
		return
	}
	ids := ctrl.QueuedIDs()
	st := ctrl.Status()
	r.printf("%s: status=%s/%s queued=%v\n", name, st.Wait, st.Reported, ids)
}

func (r *REPL) cmdRemove(args []string) {
	if len(args) != 2 {
		r.printf("Usage: remove <control> <cmdID>\n")
		return
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		r.printf("Invalid cmdID: %v\n", err)
		return
	}
	if !r.auto.RemoveCmd(args[0], id) {
		r.printf("No such queued command %d on %s\n", id, args[0])
		return
	}
	r.printf("Removed %d from %s\n", id, args[0])
}

func (r *REPL) cmdReorder(args []string) {
	if len(args) != 3 {
		r.printf("Usage: reorder <control> <cmdID> <delta>\n")
		return
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		r.printf("Invalid cmdID: %v\n", err)
		return
	}
	delta, err := strconv.Atoi(args[2])
	if err != nil {
		r.printf("Invalid delta: %v\n", err)
		return
	}
	r.auto.ReorderCmd(args[0], id, delta)
	r.printf("Reordered %d on %s by %d\n", id, args[0], delta)
}

func (r *REPL) cmdCheck(args []string) {
	if len(args) != 1 {
		r.printf("Usage: check <true|false>\n")
		return
	}
	ok, err := strconv.ParseBool(args[0])
	if err != nil {
		r.printf("Invalid response: %v\n", err)
		return
	}
	r.auto.CheckResponse(ok)
	r.printf("Check response delivered: %v\n", ok)
}

func (r *REPL) cmdAbort() {
	r.auto.Abort()
	r.printf("Abort requested.\n")
}

func (r *REPL) cmdActions() {
	if len(r.actions) == 0 {
		r.printf("No tracked actions.\n")
		return
	}
	labels := make([]string, 0, len(r.actions))
	for label := range r.actions {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		act := r.actions[label]
		r.printf("%s: kind=%s status=%s\n", label, act.Kind(), act.Aggregate())
	}
}

func (r *REPL) cmdActionStatus(args []string) {
	if len(args) != 1 {
		r.printf("Usage: status <label>\n")
		return
	}
	act, ok := r.actions[args[0]]
	if !ok {
		r.printf("Unknown action: %s\n", args[0])
		return
	}
	r.printf("%s: kind=%s id=%s status=%s\n", args[0], act.Kind(), act.ID(), act.Aggregate())
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}
