package automator

import "sync"

// DispatchFunc is the per-control hardware callback. cmd is a string
// naming a hardware op or the reserved names "status"/"full_status"/
// "abort"; kwargs always includes "inst_name". The callback must return
// quickly (a few seconds at most). It is normally called from the
// scheduler's single loop goroutine, but "full_status" is also invoked
// from whichever goroutine calls Automator.PollFullStatus (e.g. a
// scheduled job) and "abort" from whichever goroutine calls
// StopRunningItem, so those calls may overlap the loop's own calls for
// the same control.
type DispatchFunc func(cmd string, args []any, kwargs map[string]any) (reportedState string, ok bool)

// Control is one named instrument queue: a FIFO of commands, the
// control's current Status, and the dispatch callback used to act on and
// poll the underlying hardware. The mutex serializes queue and status
// mutation for this control only (§5); the scheduler never holds two
// controls' mutexes at once.
type Control struct {
	name     string
	kind     string
	dispatch DispatchFunc

	mu     sync.Mutex
	queue  []*Command
	status Status
	runID  int64
}

func newControl(name, kind string, dispatch DispatchFunc, initial Status) *Control {
	return &Control{
		name:     name,
		kind:     kind,
		dispatch: dispatch,
		status:   initial,
		runID:    -1,
	}
}

// Name returns the control's registered name.
func (c *Control) Name() string { return c.name }

// Kind returns the opaque driver-class string supplied at registration.
func (c *Control) Kind() string { return c.kind }

// Status returns a snapshot of the control's current status.
func (c *Control) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RunID returns the cmdID of the currently executing command, or -1 (I1).
func (c *Control) RunID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// QueueLen returns the number of commands still queued (not counting the
// one currently running, which has already been popped).
func (c *Control) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// QueuedIDs returns the cmdIDs still queued, in FIFO order.
func (c *Control) QueuedIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, len(c.queue))
	for i, cmd := range c.queue {
		ids[i] = cmd.CmdID
	}
	return ids
}

func (c *Control) enqueue(cmd *Command, atStart bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if atStart {
		c.queue = append([]*Command{cmd}, c.queue...)
		return
	}
	c.queue = append(c.queue, cmd)
}

func (c *Control) remove(cmdID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cmd := range c.queue {
		if cmd.CmdID == cmdID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Control) reorder(cmdID int64, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, cmd := range c.queue {
		if cmd.CmdID == cmdID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	newIdx := idx - delta
	if newIdx < 0 {
		newIdx = 0
	}
	if newIdx > len(c.queue)-1 {
		newIdx = len(c.queue) - 1
	}
	if newIdx == idx {
		return
	}
	cmd := c.queue[idx]
	c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
	c.queue = append(c.queue[:newIdx], append([]*Command{cmd}, c.queue[newIdx:]...)...)
}
