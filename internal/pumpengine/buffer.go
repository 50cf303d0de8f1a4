package pumpengine

import "sync"

// Buffer describes one named reservoir position on a flow path's
// selector valve.
type Buffer struct {
	Position    int
	Description string
	Volume      float64
	Active      bool
}

// bufferInventory tracks every known buffer position for one flow path
// and which one is currently selected. Volume is debited from the
// active buffer only, at the rate the integrator observes (§4.3.4);
// inactive buffers never change.
type bufferInventory struct {
	mu      sync.Mutex
	buffers map[int]*Buffer
	active  int
}

func newBufferInventory() *bufferInventory {
	return &bufferInventory{buffers: make(map[int]*Buffer)}
}

// Set replaces {volume, description} for position atomically, creating
// the entry if it didn't exist.
func (b *bufferInventory) Set(position int, description string, volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[position]
	if !ok {
		buf = &Buffer{Position: position}
		b.buffers[position] = buf
	}
	buf.Description = description
	buf.Volume = volume
}

// Remove deletes position's entry, even if it is the active position;
// the caller is responsible for not removing a position still selected
// on the valve.
func (b *bufferInventory) Remove(position int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, position)
}

// SelectActive marks position active and every other known position on
// this path inactive.
func (b *bufferInventory) SelectActive(position int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = position
	for pos, buf := range b.buffers {
		buf.Active = pos == position
	}
}

// Debit subtracts delivered (mL) from the active buffer's remaining
// volume, if any position is currently selected and known.
func (b *bufferInventory) Debit(delivered float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[b.active]; ok {
		buf.Volume -= delivered
	}
}

// Snapshot returns a copy of every known buffer on this path.
func (b *bufferInventory) Snapshot() []Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Buffer, 0, len(b.buffers))
	for _, buf := range b.buffers {
		out = append(out, *buf)
	}
	return out
}
