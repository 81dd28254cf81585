package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Flip-flop operator state
// ---------------------------------------------------------------------------

// FlipFlopState is the armed/disarmed cell behind one textual occurrence of
// the flip-flop operator. The compiler assigns each call site a unique ID at
// compile time, so repeated executions of one site share a single state while
// distinct sites never collide.
type FlipFlopState struct {
	mu        sync.Mutex
	armed     bool
	count     int64
	Exclusive bool // `...` form: end test not applied on the arming evaluation
}

// flip-flop table: process-wide, append-only. IDs are assigned monotonically
// and never reused within a process.
var (
	flipFlopNextID atomic.Int64
	flipFlopTable  sync.Map // int64 → *FlipFlopState
)

// NewFlipFlopID allocates a fresh call-site identifier and registers its
// state object before any bytecode referencing it is emitted.
func NewFlipFlopID(exclusive bool) int64 {
	id := flipFlopNextID.Add(1)
	flipFlopTable.Store(id, &FlipFlopState{Exclusive: exclusive})
	return id
}

// FlipFlopByID returns the state registered under id, or nil.
func FlipFlopByID(id int64) *FlipFlopState {
	if v, ok := flipFlopTable.Load(id); ok {
		return v.(*FlipFlopState)
	}
	return nil
}

// Eval advances the flip-flop given the truth of its two operands and
// returns the operator's scalar result: the sequence number while armed
// (with "E0" appended on the disarming evaluation), empty string otherwise.
func (f *FlipFlopState) Eval(left, right bool) *Scalar {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		if !left {
			return NewStr("")
		}
		f.armed = true
		f.count = 1
		// Inclusive form checks the right operand immediately.
		if !f.Exclusive && right {
			f.armed = false
			return NewStr("1E0")
		}
		return NewInt(1)
	}
	f.count++
	if right {
		f.armed = false
		return NewStr(formatNum(float64(f.count)) + "E0")
	}
	return NewInt(f.count)
}
