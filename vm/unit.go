package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Compilation unit
// ---------------------------------------------------------------------------

// Reserved register slots. Every unit declares these before any local.
const (
	RegSelf     = 0 // receiver / self
	RegArgs     = 1 // argument list (*Array)
	RegListFlag = 2 // boolean "is list context" flag
	// ReservedRegs is the index of the first allocatable slot. Captured
	// variables from an eval occupy a contiguous block starting here.
	ReservedRegs = 3
)

// UnitKind distinguishes how a unit's boundary services control-flow signals.
type UnitKind uint8

const (
	UnitMain UnitKind = iota
	UnitSub
	UnitBlock
	UnitEval
)

func (k UnitKind) String() string {
	switch k {
	case UnitMain:
		return "main"
	case UnitSub:
		return "sub"
	case UnitBlock:
		return "block"
	case UnitEval:
		return "eval"
	}
	return fmt.Sprintf("UnitKind(%d)", uint8(k))
}

// Pragmas is the strictness/warning/feature state a unit was compiled under.
// It is a value type: eval units copy it from their enclosing unit, so later
// mutation inside the eval cannot leak outward.
type Pragmas struct {
	Strict   bool
	Warnings bool
	Features FeatureSet
}

// FeatureSet is a bitmask of enabled language features.
type FeatureSet uint32

const (
	FeatureSay FeatureSet = 1 << iota
	FeatureSignatures
	FeaturePostfixDeref
)

// Has reports whether all bits in f are enabled.
func (s FeatureSet) Has(f FeatureSet) bool { return s&f == f }

// LoopInfo records one loop's extent inside a unit's code stream, used to
// service loop-control signals that arrive from nested call boundaries.
type LoopInfo struct {
	Start    int   // first instruction of the body (redo target)
	Continue int   // condition / increment re-entry (next target)
	End      int   // first instruction after the loop (last target)
	Label    int32 // intern index of the label, -1 when unlabeled
}

// Unit is one compiled fragment: a top-level script, a subroutine body, or an
// eval string. Immutable after compilation except for the captured-variable
// attachment step; no unit ever mutates another unit's code stream.
type Unit struct {
	Name     string   // source name, e.g. "script.plt" or "(eval 3)"
	Line     int      // starting line in the source
	Kind     UnitKind
	Package  string   // syntactic package at compile start
	Pragmas  Pragmas

	Code         []int32
	Consts       []Value
	NumRegisters int
	Registry     map[string]int // variable name → register index
	Loops        []LoopInfo
	ResultReg    int // register read when execution falls off the end

	// Anon holds anonymous sub bodies referenced by OpClosure; CaptureRegs on
	// such a body lists the parent register of each cell it closes over, in
	// the order the body's registry maps them to ReservedRegs..N.
	Anon        []*Unit
	CaptureRegs []int

	// Captured is attached after compilation: cells copied from the parent
	// unit's register array into this unit's reserved block at ReservedRegs.
	Captured []Value

	// Subs holds nested named subroutine units, keyed by bare name.
	Subs map[string]*Unit
}

// NewRegisters allocates a register array for one execution of the unit.
// The length never changes afterwards.
func (u *Unit) NewRegisters() []Value {
	regs := make([]Value, u.NumRegisters)
	for i := range regs {
		regs[i] = Undef
	}
	return regs
}

// RegistryEntry pairs a variable name with its register index.
type RegistryEntry struct {
	Name     string
	Register int
}

// RegistryByIndex returns the unit's registry entries ordered by register
// index, for deterministic capture enumeration.
func (u *Unit) RegistryByIndex() []RegistryEntry {
	entries := make([]RegistryEntry, 0, len(u.Registry))
	for name, reg := range u.Registry {
		entries = append(entries, RegistryEntry{Name: name, Register: reg})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Register < entries[j].Register
	})
	return entries
}

// Verify checks the structural invariants of the code stream: every opcode is
// known, every register operand is below the declared register count, and
// every jump target lands on an instruction boundary inside the stream.
// The compiler runs this before releasing a unit.
func (u *Unit) Verify() error {
	starts := make(map[int]bool)
	pc := 0
	for pc < len(u.Code) {
		starts[pc] = true
		op := Opcode(u.Code[pc])
		info, ok := opTable[op]
		if !ok {
			return fmt.Errorf("unit %s: unknown opcode %d at %d", u.Name, u.Code[pc], pc)
		}
		if pc+info.operands >= len(u.Code) {
			return fmt.Errorf("unit %s: truncated %s at %d", u.Name, info.name, pc)
		}
		for _, i := range info.regOperands {
			reg := int(u.Code[pc+1+i])
			if reg < 0 || reg >= u.NumRegisters {
				return fmt.Errorf("unit %s: %s at %d references register %d, unit has %d",
					u.Name, info.name, pc, reg, u.NumRegisters)
			}
		}
		pc += 1 + info.operands
	}
	starts[len(u.Code)] = true
	pc = 0
	for pc < len(u.Code) {
		op := Opcode(u.Code[pc])
		info := opTable[op]
		for _, i := range info.jumpOperands {
			target := int(u.Code[pc+1+i])
			if !starts[target] {
				return fmt.Errorf("unit %s: %s at %d jumps to %d, not an instruction boundary",
					u.Name, info.name, pc, target)
			}
		}
		pc += 1 + info.operands
	}
	return nil
}
