package compiler

import (
	"fmt"

	"github.com/perlite-lang/perlite/vm"
)

// ---------------------------------------------------------------------------
// Operator lowering table
// ---------------------------------------------------------------------------

// Every surface operator routes through one table. An operator is either
// emitted directly as its opcode, derived from a spaceship comparison,
// handled as a meta operator with forced operand context, split by context
// (flip-flop), or must have been rewritten away by the time emission runs.
type lowerKind uint8

const (
	lowerDirect lowerKind = iota
	lowerDerivedStrRel
	lowerMeta
	lowerFlipFlop
	lowerUnreachable
)

func (k lowerKind) String() string {
	switch k {
	case lowerDirect:
		return "direct"
	case lowerDerivedStrRel:
		return "derived-strrel"
	case lowerMeta:
		return "meta"
	case lowerFlipFlop:
		return "flipflop"
	case lowerUnreachable:
		return "unreachable"
	}
	return fmt.Sprintf("lowerKind(%d)", uint8(k))
}

type lowering struct {
	kind lowerKind
	op   vm.Opcode

	// Derived string relationals compile to a strcmp followed by a strict
	// numeric comparison of the three-way result against zero. The orEqual
	// forms negate the opposite strict comparison, so both operands are
	// still evaluated exactly once.
	strict vm.Opcode
	negate bool

	// Meta operators run callable bodies over lists.
	listCtx bool // operands forced into list context
	needPkg bool // emission records the compile-time package
}

var operatorTable = map[string]lowering{
	// Arithmetic
	"+":  {kind: lowerDirect, op: vm.OpAdd},
	"-":  {kind: lowerDirect, op: vm.OpSub},
	"*":  {kind: lowerDirect, op: vm.OpMul},
	"/":  {kind: lowerDirect, op: vm.OpDiv},
	"%":  {kind: lowerDirect, op: vm.OpMod},
	"**": {kind: lowerDirect, op: vm.OpPow},

	// String
	".": {kind: lowerDirect, op: vm.OpConcat},
	"x": {kind: lowerDirect, op: vm.OpRepeat},

	// Three-way comparison
	"<=>": {kind: lowerDirect, op: vm.OpNumCmp},
	"cmp": {kind: lowerDirect, op: vm.OpStrCmp},

	// Numeric relationals: direct opcodes
	"==": {kind: lowerDirect, op: vm.OpNumEq},
	"!=": {kind: lowerDirect, op: vm.OpNumNe},
	"<":  {kind: lowerDirect, op: vm.OpNumLt},
	"<=": {kind: lowerDirect, op: vm.OpNumLe},
	">":  {kind: lowerDirect, op: vm.OpNumGt},
	">=": {kind: lowerDirect, op: vm.OpNumGe},

	// String equality: direct; string relationals: derived from cmp
	"eq": {kind: lowerDirect, op: vm.OpStrEq},
	"ne": {kind: lowerDirect, op: vm.OpStrNe},
	"lt": {kind: lowerDerivedStrRel, strict: vm.OpNumLt},
	"gt": {kind: lowerDerivedStrRel, strict: vm.OpNumGt},
	"le": {kind: lowerDerivedStrRel, strict: vm.OpNumGt, negate: true},
	"ge": {kind: lowerDerivedStrRel, strict: vm.OpNumLt, negate: true},

	// Bitwise, numeric and string-wise
	"&":  {kind: lowerDirect, op: vm.OpBitAnd},
	"|":  {kind: lowerDirect, op: vm.OpBitOr},
	"^":  {kind: lowerDirect, op: vm.OpBitXor},
	"&.": {kind: lowerDirect, op: vm.OpStrBitAnd},
	"|.": {kind: lowerDirect, op: vm.OpStrBitOr},
	"^.": {kind: lowerDirect, op: vm.OpStrBitXor},
	"<<": {kind: lowerDirect, op: vm.OpShl},
	">>": {kind: lowerDirect, op: vm.OpShr},

	// Pattern match
	"=~": {kind: lowerDirect, op: vm.OpMatch},
	"!~": {kind: lowerDirect, op: vm.OpNotMatch},

	// Class membership
	"isa": {kind: lowerDirect, op: vm.OpIsa},

	// Context-split: range constructor in list context, stateful flip-flop
	// in scalar context. Emission branches on context, never on this entry
	// alone.
	"..":  {kind: lowerFlipFlop, op: vm.OpRange},
	"...": {kind: lowerFlipFlop, op: vm.OpRange},

	// Meta operators: callable bodies over lists, pattern splitting, and
	// call-application of a code value.
	"map":   {kind: lowerMeta, op: vm.OpMap, listCtx: true},
	"grep":  {kind: lowerMeta, op: vm.OpGrep, listCtx: true},
	"sort":  {kind: lowerMeta, op: vm.OpSort, listCtx: true, needPkg: true},
	"split": {kind: lowerMeta, op: vm.OpSplit},
	"->":    {kind: lowerMeta, op: vm.OpCall},

	// Rewritten to dedicated instruction sequences before emission; an
	// entry reaching generic dispatch is a compiler defect.
	"=":   {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"+=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"-=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"*=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"/=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"%=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"**=": {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	".=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"x=":  {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"||=": {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"&&=": {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"//=": {kind: lowerUnreachable, op: vm.OpUnloweredAssign},
	"[":   {kind: lowerUnreachable, op: vm.OpUnloweredIndex},
	"{":   {kind: lowerUnreachable, op: vm.OpUnloweredIndex},
}

// lookupOperator resolves a surface operator spelling.
func lookupOperator(op string) (lowering, bool) {
	l, ok := operatorTable[op]
	return l, ok
}
