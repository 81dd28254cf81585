package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single bytecode instruction. Instructions are encoded
// as int32 words: the opcode followed by a fixed, opcode-specific number of
// operand words. Operand arity is fully determined by opcode identity, so the
// interpreter advances the program counter by a static width table.
type Opcode int32

// Constants and moves
const (
	OpNop       Opcode = iota
	OpLoadConst        // dst, constIdx       load constant (scalars copied)
	OpLoadUndef        // dst
	OpMove             // dst, src            copy the reference
	OpAssign           // dst, src            copy scalar content into dst cell
	OpScalarize        // dst, src            coerce to scalar (containers → length)
	OpMakeArray        // dst                 fresh empty array
	OpMakeHash         // dst                 fresh empty hash
	OpListPush         // dst, src            flatten src into array dst
)

// Subscripting and element mutation. These are emitted only by the
// compiler's dedicated lvalue paths, never by the operator table.
const (
	OpIndexGet Opcode = iota + 20 // dst, arr, idx
	OpIndexSet                    // arr, idx, src
	OpKeyGet                      // dst, hash, key
	OpKeySet                      // hash, key, src
	OpPush                        // arr, list
	OpUnshift                     // arr, list
)

// Binary operators (dst, a, b)
const (
	OpAdd Opcode = iota + 40
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpConcat
	OpRepeat
	OpNumCmp // <=>  three-way, -1/0/1
	OpStrCmp // cmp  three-way, -1/0/1
	OpNumEq
	OpNumNe
	OpNumLt
	OpNumLe
	OpNumGt
	OpNumGe
	OpStrEq
	OpStrNe
	OpBitAnd
	OpBitOr
	OpBitXor
	OpStrBitAnd
	OpStrBitOr
	OpStrBitXor
	OpShl
	OpShr
	OpMatch    // dst, str, pattern
	OpNotMatch // dst, str, pattern
	OpRange    // dst, from, to       list-context range construction
	OpBless    // dst, code, class
	OpIsa      // dst, val, class
)

// Unary operators (dst, src)
const (
	OpNot Opcode = iota + 80
	OpNeg
	OpDefined
)

// Control flow
const (
	OpJump      Opcode = iota + 90 // target
	OpJumpFalse                    // cond, target
	OpJumpTrue                     // cond, target
	OpIterInit                     // iter, list        build loop cursor
	OpIterNext                     // var, iter, endTarget
	OpLoopCtl                      // kind, labelIdx    raise loop-control signal
	OpReturn                       // src               raise return signal
)

// Calls and dynamic compilation
const (
	OpCall      Opcode = iota + 110 // dst, code, args, ctx   call a code value
	OpCallNamed                     // dst, nameIdx, args, ctx
	OpMap                           // dst, code, list
	OpGrep                          // dst, code, list
	OpSort                          // dst, code, list, pkgIdx
	OpSplit                         // dst, pattern, str
	OpEvalStr                       // dst, src, ctx, nameIdx, line
	OpCaller                        // dst, level
	OpClosure                       // dst, anonIdx       build closure over current cells
)

// Package state and stateful operators
const (
	OpPackage  Opcode = iota + 130 // nameIdx           unscoped package switch
	OpPkgEnter                     // nameIdx           scoped switch, saved
	OpPkgLeave                     //                   restore saved package
	OpFlipFlop                     // dst, a, b, stateID, exclusive
)

// Compile-time-only markers. The compiler lowers subscripting and compound
// assignment through dedicated paths; these opcodes exist so a lowering
// regression surfaces as a hard fault instead of silent misbehavior.
const (
	OpUnloweredIndex Opcode = iota + 150
	OpUnloweredAssign
)

// Call context operands for OpCall/OpCallNamed.
const (
	ctxOperandVoid    = int32(0)
	ctxOperandScalar  = int32(1)
	ctxOperandList    = int32(2)
	ctxOperandInherit = int32(3)
)

// Loop-control kinds for OpLoopCtl.
const (
	loopCtlNext = int32(0)
	loopCtlLast = int32(1)
	loopCtlRedo = int32(2)
)

// ---------------------------------------------------------------------------
// Operand width table
// ---------------------------------------------------------------------------

type opInfo struct {
	name     string
	operands int
	// jumpOperands lists operand positions (0-based) that hold code offsets,
	// for verification and disassembly.
	jumpOperands []int
	// regOperands lists operand positions that hold register indices.
	regOperands []int
}

var opTable = map[Opcode]opInfo{
	OpNop:       {"nop", 0, nil, nil},
	OpLoadConst: {"loadconst", 2, nil, []int{0}},
	OpLoadUndef: {"loadundef", 1, nil, []int{0}},
	OpMove:      {"move", 2, nil, []int{0, 1}},
	OpAssign:    {"assign", 2, nil, []int{0, 1}},
	OpScalarize: {"scalarize", 2, nil, []int{0, 1}},
	OpMakeArray: {"makearray", 1, nil, []int{0}},
	OpMakeHash:  {"makehash", 1, nil, []int{0}},
	OpListPush:  {"listpush", 2, nil, []int{0, 1}},

	OpIndexGet: {"indexget", 3, nil, []int{0, 1, 2}},
	OpIndexSet: {"indexset", 3, nil, []int{0, 1, 2}},
	OpKeyGet:   {"keyget", 3, nil, []int{0, 1, 2}},
	OpKeySet:   {"keyset", 3, nil, []int{0, 1, 2}},
	OpPush:     {"push", 2, nil, []int{0, 1}},
	OpUnshift:  {"unshift", 2, nil, []int{0, 1}},

	OpAdd:       {"add", 3, nil, []int{0, 1, 2}},
	OpSub:       {"sub", 3, nil, []int{0, 1, 2}},
	OpMul:       {"mul", 3, nil, []int{0, 1, 2}},
	OpDiv:       {"div", 3, nil, []int{0, 1, 2}},
	OpMod:       {"mod", 3, nil, []int{0, 1, 2}},
	OpPow:       {"pow", 3, nil, []int{0, 1, 2}},
	OpConcat:    {"concat", 3, nil, []int{0, 1, 2}},
	OpRepeat:    {"repeat", 3, nil, []int{0, 1, 2}},
	OpNumCmp:    {"numcmp", 3, nil, []int{0, 1, 2}},
	OpStrCmp:    {"strcmp", 3, nil, []int{0, 1, 2}},
	OpNumEq:     {"numeq", 3, nil, []int{0, 1, 2}},
	OpNumNe:     {"numne", 3, nil, []int{0, 1, 2}},
	OpNumLt:     {"numlt", 3, nil, []int{0, 1, 2}},
	OpNumLe:     {"numle", 3, nil, []int{0, 1, 2}},
	OpNumGt:     {"numgt", 3, nil, []int{0, 1, 2}},
	OpNumGe:     {"numge", 3, nil, []int{0, 1, 2}},
	OpStrEq:     {"streq", 3, nil, []int{0, 1, 2}},
	OpStrNe:     {"strne", 3, nil, []int{0, 1, 2}},
	OpBitAnd:    {"bitand", 3, nil, []int{0, 1, 2}},
	OpBitOr:     {"bitor", 3, nil, []int{0, 1, 2}},
	OpBitXor:    {"bitxor", 3, nil, []int{0, 1, 2}},
	OpStrBitAnd: {"strbitand", 3, nil, []int{0, 1, 2}},
	OpStrBitOr:  {"strbitor", 3, nil, []int{0, 1, 2}},
	OpStrBitXor: {"strbitxor", 3, nil, []int{0, 1, 2}},
	OpShl:       {"shl", 3, nil, []int{0, 1, 2}},
	OpShr:       {"shr", 3, nil, []int{0, 1, 2}},
	OpMatch:     {"match", 3, nil, []int{0, 1, 2}},
	OpNotMatch:  {"notmatch", 3, nil, []int{0, 1, 2}},
	OpRange:     {"range", 3, nil, []int{0, 1, 2}},
	OpBless:     {"bless", 3, nil, []int{0, 1, 2}},
	OpIsa:       {"isa", 3, nil, []int{0, 1, 2}},

	OpNot:     {"not", 2, nil, []int{0, 1}},
	OpNeg:     {"neg", 2, nil, []int{0, 1}},
	OpDefined: {"defined", 2, nil, []int{0, 1}},

	OpJump:      {"jump", 1, []int{0}, nil},
	OpJumpFalse: {"jumpfalse", 2, []int{1}, []int{0}},
	OpJumpTrue:  {"jumptrue", 2, []int{1}, []int{0}},
	OpIterInit:  {"iterinit", 2, nil, []int{0, 1}},
	OpIterNext:  {"iternext", 3, []int{2}, []int{0, 1}},
	OpLoopCtl:   {"loopctl", 2, nil, nil},
	OpReturn:    {"return", 1, nil, []int{0}},

	OpCall:      {"call", 4, nil, []int{0, 1, 2}},
	OpCallNamed: {"callnamed", 4, nil, []int{0, 2}},
	OpMap:       {"map", 3, nil, []int{0, 1, 2}},
	OpGrep:      {"grep", 3, nil, []int{0, 1, 2}},
	OpSort:      {"sort", 4, nil, []int{0, 1, 2}},
	OpSplit:     {"split", 3, nil, []int{0, 1, 2}},
	OpEvalStr:   {"evalstr", 5, nil, []int{0, 1}},
	OpCaller:    {"caller", 2, nil, []int{0, 1}},
	OpClosure:   {"closure", 2, nil, []int{0}},

	OpPackage:  {"package", 1, nil, nil},
	OpPkgEnter: {"pkgenter", 1, nil, nil},
	OpPkgLeave: {"pkgleave", 0, nil, nil},
	OpFlipFlop: {"flipflop", 5, nil, []int{0, 1, 2}},

	OpUnloweredIndex:  {"unlowered-index", 0, nil, nil},
	OpUnloweredAssign: {"unlowered-assign", 0, nil, nil},
}

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("Opcode(%d)", int32(op))
}

// Operands returns the fixed operand word count for op, or -1 when the
// opcode is unknown.
func (op Opcode) Operands() int {
	if info, ok := opTable[op]; ok {
		return info.operands
	}
	return -1
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders a unit's code stream one instruction per line.
func Disassemble(u *Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "; unit %q package %s registers=%d consts=%d\n",
		u.Name, u.Package, u.NumRegisters, len(u.Consts))
	pc := 0
	for pc < len(u.Code) {
		op := Opcode(u.Code[pc])
		info, ok := opTable[op]
		if !ok {
			fmt.Fprintf(&b, "%04d  ???(%d)\n", pc, u.Code[pc])
			pc++
			continue
		}
		fmt.Fprintf(&b, "%04d  %-12s", pc, info.name)
		for i := 0; i < info.operands; i++ {
			fmt.Fprintf(&b, " %d", u.Code[pc+1+i])
		}
		if op == OpLoadConst {
			idx := u.Code[pc+2]
			if int(idx) < len(u.Consts) {
				fmt.Fprintf(&b, "  ; %q", u.Consts[idx].Str())
			}
		}
		b.WriteByte('\n')
		pc += 1 + info.operands
	}
	return b.String()
}
