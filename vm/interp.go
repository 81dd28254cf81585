package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// ---------------------------------------------------------------------------
// Control-flow signals
// ---------------------------------------------------------------------------

// Control flow is modeled as tagged results threaded through every unit
// execution, not as host panics: a signal propagates outward through block
// boundaries and is serviced exactly at the loop or subroutine boundary able
// to handle it.
type signalKind uint8

const (
	sigNone signalKind = iota
	sigReturn
	sigNext
	sigLast
	sigRedo
)

func (k signalKind) String() string {
	switch k {
	case sigNone:
		return "none"
	case sigReturn:
		return "return"
	case sigNext:
		return "next"
	case sigLast:
		return "last"
	case sigRedo:
		return "redo"
	}
	return fmt.Sprintf("signal(%d)", uint8(k))
}

type signal struct {
	kind  signalKind
	label int32 // intern index, -1 when unlabeled
	value Value // return value for sigReturn
}

var noSignal = signal{kind: sigNone, label: -1}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// EvalCompiler compiles a source fragment against an externally supplied
// variable registry. The compiler package installs its implementation via
// UseCompiler; the indirection keeps the dependency pointing one way.
type EvalCompiler func(src, sourceName string, line int, pkg string,
	pragmas Pragmas, registry map[string]int) (*Unit, error)

// Interp executes compiled units. One Interp serves one logical execution
// thread: its frame stack, sub table and last-error slot are never shared.
// Compiled units themselves are immutable and may be shared across instances.
type Interp struct {
	Frames *FrameStack

	// LastError is the conventional last-error slot written by the eval
	// boundary ($@ in the surface language).
	LastError *Scalar

	// Output streams used by the print/say builtins.
	Stdout io.Writer
	Stderr io.Writer

	subs    map[string]*Code
	compile EvalCompiler
	evalSeq int
}

// NewInterp returns an interpreter positioned in package main, with the
// builtin library installed.
func NewInterp() *Interp {
	in := &Interp{
		Frames:    NewFrameStack("main"),
		LastError: &Scalar{},
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		subs:      make(map[string]*Code),
	}
	RegisterBuiltins(in)
	return in
}

// UseCompiler installs the dynamic-compilation entry point used by the
// eval-string opcode.
func (in *Interp) UseCompiler(c EvalCompiler) { in.compile = c }

// DefineSub registers a named subroutine under pkg.
func (in *Interp) DefineSub(pkg, name string, code *Code) {
	in.subs[pkg+"::"+name] = code
}

// LookupSub resolves name in pkg, falling back to main.
func (in *Interp) LookupSub(pkg, name string) *Code {
	if c, ok := in.subs[pkg+"::"+name]; ok {
		return c
	}
	if c, ok := in.subs["main::"+name]; ok {
		return c
	}
	return nil
}

// CurrentCallStack returns the active frames, most recent first.
func (in *Interp) CurrentCallStack() []Frame { return in.Frames.Stack() }

// Execute runs a unit with the given arguments under the requested context.
func (in *Interp) Execute(u *Unit, args []Value, ctx Context) (Value, error) {
	v, _, err := in.execUnit(u, Undef, nil, args, ctx, "")
	return v, err
}

// CallCode invokes a callable with arguments under ctx.
func (in *Interp) CallCode(code *Code, args []Value, ctx Context) (Value, error) {
	v, sig, err := in.callValue(code, args, ctx)
	if err != nil {
		return nil, err
	}
	if sig.kind != sigNone {
		return nil, fmt.Errorf("can't \"%s\" outside a loop block", sig.kind)
	}
	return v, nil
}

// callValue runs a callable, servicing signals at its boundary per unit kind.
func (in *Interp) callValue(code *Code, args []Value, ctx Context) (Value, signal, error) {
	if code.Native != nil {
		v, err := code.Native(in, args, ctx)
		return v, noSignal, err
	}
	return in.execUnit(code.Unit, Undef, code.Captured, args, ctx, code.Name)
}

// execUnit allocates a register array, seeds the reserved slots and the
// captured block, and runs the unit. Frame push/pop and package restoration
// are guaranteed on every exit path.
func (in *Interp) execUnit(u *Unit, self Value, captured []Value, args []Value,
	ctx Context, subName string) (Value, signal, error) {

	regs := u.NewRegisters()
	regs[RegSelf] = self
	regs[RegArgs] = NewArray(args...)
	regs[RegListFlag] = NewBool(ctx == ListContext)
	if captured == nil {
		captured = u.Captured
	}
	for i, c := range captured {
		if ReservedRegs+i < len(regs) {
			regs[ReservedRegs+i] = c
		}
	}
	in.registerSubs(u)

	in.Frames.PushFrame(u, in.Frames.CurrentPackage(), subName)
	defer in.Frames.PopFrame()
	prevPkg := in.Frames.SwapPackage(u.Package)
	defer in.Frames.SetPackage(prevPkg)

	v, sig, err := in.runUnit(u, regs, ctx)
	if err != nil {
		return nil, noSignal, err
	}

	if u.Kind == UnitBlock {
		// Blocks are not a servicing boundary: signals pass through.
		return v, sig, nil
	}
	switch sig.kind {
	case sigNone:
		return v, noSignal, nil
	case sigReturn:
		return sig.value, noSignal, nil
	default:
		return nil, noSignal, fmt.Errorf("can't \"%s\" outside a loop block", sig.kind)
	}
}

// registerSubs publishes a unit's named subroutines into the sub table.
func (in *Interp) registerSubs(u *Unit) {
	if len(u.Subs) == 0 {
		return
	}
	names := make([]string, 0, len(u.Subs))
	for name := range u.Subs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		su := u.Subs[name]
		in.DefineSub(su.Package, name, &Code{Unit: su, Name: name, Package: su.Package})
	}
}

// fault builds a runtime fault annotated with the executing unit and pc.
func fault(u *Unit, pc int, format string, args ...interface{}) error {
	return fmt.Errorf("%s at %s pc %d", fmt.Sprintf(format, args...), u.Name, pc)
}

// serviceLoopSignal finds the innermost loop extent containing pc that can
// handle sig and returns the pc to continue at. ok is false when no loop in
// this unit services the signal and it must propagate outward.
func serviceLoopSignal(u *Unit, pc int, sig signal) (int, bool) {
	best := -1
	for i, l := range u.Loops {
		if pc < l.Start || pc >= l.End {
			continue
		}
		if sig.label >= 0 && l.Label != sig.label {
			continue
		}
		if best < 0 || l.Start > u.Loops[best].Start {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	l := u.Loops[best]
	switch sig.kind {
	case sigNext:
		return l.Continue, true
	case sigLast:
		return l.End, true
	case sigRedo:
		return l.Start, true
	}
	return 0, false
}

func ctxFromOperand(op int32, cur Context) Context {
	switch op {
	case ctxOperandVoid:
		return VoidContext
	case ctxOperandScalar:
		return ScalarContext
	case ctxOperandList:
		return ListContext
	}
	return cur
}

// runUnit is the dispatch loop: one opcode at a time, pc advanced by the
// static operand-width table, mutating only the current register array.
func (in *Interp) runUnit(u *Unit, regs []Value, ctx Context) (Value, signal, error) {
	var pkgSaves []string
	defer func() {
		for i := len(pkgSaves) - 1; i >= 0; i-- {
			in.Frames.SetPackage(pkgSaves[i])
		}
	}()

	pc := 0
	code := u.Code
	for pc < len(code) {
		op := Opcode(code[pc])
		switch op {
		case OpNop:
			pc++

		case OpLoadConst:
			dst, idx := code[pc+1], code[pc+2]
			if int(idx) >= len(u.Consts) {
				return nil, noSignal, fault(u, pc, "constant index %d out of range", idx)
			}
			c := u.Consts[idx]
			if s, ok := c.(*Scalar); ok {
				regs[dst] = s.Clone()
			} else {
				regs[dst] = c
			}
			pc += 3

		case OpLoadUndef:
			regs[code[pc+1]] = &Scalar{}
			pc += 2

		case OpMove:
			regs[code[pc+1]] = regs[code[pc+2]]
			pc += 3

		case OpAssign:
			if err := assignInto(regs, code[pc+1], code[pc+2]); err != nil {
				return nil, noSignal, fault(u, pc, "%v", err)
			}
			pc += 3

		case OpScalarize:
			regs[code[pc+1]] = scalarize(regs[code[pc+2]])
			pc += 3

		case OpMakeArray:
			regs[code[pc+1]] = &Array{}
			pc += 2

		case OpMakeHash:
			regs[code[pc+1]] = NewHash()
			pc += 2

		case OpListPush:
			arr, ok := regs[code[pc+1]].(*Array)
			if !ok {
				return nil, noSignal, fault(u, pc, "listpush target is not an array")
			}
			arr.Elems = Flatten(arr.Elems, regs[code[pc+2]])
			pc += 3

		case OpIndexGet:
			arr, ok := regs[code[pc+2]].(*Array)
			if !ok {
				return nil, noSignal, fault(u, pc, "not an ARRAY value")
			}
			regs[code[pc+1]] = arr.At(int(regs[code[pc+3]].Num()))
			pc += 4

		case OpIndexSet:
			arr, ok := regs[code[pc+1]].(*Array)
			if !ok {
				return nil, noSignal, fault(u, pc, "not an ARRAY value")
			}
			arr.Put(int(regs[code[pc+2]].Num()), copyForStore(regs[code[pc+3]]))
			pc += 4

		case OpKeyGet:
			h, ok := regs[code[pc+2]].(*Hash)
			if !ok {
				return nil, noSignal, fault(u, pc, "not a HASH value")
			}
			regs[code[pc+1]] = h.Get(regs[code[pc+3]].Str())
			pc += 4

		case OpKeySet:
			h, ok := regs[code[pc+1]].(*Hash)
			if !ok {
				return nil, noSignal, fault(u, pc, "not a HASH value")
			}
			h.Put(regs[code[pc+2]].Str(), copyForStore(regs[code[pc+3]]))
			pc += 4

		case OpPush:
			arr, ok := regs[code[pc+1]].(*Array)
			if !ok {
				return nil, noSignal, fault(u, pc, "push target is not an ARRAY")
			}
			arr.Push(Flatten(nil, regs[code[pc+2]])...)
			pc += 3

		case OpUnshift:
			arr, ok := regs[code[pc+1]].(*Array)
			if !ok {
				return nil, noSignal, fault(u, pc, "unshift target is not an ARRAY")
			}
			arr.Unshift(Flatten(nil, regs[code[pc+2]])...)
			pc += 3

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpConcat, OpRepeat,
			OpNumCmp, OpStrCmp, OpNumEq, OpNumNe, OpNumLt, OpNumLe, OpNumGt,
			OpNumGe, OpStrEq, OpStrNe, OpBitAnd, OpBitOr, OpBitXor,
			OpStrBitAnd, OpStrBitOr, OpStrBitXor, OpShl, OpShr,
			OpMatch, OpNotMatch, OpRange, OpBless, OpIsa:
			v, err := binaryOp(op, regs[code[pc+2]], regs[code[pc+3]])
			if err != nil {
				return nil, noSignal, fault(u, pc, "%v", err)
			}
			regs[code[pc+1]] = v
			pc += 4

		case OpNot:
			regs[code[pc+1]] = NewBool(!regs[code[pc+2]].Bool())
			pc += 3

		case OpNeg:
			regs[code[pc+1]] = NewNum(-regs[code[pc+2]].Num())
			pc += 3

		case OpDefined:
			src := regs[code[pc+2]]
			if s, ok := src.(*Scalar); ok {
				regs[code[pc+1]] = NewBool(s.Defined())
			} else {
				regs[code[pc+1]] = NewBool(true)
			}
			pc += 3

		case OpJump:
			pc = int(code[pc+1])

		case OpJumpFalse:
			if !regs[code[pc+1]].Bool() {
				pc = int(code[pc+2])
			} else {
				pc += 3
			}

		case OpJumpTrue:
			if regs[code[pc+1]].Bool() {
				pc = int(code[pc+2])
			} else {
				pc += 3
			}

		case OpIterInit:
			regs[code[pc+1]] = &iterState{list: Flatten(nil, regs[code[pc+2]])}
			pc += 3

		case OpIterNext:
			it, ok := regs[code[pc+2]].(*iterState)
			if !ok {
				return nil, noSignal, fault(u, pc, "iternext without iterator state")
			}
			if it.next >= len(it.list) {
				pc = int(code[pc+3])
			} else {
				// Aliasing: the loop variable register holds the element
				// itself, so mutation is visible in the source list.
				regs[code[pc+1]] = it.list[it.next]
				it.next++
				pc += 4
			}

		case OpLoopCtl:
			kind, label := code[pc+1], code[pc+2]
			sig := signal{label: label}
			switch kind {
			case loopCtlNext:
				sig.kind = sigNext
			case loopCtlLast:
				sig.kind = sigLast
			case loopCtlRedo:
				sig.kind = sigRedo
			default:
				return nil, noSignal, fault(u, pc, "bad loop control kind %d", kind)
			}
			return nil, sig, nil

		case OpReturn:
			return nil, signal{kind: sigReturn, label: -1, value: regs[code[pc+1]]}, nil

		case OpCall:
			dst, fn, argsReg, cop := code[pc+1], code[pc+2], code[pc+3], code[pc+4]
			callee, ok := regs[fn].(*Code)
			if !ok {
				return nil, noSignal, fault(u, pc, "not a CODE value")
			}
			args := Flatten(nil, regs[argsReg])
			v, sig, err := in.callValue(callee, args, ctxFromOperand(cop, ctx))
			if err != nil {
				return nil, noSignal, err
			}
			if sig.kind == sigReturn {
				return nil, sig, nil
			}
			if sig.kind != sigNone {
				if target, ok := serviceLoopSignal(u, pc, sig); ok {
					pc = target
					continue
				}
				return nil, sig, nil
			}
			if v == nil {
				v = Undef
			}
			regs[dst] = v
			pc += 5

		case OpCallNamed:
			dst, nameIdx, argsReg, cop := code[pc+1], code[pc+2], code[pc+3], code[pc+4]
			name := InternedString(nameIdx)
			callee := in.resolveSub(name)
			if callee == nil {
				return nil, noSignal, fault(u, pc, "undefined subroutine &%s called", name)
			}
			args := Flatten(nil, regs[argsReg])
			v, sig, err := in.callValue(callee, args, ctxFromOperand(cop, ctx))
			if err != nil {
				return nil, noSignal, err
			}
			if sig.kind == sigReturn {
				return nil, sig, nil
			}
			if sig.kind != sigNone {
				if target, ok := serviceLoopSignal(u, pc, sig); ok {
					pc = target
					continue
				}
				return nil, sig, nil
			}
			if v == nil {
				v = Undef
			}
			regs[dst] = v
			pc += 5

		case OpMap, OpGrep:
			dst, fn, listReg := code[pc+1], code[pc+2], code[pc+3]
			callee, ok := regs[fn].(*Code)
			if !ok {
				return nil, noSignal, fault(u, pc, "%s needs a CODE value", op)
			}
			elems := Flatten(nil, regs[listReg])
			out := &Array{}
			bodyCtx := ListContext
			if op == OpGrep {
				bodyCtx = ScalarContext
			}
			var escaped signal
			for _, e := range elems {
				v, sig, err := in.callValue(callee, []Value{e}, bodyCtx)
				if err != nil {
					return nil, noSignal, err
				}
				if sig.kind != sigNone {
					escaped = sig
					break
				}
				if op == OpMap {
					out.Elems = Flatten(out.Elems, v)
				} else if v != nil && v.Bool() {
					out.Push(e)
				}
			}
			if escaped.kind != sigNone {
				if escaped.kind != sigReturn {
					if target, ok := serviceLoopSignal(u, pc, escaped); ok {
						pc = target
						continue
					}
				}
				return nil, escaped, nil
			}
			regs[dst] = out
			pc += 4

		case OpSort:
			dst, fn, listReg, pkgIdx := code[pc+1], code[pc+2], code[pc+3], code[pc+4]
			elems := Flatten(nil, regs[listReg])
			sorted := make([]Value, len(elems))
			copy(sorted, elems)
			// A non-code value in the comparator register selects the
			// default string ordering.
			callee, _ := regs[fn].(*Code)
			var sortErr error
			if callee == nil {
				sort.SliceStable(sorted, func(i, j int) bool {
					return sorted[i].Str() < sorted[j].Str()
				})
			} else {
				// Custom ordering runs in the package recorded at the call
				// site, restored when sorting completes.
				prev := in.Frames.SwapPackage(InternedString(pkgIdx))
				sort.SliceStable(sorted, func(i, j int) bool {
					if sortErr != nil {
						return false
					}
					v, sig, err := in.callValue(callee, []Value{sorted[i], sorted[j]}, ScalarContext)
					if err != nil {
						sortErr = err
						return false
					}
					if sig.kind != sigNone {
						sortErr = fmt.Errorf("can't \"%s\" inside a sort comparator", sig.kind)
						return false
					}
					return v.Num() < 0
				})
				in.Frames.SetPackage(prev)
			}
			if sortErr != nil {
				return nil, noSignal, sortErr
			}
			regs[dst] = &Array{Elems: sorted}
			pc += 5

		case OpSplit:
			dst, pat, str := code[pc+1], code[pc+2], code[pc+3]
			out, err := splitList(regs[pat].Str(), regs[str].Str())
			if err != nil {
				return nil, noSignal, fault(u, pc, "%v", err)
			}
			regs[dst] = out
			pc += 4

		case OpEvalStr:
			dst, src, cop, nameIdx, line := code[pc+1], code[pc+2], code[pc+3], code[pc+4], code[pc+5]
			regs[dst] = in.EvalString(regs[src].Str(), u, regs,
				InternedString(nameIdx), int(line), ctxFromOperand(cop, ctx))
			pc += 6

		case OpCaller:
			dst, levelReg := code[pc+1], code[pc+2]
			level := int(regs[levelReg].Num())
			stack := in.Frames.Stack()
			// Level 0 describes the caller of the executing unit.
			idx := level + 1
			if idx < 0 || idx >= len(stack) {
				regs[dst] = Undef
			} else {
				f := stack[idx]
				regs[dst] = NewArray(NewStr(f.Package), NewStr(f.Unit.Name), NewStr(f.SubName))
			}
			pc += 3

		case OpClosure:
			dst, anonIdx := code[pc+1], code[pc+2]
			if int(anonIdx) >= len(u.Anon) {
				return nil, noSignal, fault(u, pc, "closure body index %d out of range", anonIdx)
			}
			body := u.Anon[anonIdx]
			captured := make([]Value, len(body.CaptureRegs))
			for i, pr := range body.CaptureRegs {
				captured[i] = regs[pr]
			}
			regs[dst] = &Code{Unit: body, Captured: captured, Package: body.Package}
			pc += 3

		case OpPackage:
			in.Frames.SetPackage(InternedString(code[pc+1]))
			pc += 2

		case OpPkgEnter:
			pkgSaves = append(pkgSaves, in.Frames.SwapPackage(InternedString(code[pc+1])))
			pc += 2

		case OpPkgLeave:
			if n := len(pkgSaves); n > 0 {
				in.Frames.SetPackage(pkgSaves[n-1])
				pkgSaves = pkgSaves[:n-1]
			}
			pc++

		case OpFlipFlop:
			dst, a, b, id, _ := code[pc+1], code[pc+2], code[pc+3], code[pc+4], code[pc+5]
			state := FlipFlopByID(int64(id))
			if state == nil {
				return nil, noSignal, fault(u, pc, "flip-flop state %d not registered", id)
			}
			regs[dst] = state.Eval(regs[a].Bool(), regs[b].Bool())
			pc += 6

		case OpUnloweredIndex, OpUnloweredAssign:
			return nil, noSignal, fault(u, pc,
				"compiler defect: %s reached the interpreter", op)

		default:
			return nil, noSignal, fault(u, pc, "unknown opcode %d", code[pc])
		}
	}

	if u.ResultReg >= 0 && u.ResultReg < len(regs) {
		return regs[u.ResultReg], noSignal, nil
	}
	return Undef, noSignal, nil
}

// resolveSub resolves a possibly package-qualified sub name against the
// runtime current package.
func (in *Interp) resolveSub(name string) *Code {
	if i := lastPkgSep(name); i >= 0 {
		if c, ok := in.subs[name]; ok {
			return c
		}
		return nil
	}
	return in.LookupSub(in.Frames.CurrentPackage(), name)
}

func lastPkgSep(name string) int {
	for i := len(name) - 2; i >= 0; i-- {
		if name[i] == ':' && name[i+1] == ':' {
			return i
		}
	}
	return -1
}

// assignInto copies content into the destination register's container.
func assignInto(regs []Value, dst, src int32) error {
	switch d := regs[dst].(type) {
	case *Scalar:
		if d == Undef {
			d = &Scalar{}
			regs[dst] = d
		}
		switch s := regs[src].(type) {
		case *Scalar:
			d.Set(s)
		case *Code:
			// Code lands in the register directly; scalars can't hold it.
			regs[dst] = s
		default:
			d.SetNum(s.Num())
		}
	case *Array:
		d.Elems = Flatten(nil, regs[src])
		for i, e := range d.Elems {
			d.Elems[i] = copyForStore(e)
		}
	case *Hash:
		flat := Flatten(nil, regs[src])
		d.m = make(map[string]Value, len(flat)/2)
		for i := 0; i+1 < len(flat); i += 2 {
			d.m[flat[i].Str()] = copyForStore(flat[i+1])
		}
	case *Code:
		regs[dst] = regs[src]
	default:
		return fmt.Errorf("cannot assign into %s", regs[dst].Kind())
	}
	return nil
}

// copyForStore applies the language's store semantics: scalars are copied
// into containers, containers are stored by reference.
func copyForStore(v Value) Value {
	if s, ok := v.(*Scalar); ok {
		return s.Clone()
	}
	return v
}

// scalarize coerces a value into a fresh scalar: containers yield their
// element count, scalars copy.
func scalarize(v Value) Value {
	switch t := v.(type) {
	case *Scalar:
		return t.Clone()
	case *Array:
		return NewInt(int64(t.Len()))
	case *Hash:
		return NewInt(int64(t.Len()))
	default:
		return NewStr(v.Str())
	}
}
