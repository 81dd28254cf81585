package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Dynamic string evaluation
// ---------------------------------------------------------------------------

// RemapCaptures builds an eval unit's variable registry and capture list
// from its enclosing unit. It is a pure function of (parent registry, parent
// register snapshot): parent entries at or above the reserved block, sorted
// by register index, are re-declared at ReservedRegs..N in declaration
// order. Engine-internal register contents (loop cursors) are skipped.
// Scalars are captured by copy; Array/Hash/Code cells are shared, so
// container mutation inside the eval is visible to the enclosing scope.
func RemapCaptures(parent *Unit, parentRegs []Value) (map[string]int, []Value) {
	registry := map[string]int{
		nameSelf:     RegSelf,
		nameArgs:     RegArgs,
		nameListFlag: RegListFlag,
	}
	var captured []Value
	next := ReservedRegs
	for _, e := range parent.RegistryByIndex() {
		if e.Register < ReservedRegs || e.Register >= len(parentRegs) {
			continue
		}
		v := parentRegs[e.Register]
		if v == nil || IsInternal(v) {
			continue
		}
		switch v.Kind() {
		case KindScalar, KindArray, KindHash, KindCode:
		default:
			continue
		}
		if s, ok := v.(*Scalar); ok {
			v = s.Clone()
		}
		registry[e.Name] = next
		captured = append(captured, v)
		next++
	}
	return registry, captured
}

// Registry names for the reserved slots. The parenthesized forms cannot
// collide with sigiled user variables.
const (
	nameSelf     = "(self)"
	nameArgs     = "@_"
	nameListFlag = "(wantarray)"
)

// ReservedRegistry returns a fresh registry holding only the reserved slots.
func ReservedRegistry() map[string]int {
	return map[string]int{
		nameSelf:     RegSelf,
		nameArgs:     RegArgs,
		nameListFlag: RegListFlag,
	}
}

// EvalString compiles and runs a source fragment at runtime. It never raises
// past its own boundary: any fault during parsing, compilation or execution
// is written to the last-error slot and the empty/undefined result for the
// requested context is returned. This is the one designed recovery point in
// the engine.
func (in *Interp) EvalString(src string, enclosing *Unit, enclosingRegs []Value,
	sourceName string, line int, ctx Context) (result Value) {

	in.LastError.SetStr("")

	defer func() {
		if r := recover(); r != nil {
			in.setEvalError(fmt.Sprintf("%v", r), sourceName, line)
			result = undefFor(ctx)
		}
	}()

	if in.compile == nil {
		in.setEvalError("eval is not available: no compiler installed", sourceName, line)
		return undefFor(ctx)
	}

	// Pragma state is copied from the enclosing unit, never shared; the
	// compile-time package comes from the runtime package cell, because a
	// dynamically compiled string resolves names relative to the package
	// active at the call site.
	var pragmas Pragmas
	if enclosing != nil {
		pragmas = enclosing.Pragmas
	}
	pkg := in.Frames.CurrentPackage()

	var registry map[string]int
	var captured []Value
	if enclosing != nil && enclosingRegs != nil {
		registry, captured = RemapCaptures(enclosing, enclosingRegs)
	}

	in.evalSeq++
	unitName := fmt.Sprintf("(eval %d)", in.evalSeq)

	unit, err := in.compile(src, unitName, line, pkg, pragmas, registry)
	if err != nil {
		in.setEvalError(err.Error(), sourceName, line)
		return undefFor(ctx)
	}
	unit.Kind = UnitEval

	if len(captured) > 0 {
		unit.Captured = captured
	} else if enclosing != nil && len(enclosing.Captured) > 0 {
		// Nested eval with nothing of its own to capture: share the
		// enclosing unit's bindings so repeated nested evals keep
		// referencing the same live cells.
		unit.Captured = enclosing.Captured
	}

	v, err := in.Execute(unit, nil, ctx)
	if err != nil {
		in.setEvalError(err.Error(), sourceName, line)
		return undefFor(ctx)
	}
	if v == nil {
		v = Undef
	}
	return v
}

// setEvalError writes the conventional last-error diagnostic.
func (in *Interp) setEvalError(msg, sourceName string, line int) {
	msg = strings.TrimRight(msg, "\n")
	if sourceName != "" {
		msg = fmt.Sprintf("%s at %s line %d.", msg, sourceName, line)
	}
	in.LastError.SetStr(msg + "\n")
}

// undefFor returns the language's empty result for a context: an empty list
// in list context, undef otherwise.
func undefFor(ctx Context) Value {
	if ctx == ListContext {
		return &Array{}
	}
	return Undef
}
