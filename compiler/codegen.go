package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/perlite-lang/perlite/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Compile-time context tags, matching the operand encoding the dispatch
// loop decodes.
const (
	ctxVoid    = int32(0)
	ctxScalar  = int32(1)
	ctxList    = int32(2)
	ctxInherit = int32(3)
)

// Compile compiles a complete source file into an executable unit.
func Compile(src, sourceName string) (*vm.Unit, error) {
	return CompileWithPragmas(src, sourceName, vm.Pragmas{})
}

// CompileWithPragmas compiles a source file with an initial pragma state,
// as when a project manifest enables strictness for every script. Pragma
// statements in the source still apply on top.
func CompileWithPragmas(src, sourceName string, pragmas vm.Pragmas) (*vm.Unit, error) {
	prog, err := NewParser(src).ParseProgram()
	if err != nil {
		return nil, err
	}
	cc := newUnitCompiler(sourceName, sourceName, vm.UnitMain, "main", pragmas, nil)
	if err := cc.compileBody(prog.Statements); err != nil {
		return nil, err
	}
	return cc.finalize()
}

// CompileString is the dynamic-eval entry point: it compiles a source
// fragment against an externally supplied variable registry, so the
// fragment sees its enclosing scope's variables at the registers the
// capture block will occupy. Its signature matches vm.EvalCompiler.
func CompileString(src, sourceName string, line int, pkg string,
	pragmas vm.Pragmas, registry map[string]int) (*vm.Unit, error) {

	prog, err := NewParserAt(src, line).ParseProgram()
	if err != nil {
		return nil, err
	}
	cc := newUnitCompiler(sourceName, sourceName, vm.UnitEval, pkg, pragmas, registry)
	cc.unit.Line = line
	if err := cc.compileBody(prog.Statements); err != nil {
		return nil, err
	}
	return cc.finalize()
}

// loopFrame tracks one open loop during compilation. Lexically visible
// loop-control statements compile to direct jumps against it; only
// control that crosses a call boundary needs the signal instruction.
type loopFrame struct {
	label      string
	startPC    int   // redo target
	contPC     int   // next target
	endPatches []int // code positions awaiting the end pc
	loopIdx    int   // entry in unit.Loops, End filled when the loop closes
	pkgOpen    int   // package scopes open when the loop opened
}

// unitCompiler compiles one unit: registers are allocated monotonically,
// never reused, so every value written during a statement stays live for
// the statement's duration.
type unitCompiler struct {
	unit     *vm.Unit
	regNext  int
	constMap map[string]int32
	pkg      string
	pragmas  vm.Pragmas
	loops    []*loopFrame
	pkgOpen  int
	iterSeq  int
	anonSeq  int
}

func newUnitCompiler(name, sourceName string, kind vm.UnitKind, pkg string,
	pragmas vm.Pragmas, registry map[string]int) *unitCompiler {

	reg := vm.ReservedRegistry()
	next := vm.ReservedRegs
	for n, r := range registry {
		reg[n] = r
		if r+1 > next {
			next = r + 1
		}
	}
	return &unitCompiler{
		unit: &vm.Unit{
			Name:      name,
			Line:      1,
			Kind:      kind,
			Package:   pkg,
			Registry:  reg,
			ResultReg: -1,
		},
		regNext:  next,
		constMap: make(map[string]int32),
		pkg:      pkg,
		pragmas:  pragmas,
	}
}

func (cc *unitCompiler) finalize() (*vm.Unit, error) {
	cc.unit.NumRegisters = cc.regNext
	cc.unit.Pragmas = cc.pragmas
	if err := cc.unit.Verify(); err != nil {
		return nil, err
	}
	return cc.unit, nil
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (cc *unitCompiler) here() int { return len(cc.unit.Code) }

// emit appends one instruction and returns its pc.
func (cc *unitCompiler) emit(op vm.Opcode, operands ...int32) int {
	pc := len(cc.unit.Code)
	cc.unit.Code = append(cc.unit.Code, int32(op))
	cc.unit.Code = append(cc.unit.Code, operands...)
	return pc
}

// patch writes the current pc into a previously emitted jump operand.
func (cc *unitCompiler) patch(operandPos int) {
	cc.unit.Code[operandPos] = int32(cc.here())
}

// constIndex interns a constant, deduplicating by key.
func (cc *unitCompiler) constIndex(key string, v vm.Value) int32 {
	if idx, ok := cc.constMap[key]; ok {
		return idx
	}
	idx := int32(len(cc.unit.Consts))
	cc.unit.Consts = append(cc.unit.Consts, v)
	cc.constMap[key] = idx
	return idx
}

func (cc *unitCompiler) numConst(f float64, isInt bool) int32 {
	if isInt {
		return cc.constIndex(fmt.Sprintf("i:%d", int64(f)), vm.NewInt(int64(f)))
	}
	return cc.constIndex(fmt.Sprintf("n:%g", f), vm.NewNum(f))
}

func (cc *unitCompiler) strConst(s string) int32 {
	return cc.constIndex("s:"+s, vm.NewStr(s))
}

// loadInt emits an integer constant into a fresh register.
func (cc *unitCompiler) loadInt(n int64) int32 {
	r := cc.temp()
	cc.emit(vm.OpLoadConst, r, cc.numConst(float64(n), true))
	return r
}

// temp allocates an anonymous register. Temporaries never enter the
// registry, so dynamic capture enumeration cannot see them.
func (cc *unitCompiler) temp() int32 {
	r := cc.regNext
	cc.regNext++
	return int32(r)
}

// declare allocates a named register.
func (cc *unitCompiler) declare(name string) int32 {
	r := cc.temp()
	cc.unit.Registry[name] = int(r)
	return r
}

// declareVar declares a my variable and emits its container initializer.
func (cc *unitCompiler) declareVar(v *Variable) int32 {
	r := cc.declare(v.Sigiled())
	switch v.Sigil {
	case '@':
		cc.emit(vm.OpMakeArray, r)
	case '%':
		cc.emit(vm.OpMakeHash, r)
	default:
		cc.emit(vm.OpLoadUndef, r)
	}
	return r
}

// resolveVar resolves a variable reference. Unknown names fault under
// strict and auto-declare otherwise.
func (cc *unitCompiler) resolveVar(v *Variable) (int32, error) {
	if r, ok := cc.unit.Registry[v.Sigiled()]; ok {
		return int32(r), nil
	}
	if cc.pragmas.Strict {
		return 0, fmt.Errorf("Global symbol \"%s\" requires explicit package name at %s line %d",
			v.Sigiled(), cc.unit.Name, v.Span().Start.Line)
	}
	return cc.declareVar(v), nil
}

// resolveContainer resolves the container behind an element access.
func (cc *unitCompiler) resolveContainer(sigil byte, name string, span Span) (int32, error) {
	return cc.resolveVar(&Variable{SpanVal: span, Sigil: sigil, Name: name})
}

func internLabel(label string) int32 {
	if label == "" {
		return -1
	}
	return vm.Intern(label)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileBody compiles a statement list, recording the final expression
// statement's register as the unit's fall-off result.
func (cc *unitCompiler) compileBody(stmts []Stmt) error {
	for i, s := range stmts {
		last := i == len(stmts)-1
		if err := cc.compileStmt(s, last); err != nil {
			return err
		}
	}
	return nil
}

func (cc *unitCompiler) compileStmt(s Stmt, last bool) error {
	switch t := s.(type) {
	case *UseStmt:
		return cc.compilePragma(t)
	case *PackageStmt:
		return cc.compilePackage(t)
	case *MyStmt:
		return cc.compileMy(t)
	case *SubDef:
		return cc.compileSubDef(t)
	case *ReturnStmt:
		return cc.compileReturn(t)
	case *IfStmt:
		return cc.compileIf(t)
	case *WhileStmt:
		return cc.compileWhile(t)
	case *ForeachStmt:
		return cc.compileForeach(t)
	case *LoopCtlStmt:
		return cc.compileLoopCtl(t)
	case *BlockStmt:
		return cc.compileBody(t.Statements)
	case *ExprStmt:
		ctx := ctxVoid
		if last {
			ctx = ctxInherit
		}
		r, err := cc.compileExpr(t.Expr, ctx)
		if err != nil {
			return err
		}
		if last {
			cc.unit.ResultReg = int(r)
		}
		return nil
	}
	return fmt.Errorf("cannot compile %T", s)
}

var featureBits = map[string]vm.FeatureSet{
	"say":           vm.FeatureSay,
	"signatures":    vm.FeatureSignatures,
	"postfix_deref": vm.FeaturePostfixDeref,
}

func (cc *unitCompiler) compilePragma(u *UseStmt) error {
	switch u.Pragma {
	case "strict":
		cc.pragmas.Strict = u.Enable
	case "warnings":
		cc.pragmas.Warnings = u.Enable
	case "feature":
		if len(u.Args) == 0 && !u.Enable {
			cc.pragmas.Features = 0
			return nil
		}
		for _, a := range u.Args {
			bit, ok := featureBits[a]
			if !ok {
				return fmt.Errorf("Feature \"%s\" is not supported at %s line %d",
					a, cc.unit.Name, u.Span().Start.Line)
			}
			if u.Enable {
				cc.pragmas.Features |= bit
			} else {
				cc.pragmas.Features &^= bit
			}
		}
	default:
		return fmt.Errorf("Can't locate %s.pm at %s line %d",
			u.Pragma, cc.unit.Name, u.Span().Start.Line)
	}
	return nil
}

func (cc *unitCompiler) compilePackage(p *PackageStmt) error {
	idx := vm.Intern(p.Name)
	if p.Block == nil {
		cc.emit(vm.OpPackage, idx)
		cc.pkg = p.Name
		return nil
	}
	// Braced form: scoped switch, restored on exit even when the block
	// is left through a signal.
	cc.emit(vm.OpPkgEnter, idx)
	cc.pkgOpen++
	savedPkg := cc.pkg
	cc.pkg = p.Name
	err := cc.compileBody(p.Block.Statements)
	cc.pkg = savedPkg
	cc.pkgOpen--
	if err != nil {
		return err
	}
	cc.emit(vm.OpPkgLeave)
	return nil
}

func (cc *unitCompiler) compileMy(m *MyStmt) error {
	if m.List {
		targets := make([]Expr, len(m.Targets))
		for i, v := range m.Targets {
			cc.declareVar(v)
			targets[i] = v
		}
		if m.Init == nil {
			return nil
		}
		_, err := cc.compileListAssign(targets, m.Init)
		return err
	}

	v := m.Targets[0]
	r := cc.declareVar(v)
	if m.Init == nil {
		return nil
	}
	ctx := ctxScalar
	if v.Sigil != '$' {
		ctx = ctxList
	}
	src, err := cc.compileExpr(m.Init, ctx)
	if err != nil {
		return err
	}
	cc.emit(vm.OpAssign, r, src)
	return nil
}

func (cc *unitCompiler) compileSubDef(d *SubDef) error {
	child, _, err := cc.compileChildUnit(d.Name, vm.UnitSub, d.Body, nil, false)
	if err != nil {
		return err
	}
	if cc.unit.Subs == nil {
		cc.unit.Subs = make(map[string]*vm.Unit)
	}
	cc.unit.Subs[d.Name] = child
	return nil
}

func (cc *unitCompiler) compileReturn(r *ReturnStmt) error {
	var reg int32
	if r.Value == nil {
		reg = cc.temp()
		cc.emit(vm.OpLoadUndef, reg)
	} else {
		var err error
		reg, err = cc.compileExpr(r.Value, ctxInherit)
		if err != nil {
			return err
		}
	}
	cc.emit(vm.OpReturn, reg)
	return nil
}

func (cc *unitCompiler) compileIf(n *IfStmt) error {
	type arm struct {
		cond    Expr
		negated bool
		body    *BlockStmt
	}
	arms := []arm{{n.Cond, n.Negated, n.Then}}
	for _, e := range n.Elifs {
		arms = append(arms, arm{e.Cond, false, e.Then})
	}

	var endPatches []int
	for i, a := range arms {
		condReg, err := cc.compileExpr(a.cond, ctxScalar)
		if err != nil {
			return err
		}
		jumpOp := vm.OpJumpFalse
		if a.negated {
			jumpOp = vm.OpJumpTrue
		}
		skip := cc.emit(jumpOp, condReg, 0)
		if err := cc.compileBody(a.body.Statements); err != nil {
			return err
		}
		lastArm := i == len(arms)-1 && n.Else == nil
		if !lastArm {
			endPatches = append(endPatches, cc.emit(vm.OpJump, 0)+1)
		}
		cc.patch(skip + 2)
	}
	if n.Else != nil {
		if err := cc.compileBody(n.Else.Statements); err != nil {
			return err
		}
	}
	for _, p := range endPatches {
		cc.patch(p)
	}
	return nil
}

func (cc *unitCompiler) compileWhile(n *WhileStmt) error {
	contPC := cc.here()
	condReg, err := cc.compileExpr(n.Cond, ctxScalar)
	if err != nil {
		return err
	}
	jumpOp := vm.OpJumpFalse
	if n.Negated {
		jumpOp = vm.OpJumpTrue
	}
	exit := cc.emit(jumpOp, condReg, 0)

	startPC := cc.here()
	frame := cc.openLoop(n.Label, startPC, contPC)
	if err := cc.compileBody(n.Body.Statements); err != nil {
		return err
	}
	cc.emit(vm.OpJump, int32(contPC))
	cc.patch(exit + 2)
	cc.closeLoop(frame)
	return nil
}

func (cc *unitCompiler) compileForeach(n *ForeachStmt) error {
	listReg, err := cc.compileList(n.List)
	if err != nil {
		return err
	}
	// The iterator cursor is a registry entry so that dynamic capture
	// enumeration sees it and skips the engine-internal value it holds.
	cc.iterSeq++
	iterReg := cc.declare(fmt.Sprintf("(iter %d)", cc.iterSeq))
	cc.emit(vm.OpIterInit, iterReg, listReg)
	varReg := cc.declare(n.Var.Sigiled())

	contPC := cc.here()
	iterPC := cc.emit(vm.OpIterNext, varReg, iterReg, 0)
	startPC := cc.here()
	frame := cc.openLoop(n.Label, startPC, contPC)
	if err := cc.compileBody(n.Body.Statements); err != nil {
		return err
	}
	cc.emit(vm.OpJump, int32(contPC))
	cc.patch(iterPC + 3)
	cc.closeLoop(frame)
	return nil
}

func (cc *unitCompiler) openLoop(label string, startPC, contPC int) *loopFrame {
	frame := &loopFrame{
		label:   label,
		startPC: startPC,
		contPC:  contPC,
		loopIdx: len(cc.unit.Loops),
		pkgOpen: cc.pkgOpen,
	}
	cc.unit.Loops = append(cc.unit.Loops, vm.LoopInfo{
		Start:    startPC,
		Continue: contPC,
		Label:    internLabel(label),
	})
	cc.loops = append(cc.loops, frame)
	return frame
}

func (cc *unitCompiler) closeLoop(frame *loopFrame) {
	for _, p := range frame.endPatches {
		cc.patch(p)
	}
	cc.unit.Loops[frame.loopIdx].End = cc.here()
	cc.loops = cc.loops[:len(cc.loops)-1]
}

func (cc *unitCompiler) compileLoopCtl(n *LoopCtlStmt) error {
	// A lexically visible loop compiles to a direct jump; otherwise the
	// signal instruction lets an enclosing unit service it across the
	// call boundary.
	for i := len(cc.loops) - 1; i >= 0; i-- {
		frame := cc.loops[i]
		if n.Label != "" && frame.label != n.Label {
			continue
		}
		// The jump targets live outside any package block opened inside
		// the loop body, so those scopes have to be closed first.
		for k := cc.pkgOpen; k > frame.pkgOpen; k-- {
			cc.emit(vm.OpPkgLeave)
		}
		switch n.Kind {
		case "next":
			cc.emit(vm.OpJump, int32(frame.contPC))
		case "redo":
			cc.emit(vm.OpJump, int32(frame.startPC))
		case "last":
			frame.endPatches = append(frame.endPatches, cc.emit(vm.OpJump, 0)+1)
		}
		return nil
	}

	var kind int32
	switch n.Kind {
	case "next":
		kind = 0
	case "last":
		kind = 1
	case "redo":
		kind = 2
	}
	cc.emit(vm.OpLoopCtl, kind, internLabel(n.Label))
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (cc *unitCompiler) compileExpr(e Expr, ctx int32) (int32, error) {
	switch t := e.(type) {
	case *NumberLit:
		r := cc.temp()
		cc.emit(vm.OpLoadConst, r, cc.numConst(t.Value, t.IsInt))
		return r, nil

	case *StringLit:
		r := cc.temp()
		cc.emit(vm.OpLoadConst, r, cc.strConst(t.Value))
		return r, nil

	case *Variable:
		return cc.resolveVar(t)

	case *IndexExpr:
		arr, err := cc.resolveContainer('@', t.Name, t.SpanVal)
		if err != nil {
			return 0, err
		}
		idx, err := cc.compileExpr(t.Index, ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(vm.OpIndexGet, r, arr, idx)
		return r, nil

	case *KeyExpr:
		h, err := cc.resolveContainer('%', t.Name, t.SpanVal)
		if err != nil {
			return 0, err
		}
		key, err := cc.compileExpr(t.Key, ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(vm.OpKeyGet, r, h, key)
		return r, nil

	case *BinaryExpr:
		return cc.compileBinary(t)

	case *LogicalExpr:
		return cc.compileLogical(t)

	case *UnaryExpr:
		operand, err := cc.compileExpr(t.Operand, ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		if t.Op == "!" {
			cc.emit(vm.OpNot, r, operand)
		} else {
			cc.emit(vm.OpNeg, r, operand)
		}
		return r, nil

	case *TernaryExpr:
		return cc.compileTernary(t, ctx)

	case *RangeExpr:
		return cc.compileRange(t, ctx)

	case *AssignExpr:
		return cc.compileAssign(t)

	case *ListExpr:
		if len(t.Elements) == 1 {
			return cc.compileExpr(t.Elements[0], ctx)
		}
		return cc.compileList(t.Elements)

	case *CallExpr:
		return cc.compileCall(t, ctx)

	case *ApplyExpr:
		low, _ := lookupOperator("->")
		fn, err := cc.compileExpr(t.Callee, ctxScalar)
		if err != nil {
			return 0, err
		}
		args, err := cc.compileList(t.Arguments)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(low.op, r, fn, args, ctx)
		return r, nil

	case *AnonSubExpr:
		return cc.compileClosure("__ANON__", t.Body, nil)

	case *EvalExpr:
		src, err := cc.compileExpr(t.Source, ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(vm.OpEvalStr, r, src, ctx,
			vm.Intern(cc.unit.Name), int32(t.Span().Start.Line))
		return r, nil

	case *MapExpr:
		return cc.compileMapGrep(t)

	case *SortExpr:
		return cc.compileSort(t)

	case *SplitExpr:
		low, _ := lookupOperator("split")
		pat, err := cc.compileExpr(t.Pattern, ctxScalar)
		if err != nil {
			return 0, err
		}
		str, err := cc.compileExpr(t.String, ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(low.op, r, pat, str)
		return r, nil

	case *BuiltinExpr:
		return cc.compileBuiltin(t, ctx)
	}
	return 0, fmt.Errorf("cannot compile %T", e)
}

// compileList builds a flattened temporary array from a list of
// expressions, each compiled in list context.
func (cc *unitCompiler) compileList(elems []Expr) (int32, error) {
	return cc.compileListCtx(elems, ctxList)
}

func (cc *unitCompiler) compileListCtx(elems []Expr, ctx int32) (int32, error) {
	arr := cc.temp()
	cc.emit(vm.OpMakeArray, arr)
	for _, e := range elems {
		r, err := cc.compileExpr(e, ctx)
		if err != nil {
			return 0, err
		}
		cc.emit(vm.OpListPush, arr, r)
	}
	return arr, nil
}

// compileBinary emits a binary operator through the lowering table.
func (cc *unitCompiler) compileBinary(n *BinaryExpr) (int32, error) {
	low, ok := lookupOperator(n.Op)
	if !ok {
		return 0, fmt.Errorf("unknown operator %q at %s line %d",
			n.Op, cc.unit.Name, n.Span().Start.Line)
	}
	switch low.kind {
	case lowerDirect:
		l, err := cc.compileExpr(n.Left, ctxScalar)
		if err != nil {
			return 0, err
		}
		r, err := cc.compileExpr(n.Right, ctxScalar)
		if err != nil {
			return 0, err
		}
		dst := cc.temp()
		cc.emit(low.op, dst, l, r)
		return dst, nil

	case lowerDerivedStrRel:
		// lt/gt/le/ge derive from one cmp: operands evaluated exactly
		// once, the three-way result compared against zero.
		l, err := cc.compileExpr(n.Left, ctxScalar)
		if err != nil {
			return 0, err
		}
		r, err := cc.compileExpr(n.Right, ctxScalar)
		if err != nil {
			return 0, err
		}
		three := cc.temp()
		cc.emit(vm.OpStrCmp, three, l, r)
		zero := cc.loadInt(0)
		if !low.negate {
			dst := cc.temp()
			cc.emit(low.strict, dst, three, zero)
			return dst, nil
		}
		strict := cc.temp()
		cc.emit(low.strict, strict, three, zero)
		dst := cc.temp()
		cc.emit(vm.OpNot, dst, strict)
		return dst, nil

	default:
		return 0, fmt.Errorf("operator %q must be lowered before emission (%s)",
			n.Op, low.kind)
	}
}

func (cc *unitCompiler) compileLogical(n *LogicalExpr) (int32, error) {
	l, err := cc.compileExpr(n.Left, ctxScalar)
	if err != nil {
		return 0, err
	}
	dst := cc.temp()
	cc.emit(vm.OpMove, dst, l)

	var skip int
	switch n.Op {
	case "&&":
		skip = cc.emit(vm.OpJumpFalse, l, 0)
	case "||":
		skip = cc.emit(vm.OpJumpTrue, l, 0)
	case "//":
		d := cc.temp()
		cc.emit(vm.OpDefined, d, l)
		skip = cc.emit(vm.OpJumpTrue, d, 0)
	default:
		return 0, fmt.Errorf("unknown logical operator %q", n.Op)
	}

	r, err := cc.compileExpr(n.Right, ctxScalar)
	if err != nil {
		return 0, err
	}
	cc.emit(vm.OpMove, dst, r)
	cc.patch(skip + 2)
	return dst, nil
}

func (cc *unitCompiler) compileTernary(n *TernaryExpr, ctx int32) (int32, error) {
	cond, err := cc.compileExpr(n.Cond, ctxScalar)
	if err != nil {
		return 0, err
	}
	dst := cc.temp()
	toElse := cc.emit(vm.OpJumpFalse, cond, 0)

	thenReg, err := cc.compileExpr(n.Then, ctx)
	if err != nil {
		return 0, err
	}
	cc.emit(vm.OpMove, dst, thenReg)
	toEnd := cc.emit(vm.OpJump, 0)

	cc.patch(toElse + 2)
	elseReg, err := cc.compileExpr(n.Else, ctx)
	if err != nil {
		return 0, err
	}
	cc.emit(vm.OpMove, dst, elseReg)
	cc.patch(toEnd + 1)
	return dst, nil
}

// compileRange splits on context: a range constructor in list context, a
// process-wide flip-flop in scalar context. Each textual occurrence owns
// one flip-flop state for the life of the process.
func (cc *unitCompiler) compileRange(n *RangeExpr, ctx int32) (int32, error) {
	spelling := ".."
	if n.Exclusive {
		spelling = "..."
	}
	low, ok := lookupOperator(spelling)
	if !ok || low.kind != lowerFlipFlop {
		return 0, fmt.Errorf("operator %q missing its context-split entry at %s line %d",
			spelling, cc.unit.Name, n.Span().Start.Line)
	}

	l, err := cc.compileExpr(n.Left, ctxScalar)
	if err != nil {
		return 0, err
	}
	r, err := cc.compileExpr(n.Right, ctxScalar)
	if err != nil {
		return 0, err
	}
	dst := cc.temp()

	if ctx == ctxList || ctx == ctxInherit {
		cc.emit(low.op, dst, l, r)
		return dst, nil
	}

	id := vm.NewFlipFlopID(n.Exclusive)
	excl := int32(0)
	if n.Exclusive {
		excl = 1
	}
	cc.emit(vm.OpFlipFlop, dst, l, r, int32(id), excl)
	return dst, nil
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func (cc *unitCompiler) compileAssign(n *AssignExpr) (int32, error) {
	if list, ok := n.Target.(*ListExpr); ok {
		if n.Op != "=" {
			return 0, fmt.Errorf("compound assignment to a list at %s line %d",
				cc.unit.Name, n.Span().Start.Line)
		}
		return cc.compileListAssign(list.Elements, n.Value)
	}

	switch n.Op {
	case "=":
		ctx := ctxScalar
		if v, ok := n.Target.(*Variable); ok && v.Sigil != '$' {
			ctx = ctxList
		}
		src, err := cc.compileExpr(n.Value, ctx)
		if err != nil {
			return 0, err
		}
		return src, cc.storeTarget(n.Target, src)

	case "||=", "&&=", "//=":
		return cc.compileShortCircuitAssign(n)
	}

	// Arithmetic compound: load, apply the stripped operator through the
	// same table as the plain binary, store back.
	baseOp := strings.TrimSuffix(n.Op, "=")
	cur, err := cc.loadTarget(n.Target)
	if err != nil {
		return 0, err
	}
	rhs, err := cc.compileExpr(n.Value, ctxScalar)
	if err != nil {
		return 0, err
	}
	low, ok := lookupOperator(baseOp)
	if !ok || low.kind != lowerDirect {
		return 0, fmt.Errorf("unknown compound operator %q", n.Op)
	}
	out := cc.temp()
	cc.emit(low.op, out, cur, rhs)
	return out, cc.storeTarget(n.Target, out)
}

func (cc *unitCompiler) compileShortCircuitAssign(n *AssignExpr) (int32, error) {
	cur, err := cc.loadTarget(n.Target)
	if err != nil {
		return 0, err
	}
	dst := cc.temp()
	cc.emit(vm.OpMove, dst, cur)

	var skip int
	switch n.Op {
	case "||=":
		skip = cc.emit(vm.OpJumpTrue, cur, 0)
	case "&&=":
		skip = cc.emit(vm.OpJumpFalse, cur, 0)
	case "//=":
		d := cc.temp()
		cc.emit(vm.OpDefined, d, cur)
		skip = cc.emit(vm.OpJumpTrue, d, 0)
	}

	rhs, err := cc.compileExpr(n.Value, ctxScalar)
	if err != nil {
		return 0, err
	}
	if err := cc.storeTarget(n.Target, rhs); err != nil {
		return 0, err
	}
	cc.emit(vm.OpMove, dst, rhs)
	cc.patch(skip + 2)
	return dst, nil
}

// loadTarget reads an assignable expression's current value.
func (cc *unitCompiler) loadTarget(target Expr) (int32, error) {
	switch t := target.(type) {
	case *Variable:
		return cc.resolveVar(t)
	case *IndexExpr, *KeyExpr:
		return cc.compileExpr(target, ctxScalar)
	}
	return 0, fmt.Errorf("cannot assign to %T", target)
}

// storeTarget writes src into an assignable expression.
func (cc *unitCompiler) storeTarget(target Expr, src int32) error {
	switch t := target.(type) {
	case *Variable:
		r, err := cc.resolveVar(t)
		if err != nil {
			return err
		}
		cc.emit(vm.OpAssign, r, src)
		return nil
	case *IndexExpr:
		arr, err := cc.resolveContainer('@', t.Name, t.SpanVal)
		if err != nil {
			return err
		}
		idx, err := cc.compileExpr(t.Index, ctxScalar)
		if err != nil {
			return err
		}
		cc.emit(vm.OpIndexSet, arr, idx, src)
		return nil
	case *KeyExpr:
		h, err := cc.resolveContainer('%', t.Name, t.SpanVal)
		if err != nil {
			return err
		}
		key, err := cc.compileExpr(t.Key, ctxScalar)
		if err != nil {
			return err
		}
		cc.emit(vm.OpKeySet, h, key, src)
		return nil
	}
	return fmt.Errorf("cannot assign to %T", target)
}

// compileListAssign distributes a flattened right side across scalar
// targets positionally; a trailing array or hash target slurps the rest.
func (cc *unitCompiler) compileListAssign(targets []Expr, init Expr) (int32, error) {
	srcReg, err := cc.compileExpr(init, ctxList)
	if err != nil {
		return 0, err
	}
	// Snapshot through assignment, not listpush: the right side is fully
	// evaluated and scalar elements copied before any target is written,
	// so ($x, $y) = ($y, $x) swaps.
	flat := cc.temp()
	cc.emit(vm.OpMakeArray, flat)
	cc.emit(vm.OpAssign, flat, srcReg)

	for i, target := range targets {
		if v, ok := target.(*Variable); ok && v.Sigil != '$' {
			if i != len(targets)-1 {
				return 0, fmt.Errorf("%s must be the last target of a list assignment at %s line %d",
					v.Sigiled(), cc.unit.Name, v.Span().Start.Line)
			}
			return flat, cc.compileSlurpTail(v, flat, i)
		}
		idx := cc.loadInt(int64(i))
		cell := cc.temp()
		cc.emit(vm.OpIndexGet, cell, flat, idx)
		if err := cc.storeTarget(target, cell); err != nil {
			return 0, err
		}
	}
	return flat, nil
}

// compileSlurpTail collects elements of flat from position start into a
// fresh array and assigns it to the trailing container target.
func (cc *unitCompiler) compileSlurpTail(v *Variable, flat int32, start int) error {
	target, err := cc.resolveVar(v)
	if err != nil {
		return err
	}
	rest := cc.temp()
	cc.emit(vm.OpMakeArray, rest)
	i := cc.loadInt(int64(start))
	one := cc.loadInt(1)
	length := cc.temp()
	cc.emit(vm.OpScalarize, length, flat)

	loop := cc.here()
	cond := cc.temp()
	cc.emit(vm.OpNumLt, cond, i, length)
	exit := cc.emit(vm.OpJumpFalse, cond, 0)
	el := cc.temp()
	cc.emit(vm.OpIndexGet, el, flat, i)
	cc.emit(vm.OpPush, rest, el)
	cc.emit(vm.OpAdd, i, i, one)
	cc.emit(vm.OpJump, int32(loop))
	cc.patch(exit + 2)

	cc.emit(vm.OpAssign, target, rest)
	return nil
}

// ---------------------------------------------------------------------------
// Calls, closures and meta operators
// ---------------------------------------------------------------------------

func (cc *unitCompiler) compileCall(n *CallExpr, ctx int32) (int32, error) {
	args, err := cc.compileList(n.Arguments)
	if err != nil {
		return 0, err
	}
	r := cc.temp()
	cc.emit(vm.OpCallNamed, r, vm.Intern(n.Name), args, ctx)
	return r, nil
}

// compileClosure compiles a callable child unit and emits the closure
// instruction that captures its free variables from the live registers.
func (cc *unitCompiler) compileClosure(name string, body *BlockStmt, prologue []string) (int32, error) {
	child, captureRegs, err := cc.compileChildUnit(name, vm.UnitSub, body, prologue, true)
	if err != nil {
		return 0, err
	}
	child.CaptureRegs = captureRegs
	anonIdx := int32(len(cc.unit.Anon))
	cc.unit.Anon = append(cc.unit.Anon, child)
	r := cc.temp()
	cc.emit(vm.OpClosure, r, anonIdx)
	return r, nil
}

// compileBlockBody is compileClosure with block servicing semantics, for
// map/grep/sort bodies: loop-control signals pass through its boundary.
func (cc *unitCompiler) compileBlockBody(name string, body *BlockStmt, prologue []string) (int32, error) {
	child, captureRegs, err := cc.compileChildUnit(name, vm.UnitBlock, body, prologue, true)
	if err != nil {
		return 0, err
	}
	child.CaptureRegs = captureRegs
	anonIdx := int32(len(cc.unit.Anon))
	cc.unit.Anon = append(cc.unit.Anon, child)
	r := cc.temp()
	cc.emit(vm.OpClosure, r, anonIdx)
	return r, nil
}

// compileChildUnit compiles a nested body into its own unit. When capture
// is true, free variables that resolve in this unit's registry become the
// child's capture block, ordered by parent register index. The prologue
// names bind positional arguments ($_ for map/grep, $a/$b for sort).
func (cc *unitCompiler) compileChildUnit(name string, kind vm.UnitKind, body *BlockStmt,
	prologue []string, capture bool) (*vm.Unit, []int, error) {

	var registry map[string]int
	var captureRegs []int

	if capture {
		free := freeVariables(body)
		type cap struct {
			name string
			reg  int
		}
		var caps []cap
		for nm := range free {
			if isPrologueName(nm, prologue) {
				continue
			}
			if reg, ok := cc.unit.Registry[nm]; ok && reg >= vm.ReservedRegs {
				caps = append(caps, cap{nm, reg})
			}
		}
		sort.Slice(caps, func(i, j int) bool { return caps[i].reg < caps[j].reg })
		registry = make(map[string]int, len(caps))
		for i, c := range caps {
			registry[c.name] = vm.ReservedRegs + i
			captureRegs = append(captureRegs, c.reg)
		}
	}

	child := newUnitCompiler(name, cc.unit.Name, kind, cc.pkg, cc.pragmas, registry)
	for i, nm := range prologue {
		r := child.declare(nm)
		idx := child.loadInt(int64(i))
		child.emit(vm.OpIndexGet, r, int32(vm.RegArgs), idx)
	}
	if err := child.compileBody(body.Statements); err != nil {
		return nil, nil, err
	}
	u, err := child.finalize()
	if err != nil {
		return nil, nil, err
	}
	return u, captureRegs, nil
}

func isPrologueName(name string, prologue []string) bool {
	for _, p := range prologue {
		if p == name {
			return true
		}
	}
	return false
}

func (cc *unitCompiler) compileMapGrep(n *MapExpr) (int32, error) {
	low, _ := lookupOperator(n.Kind)
	fn, err := cc.compileBlockBody("__"+strings.ToUpper(n.Kind)+"__", n.Body, []string{"$_"})
	if err != nil {
		return 0, err
	}
	elemCtx := ctxScalar
	if low.listCtx {
		elemCtx = ctxList
	}
	list, err := cc.compileListCtx(n.List, elemCtx)
	if err != nil {
		return 0, err
	}
	r := cc.temp()
	cc.emit(low.op, r, fn, list)
	return r, nil
}

func (cc *unitCompiler) compileSort(n *SortExpr) (int32, error) {
	low, _ := lookupOperator("sort")
	var fn int32
	if n.Cmp == nil {
		// A register never holding code selects the default ordering.
		fn = cc.temp()
		cc.emit(vm.OpLoadUndef, fn)
	} else {
		var err error
		fn, err = cc.compileBlockBody("__SORT__", n.Cmp, []string{"$a", "$b"})
		if err != nil {
			return 0, err
		}
	}
	list, err := cc.compileList(n.List)
	if err != nil {
		return 0, err
	}
	r := cc.temp()
	pkgIdx := int32(0)
	if low.needPkg {
		pkgIdx = vm.Intern(cc.pkg)
	}
	cc.emit(low.op, r, fn, list, pkgIdx)
	return r, nil
}

// ---------------------------------------------------------------------------
// Builtins with dedicated emission
// ---------------------------------------------------------------------------

func (cc *unitCompiler) compileBuiltin(n *BuiltinExpr, ctx int32) (int32, error) {
	argc := len(n.Arguments)
	switch n.Name {
	case "wantarray":
		return int32(vm.RegListFlag), nil

	case "undef":
		r := cc.temp()
		cc.emit(vm.OpLoadUndef, r)
		return r, nil

	case "scalar":
		if argc != 1 {
			return 0, cc.builtinArity(n, "scalar EXPR")
		}
		src, err := cc.compileExpr(n.Arguments[0], ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(vm.OpScalarize, r, src)
		return r, nil

	case "defined":
		if argc != 1 {
			return 0, cc.builtinArity(n, "defined EXPR")
		}
		src, err := cc.compileExpr(n.Arguments[0], ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(vm.OpDefined, r, src)
		return r, nil

	case "caller":
		var level int32
		if argc > 0 {
			var err error
			level, err = cc.compileExpr(n.Arguments[0], ctxScalar)
			if err != nil {
				return 0, err
			}
		} else {
			level = cc.loadInt(0)
		}
		r := cc.temp()
		cc.emit(vm.OpCaller, r, level)
		return r, nil

	case "bless":
		if argc != 2 {
			return 0, cc.builtinArity(n, "bless REF, CLASSNAME")
		}
		ref, err := cc.compileExpr(n.Arguments[0], ctxScalar)
		if err != nil {
			return 0, err
		}
		class, err := cc.compileExpr(n.Arguments[1], ctxScalar)
		if err != nil {
			return 0, err
		}
		r := cc.temp()
		cc.emit(vm.OpBless, r, ref, class)
		return r, nil

	case "push", "unshift":
		if argc < 1 {
			return 0, cc.builtinArity(n, n.Name+" ARRAY, LIST")
		}
		v, ok := n.Arguments[0].(*Variable)
		if !ok || v.Sigil != '@' {
			return 0, fmt.Errorf("%s needs an array at %s line %d",
				n.Name, cc.unit.Name, n.Span().Start.Line)
		}
		arr, err := cc.resolveVar(v)
		if err != nil {
			return 0, err
		}
		rest, err := cc.compileList(n.Arguments[1:])
		if err != nil {
			return 0, err
		}
		op := vm.OpPush
		if n.Name == "unshift" {
			op = vm.OpUnshift
		}
		cc.emit(op, arr, rest)
		// push/unshift yield the new element count
		r := cc.temp()
		cc.emit(vm.OpScalarize, r, arr)
		return r, nil
	}
	return 0, fmt.Errorf("unknown builtin %q", n.Name)
}

func (cc *unitCompiler) builtinArity(n *BuiltinExpr, usage string) error {
	return fmt.Errorf("usage: %s at %s line %d", usage, cc.unit.Name, n.Span().Start.Line)
}
