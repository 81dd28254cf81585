package compiler

import (
	"testing"
)

func parseOne(t *testing.T, src string) Stmt {
	t.Helper()
	prog, err := NewParser(src).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(prog.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(prog.Statements))
	}
	return prog.Statements[0]
}

func parseExprStmt(t *testing.T, src string) Expr {
	t.Helper()
	stmt := parseOne(t, src)
	es, ok := stmt.(*ExprStmt)
	if !ok {
		t.Fatalf("expected ExprStmt, got %T", stmt)
	}
	return es.Expr
}

func TestParserNumberLiteral(t *testing.T) {
	num, ok := parseExprStmt(t, `42;`).(*NumberLit)
	if !ok {
		t.Fatal("expected NumberLit")
	}
	if num.Value != 42 || !num.IsInt {
		t.Errorf("value = %v IsInt = %v, want 42 true", num.Value, num.IsInt)
	}

	f, ok := parseExprStmt(t, `3.14;`).(*NumberLit)
	if !ok {
		t.Fatal("expected NumberLit")
	}
	if f.Value != 3.14 || f.IsInt {
		t.Errorf("value = %v IsInt = %v, want 3.14 false", f.Value, f.IsInt)
	}
}

func TestParserPrecedence(t *testing.T) {
	// 1 + 2 * 3 parses as 1 + (2 * 3)
	bin, ok := parseExprStmt(t, `1 + 2 * 3;`).(*BinaryExpr)
	if !ok {
		t.Fatal("expected BinaryExpr")
	}
	if bin.Op != "+" {
		t.Errorf("top op = %q, want +", bin.Op)
	}
	inner, ok := bin.Right.(*BinaryExpr)
	if !ok || inner.Op != "*" {
		t.Fatalf("right = %T, want * BinaryExpr", bin.Right)
	}
}

func TestParserPowerRightAssociative(t *testing.T) {
	// 2 ** 3 ** 2 parses as 2 ** (3 ** 2)
	bin, ok := parseExprStmt(t, `2 ** 3 ** 2;`).(*BinaryExpr)
	if !ok || bin.Op != "**" {
		t.Fatal("expected ** BinaryExpr")
	}
	if inner, ok := bin.Right.(*BinaryExpr); !ok || inner.Op != "**" {
		t.Errorf("right = %T, want nested **", bin.Right)
	}
}

func TestParserWordOperators(t *testing.T) {
	tests := []struct {
		src string
		op  string
	}{
		{`$x eq "a";`, "eq"},
		{`$x lt "a";`, "lt"},
		{`$x cmp "a";`, "cmp"},
		{`"ab" x 3;`, "x"},
	}
	for _, tc := range tests {
		bin, ok := parseExprStmt(t, tc.src).(*BinaryExpr)
		if !ok {
			t.Errorf("%s: expected BinaryExpr", tc.src)
			continue
		}
		if bin.Op != tc.op {
			t.Errorf("%s: op = %q, want %q", tc.src, bin.Op, tc.op)
		}
	}
}

func TestParserLogicalVsBinary(t *testing.T) {
	if _, ok := parseExprStmt(t, `$x && $y;`).(*LogicalExpr); !ok {
		t.Error("&& should parse as LogicalExpr")
	}
	if _, ok := parseExprStmt(t, `$x // $y;`).(*LogicalExpr); !ok {
		t.Error("// should parse as LogicalExpr")
	}
	if _, ok := parseExprStmt(t, `$x & $y;`).(*BinaryExpr); !ok {
		t.Error("& should parse as BinaryExpr")
	}
}

func TestParserTernary(t *testing.T) {
	tern, ok := parseExprStmt(t, `$x ? 1 : 2;`).(*TernaryExpr)
	if !ok {
		t.Fatal("expected TernaryExpr")
	}
	if _, ok := tern.Cond.(*Variable); !ok {
		t.Errorf("cond = %T, want Variable", tern.Cond)
	}
}

func TestParserRange(t *testing.T) {
	r, ok := parseExprStmt(t, `1 .. 10;`).(*RangeExpr)
	if !ok {
		t.Fatal("expected RangeExpr")
	}
	if r.Exclusive {
		t.Error(".. should not be exclusive")
	}

	r, ok = parseExprStmt(t, `1 ... 10;`).(*RangeExpr)
	if !ok {
		t.Fatal("expected RangeExpr")
	}
	if !r.Exclusive {
		t.Error("... should be exclusive")
	}
}

func TestParserMyScalar(t *testing.T) {
	my, ok := parseOne(t, `my $x = 42;`).(*MyStmt)
	if !ok {
		t.Fatal("expected MyStmt")
	}
	if my.List {
		t.Error("single declaration should not be a list")
	}
	if len(my.Targets) != 1 || my.Targets[0].Sigiled() != "$x" {
		t.Errorf("targets = %v, want [$x]", my.Targets)
	}
	if _, ok := my.Init.(*NumberLit); !ok {
		t.Errorf("init = %T, want NumberLit", my.Init)
	}
}

func TestParserMyWithoutInit(t *testing.T) {
	my, ok := parseOne(t, `my @items;`).(*MyStmt)
	if !ok {
		t.Fatal("expected MyStmt")
	}
	if my.Init != nil {
		t.Errorf("init = %v, want nil", my.Init)
	}
	if my.Targets[0].Sigil != '@' {
		t.Errorf("sigil = %c, want @", my.Targets[0].Sigil)
	}
}

func TestParserMyList(t *testing.T) {
	my, ok := parseOne(t, `my ($a, $b, @rest) = (1, 2, 3);`).(*MyStmt)
	if !ok {
		t.Fatal("expected MyStmt")
	}
	if !my.List {
		t.Error("parenthesized my should set List")
	}
	if len(my.Targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(my.Targets))
	}
	if my.Targets[2].Sigiled() != "@rest" {
		t.Errorf("targets[2] = %s, want @rest", my.Targets[2].Sigiled())
	}
}

func TestParserIndexAndKey(t *testing.T) {
	idx, ok := parseExprStmt(t, `$items[0];`).(*IndexExpr)
	if !ok {
		t.Fatal("expected IndexExpr")
	}
	if idx.Name != "items" {
		t.Errorf("name = %q, want items", idx.Name)
	}

	key, ok := parseExprStmt(t, `$opts{verbose};`).(*KeyExpr)
	if !ok {
		t.Fatal("expected KeyExpr")
	}
	if key.Name != "opts" {
		t.Errorf("name = %q, want opts", key.Name)
	}
	// Bareword keys auto-quote.
	if s, ok := key.Key.(*StringLit); !ok || s.Value != "verbose" {
		t.Errorf("key = %v, want string \"verbose\"", key.Key)
	}
}

func TestParserFatCommaAutoQuotes(t *testing.T) {
	my, ok := parseOne(t, `my %h = (name => "x");`).(*MyStmt)
	if !ok {
		t.Fatal("expected MyStmt")
	}
	list, ok := my.Init.(*ListExpr)
	if !ok {
		t.Fatalf("init = %T, want ListExpr", my.Init)
	}
	if s, ok := list.Elements[0].(*StringLit); !ok || s.Value != "name" {
		t.Errorf("elements[0] = %v, want string \"name\"", list.Elements[0])
	}
}

func TestParserAssignment(t *testing.T) {
	assign, ok := parseExprStmt(t, `$x = 42;`).(*AssignExpr)
	if !ok {
		t.Fatal("expected AssignExpr")
	}
	if assign.Op != "=" {
		t.Errorf("op = %q, want =", assign.Op)
	}

	compound, ok := parseExprStmt(t, `$x .= "s";`).(*AssignExpr)
	if !ok {
		t.Fatal("expected AssignExpr")
	}
	if compound.Op != ".=" {
		t.Errorf("op = %q, want .=", compound.Op)
	}
}

func TestParserRepeatAssign(t *testing.T) {
	assign, ok := parseExprStmt(t, `$s x= 2;`).(*AssignExpr)
	if !ok {
		t.Fatal("expected AssignExpr")
	}
	if assign.Op != "x=" {
		t.Errorf("op = %q, want x=", assign.Op)
	}
}

func TestParserListAssignment(t *testing.T) {
	assign, ok := parseExprStmt(t, `($x, $y) = ($y, $x);`).(*AssignExpr)
	if !ok {
		t.Fatal("expected AssignExpr")
	}
	if _, ok := assign.Target.(*ListExpr); !ok {
		t.Errorf("target = %T, want ListExpr", assign.Target)
	}
}

func TestParserCall(t *testing.T) {
	call, ok := parseExprStmt(t, `frobnicate(1, 2);`).(*CallExpr)
	if !ok {
		t.Fatal("expected CallExpr")
	}
	if call.Name != "frobnicate" || len(call.Arguments) != 2 {
		t.Errorf("call = %s/%d, want frobnicate/2", call.Name, len(call.Arguments))
	}
}

func TestParserQualifiedCall(t *testing.T) {
	call, ok := parseExprStmt(t, `Foo::Bar::baz();`).(*CallExpr)
	if !ok {
		t.Fatal("expected CallExpr")
	}
	if call.Name != "Foo::Bar::baz" {
		t.Errorf("name = %q, want Foo::Bar::baz", call.Name)
	}
}

func TestParserListOperatorWithoutParens(t *testing.T) {
	call, ok := parseExprStmt(t, `push @items, 1, 2;`).(*BuiltinExpr)
	if !ok {
		t.Fatal("expected BuiltinExpr")
	}
	if call.Name != "push" || len(call.Arguments) != 3 {
		t.Errorf("call = %s/%d, want push/3", call.Name, len(call.Arguments))
	}
}

func TestParserApply(t *testing.T) {
	apply, ok := parseExprStmt(t, `$f->(1);`).(*ApplyExpr)
	if !ok {
		t.Fatal("expected ApplyExpr")
	}
	if _, ok := apply.Callee.(*Variable); !ok {
		t.Errorf("callee = %T, want Variable", apply.Callee)
	}

	chained, ok := parseExprStmt(t, `$f->()->();`).(*ApplyExpr)
	if !ok {
		t.Fatal("expected ApplyExpr")
	}
	if _, ok := chained.Callee.(*ApplyExpr); !ok {
		t.Errorf("chained callee = %T, want ApplyExpr", chained.Callee)
	}
}

func TestParserAnonSub(t *testing.T) {
	anon, ok := parseExprStmt(t, `sub { return 1; };`).(*AnonSubExpr)
	if !ok {
		t.Fatal("expected AnonSubExpr")
	}
	if len(anon.Body.Statements) != 1 {
		t.Errorf("body has %d statements, want 1", len(anon.Body.Statements))
	}
}

func TestParserNamedSub(t *testing.T) {
	def, ok := parseOne(t, `sub greet { return "hi"; }`).(*SubDef)
	if !ok {
		t.Fatal("expected SubDef")
	}
	if def.Name != "greet" {
		t.Errorf("name = %q, want greet", def.Name)
	}
}

func TestParserEval(t *testing.T) {
	ev, ok := parseExprStmt(t, `eval '1 + 1';`).(*EvalExpr)
	if !ok {
		t.Fatal("expected EvalExpr")
	}
	if _, ok := ev.Source.(*StringLit); !ok {
		t.Errorf("source = %T, want StringLit", ev.Source)
	}
}

func TestParserMapGrep(t *testing.T) {
	m, ok := parseExprStmt(t, `map { $_ * 2 } @items;`).(*MapExpr)
	if !ok {
		t.Fatal("expected MapExpr")
	}
	if m.Kind != "map" {
		t.Errorf("kind = %q, want map", m.Kind)
	}

	g, ok := parseExprStmt(t, `grep { $_ } @items;`).(*MapExpr)
	if !ok {
		t.Fatal("expected MapExpr")
	}
	if g.Kind != "grep" {
		t.Errorf("kind = %q, want grep", g.Kind)
	}
}

func TestParserSort(t *testing.T) {
	s, ok := parseExprStmt(t, `sort @items;`).(*SortExpr)
	if !ok {
		t.Fatal("expected SortExpr")
	}
	if s.Cmp != nil {
		t.Error("plain sort should have nil comparator")
	}

	s, ok = parseExprStmt(t, `sort { $a <=> $b } @items;`).(*SortExpr)
	if !ok {
		t.Fatal("expected SortExpr")
	}
	if s.Cmp == nil {
		t.Error("block sort should have a comparator")
	}
}

func TestParserIfChain(t *testing.T) {
	stmt, ok := parseOne(t, `if ($x) { 1; } elsif ($y) { 2; } else { 3; }`).(*IfStmt)
	if !ok {
		t.Fatal("expected IfStmt")
	}
	if stmt.Negated {
		t.Error("if should not be negated")
	}
	if len(stmt.Elifs) != 1 {
		t.Errorf("got %d elsif arms, want 1", len(stmt.Elifs))
	}
	if stmt.Else == nil {
		t.Error("else arm missing")
	}
}

func TestParserUnless(t *testing.T) {
	stmt, ok := parseOne(t, `unless ($x) { 1; }`).(*IfStmt)
	if !ok {
		t.Fatal("expected IfStmt")
	}
	if !stmt.Negated {
		t.Error("unless should be negated")
	}
}

func TestParserStatementModifier(t *testing.T) {
	stmt, ok := parseOne(t, `$x = 1 if $ok;`).(*IfStmt)
	if !ok {
		t.Fatal("expected IfStmt")
	}
	if len(stmt.Then.Statements) != 1 {
		t.Fatalf("modifier body has %d statements, want 1", len(stmt.Then.Statements))
	}
	if _, ok := stmt.Then.Statements[0].(*ExprStmt); !ok {
		t.Errorf("body = %T, want ExprStmt", stmt.Then.Statements[0])
	}
}

func TestParserWhileUntil(t *testing.T) {
	w, ok := parseOne(t, `while ($x) { 1; }`).(*WhileStmt)
	if !ok {
		t.Fatal("expected WhileStmt")
	}
	if w.Negated {
		t.Error("while should not be negated")
	}

	u, ok := parseOne(t, `until ($x) { 1; }`).(*WhileStmt)
	if !ok {
		t.Fatal("expected WhileStmt")
	}
	if !u.Negated {
		t.Error("until should be negated")
	}
}

func TestParserForeach(t *testing.T) {
	fe, ok := parseOne(t, `foreach my $item (@items) { 1; }`).(*ForeachStmt)
	if !ok {
		t.Fatal("expected ForeachStmt")
	}
	if fe.Var.Sigiled() != "$item" {
		t.Errorf("var = %s, want $item", fe.Var.Sigiled())
	}
	if fe.Label != "" {
		t.Errorf("label = %q, want empty", fe.Label)
	}
}

func TestParserForeachListElements(t *testing.T) {
	fe, ok := parseOne(t, `foreach my $x (1, @rest, "z") { 1; }`).(*ForeachStmt)
	if !ok {
		t.Fatal("expected ForeachStmt")
	}
	if len(fe.List) != 3 {
		t.Errorf("list has %d elements, want 3", len(fe.List))
	}
}

func TestParserLabeledLoop(t *testing.T) {
	fe, ok := parseOne(t, `OUTER: foreach my $i (1..3) { next OUTER; }`).(*ForeachStmt)
	if !ok {
		t.Fatal("expected ForeachStmt")
	}
	if fe.Label != "OUTER" {
		t.Errorf("label = %q, want OUTER", fe.Label)
	}
	ctl, ok := fe.Body.Statements[0].(*LoopCtlStmt)
	if !ok {
		t.Fatalf("body = %T, want LoopCtlStmt", fe.Body.Statements[0])
	}
	if ctl.Kind != "next" || ctl.Label != "OUTER" {
		t.Errorf("ctl = %s/%s, want next/OUTER", ctl.Kind, ctl.Label)
	}
}

func TestParserPackage(t *testing.T) {
	pkg, ok := parseOne(t, `package Counter;`).(*PackageStmt)
	if !ok {
		t.Fatal("expected PackageStmt")
	}
	if pkg.Name != "Counter" || pkg.Block != nil {
		t.Errorf("pkg = %s block=%v, want Counter nil", pkg.Name, pkg.Block)
	}
}

func TestParserUse(t *testing.T) {
	use, ok := parseOne(t, `use feature "say", "signatures";`).(*UseStmt)
	if !ok {
		t.Fatal("expected UseStmt")
	}
	if !use.Enable || use.Pragma != "feature" {
		t.Errorf("use = %v %s, want enabled feature", use.Enable, use.Pragma)
	}
	if len(use.Args) != 2 || use.Args[1] != "signatures" {
		t.Errorf("args = %v, want [say signatures]", use.Args)
	}

	no, ok := parseOne(t, `no strict;`).(*UseStmt)
	if !ok {
		t.Fatal("expected UseStmt")
	}
	if no.Enable {
		t.Error("no should disable")
	}
}

func TestParserWantarrayBareword(t *testing.T) {
	b, ok := parseExprStmt(t, `wantarray;`).(*BuiltinExpr)
	if !ok {
		t.Fatal("expected BuiltinExpr")
	}
	if b.Name != "wantarray" {
		t.Errorf("name = %q, want wantarray", b.Name)
	}
}

func TestParserErrorReporting(t *testing.T) {
	bad := []string{
		`my = 1;`,
		`if $x { 1; }`,
		`sub { 1;`,
		`1 +;`,
	}
	for _, src := range bad {
		if _, err := NewParser(src).ParseProgram(); err == nil {
			t.Errorf("ParseProgram(%q) should fail", src)
		}
	}
}
