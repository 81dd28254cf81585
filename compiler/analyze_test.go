package compiler

import (
	"reflect"
	"sort"
	"testing"
)

func parseBody(t *testing.T, src string) *BlockStmt {
	t.Helper()
	prog, err := NewParser(src).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return &BlockStmt{Statements: prog.Statements}
}

func sortedNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func TestFreeVariablesSimple(t *testing.T) {
	free := freeVariables(parseBody(t, `my $x = 1; $x + $y;`))
	if got := sortedNames(free); !reflect.DeepEqual(got, []string{"$y"}) {
		t.Errorf("free = %v, want [$y]", got)
	}
}

func TestFreeVariablesElementAccessReferencesContainer(t *testing.T) {
	free := freeVariables(parseBody(t, `$a[0] + $h{k};`))
	if got := sortedNames(free); !reflect.DeepEqual(got, []string{"%h", "@a"}) {
		t.Errorf("free = %v, want [%%h @a]", got)
	}
}

func TestFreeVariablesNestedClosure(t *testing.T) {
	// A variable used two closures down is free at every level between.
	free := freeVariables(parseBody(t, `my $f = sub { return sub { $deep }; };`))
	if !free["$deep"] {
		t.Errorf("free = %v, want $deep", sortedNames(free))
	}
}

func TestFreeVariablesDeclarationsCancelAnywhere(t *testing.T) {
	// A my inside a nested block still cancels the reference: codegen
	// allocates all names in one flat register frame per unit.
	free := freeVariables(parseBody(t, `if ($c) { my $x = 1; } $x;`))
	if free["$x"] {
		t.Error("$x declared in a nested block should not be free")
	}
	if !free["$c"] {
		t.Error("$c should be free")
	}
}

func TestFreeVariablesForeachVarIsDeclared(t *testing.T) {
	free := freeVariables(parseBody(t, `foreach my $i (@items) { $sum += $i; }`))
	if free["$i"] {
		t.Error("loop variable should not be free")
	}
	for _, want := range []string{"@items", "$sum"} {
		if !free[want] {
			t.Errorf("%s should be free", want)
		}
	}
}

func TestFreeVariablesSortComparator(t *testing.T) {
	free := freeVariables(parseBody(t, `my @s = sort { $a <=> $b } @nums;`))
	if !free["@nums"] || !free["$a"] || !free["$b"] {
		t.Errorf("free = %v", sortedNames(free))
	}
}

func TestFreeVariablesSkipNamedSubBodies(t *testing.T) {
	// A nested named sub's references belong to that sub, not the body
	// that happens to contain its definition.
	free := freeVariables(parseBody(t, `sub helper { return $hidden; } $seen;`))
	if free["$hidden"] {
		t.Error("$hidden is referenced only inside a named sub")
	}
	if !free["$seen"] {
		t.Error("$seen should be free")
	}
}

func TestFreeVariablesNamedSubDeclsDoNotCancel(t *testing.T) {
	free := freeVariables(parseBody(t, `sub helper { my $x = 1; } $x;`))
	if !free["$x"] {
		t.Error("a my inside a named sub must not cancel an outer reference")
	}
}

func parseProg(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := NewParser(src).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return prog
}

func TestAnalyzeCaptureSetIntersectsOuterNames(t *testing.T) {
	got := AnalyzeCaptureSet(
		parseProg(t, `sub draw { return $width + $unrelated; }`),
		[]string{"$width"})
	if !reflect.DeepEqual(got, []string{"$width"}) {
		t.Errorf("set = %v, want [$width]", got)
	}
}

func TestAnalyzeCaptureSetSeesThroughClosures(t *testing.T) {
	got := AnalyzeCaptureSet(
		parseProg(t, `sub draw { my $f = sub { return $width; }; return $f; }`),
		[]string{"$width"})
	if !reflect.DeepEqual(got, []string{"$width"}) {
		t.Errorf("set = %v, want [$width]", got)
	}
}

func TestAnalyzeCaptureSetIgnoresNestedNamedSubs(t *testing.T) {
	got := AnalyzeCaptureSet(
		parseProg(t, `sub outer { sub inner { return $width; } return 1; }`),
		[]string{"$width"})
	if len(got) != 0 {
		t.Errorf("set = %v, want empty: $width is only used by a nested named sub", got)
	}
}

func TestAnalyzeCaptureSetUnionsAcrossSubs(t *testing.T) {
	got := AnalyzeCaptureSet(
		parseProg(t, `sub a { return $x; } sub b { return $y; }`),
		[]string{"$x", "$y", "$z"})
	if !reflect.DeepEqual(got, []string{"$x", "$y"}) {
		t.Errorf("set = %v, want [$x $y]", got)
	}
}

func TestAnalyzeCapturesReportsEnclosingLexicals(t *testing.T) {
	prog, err := NewParser(`
		my $counter = 0;
		my @log;
		sub bump { $counter += 1; push @log, $counter; }
		sub clean { return 42; }
	`).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	rep := AnalyzeCaptures(prog)
	if got, want := rep["bump"], []string{"$counter", "@log"}; !reflect.DeepEqual(got, want) {
		t.Errorf("bump captures %v, want %v", got, want)
	}
	if _, ok := rep["clean"]; ok {
		t.Error("clean references no enclosing lexicals, should not be reported")
	}
}

func TestAnalyzeCapturesSeesLaterDeclarations(t *testing.T) {
	// Subs register ahead of statement execution, so a declaration after
	// the sub definition still counts as enclosing.
	prog, err := NewParser(`
		sub get { return $late; }
		my $late = 1;
	`).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	rep := AnalyzeCaptures(prog)
	if got, want := rep["get"], []string{"$late"}; !reflect.DeepEqual(got, want) {
		t.Errorf("get captures %v, want %v", got, want)
	}
}

func TestAnalyzeCapturesIgnoresOwnParams(t *testing.T) {
	prog, err := NewParser(`
		my $x = 1;
		sub f { my ($x) = @_; return $x; }
	`).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	rep := AnalyzeCaptures(prog)
	if _, ok := rep["f"]; ok {
		t.Errorf("f shadows $x locally, should not be reported: %v", rep["f"])
	}
}

func TestAnalyzeCapturesNestedSubs(t *testing.T) {
	prog, err := NewParser(`
		sub outer {
			my $local = 1;
			sub inner { return $local; }
			return inner();
		}
	`).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	rep := AnalyzeCaptures(prog)
	if got, want := rep["inner"], []string{"$local"}; !reflect.DeepEqual(got, want) {
		t.Errorf("inner captures %v, want %v", got, want)
	}
}

func TestAnalyzeCapturesPackageBlock(t *testing.T) {
	prog, err := NewParser(`
		my $shared = 1;
		package Util { sub peek { return $shared; } }
	`).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	rep := AnalyzeCaptures(prog)
	if got, want := rep["peek"], []string{"$shared"}; !reflect.DeepEqual(got, want) {
		t.Errorf("peek captures %v, want %v", got, want)
	}
}
