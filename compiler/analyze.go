package compiler

import "sort"

// ---------------------------------------------------------------------------
// Scope analysis
// ---------------------------------------------------------------------------

// freeVariables returns the sigiled names a body references but does not
// declare. Nested anonymous bodies count: a variable only used two
// closures down still has to be captured at every level between.
func freeVariables(body *BlockStmt) map[string]bool {
	refs := make(map[string]bool)
	decls := make(map[string]bool)
	for _, s := range body.Statements {
		collectRefs(s, refs)
		collectDecls(s, decls)
	}
	for name := range decls {
		delete(refs, name)
	}
	return refs
}

// collectRefs records every variable reference under n, recursing into
// nested anonymous bodies but not into nested named subroutines: those
// are separate definitions, analyzed against their own enclosing scope.
func collectRefs(n Node, refs map[string]bool) {
	switch t := n.(type) {
	case nil:
		return
	case *Variable:
		refs[t.Sigiled()] = true
	case *IndexExpr:
		refs["@"+t.Name] = true
		collectRefs(t.Index, refs)
	case *KeyExpr:
		refs["%"+t.Name] = true
		collectRefs(t.Key, refs)
	case *BinaryExpr:
		collectRefs(t.Left, refs)
		collectRefs(t.Right, refs)
	case *LogicalExpr:
		collectRefs(t.Left, refs)
		collectRefs(t.Right, refs)
	case *UnaryExpr:
		collectRefs(t.Operand, refs)
	case *TernaryExpr:
		collectRefs(t.Cond, refs)
		collectRefs(t.Then, refs)
		collectRefs(t.Else, refs)
	case *RangeExpr:
		collectRefs(t.Left, refs)
		collectRefs(t.Right, refs)
	case *AssignExpr:
		collectRefs(t.Target, refs)
		collectRefs(t.Value, refs)
	case *ListExpr:
		for _, e := range t.Elements {
			collectRefs(e, refs)
		}
	case *CallExpr:
		for _, e := range t.Arguments {
			collectRefs(e, refs)
		}
	case *ApplyExpr:
		collectRefs(t.Callee, refs)
		for _, e := range t.Arguments {
			collectRefs(e, refs)
		}
	case *AnonSubExpr:
		collectRefs(t.Body, refs)
	case *EvalExpr:
		collectRefs(t.Source, refs)
	case *MapExpr:
		collectRefs(t.Body, refs)
		for _, e := range t.List {
			collectRefs(e, refs)
		}
	case *SortExpr:
		if t.Cmp != nil {
			collectRefs(t.Cmp, refs)
		}
		for _, e := range t.List {
			collectRefs(e, refs)
		}
	case *SplitExpr:
		collectRefs(t.Pattern, refs)
		collectRefs(t.String, refs)
	case *BuiltinExpr:
		for _, e := range t.Arguments {
			collectRefs(e, refs)
		}
	case *ExprStmt:
		collectRefs(t.Expr, refs)
	case *BlockStmt:
		for _, s := range t.Statements {
			collectRefs(s, refs)
		}
	case *MyStmt:
		collectRefs(t.Init, refs)
	case *SubDef:
		// Skipped: the nested sub's references are its own.
	case *PackageStmt:
		if t.Block != nil {
			collectRefs(t.Block, refs)
		}
	case *ReturnStmt:
		collectRefs(t.Value, refs)
	case *IfStmt:
		collectRefs(t.Cond, refs)
		collectRefs(t.Then, refs)
		for _, e := range t.Elifs {
			collectRefs(e.Cond, refs)
			collectRefs(e.Then, refs)
		}
		if t.Else != nil {
			collectRefs(t.Else, refs)
		}
	case *WhileStmt:
		collectRefs(t.Cond, refs)
		collectRefs(t.Body, refs)
	case *ForeachStmt:
		for _, e := range t.List {
			collectRefs(e, refs)
		}
		collectRefs(t.Body, refs)
	}
}

// collectDecls records every my declaration under n, recursing into
// nested bodies the same way collectRefs does so declarations cancel
// their own references.
func collectDecls(n Node, decls map[string]bool) {
	switch t := n.(type) {
	case nil:
		return
	case *MyStmt:
		for _, v := range t.Targets {
			decls[v.Sigiled()] = true
		}
	case *ForeachStmt:
		decls[t.Var.Sigiled()] = true
		collectDecls(t.Body, decls)
	case *BlockStmt:
		for _, s := range t.Statements {
			collectDecls(s, decls)
		}
	case *PackageStmt:
		if t.Block != nil {
			collectDecls(t.Block, decls)
		}
	case *IfStmt:
		collectDecls(t.Then, decls)
		for _, e := range t.Elifs {
			collectDecls(e.Then, decls)
		}
		if t.Else != nil {
			collectDecls(t.Else, decls)
		}
	case *WhileStmt:
		collectDecls(t.Body, decls)
	case *ExprStmt:
		collectDecls(t.Expr, decls)
	case *AnonSubExpr:
		collectDecls(t.Body, decls)
	case *MapExpr:
		collectDecls(t.Body, decls)
	case *SortExpr:
		if t.Cmp != nil {
			collectDecls(t.Cmp, decls)
		}
	}
}

// ---------------------------------------------------------------------------
// Named-sub capture analyzer
// ---------------------------------------------------------------------------

// CaptureReport maps each named subroutine to the enclosing lexical
// variables its body references, sorted. Named subs are compiled once
// and do not close over the enclosing scope, so every entry here is a
// variable that will not stay shared with the outer binding.
type CaptureReport map[string][]string

// AnalyzeCaptures walks a program and reports, per named subroutine, the
// lexicals declared in enclosing scopes that the sub's body references.
func AnalyzeCaptures(prog *Program) CaptureReport {
	rep := make(CaptureReport)
	analyzeScope(prog.Statements, map[string]bool{}, rep)
	return rep
}

func analyzeScope(stmts []Stmt, outer map[string]bool, rep CaptureReport) {
	// Declarations in this scope are visible to every sub defined in it,
	// including subs textually before the declaration: sub registration
	// happens ahead of statement execution.
	scope := make(map[string]bool, len(outer))
	for n := range outer {
		scope[n] = true
	}
	for _, s := range stmts {
		collectOwnDecls(s, scope)
	}

	for _, s := range stmts {
		switch t := s.(type) {
		case *SubDef:
			free := freeVariables(t.Body)
			var captured []string
			for name := range free {
				if scope[name] {
					captured = append(captured, name)
				}
			}
			if len(captured) > 0 {
				sort.Strings(captured)
				rep[t.Name] = captured
			}
			analyzeScope(t.Body.Statements, scope, rep)
		case *PackageStmt:
			if t.Block != nil {
				analyzeScope(t.Block.Statements, scope, rep)
			}
		case *BlockStmt:
			analyzeScope(t.Statements, scope, rep)
		case *IfStmt:
			analyzeScope(t.Then.Statements, scope, rep)
			for _, e := range t.Elifs {
				analyzeScope(e.Then.Statements, scope, rep)
			}
			if t.Else != nil {
				analyzeScope(t.Else.Statements, scope, rep)
			}
		case *WhileStmt:
			analyzeScope(t.Body.Statements, scope, rep)
		case *ForeachStmt:
			analyzeScope(t.Body.Statements, scope, rep)
		}
	}
}

// collectOwnDecls records declarations made directly by a statement in
// the current scope, without descending into nested sub bodies.
func collectOwnDecls(s Stmt, decls map[string]bool) {
	switch t := s.(type) {
	case *MyStmt:
		for _, v := range t.Targets {
			decls[v.Sigiled()] = true
		}
	case *ForeachStmt:
		decls[t.Var.Sigiled()] = true
	}
}

// AnalyzeCaptureSet reports which of the supplied enclosing-scope names
// the named subroutines defined in a tree reference, as a sorted union.
// The search for definitions does not enter subroutine bodies: a nested
// named sub is a separate definition, analyzed against its own scope.
func AnalyzeCaptureSet(prog *Program, outer []string) []string {
	outerSet := make(map[string]bool, len(outer))
	for _, n := range outer {
		outerSet[n] = true
	}
	found := make(map[string]bool)
	for _, s := range prog.Statements {
		findSubCaptures(s, outerSet, found)
	}
	names := make([]string, 0, len(found))
	for n := range found {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func findSubCaptures(s Stmt, outer, found map[string]bool) {
	switch t := s.(type) {
	case *SubDef:
		for name := range freeVariables(t.Body) {
			if outer[name] {
				found[name] = true
			}
		}
	case *BlockStmt:
		for _, st := range t.Statements {
			findSubCaptures(st, outer, found)
		}
	case *PackageStmt:
		if t.Block != nil {
			findSubCaptures(t.Block, outer, found)
		}
	case *IfStmt:
		findSubCaptures(t.Then, outer, found)
		for _, e := range t.Elifs {
			findSubCaptures(e.Then, outer, found)
		}
		if t.Else != nil {
			findSubCaptures(t.Else, outer, found)
		}
	case *WhileStmt:
		findSubCaptures(t.Body, outer, found)
	case *ForeachStmt:
		findSubCaptures(t.Body, outer, found)
	}
}
