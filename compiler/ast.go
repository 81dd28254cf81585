package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Perlite
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLit represents a numeric literal.
type NumberLit struct {
	SpanVal Span
	Value   float64
	IsInt   bool
}

func (n *NumberLit) Span() Span { return n.SpanVal }
func (n *NumberLit) node()      {}
func (n *NumberLit) expr()      {}

// StringLit represents a string literal.
type StringLit struct {
	SpanVal Span
	Value   string
}

func (n *StringLit) Span() Span { return n.SpanVal }
func (n *StringLit) node()      {}
func (n *StringLit) expr()      {}

// Variable represents a sigiled variable reference. Name excludes the
// sigil, so $x, @x and %x have Name "x" with different sigils.
type Variable struct {
	SpanVal Span
	Sigil   byte // '$', '@' or '%'
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// Sigiled returns the variable's registry key, sigil included.
func (n *Variable) Sigiled() string {
	return string(n.Sigil) + n.Name
}

// IndexExpr represents an array element access $a[i].
type IndexExpr struct {
	SpanVal Span
	Name    string // array name without sigil
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// KeyExpr represents a hash element access $h{k}.
type KeyExpr struct {
	SpanVal Span
	Name    string // hash name without sigil
	Key     Expr
}

func (n *KeyExpr) Span() Span { return n.SpanVal }
func (n *KeyExpr) node()      {}
func (n *KeyExpr) expr()      {}

// BinaryExpr represents a binary operator application. Op is the
// surface spelling (+, eq, <=>, x, isa, ...).
type BinaryExpr struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// LogicalExpr represents a short-circuit operator (&&, ||, //).
type LogicalExpr struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *LogicalExpr) Span() Span { return n.SpanVal }
func (n *LogicalExpr) node()      {}
func (n *LogicalExpr) expr()      {}

// UnaryExpr represents a prefix operator (!, -).
type UnaryExpr struct {
	SpanVal Span
	Op      string
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// TernaryExpr represents cond ? then : else.
type TernaryExpr struct {
	SpanVal Span
	Cond    Expr
	Then    Expr
	Else    Expr
}

func (n *TernaryExpr) Span() Span { return n.SpanVal }
func (n *TernaryExpr) node()      {}
func (n *TernaryExpr) expr()      {}

// RangeExpr represents the .. / ... operator. List context makes it a
// range constructor; scalar context makes it a flip-flop.
type RangeExpr struct {
	SpanVal   Span
	Left      Expr
	Right     Expr
	Exclusive bool // true for the ... form
}

func (n *RangeExpr) Span() Span { return n.SpanVal }
func (n *RangeExpr) node()      {}
func (n *RangeExpr) expr()      {}

// AssignExpr represents assignment, plain or compound. Target is a
// Variable, IndexExpr, KeyExpr, or ListExpr (for list assignment).
type AssignExpr struct {
	SpanVal Span
	Op      string // "=", "+=", ".=", "||=", ...
	Target  Expr
	Value   Expr
}

func (n *AssignExpr) Span() Span { return n.SpanVal }
func (n *AssignExpr) node()      {}
func (n *AssignExpr) expr()      {}

// ListExpr represents a parenthesized comma list.
type ListExpr struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListExpr) Span() Span { return n.SpanVal }
func (n *ListExpr) node()      {}
func (n *ListExpr) expr()      {}

// CallExpr represents a named call: foo(1, 2) or Foo::bar(3).
type CallExpr struct {
	SpanVal   Span
	Name      string
	Arguments []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// ApplyExpr represents a code-value application: $f->(1, 2).
type ApplyExpr struct {
	SpanVal   Span
	Callee    Expr
	Arguments []Expr
}

func (n *ApplyExpr) Span() Span { return n.SpanVal }
func (n *ApplyExpr) node()      {}
func (n *ApplyExpr) expr()      {}

// AnonSubExpr represents an anonymous sub { ... }.
type AnonSubExpr struct {
	SpanVal Span
	Body    *BlockStmt
}

func (n *AnonSubExpr) Span() Span { return n.SpanVal }
func (n *AnonSubExpr) node()      {}
func (n *AnonSubExpr) expr()      {}

// EvalExpr represents a string eval: eval EXPR or eval { ... } is not
// supported; only the string form exists.
type EvalExpr struct {
	SpanVal Span
	Source  Expr
}

func (n *EvalExpr) Span() Span { return n.SpanVal }
func (n *EvalExpr) node()      {}
func (n *EvalExpr) expr()      {}

// MapExpr represents map { BLOCK } LIST or grep { BLOCK } LIST.
type MapExpr struct {
	SpanVal Span
	Kind    string // "map" or "grep"
	Body    *BlockStmt
	List    []Expr
}

func (n *MapExpr) Span() Span { return n.SpanVal }
func (n *MapExpr) node()      {}
func (n *MapExpr) expr()      {}

// SortExpr represents sort LIST or sort { BLOCK } LIST.
type SortExpr struct {
	SpanVal Span
	Cmp     *BlockStmt // nil for default string sort
	List    []Expr
}

func (n *SortExpr) Span() Span { return n.SpanVal }
func (n *SortExpr) node()      {}
func (n *SortExpr) expr()      {}

// SplitExpr represents split PATTERN, STRING.
type SplitExpr struct {
	SpanVal Span
	Pattern Expr
	String  Expr
}

func (n *SplitExpr) Span() Span { return n.SpanVal }
func (n *SplitExpr) node()      {}
func (n *SplitExpr) expr()      {}

// BuiltinExpr represents a compiler-recognized builtin with dedicated
// emission: scalar, defined, wantarray, caller, bless, push, unshift.
type BuiltinExpr struct {
	SpanVal   Span
	Name      string
	Arguments []Expr
}

func (n *BuiltinExpr) Span() Span { return n.SpanVal }
func (n *BuiltinExpr) node()      {}
func (n *BuiltinExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt is an expression used as a statement.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// BlockStmt is a braced statement sequence.
type BlockStmt struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *BlockStmt) Span() Span { return n.SpanVal }
func (n *BlockStmt) node()      {}
func (n *BlockStmt) stmt()      {}

// MyStmt declares lexical variables, with an optional initializer.
// List is true for the parenthesized form my ($a, $b) = ...
type MyStmt struct {
	SpanVal Span
	Targets []*Variable
	Init    Expr // nil when absent
	List    bool
}

func (n *MyStmt) Span() Span { return n.SpanVal }
func (n *MyStmt) node()      {}
func (n *MyStmt) stmt()      {}

// SubDef represents a named sub definition.
type SubDef struct {
	SpanVal Span
	Name    string
	Body    *BlockStmt
}

func (n *SubDef) Span() Span { return n.SpanVal }
func (n *SubDef) node()      {}
func (n *SubDef) stmt()      {}

// PackageStmt switches the current package. Block is non-nil for the
// braced form package Foo { ... }.
type PackageStmt struct {
	SpanVal Span
	Name    string
	Block   *BlockStmt
}

func (n *PackageStmt) Span() Span { return n.SpanVal }
func (n *PackageStmt) node()      {}
func (n *PackageStmt) stmt()      {}

// UseStmt represents use/no of a pragma: strict, warnings, feature.
type UseStmt struct {
	SpanVal Span
	Enable  bool // use vs no
	Pragma  string
	Args    []string
}

func (n *UseStmt) Span() Span { return n.SpanVal }
func (n *UseStmt) node()      {}
func (n *UseStmt) stmt()      {}

// ReturnStmt represents return EXPR.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr // nil for bare return
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// IfStmt represents if/unless with elsif chains.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Negated bool // true for unless
	Then    *BlockStmt
	Elifs   []ElsifClause
	Else    *BlockStmt // nil when absent
}

// ElsifClause is one elsif arm of an IfStmt.
type ElsifClause struct {
	Cond Expr
	Then *BlockStmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt represents while/until, optionally labeled.
type WhileStmt struct {
	SpanVal Span
	Label   string // "" when unlabeled
	Cond    Expr
	Negated bool // true for until
	Body    *BlockStmt
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// ForeachStmt represents foreach my $x (LIST) { ... }.
type ForeachStmt struct {
	SpanVal Span
	Label   string
	Var     *Variable
	List    []Expr
	Body    *BlockStmt
}

func (n *ForeachStmt) Span() Span { return n.SpanVal }
func (n *ForeachStmt) node()      {}
func (n *ForeachStmt) stmt()      {}

// LoopCtlStmt represents next/last/redo with an optional label.
type LoopCtlStmt struct {
	SpanVal Span
	Kind    string // "next", "last" or "redo"
	Label   string
}

func (n *LoopCtlStmt) Span() Span { return n.SpanVal }
func (n *LoopCtlStmt) node()      {}
func (n *LoopCtlStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Top-level structure
// ---------------------------------------------------------------------------

// Program represents a complete source file.
type Program struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Program) Span() Span { return n.SpanVal }
func (n *Program) node()      {}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// MakeSpan creates a span from start and end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// ZeroSpan returns an empty span.
func ZeroSpan() Span {
	return Span{}
}
