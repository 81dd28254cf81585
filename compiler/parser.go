package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Perlite syntax
// ---------------------------------------------------------------------------

// Parser parses Perlite source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	return newParser(NewLexer(input))
}

// NewParserAt creates a parser whose positions start at the given line.
func NewParserAt(input string, line int) *Parser {
	return newParser(NewLexerAt(input, line))
}

func newParser(l *Lexer) *Parser {
	p := &Parser{lexer: l}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken.Type)
	return false
}

// errorf records a parse error.
func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d: %s", p.curToken.Pos.Line, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// opType resolves the current token's operator identity, mapping word
// operators (eq, lt, cmp, x, isa) out of TokenIdent.
func (p *Parser) opType() TokenType {
	if p.curToken.Type == TokenIdent {
		if t, ok := wordOperators[p.curToken.Literal]; ok {
			return t
		}
	}
	return p.curToken.Type
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses a complete source file.
func (p *Parser) ParseProgram() (*Program, error) {
	start := p.curToken.Pos

	var stmts []Stmt
	for !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenError) {
			p.errorf("%s", p.curToken.Literal)
			break
		}
		stmt := p.parseStatement()
		if stmt == nil {
			break
		}
		stmts = append(stmts, stmt)
	}

	if len(p.errors) > 0 {
		return nil, fmt.Errorf("parse failed: %s", strings.Join(p.errors, "; "))
	}

	return &Program{
		SpanVal:    MakeSpan(start, p.curToken.Pos),
		Statements: stmts,
	}, nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() Stmt {
	switch {
	case p.curTokenIs(TokenUse) || p.curTokenIs(TokenNo):
		return p.parseUse()

	case p.curTokenIs(TokenPackage):
		return p.parsePackage()

	case p.curTokenIs(TokenMy):
		return p.parseMy()

	case p.curTokenIs(TokenSub) && p.peekTokenIs(TokenIdent):
		return p.parseSubDef()

	case p.curTokenIs(TokenReturn):
		return p.parseReturn()

	case p.curTokenIs(TokenIf) || p.curTokenIs(TokenUnless):
		return p.parseIf()

	case p.curTokenIs(TokenWhile) || p.curTokenIs(TokenUntil):
		return p.parseWhile("")

	case p.curTokenIs(TokenFor) || p.curTokenIs(TokenForeach):
		return p.parseForeach("")

	case p.curTokenIs(TokenNext) || p.curTokenIs(TokenLast) || p.curTokenIs(TokenRedo):
		return p.parseLoopCtl()

	case p.curTokenIs(TokenIdent) && p.peekTokenIs(TokenColon):
		return p.parseLabeledLoop()

	case p.curTokenIs(TokenLBrace):
		return p.parseBlock()

	default:
		return p.parseExprStmt()
	}
}

func (p *Parser) parseUse() Stmt {
	start := p.curToken.Pos
	enable := p.curTokenIs(TokenUse)
	p.nextToken()

	if !p.curTokenIs(TokenIdent) {
		p.errorf("expected pragma name after use/no, got %s", p.curToken.Type)
		return nil
	}
	pragma := p.curToken.Literal
	p.nextToken()

	var args []string
	for !p.curTokenIs(TokenSemicolon) && !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenString, TokenIdent:
			args = append(args, p.curToken.Literal)
		case TokenComma:
			// list separator
		default:
			p.errorf("unexpected %s in use statement", p.curToken.Type)
			return nil
		}
		p.nextToken()
	}
	p.expect(TokenSemicolon)

	return &UseStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Enable:  enable,
		Pragma:  pragma,
		Args:    args,
	}
}

func (p *Parser) parsePackage() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume package

	if !p.curTokenIs(TokenIdent) {
		p.errorf("expected package name, got %s", p.curToken.Type)
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	var block *BlockStmt
	if p.curTokenIs(TokenLBrace) {
		block = p.parseBlock()
	} else {
		p.expect(TokenSemicolon)
	}

	return &PackageStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Name:    name,
		Block:   block,
	}
}

func (p *Parser) parseMy() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume my

	var targets []*Variable
	list := false

	if p.curTokenIs(TokenLParen) {
		list = true
		p.nextToken()
		for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
			v := p.parseVarName()
			if v == nil {
				return nil
			}
			targets = append(targets, v)
			if p.curTokenIs(TokenComma) {
				p.nextToken()
			}
		}
		p.expect(TokenRParen)
	} else {
		v := p.parseVarName()
		if v == nil {
			return nil
		}
		targets = append(targets, v)
	}

	var init Expr
	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		init = p.parseExpr()
	}

	stmt := &MyStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Targets: targets,
		Init:    init,
		List:    list,
	}
	return p.finishSimpleStmt(stmt)
}

func (p *Parser) parseVarName() *Variable {
	var sigil byte
	switch p.curToken.Type {
	case TokenScalar:
		sigil = '$'
	case TokenArray:
		sigil = '@'
	case TokenHash:
		sigil = '%'
	default:
		p.errorf("expected variable, got %s", p.curToken.Type)
		return nil
	}
	v := &Variable{
		SpanVal: MakeSpan(p.curToken.Pos, p.curToken.Pos),
		Sigil:   sigil,
		Name:    p.curToken.Literal,
	}
	p.nextToken()
	return v
}

func (p *Parser) parseSubDef() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume sub

	name := p.curToken.Literal
	p.nextToken()

	body := p.parseBlock()
	if body == nil {
		return nil
	}

	return &SubDef{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Name:    name,
		Body:    body,
	}
}

func (p *Parser) parseReturn() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume return

	var value Expr
	if !p.curTokenIs(TokenSemicolon) && !p.curTokenIs(TokenIf) && !p.curTokenIs(TokenUnless) {
		value = p.parseExpr()
	}

	stmt := &ReturnStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Value:   value,
	}
	return p.finishSimpleStmt(stmt)
}

// finishSimpleStmt handles trailing if/unless statement modifiers and
// the closing semicolon.
func (p *Parser) finishSimpleStmt(stmt Stmt) Stmt {
	if p.curTokenIs(TokenIf) || p.curTokenIs(TokenUnless) {
		negated := p.curTokenIs(TokenUnless)
		start := stmt.Span().Start
		p.nextToken()
		cond := p.parseExpr()
		stmt = &IfStmt{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Cond:    cond,
			Negated: negated,
			Then: &BlockStmt{
				SpanVal:    stmt.Span(),
				Statements: []Stmt{stmt},
			},
		}
	}
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	} else if !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		p.errorf("expected ; got %s", p.curToken.Type)
		return nil
	}
	return stmt
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	negated := p.curTokenIs(TokenUnless)
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	cond := p.parseExpr()
	if !p.expect(TokenRParen) {
		return nil
	}

	then := p.parseBlock()
	if then == nil {
		return nil
	}

	var elifs []ElsifClause
	var elseBlock *BlockStmt
	for p.curTokenIs(TokenElsif) {
		p.nextToken()
		if !p.expect(TokenLParen) {
			return nil
		}
		c := p.parseExpr()
		if !p.expect(TokenRParen) {
			return nil
		}
		b := p.parseBlock()
		if b == nil {
			return nil
		}
		elifs = append(elifs, ElsifClause{Cond: c, Then: b})
	}
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		elseBlock = p.parseBlock()
	}

	return &IfStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Cond:    cond,
		Negated: negated,
		Then:    then,
		Elifs:   elifs,
		Else:    elseBlock,
	}
}

func (p *Parser) parseWhile(label string) Stmt {
	start := p.curToken.Pos
	negated := p.curTokenIs(TokenUntil)
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	cond := p.parseExpr()
	if !p.expect(TokenRParen) {
		return nil
	}

	body := p.parseBlock()
	if body == nil {
		return nil
	}

	return &WhileStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Label:   label,
		Cond:    cond,
		Negated: negated,
		Body:    body,
	}
}

func (p *Parser) parseForeach(label string) Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume for/foreach

	if !p.expect(TokenMy) {
		return nil
	}
	v := p.parseVarName()
	if v == nil {
		return nil
	}
	if v.Sigil != '$' {
		p.errorf("foreach variable must be a scalar, got %s", v.Sigiled())
		return nil
	}

	if !p.expect(TokenLParen) {
		return nil
	}
	list := p.parseCommaList(TokenRParen)
	if !p.expect(TokenRParen) {
		return nil
	}

	body := p.parseBlock()
	if body == nil {
		return nil
	}

	return &ForeachStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Label:   label,
		Var:     v,
		List:    list,
		Body:    body,
	}
}

func (p *Parser) parseLoopCtl() Stmt {
	start := p.curToken.Pos
	kind := p.curToken.Literal
	p.nextToken()

	label := ""
	if p.curTokenIs(TokenIdent) {
		label = p.curToken.Literal
		p.nextToken()
	}

	stmt := &LoopCtlStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Kind:    kind,
		Label:   label,
	}
	return p.finishSimpleStmt(stmt)
}

func (p *Parser) parseLabeledLoop() Stmt {
	label := p.curToken.Literal
	p.nextToken() // consume label
	p.nextToken() // consume :

	switch {
	case p.curTokenIs(TokenWhile) || p.curTokenIs(TokenUntil):
		return p.parseWhile(label)
	case p.curTokenIs(TokenFor) || p.curTokenIs(TokenForeach):
		return p.parseForeach(label)
	default:
		p.errorf("expected loop after label %s:, got %s", label, p.curToken.Type)
		return nil
	}
}

func (p *Parser) parseBlock() *BlockStmt {
	start := p.curToken.Pos
	if !p.expect(TokenLBrace) {
		return nil
	}

	var stmts []Stmt
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenError) {
			p.errorf("%s", p.curToken.Literal)
			return nil
		}
		stmt := p.parseStatement()
		if stmt == nil {
			return nil
		}
		stmts = append(stmts, stmt)
	}
	if !p.expect(TokenRBrace) {
		return nil
	}

	return &BlockStmt{
		SpanVal:    MakeSpan(start, p.curToken.Pos),
		Statements: stmts,
	}
}

func (p *Parser) parseExprStmt() Stmt {
	start := p.curToken.Pos
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	stmt := &ExprStmt{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Expr:    expr,
	}
	return p.finishSimpleStmt(stmt)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseExpr()
}

func (p *Parser) parseExpr() Expr {
	return p.parseAssign()
}

func (p *Parser) parseAssign() Expr {
	start := p.curToken.Pos
	target := p.parseTernary()
	if target == nil {
		return nil
	}

	op := ""
	switch {
	case p.curTokenIs(TokenAssign):
		op = "="
	case p.curTokenIs(TokenOpAssign):
		op = p.curToken.Literal
	case p.curTokenIs(TokenIdent) && p.curToken.Literal == "x" && p.peekTokenIs(TokenAssign):
		op = "x="
		p.nextToken()
	default:
		return target
	}
	p.nextToken()

	if !assignable(target) {
		p.errorf("cannot assign to this expression")
		return nil
	}

	value := p.parseAssign() // right-associative
	if value == nil {
		return nil
	}

	return &AssignExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Op:      op,
		Target:  target,
		Value:   value,
	}
}

func assignable(e Expr) bool {
	switch t := e.(type) {
	case *Variable, *IndexExpr, *KeyExpr:
		return true
	case *ListExpr:
		for _, el := range t.Elements {
			if !assignable(el) {
				return false
			}
		}
		return len(t.Elements) > 0
	}
	return false
}

func (p *Parser) parseTernary() Expr {
	start := p.curToken.Pos
	cond := p.parseRange()
	if cond == nil || !p.curTokenIs(TokenQuestion) {
		return cond
	}
	p.nextToken()

	then := p.parseAssign()
	if !p.expect(TokenColon) {
		return nil
	}
	els := p.parseTernary()

	return &TernaryExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Cond:    cond,
		Then:    then,
		Else:    els,
	}
}

func (p *Parser) parseRange() Expr {
	start := p.curToken.Pos
	left := p.parseOrOr()
	if left == nil {
		return nil
	}
	if !p.curTokenIs(TokenRange) && !p.curTokenIs(TokenRangeEx) {
		return left
	}
	exclusive := p.curTokenIs(TokenRangeEx)
	p.nextToken()

	right := p.parseOrOr()
	if right == nil {
		return nil
	}

	return &RangeExpr{
		SpanVal:   MakeSpan(start, p.curToken.Pos),
		Left:      left,
		Right:     right,
		Exclusive: exclusive,
	}
}

func (p *Parser) parseOrOr() Expr {
	left := p.parseAndAnd()
	for left != nil && (p.curTokenIs(TokenOrOr) || p.curTokenIs(TokenDefinedOr)) {
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseAndAnd()
		left = &LogicalExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseAndAnd() Expr {
	left := p.parseBitOr()
	for left != nil && p.curTokenIs(TokenAndAnd) {
		start := left.Span().Start
		p.nextToken()
		right := p.parseBitOr()
		left = &LogicalExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      "&&",
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseBitOr() Expr {
	left := p.parseBitAnd()
	for left != nil {
		switch p.curToken.Type {
		case TokenBitOr, TokenBitXor, TokenStrOr, TokenStrXor:
		default:
			return left
		}
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseBitAnd()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseBitAnd() Expr {
	left := p.parseEquality()
	for left != nil && (p.curTokenIs(TokenBitAnd) || p.curTokenIs(TokenStrAnd)) {
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseEquality()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseEquality() Expr {
	left := p.parseRelational()
	for left != nil {
		switch p.opType() {
		case TokenNumEq, TokenNumNe, TokenNumCmp, TokenStrEq, TokenStrNe, TokenStrCmp:
		default:
			return left
		}
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseRelational()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseRelational() Expr {
	left := p.parseShift()
	for left != nil {
		switch p.opType() {
		case TokenNumLt, TokenNumGt, TokenNumLe, TokenNumGe,
			TokenStrLt, TokenStrGt, TokenStrLe, TokenStrGe, TokenIsa:
		default:
			return left
		}
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseShift()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseShift() Expr {
	left := p.parseAdditive()
	for left != nil && (p.curTokenIs(TokenShl) || p.curTokenIs(TokenShr)) {
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseAdditive()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for left != nil {
		switch p.curToken.Type {
		case TokenPlus, TokenMinus, TokenDot:
		default:
			return left
		}
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseMultiplicative()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parseMatch()
	for left != nil {
		switch p.opType() {
		case TokenStar, TokenSlash, TokenPercent:
		case TokenRepeat:
			if p.peekTokenIs(TokenAssign) {
				return left // x= compound assignment
			}
		default:
			return left
		}
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseMatch()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseMatch() Expr {
	left := p.parseUnary()
	for left != nil && (p.curTokenIs(TokenMatch) || p.curTokenIs(TokenNotMatch)) {
		op := p.curToken.Literal
		start := left.Span().Start
		p.nextToken()
		right := p.parseUnary()
		left = &BinaryExpr{
			SpanVal: MakeSpan(start, p.curToken.Pos),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	start := p.curToken.Pos
	switch p.curToken.Type {
	case TokenNot:
		p.nextToken()
		operand := p.parseUnary()
		return &UnaryExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Op: "!", Operand: operand}
	case TokenMinus:
		p.nextToken()
		operand := p.parseUnary()
		return &UnaryExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Op: "-", Operand: operand}
	}
	return p.parsePower()
}

func (p *Parser) parsePower() Expr {
	start := p.curToken.Pos
	base := p.parsePostfix()
	if base == nil || !p.curTokenIs(TokenPower) {
		return base
	}
	p.nextToken()
	exp := p.parseUnary() // right-associative, binds unary minus
	return &BinaryExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Op:      "**",
		Left:    base,
		Right:   exp,
	}
}

func (p *Parser) parsePostfix() Expr {
	expr := p.parsePrimary()
	for expr != nil && p.curTokenIs(TokenArrow) {
		start := expr.Span().Start
		p.nextToken()
		if !p.expect(TokenLParen) {
			return nil
		}
		args := p.parseCommaList(TokenRParen)
		if !p.expect(TokenRParen) {
			return nil
		}
		expr = &ApplyExpr{
			SpanVal:   MakeSpan(start, p.curToken.Pos),
			Callee:    expr,
			Arguments: args,
		}
	}
	return expr
}

// parseCommaList parses expressions separated by , or => until the end
// token. Barewords before => auto-quote.
func (p *Parser) parseCommaList(end TokenType) []Expr {
	var elems []Expr
	for !p.curTokenIs(end) && !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenIdent) && p.peekTokenIs(TokenFatComma) {
			elems = append(elems, &StringLit{
				SpanVal: MakeSpan(p.curToken.Pos, p.curToken.Pos),
				Value:   p.curToken.Literal,
			})
			p.nextToken()
		} else {
			e := p.parseAssign()
			if e == nil {
				return elems
			}
			elems = append(elems, e)
		}
		if p.curTokenIs(TokenComma) || p.curTokenIs(TokenFatComma) {
			p.nextToken()
		} else {
			break
		}
	}
	return elems
}

func (p *Parser) parsePrimary() Expr {
	start := p.curToken.Pos

	switch p.curToken.Type {
	case TokenNumber:
		lit := p.curToken.Literal
		p.nextToken()
		val, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			p.errorf("bad number literal %q", lit)
			return nil
		}
		isInt := !strings.ContainsAny(lit, ".eE")
		return &NumberLit{SpanVal: MakeSpan(start, p.curToken.Pos), Value: val, IsInt: isInt}

	case TokenString:
		val := p.curToken.Literal
		p.nextToken()
		return &StringLit{SpanVal: MakeSpan(start, p.curToken.Pos), Value: val}

	case TokenScalar:
		return p.parseScalarTerm()

	case TokenArray:
		v := &Variable{SpanVal: MakeSpan(start, p.curToken.Pos), Sigil: '@', Name: p.curToken.Literal}
		p.nextToken()
		return v

	case TokenHash:
		v := &Variable{SpanVal: MakeSpan(start, p.curToken.Pos), Sigil: '%', Name: p.curToken.Literal}
		p.nextToken()
		return v

	case TokenLParen:
		p.nextToken()
		elems := p.parseCommaList(TokenRParen)
		if !p.expect(TokenRParen) {
			return nil
		}
		return &ListExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Elements: elems}

	case TokenSub:
		p.nextToken()
		body := p.parseBlock()
		if body == nil {
			return nil
		}
		return &AnonSubExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Body: body}

	case TokenEval:
		p.nextToken()
		var src Expr
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			src = p.parseExpr()
			if !p.expect(TokenRParen) {
				return nil
			}
		} else {
			src = p.parseAdditive()
		}
		if src == nil {
			return nil
		}
		return &EvalExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Source: src}

	case TokenIdent:
		return p.parseBareword()
	}

	p.errorf("unexpected %s in expression", p.curToken.Type)
	return nil
}

// parseScalarTerm parses $name and its element forms $name[i], $name{k}.
func (p *Parser) parseScalarTerm() Expr {
	start := p.curToken.Pos
	name := p.curToken.Literal
	p.nextToken()

	switch p.curToken.Type {
	case TokenLBracket:
		p.nextToken()
		index := p.parseExpr()
		if !p.expect(TokenRBracket) {
			return nil
		}
		return &IndexExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Name: name, Index: index}

	case TokenLBrace:
		p.nextToken()
		var key Expr
		if p.curTokenIs(TokenIdent) && p.peekTokenIs(TokenRBrace) {
			// auto-quoted bareword key
			key = &StringLit{
				SpanVal: MakeSpan(p.curToken.Pos, p.curToken.Pos),
				Value:   p.curToken.Literal,
			}
			p.nextToken()
		} else {
			key = p.parseExpr()
		}
		if !p.expect(TokenRBrace) {
			return nil
		}
		return &KeyExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Name: name, Key: key}
	}

	return &Variable{SpanVal: MakeSpan(start, p.curToken.Pos), Sigil: '$', Name: name}
}

// List operators that may be called without parentheses.
var listOperators = map[string]bool{
	"say":     true,
	"print":   true,
	"die":     true,
	"warn":    true,
	"push":    true,
	"unshift": true,
	"join":    true,
	"keys":    true,
	"values":  true,
	"defined": true,
	"scalar":  true,
	"length":  true,
	"abs":     true,
	"int":     true,
	"lc":      true,
	"uc":      true,
}

// Builtins the compiler emits dedicated bytecode for.
var compiledBuiltins = map[string]bool{
	"scalar":    true,
	"defined":   true,
	"wantarray": true,
	"caller":    true,
	"bless":     true,
	"push":      true,
	"unshift":   true,
}

func (p *Parser) parseBareword() Expr {
	start := p.curToken.Pos
	name := p.curToken.Literal

	switch name {
	case "map", "grep":
		return p.parseMapGrep()
	case "sort":
		return p.parseSort()
	case "split":
		return p.parseSplit()
	case "wantarray", "undef":
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			if !p.expect(TokenRParen) {
				return nil
			}
		}
		return &BuiltinExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Name: name}
	}

	p.nextToken()

	var args []Expr
	haveArgs := false
	switch {
	case p.curTokenIs(TokenLParen):
		p.nextToken()
		args = p.parseCommaList(TokenRParen)
		if !p.expect(TokenRParen) {
			return nil
		}
		haveArgs = true
	case listOperators[name] && p.startsTerm():
		args = p.parseCommaList(TokenSemicolon)
		haveArgs = true
	}

	if !haveArgs && !listOperators[name] {
		// bare identifier: zero-argument call
		return &CallExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Name: name}
	}

	if compiledBuiltins[name] {
		return &BuiltinExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Name: name, Arguments: args}
	}
	return &CallExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Name: name, Arguments: args}
}

// startsTerm reports whether the current token can begin a term, which
// decides if a list operator has paren-less arguments.
func (p *Parser) startsTerm() bool {
	switch p.curToken.Type {
	case TokenNumber, TokenString, TokenScalar, TokenArray, TokenHash,
		TokenLParen, TokenNot, TokenMinus, TokenSub, TokenEval, TokenIdent:
		return true
	}
	return false
}

func (p *Parser) parseMapGrep() Expr {
	start := p.curToken.Pos
	kind := p.curToken.Literal
	p.nextToken()

	body := p.parseBlock()
	if body == nil {
		return nil
	}
	if p.curTokenIs(TokenComma) {
		p.nextToken()
	}
	list := p.parseCommaList(TokenSemicolon)

	return &MapExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Kind:    kind,
		Body:    body,
		List:    list,
	}
}

func (p *Parser) parseSort() Expr {
	start := p.curToken.Pos
	p.nextToken() // consume sort

	var cmp *BlockStmt
	if p.curTokenIs(TokenLBrace) {
		cmp = p.parseBlock()
		if cmp == nil {
			return nil
		}
	}
	list := p.parseCommaList(TokenSemicolon)

	return &SortExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Cmp:     cmp,
		List:    list,
	}
}

func (p *Parser) parseSplit() Expr {
	start := p.curToken.Pos
	p.nextToken() // consume split

	parens := false
	if p.curTokenIs(TokenLParen) {
		parens = true
		p.nextToken()
	}

	pattern := p.parseTernary()
	if pattern == nil {
		return nil
	}
	if !p.expect(TokenComma) {
		return nil
	}
	str := p.parseTernary()
	if str == nil {
		return nil
	}

	if parens && !p.expect(TokenRParen) {
		return nil
	}

	return &SplitExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Pattern: pattern,
		String:  str,
	}
}
