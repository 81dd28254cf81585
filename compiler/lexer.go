package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Perlite syntax
// ---------------------------------------------------------------------------

// Lexer tokenizes Perlite source code.
type Lexer struct {
	input    string
	pos      int  // current position in input
	readPos  int  // reading position (after current char)
	ch       rune // current character
	line     int  // current line (1-based)
	col      int  // current column (1-based)
	lastType TokenType
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:    input,
		line:     1,
		col:      1,
		lastType: TokenSemicolon,
	}
	l.readChar()
	return l
}

// NewLexerAt creates a lexer whose positions start at the given line,
// for sources embedded in a larger file.
func NewLexerAt(input string, line int) *Lexer {
	l := NewLexer(input)
	if line > 1 {
		l.line = line
	}
	return l
}

// readChar reads the next character, advancing the line/column tracking
// past the character being left behind.
func (l *Lexer) readChar() {
	switch l.ch {
	case 0:
		// initial position, or already at EOF
	case '\n':
		l.line++
		l.col = 1
	default:
		l.col++
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// termPosition reports whether the lexer expects a term rather than an
// operator. This disambiguates % (hash sigil vs modulus).
func (l *Lexer) termPosition() bool {
	switch l.lastType {
	case TokenNumber, TokenString, TokenScalar, TokenArray, TokenHash,
		TokenRParen, TokenRBracket:
		return false
	}
	return true
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	tok := l.scanToken()
	l.lastType = tok.Type
	return tok
}

func (l *Lexer) scanToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}

	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "[", Pos: pos}

	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]", Pos: pos}

	case l.ch == '{':
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}

	case l.ch == '}':
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == ';':
		l.readChar()
		return Token{Type: TokenSemicolon, Literal: ";", Pos: pos}

	case l.ch == '?':
		l.readChar()
		return Token{Type: TokenQuestion, Literal: "?", Pos: pos}

	case l.ch == ':':
		l.readChar()
		return Token{Type: TokenColon, Literal: ":", Pos: pos}

	case l.ch == '$':
		return l.readVariable(pos, TokenScalar)

	case l.ch == '@':
		return l.readVariable(pos, TokenArray)

	case l.ch == '%':
		if l.termPosition() && (isLetter(l.peekChar()) || l.peekChar() == '_') {
			return l.readVariable(pos, TokenHash)
		}
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenOpAssign, Literal: "%=", Pos: pos}
		}
		return Token{Type: TokenPercent, Literal: "%", Pos: pos}

	case l.ch == '\'' || l.ch == '"':
		return l.readString(pos)

	case isDigit(l.ch):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos)

	default:
		return l.readOperator(pos)
	}
}

// skipWhitespaceAndComments skips whitespace and # line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		break
	}
}

// readVariable reads a sigiled variable name. The literal is the bare
// name without the sigil.
func (l *Lexer) readVariable(pos Position, typ TokenType) Token {
	l.readChar() // consume sigil

	if !(isLetter(l.ch) || l.ch == '_') {
		return Token{Type: TokenError, Literal: "sigil without variable name", Pos: pos}
	}

	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	// Package-qualified names: $Foo::bar, &Foo::Bar::baz
	for l.ch == ':' && l.peekChar() == ':' {
		l.readChar()
		l.readChar()
		if !(isLetter(l.ch) || l.ch == '_') {
			break
		}
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
	}

	return Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a quoted string literal. Single quotes take \' and
// \\ escapes only; double quotes take the usual C-style escapes. No
// interpolation in either form.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar() // consume opening quote

	var sb strings.Builder
	for l.ch != 0 && l.ch != quote {
		if l.ch == '\\' {
			next := l.peekChar()
			if quote == '\'' {
				if next == '\'' || next == '\\' {
					sb.WriteRune(next)
					l.readChar()
					l.readChar()
					continue
				}
				sb.WriteRune('\\')
				l.readChar()
				continue
			}
			l.readChar() // consume backslash
			switch l.ch {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '0':
				sb.WriteRune(0)
			default:
				sb.WriteRune(l.ch)
			}
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}

	if l.ch != quote {
		return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
	}
	l.readChar() // consume closing quote

	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

// readNumber reads a numeric literal.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads a bareword, which may be a keyword or a
// package-qualified name (Foo::Bar::baz).
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos

	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	for l.ch == ':' && l.peekChar() == ':' {
		l.readChar()
		l.readChar()
		if !(isLetter(l.ch) || l.ch == '_') {
			break
		}
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
	}

	literal := l.input[start:l.pos]

	if !strings.Contains(literal, "::") {
		if tokType, ok := keywords[literal]; ok {
			return Token{Type: tokType, Literal: literal, Pos: pos}
		}
	}

	return Token{Type: TokenIdent, Literal: literal, Pos: pos}
}

// readOperator reads a punctuation operator, longest match first.
func (l *Lexer) readOperator(pos Position) Token {
	type opToken struct {
		typ TokenType
		lit string
	}
	emit := func(t opToken, consumed int) Token {
		for i := 0; i < consumed; i++ {
			l.readChar()
		}
		return Token{Type: t.typ, Literal: t.lit, Pos: pos}
	}

	ch := l.ch
	p1 := l.peekChar()

	switch ch {
	case '+':
		if p1 == '=' {
			return emit(opToken{TokenOpAssign, "+="}, 2)
		}
		return emit(opToken{TokenPlus, "+"}, 1)

	case '-':
		if p1 == '=' {
			return emit(opToken{TokenOpAssign, "-="}, 2)
		}
		if p1 == '>' {
			return emit(opToken{TokenArrow, "->"}, 2)
		}
		return emit(opToken{TokenMinus, "-"}, 1)

	case '*':
		if p1 == '*' {
			l.readChar()
			l.readChar()
			if l.ch == '=' {
				l.readChar()
				return Token{Type: TokenOpAssign, Literal: "**=", Pos: pos}
			}
			return Token{Type: TokenPower, Literal: "**", Pos: pos}
		}
		if p1 == '=' {
			return emit(opToken{TokenOpAssign, "*="}, 2)
		}
		return emit(opToken{TokenStar, "*"}, 1)

	case '/':
		if p1 == '/' {
			l.readChar()
			l.readChar()
			if l.ch == '=' {
				l.readChar()
				return Token{Type: TokenOpAssign, Literal: "//=", Pos: pos}
			}
			return Token{Type: TokenDefinedOr, Literal: "//", Pos: pos}
		}
		if p1 == '=' {
			return emit(opToken{TokenOpAssign, "/="}, 2)
		}
		return emit(opToken{TokenSlash, "/"}, 1)

	case '.':
		if p1 == '.' {
			l.readChar()
			l.readChar()
			if l.ch == '.' {
				l.readChar()
				return Token{Type: TokenRangeEx, Literal: "...", Pos: pos}
			}
			return Token{Type: TokenRange, Literal: "..", Pos: pos}
		}
		if p1 == '=' {
			return emit(opToken{TokenOpAssign, ".="}, 2)
		}
		return emit(opToken{TokenDot, "."}, 1)

	case '=':
		if p1 == '=' {
			return emit(opToken{TokenNumEq, "=="}, 2)
		}
		if p1 == '~' {
			return emit(opToken{TokenMatch, "=~"}, 2)
		}
		if p1 == '>' {
			return emit(opToken{TokenFatComma, "=>"}, 2)
		}
		return emit(opToken{TokenAssign, "="}, 1)

	case '!':
		if p1 == '=' {
			return emit(opToken{TokenNumNe, "!="}, 2)
		}
		if p1 == '~' {
			return emit(opToken{TokenNotMatch, "!~"}, 2)
		}
		return emit(opToken{TokenNot, "!"}, 1)

	case '<':
		if p1 == '=' {
			l.readChar()
			l.readChar()
			if l.ch == '>' {
				l.readChar()
				return Token{Type: TokenNumCmp, Literal: "<=>", Pos: pos}
			}
			return Token{Type: TokenNumLe, Literal: "<=", Pos: pos}
		}
		if p1 == '<' {
			return emit(opToken{TokenShl, "<<"}, 2)
		}
		return emit(opToken{TokenNumLt, "<"}, 1)

	case '>':
		if p1 == '=' {
			return emit(opToken{TokenNumGe, ">="}, 2)
		}
		if p1 == '>' {
			return emit(opToken{TokenShr, ">>"}, 2)
		}
		return emit(opToken{TokenNumGt, ">"}, 1)

	case '&':
		if p1 == '&' {
			l.readChar()
			l.readChar()
			if l.ch == '=' {
				l.readChar()
				return Token{Type: TokenOpAssign, Literal: "&&=", Pos: pos}
			}
			return Token{Type: TokenAndAnd, Literal: "&&", Pos: pos}
		}
		if p1 == '.' {
			return emit(opToken{TokenStrAnd, "&."}, 2)
		}
		return emit(opToken{TokenBitAnd, "&"}, 1)

	case '|':
		if p1 == '|' {
			l.readChar()
			l.readChar()
			if l.ch == '=' {
				l.readChar()
				return Token{Type: TokenOpAssign, Literal: "||=", Pos: pos}
			}
			return Token{Type: TokenOrOr, Literal: "||", Pos: pos}
		}
		if p1 == '.' {
			return emit(opToken{TokenStrOr, "|."}, 2)
		}
		return emit(opToken{TokenBitOr, "|"}, 1)

	case '^':
		if p1 == '.' {
			return emit(opToken{TokenStrXor, "^."}, 2)
		}
		return emit(opToken{TokenBitXor, "^"}, 1)
	}

	l.readChar()
	return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %c", ch), Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}
