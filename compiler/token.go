package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Perlite lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals and names
	TokenNumber // 42, 3.14, 1.5e10
	TokenString // 'single' or "double"
	TokenIdent  // bareword: sub names, package names, builtins, labels
	TokenScalar // $name
	TokenArray  // @name
	TokenHash   // %name

	// Keywords
	TokenMy
	TokenSub
	TokenPackage
	TokenUse
	TokenNo
	TokenReturn
	TokenIf
	TokenElsif
	TokenElse
	TokenUnless
	TokenWhile
	TokenUntil
	TokenFor
	TokenForeach
	TokenNext
	TokenLast
	TokenRedo
	TokenEval

	// Operators
	TokenAssign    // =
	TokenOpAssign  // += -= *= /= %= **= .= x= ||= &&= //=
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenPercent   // % in operator position
	TokenPower     // **
	TokenDot       // .
	TokenRepeat    // x in operator position
	TokenNumEq     // ==
	TokenNumNe     // !=
	TokenNumLt     // <
	TokenNumGt     // >
	TokenNumLe     // <=
	TokenNumGe     // >=
	TokenNumCmp    // <=>
	TokenStrEq     // eq
	TokenStrNe     // ne
	TokenStrLt     // lt
	TokenStrGt     // gt
	TokenStrLe     // le
	TokenStrGe     // ge
	TokenStrCmp    // cmp
	TokenAndAnd    // &&
	TokenOrOr      // ||
	TokenDefinedOr // //
	TokenNot       // !
	TokenBitAnd    // &
	TokenBitOr     // |
	TokenBitXor    // ^
	TokenStrAnd    // &.
	TokenStrOr     // |.
	TokenStrXor    // ^.
	TokenShl       // <<
	TokenShr       // >>
	TokenMatch     // =~
	TokenNotMatch  // !~
	TokenRange     // ..
	TokenRangeEx   // ...
	TokenIsa       // isa
	TokenArrow     // ->
	TokenFatComma  // =>
	TokenQuestion  // ?
	TokenColon     // :

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,
	TokenSemicolon // ;
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenError:     "ERROR",
	TokenNumber:    "NUMBER",
	TokenString:    "STRING",
	TokenIdent:     "IDENT",
	TokenScalar:    "SCALAR",
	TokenArray:     "ARRAY",
	TokenHash:      "HASH",
	TokenMy:        "my",
	TokenSub:       "sub",
	TokenPackage:   "package",
	TokenUse:       "use",
	TokenNo:        "no",
	TokenReturn:    "return",
	TokenIf:        "if",
	TokenElsif:     "elsif",
	TokenElse:      "else",
	TokenUnless:    "unless",
	TokenWhile:     "while",
	TokenUntil:     "until",
	TokenFor:       "for",
	TokenForeach:   "foreach",
	TokenNext:      "next",
	TokenLast:      "last",
	TokenRedo:      "redo",
	TokenEval:      "eval",
	TokenAssign:    "=",
	TokenOpAssign:  "OPASSIGN",
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenStar:      "*",
	TokenSlash:     "/",
	TokenPercent:   "%",
	TokenPower:     "**",
	TokenDot:       ".",
	TokenRepeat:    "x",
	TokenNumEq:     "==",
	TokenNumNe:     "!=",
	TokenNumLt:     "<",
	TokenNumGt:     ">",
	TokenNumLe:     "<=",
	TokenNumGe:     ">=",
	TokenNumCmp:    "<=>",
	TokenStrEq:     "eq",
	TokenStrNe:     "ne",
	TokenStrLt:     "lt",
	TokenStrGt:     "gt",
	TokenStrLe:     "le",
	TokenStrGe:     "ge",
	TokenStrCmp:    "cmp",
	TokenAndAnd:    "&&",
	TokenOrOr:      "||",
	TokenDefinedOr: "//",
	TokenNot:       "!",
	TokenBitAnd:    "&",
	TokenBitOr:     "|",
	TokenBitXor:    "^",
	TokenStrAnd:    "&.",
	TokenStrOr:     "|.",
	TokenStrXor:    "^.",
	TokenShl:       "<<",
	TokenShr:       ">>",
	TokenMatch:     "=~",
	TokenNotMatch:  "!~",
	TokenRange:     "..",
	TokenRangeEx:   "...",
	TokenIsa:       "isa",
	TokenArrow:     "->",
	TokenFatComma:  "=>",
	TokenQuestion:  "?",
	TokenColon:     ":",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenComma:     ",",
	TokenSemicolon: ";",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text, with string quotes stripped
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keyword spellings mapped to their token types.
var keywords = map[string]TokenType{
	"my":      TokenMy,
	"sub":     TokenSub,
	"package": TokenPackage,
	"use":     TokenUse,
	"no":      TokenNo,
	"return":  TokenReturn,
	"if":      TokenIf,
	"elsif":   TokenElsif,
	"else":    TokenElse,
	"unless":  TokenUnless,
	"while":   TokenWhile,
	"until":   TokenUntil,
	"for":     TokenFor,
	"foreach": TokenForeach,
	"next":    TokenNext,
	"last":    TokenLast,
	"redo":    TokenRedo,
	"eval":    TokenEval,
}

// Word operators are only recognized in operator position, so the parser
// resolves them from TokenIdent rather than the lexer.
var wordOperators = map[string]TokenType{
	"eq":  TokenStrEq,
	"ne":  TokenStrNe,
	"lt":  TokenStrLt,
	"gt":  TokenStrGt,
	"le":  TokenStrLe,
	"ge":  TokenStrGe,
	"cmp": TokenStrCmp,
	"x":   TokenRepeat,
	"isa": TokenIsa,
}
