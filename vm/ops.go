package vm

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Runtime operator bodies
// ---------------------------------------------------------------------------

// binaryOp is the dispatch contract the interpreter routes binary opcodes
// through: opcode + pre-evaluated operands → result value or signaled
// failure. Locale-aware string ops, I/O and the wider builtin library live
// behind the same contract outside this package.
func binaryOp(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpAdd:
		return NewNum(a.Num() + b.Num()), nil
	case OpSub:
		return NewNum(a.Num() - b.Num()), nil
	case OpMul:
		return NewNum(a.Num() * b.Num()), nil
	case OpDiv:
		d := b.Num()
		if d == 0 {
			return nil, fmt.Errorf("illegal division by zero")
		}
		return NewNum(a.Num() / d), nil
	case OpMod:
		d := int64(b.Num())
		if d == 0 {
			return nil, fmt.Errorf("illegal modulus zero")
		}
		m := int64(a.Num()) % d
		// Result takes the sign of the right operand.
		if (m < 0) != (d < 0) && m != 0 {
			m += d
		}
		return NewInt(m), nil
	case OpPow:
		return NewNum(math.Pow(a.Num(), b.Num())), nil

	case OpConcat:
		return NewStr(a.Str() + b.Str()), nil
	case OpRepeat:
		n := int(b.Num())
		if n < 0 {
			n = 0
		}
		return NewStr(strings.Repeat(a.Str(), n)), nil

	case OpNumCmp:
		return NewInt(int64(compareNum(a.Num(), b.Num()))), nil
	case OpStrCmp:
		return NewInt(int64(strings.Compare(a.Str(), b.Str()))), nil

	case OpNumEq:
		return NewBool(a.Num() == b.Num()), nil
	case OpNumNe:
		return NewBool(a.Num() != b.Num()), nil
	case OpNumLt:
		return NewBool(a.Num() < b.Num()), nil
	case OpNumLe:
		return NewBool(a.Num() <= b.Num()), nil
	case OpNumGt:
		return NewBool(a.Num() > b.Num()), nil
	case OpNumGe:
		return NewBool(a.Num() >= b.Num()), nil
	case OpStrEq:
		return NewBool(a.Str() == b.Str()), nil
	case OpStrNe:
		return NewBool(a.Str() != b.Str()), nil

	case OpBitAnd:
		return NewInt(int64(a.Num()) & int64(b.Num())), nil
	case OpBitOr:
		return NewInt(int64(a.Num()) | int64(b.Num())), nil
	case OpBitXor:
		return NewInt(int64(a.Num()) ^ int64(b.Num())), nil
	case OpStrBitAnd:
		return NewStr(strBitwise(a.Str(), b.Str(), func(x, y byte) byte { return x & y }, false)), nil
	case OpStrBitOr:
		return NewStr(strBitwise(a.Str(), b.Str(), func(x, y byte) byte { return x | y }, true)), nil
	case OpStrBitXor:
		return NewStr(strBitwise(a.Str(), b.Str(), func(x, y byte) byte { return x ^ y }, true)), nil
	case OpShl:
		return NewInt(int64(a.Num()) << (uint64(b.Num()) & 63)), nil
	case OpShr:
		return NewInt(int64(a.Num()) >> (uint64(b.Num()) & 63)), nil

	case OpMatch, OpNotMatch:
		re, err := regexp.Compile(b.Str())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %v", b.Str(), err)
		}
		matched := re.MatchString(a.Str())
		if op == OpNotMatch {
			matched = !matched
		}
		return NewBool(matched), nil

	case OpRange:
		from, to := int64(a.Num()), int64(b.Num())
		out := &Array{}
		for i := from; i <= to; i++ {
			out.Push(NewInt(i))
		}
		return out, nil

	case OpBless:
		code, ok := a.(*Code)
		if !ok {
			return nil, fmt.Errorf("can't bless a %s value", a.Kind())
		}
		code.Blessed = b.Str()
		return code, nil
	case OpIsa:
		if code, ok := a.(*Code); ok {
			return NewBool(code.Blessed == b.Str()), nil
		}
		return NewBool(false), nil
	}
	return nil, fmt.Errorf("no operator body for %s", op)
}

func compareNum(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// strBitwise applies f bytewise. For & the result truncates to the shorter
// operand; for | and ^ the longer operand's tail is carried through.
func strBitwise(a, b string, f func(x, y byte) byte, keepTail bool) string {
	short, long := a, b
	if len(b) < len(a) {
		short, long = b, a
	}
	out := make([]byte, 0, len(long))
	for i := 0; i < len(short); i++ {
		out = append(out, f(a[i], b[i]))
	}
	if keepTail {
		out = append(out, long[len(short):]...)
	}
	return string(out)
}

// splitList implements the pattern-split operator: the pattern is compiled
// per call, an empty pattern splits between characters, and trailing empty
// fields are stripped.
func splitList(pattern, s string) (*Array, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad split pattern %q: %v", pattern, err)
	}
	parts := re.Split(s, -1)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	out := &Array{Elems: make([]Value, len(parts))}
	for i, p := range parts {
		out.Elems[i] = NewStr(p)
	}
	return out, nil
}
