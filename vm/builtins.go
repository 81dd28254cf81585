package vm

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtin library
// ---------------------------------------------------------------------------

// RegisterBuiltins installs the host-implemented builtins into main::.
// Compiled code reaches them through ordinary named-call resolution, so a
// user sub of the same name in another package shadows them there.
func RegisterBuiltins(in *Interp) {
	for name, fn := range builtins {
		in.DefineSub("main", name, &Code{Name: name, Package: "main", Native: fn})
	}
}

type nativeFn = func(in *Interp, args []Value, ctx Context) (Value, error)

var builtins = map[string]nativeFn{
	"print":   builtinPrint,
	"say":     builtinSay,
	"warn":    builtinWarn,
	"die":     builtinDie,
	"length":  builtinLength,
	"join":    builtinJoin,
	"keys":    builtinKeys,
	"values":  builtinValues,
	"reverse": builtinReverse,
	"abs":     builtinAbs,
	"int":     builtinInt,
	"lc":      builtinLc,
	"uc":      builtinUc,
	"sprintf": builtinSprintf,
}

func builtinPrint(in *Interp, args []Value, _ Context) (Value, error) {
	for _, a := range args {
		fmt.Fprint(in.Stdout, a.Str())
	}
	return NewBool(true), nil
}

func builtinSay(in *Interp, args []Value, ctx Context) (Value, error) {
	if _, err := builtinPrint(in, args, ctx); err != nil {
		return nil, err
	}
	fmt.Fprintln(in.Stdout)
	return NewBool(true), nil
}

func builtinWarn(in *Interp, args []Value, _ Context) (Value, error) {
	msg := joinStr(args)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	fmt.Fprint(in.Stderr, msg)
	return NewBool(true), nil
}

// die raises a runtime fault. The eval boundary is the only recovery
// point: outside one, the fault unwinds the whole execution.
func builtinDie(_ *Interp, args []Value, _ Context) (Value, error) {
	msg := joinStr(args)
	if msg == "" {
		msg = "Died"
	}
	return nil, fmt.Errorf("%s", strings.TrimRight(msg, "\n"))
}

func builtinLength(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return Undef, nil
	}
	if s, ok := args[0].(*Scalar); ok && !s.Defined() {
		return Undef, nil
	}
	return NewInt(int64(len(args[0].Str()))), nil
}

func builtinJoin(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return NewStr(""), nil
	}
	sep := args[0].Str()
	parts := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		parts = append(parts, a.Str())
	}
	return NewStr(strings.Join(parts, sep)), nil
}

// Call arguments arrive flattened, so a hash argument is already its
// key/value pair list: keys takes the even positions, values the odd.
func builtinKeys(_ *Interp, args []Value, _ Context) (Value, error) {
	out := &Array{}
	for i := 0; i < len(args); i += 2 {
		out.Push(args[i])
	}
	return out, nil
}

func builtinValues(_ *Interp, args []Value, _ Context) (Value, error) {
	out := &Array{}
	for i := 1; i < len(args); i += 2 {
		out.Push(args[i])
	}
	return out, nil
}

func builtinReverse(_ *Interp, args []Value, ctx Context) (Value, error) {
	if ctx == ScalarContext {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(a.Str())
		}
		runes := []rune(b.String())
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return NewStr(string(runes)), nil
	}
	out := &Array{Elems: make([]Value, len(args))}
	for i, a := range args {
		out.Elems[len(args)-1-i] = a
	}
	return out, nil
}

func builtinAbs(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return NewNum(0), nil
	}
	return NewNum(math.Abs(args[0].Num())), nil
}

func builtinInt(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return NewNum(0), nil
	}
	return NewNum(math.Trunc(args[0].Num())), nil
}

func builtinLc(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return NewStr(""), nil
	}
	return NewStr(strings.ToLower(args[0].Str())), nil
}

func builtinUc(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return NewStr(""), nil
	}
	return NewStr(strings.ToUpper(args[0].Str())), nil
}

// builtinSprintf supports the numeric and string verbs the fmt package
// shares with the surface language: %s %d %f %g %x %o %e %%.
func builtinSprintf(_ *Interp, args []Value, _ Context) (Value, error) {
	if len(args) == 0 {
		return NewStr(""), nil
	}
	format := args[0].Str()
	rest := args[1:]
	var out strings.Builder
	argi := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			out.WriteByte(format[i])
			continue
		}
		j := i + 1
		for j < len(format) && strings.ContainsRune("-+ 0123456789.", rune(format[j])) {
			j++
		}
		if j >= len(format) {
			out.WriteByte('%')
			break
		}
		verb := format[j]
		spec := format[i : j+1]
		if verb == '%' {
			out.WriteByte('%')
			i = j
			continue
		}
		var arg Value = Undef
		if argi < len(rest) {
			arg = rest[argi]
			argi++
		}
		switch verb {
		case 's':
			fmt.Fprintf(&out, spec, arg.Str())
		case 'd':
			fmt.Fprintf(&out, spec, int64(arg.Num()))
		case 'x', 'o', 'b':
			fmt.Fprintf(&out, spec, int64(arg.Num()))
		case 'f', 'g', 'e':
			fmt.Fprintf(&out, spec, arg.Num())
		default:
			out.WriteString(spec)
		}
		i = j
	}
	return NewStr(out.String()), nil
}

func joinStr(args []Value) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(a.Str())
	}
	return b.String()
}
