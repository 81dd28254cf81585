package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Calling context
// ---------------------------------------------------------------------------

// Context describes how many (and which) values an expression should produce.
type Context uint8

const (
	VoidContext Context = iota
	ScalarContext
	ListContext
)

func (c Context) String() string {
	switch c {
	case VoidContext:
		return "void"
	case ScalarContext:
		return "scalar"
	case ListContext:
		return "list"
	}
	return fmt.Sprintf("Context(%d)", uint8(c))
}

// ---------------------------------------------------------------------------
// Value capability set
// ---------------------------------------------------------------------------

// Kind identifies the externally visible variants of the value model.
type Kind uint8

const (
	KindScalar Kind = iota
	KindArray
	KindHash
	KindCode
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindHash:
		return "hash"
	case KindCode:
		return "code"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is the capability contract the engine requires of the value model:
// kind discrimination plus boolean, numeric and string coercion.
type Value interface {
	Kind() Kind
	Bool() bool
	Num() float64
	Str() string
}

// internalValue marks engine-private register contents (loop iterator state)
// that must never be captured into an eval unit or observed by user code.
type internalValue interface {
	vmInternal()
}

// IsInternal reports whether v is engine-private and outside the externally
// visible capability set.
func IsInternal(v Value) bool {
	_, ok := v.(internalValue)
	return ok
}

// ---------------------------------------------------------------------------
// Scalar
// ---------------------------------------------------------------------------

// Scalar is a copy-semantics cell holding undef, a number, or a string.
// Registers hold *Scalar so closures sharing one cell see each other's
// writes; assignment copies content, never the cell.
type Scalar struct {
	defined bool
	numeric bool
	n       float64
	s       string
}

// Undef is the distinguished undefined scalar. It is shared and treated as
// read-only; stores always go through Set* on a private cell.
var Undef = &Scalar{}

// NewInt returns a scalar holding an integer value.
func NewInt(n int64) *Scalar {
	return &Scalar{defined: true, numeric: true, n: float64(n)}
}

// NewNum returns a scalar holding a float value.
func NewNum(n float64) *Scalar {
	return &Scalar{defined: true, numeric: true, n: n}
}

// NewStr returns a scalar holding a string value.
func NewStr(s string) *Scalar {
	return &Scalar{defined: true, s: s}
}

// NewBool returns the canonical boolean scalar: 1 for true, "" for false.
func NewBool(b bool) *Scalar {
	if b {
		return NewInt(1)
	}
	return NewStr("")
}

func (s *Scalar) Kind() Kind { return KindScalar }

// Defined reports whether the scalar holds a value.
func (s *Scalar) Defined() bool { return s.defined }

// Numeric reports whether the scalar's native representation is a number.
func (s *Scalar) Numeric() bool { return s.defined && s.numeric }

func (s *Scalar) Bool() bool {
	if !s.defined {
		return false
	}
	if s.numeric {
		return s.n != 0
	}
	return s.s != "" && s.s != "0"
}

func (s *Scalar) Num() float64 {
	if !s.defined {
		return 0
	}
	if s.numeric {
		return s.n
	}
	return numifyString(s.s)
}

func (s *Scalar) Str() string {
	if !s.defined {
		return ""
	}
	if s.numeric {
		return formatNum(s.n)
	}
	return s.s
}

// Set copies the content of src into s. Cell identity is preserved.
func (s *Scalar) Set(src *Scalar) { *s = *src }

// SetInt stores an integer value in place.
func (s *Scalar) SetInt(n int64) { *s = Scalar{defined: true, numeric: true, n: float64(n)} }

// SetNum stores a float value in place.
func (s *Scalar) SetNum(n float64) { *s = Scalar{defined: true, numeric: true, n: n} }

// SetStr stores a string value in place.
func (s *Scalar) SetStr(v string) { *s = Scalar{defined: true, s: v} }

// SetUndef clears the scalar.
func (s *Scalar) SetUndef() { *s = Scalar{} }

// Clone returns an independent copy of the scalar cell.
func (s *Scalar) Clone() *Scalar {
	c := *s
	return &c
}

// numifyString converts a string to a number the way the language does:
// longest leading numeric prefix, otherwise zero. Strings here are short,
// so the incremental parse is fine.
func numifyString(s string) float64 {
	t := strings.TrimLeft(s, " \t\n")
	var best float64
	for end := 1; end <= len(t); end++ {
		if n, err := strconv.ParseFloat(t[:end], 64); err == nil {
			best = n
		}
	}
	return best
}

// formatNum renders a number using integer formatting when the value is
// integral, matching the language's stringification rules.
func formatNum(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', 15, 64)
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

// Array is an ordered, mutable container. Arrays have reference semantics:
// registers and captures share the same *Array.
type Array struct {
	Elems []Value
}

// NewArray returns an array holding the given elements.
func NewArray(elems ...Value) *Array {
	return &Array{Elems: elems}
}

func (a *Array) Kind() Kind { return KindArray }

// Bool: an array is true when non-empty.
func (a *Array) Bool() bool { return len(a.Elems) > 0 }

// Num: an array numifies to its length.
func (a *Array) Num() float64 { return float64(len(a.Elems)) }

func (a *Array) Str() string {
	parts := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		parts[i] = e.Str()
	}
	return strings.Join(parts, " ")
}

// Len returns the element count.
func (a *Array) Len() int { return len(a.Elems) }

// At returns the element at index i, or Undef when out of range.
// Negative indices address from the end.
func (a *Array) At(i int) Value {
	if i < 0 {
		i += len(a.Elems)
	}
	if i < 0 || i >= len(a.Elems) {
		return Undef
	}
	return a.Elems[i]
}

// Put stores v at index i, extending with undef as needed.
func (a *Array) Put(i int, v Value) {
	if i < 0 {
		i += len(a.Elems)
		if i < 0 {
			return
		}
	}
	for len(a.Elems) <= i {
		a.Elems = append(a.Elems, Undef)
	}
	a.Elems[i] = v
}

// Push appends values.
func (a *Array) Push(vs ...Value) { a.Elems = append(a.Elems, vs...) }

// Unshift prepends values.
func (a *Array) Unshift(vs ...Value) {
	a.Elems = append(append([]Value{}, vs...), a.Elems...)
}

// Flatten appends the list form of v to dst: arrays and hashes spread,
// everything else appends as a single element.
func Flatten(dst []Value, v Value) []Value {
	switch t := v.(type) {
	case *Array:
		dst = append(dst, t.Elems...)
	case *Hash:
		for _, k := range t.SortedKeys() {
			dst = append(dst, NewStr(k), t.Get(k))
		}
	default:
		dst = append(dst, v)
	}
	return dst
}

// ---------------------------------------------------------------------------
// Hash
// ---------------------------------------------------------------------------

// Hash is a string-keyed mutable container with reference semantics.
type Hash struct {
	m map[string]Value
}

// NewHash returns an empty hash.
func NewHash() *Hash {
	return &Hash{m: make(map[string]Value)}
}

func (h *Hash) Kind() Kind { return KindHash }

func (h *Hash) Bool() bool   { return len(h.m) > 0 }
func (h *Hash) Num() float64 { return float64(len(h.m)) }

func (h *Hash) Str() string {
	parts := make([]string, 0, len(h.m)*2)
	for _, k := range h.SortedKeys() {
		parts = append(parts, k, h.m[k].Str())
	}
	return strings.Join(parts, " ")
}

// Get returns the value for key, or Undef when absent.
func (h *Hash) Get(key string) Value {
	if v, ok := h.m[key]; ok {
		return v
	}
	return Undef
}

// Put stores value under key.
func (h *Hash) Put(key string, v Value) { h.m[key] = v }

// Exists reports whether key is present.
func (h *Hash) Exists(key string) bool {
	_, ok := h.m[key]
	return ok
}

// Len returns the number of entries.
func (h *Hash) Len() int { return len(h.m) }

// SortedKeys returns the keys in sorted order for deterministic iteration.
func (h *Hash) SortedKeys() []string {
	keys := make([]string, 0, len(h.m))
	for k := range h.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Code
// ---------------------------------------------------------------------------

// Code is a callable: a compiled unit plus the cells it closed over.
type Code struct {
	Unit     *Unit
	Captured []Value // cells from the defining scope, nil for plain subs
	Name     string  // "" for anonymous subs
	Package  string  // package the sub was compiled in
	Blessed  string  // class name when blessed, "" otherwise

	// Native is non-nil for host-implemented builtins; Unit is nil then.
	Native func(in *Interp, args []Value, ctx Context) (Value, error)
}

func (c *Code) Kind() Kind   { return KindCode }
func (c *Code) Bool() bool   { return true }
func (c *Code) Num() float64 { return 1 }

func (c *Code) Str() string {
	if c.Name != "" {
		return fmt.Sprintf("CODE(%s::%s)", c.Package, c.Name)
	}
	return fmt.Sprintf("CODE(%p)", c)
}

// ---------------------------------------------------------------------------
// Internal iterator state
// ---------------------------------------------------------------------------

// iterState is the desugared foreach-loop cursor. It lives in a register but
// carries the internal tag so capture remapping skips it.
type iterState struct {
	list []Value
	next int
}

func (it *iterState) Kind() Kind   { return KindScalar }
func (it *iterState) Bool() bool   { return it.next < len(it.list) }
func (it *iterState) Num() float64 { return float64(it.next) }
func (it *iterState) Str() string  { return "" }
func (it *iterState) vmInternal()  {}
