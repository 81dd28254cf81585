package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Scalar tests
// ---------------------------------------------------------------------------

func TestScalarTruth(t *testing.T) {
	tests := []struct {
		v    *Scalar
		want bool
	}{
		{Undef, false},
		{NewInt(0), false},
		{NewInt(1), true},
		{NewInt(-1), true},
		{NewNum(0.0), false},
		{NewNum(0.5), true},
		{NewStr(""), false},
		{NewStr("0"), false},
		{NewStr("0.0"), true}, // string falsity is textual, not numeric
		{NewStr("00"), true},
		{NewStr(" "), true},
		{NewStr("false"), true},
		{NewBool(true), true},
		{NewBool(false), false},
	}
	for _, tt := range tests {
		if got := tt.v.Bool(); got != tt.want {
			t.Errorf("Bool(%q defined=%v) = %v, want %v", tt.v.Str(), tt.v.Defined(), got, tt.want)
		}
	}
}

func TestScalarNumification(t *testing.T) {
	tests := []struct {
		s    string
		want float64
	}{
		{"42", 42},
		{"3.5", 3.5},
		{"10abc", 10}, // longest leading numeric prefix
		{"abc", 0},
		{"", 0},
		{"  7", 7},
		{"-2.5xyz", -2.5},
		{"1e3", 1000},
		{"0x10", 0}, // hex literals do not numify
	}
	for _, tt := range tests {
		if got := NewStr(tt.s).Num(); got != tt.want {
			t.Errorf("Num(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestScalarStringification(t *testing.T) {
	tests := []struct {
		v    *Scalar
		want string
	}{
		{NewInt(42), "42"},
		{NewInt(-7), "-7"},
		{NewNum(2.0), "2"}, // integral floats print without a fraction
		{NewNum(2.5), "2.5"},
		{NewNum(0.1), "0.1"},
		{Undef, ""},
		{NewBool(false), ""},
		{NewBool(true), "1"},
	}
	for _, tt := range tests {
		if got := tt.v.Str(); got != tt.want {
			t.Errorf("Str = %q, want %q", got, tt.want)
		}
	}
}

func TestScalarSetAndClone(t *testing.T) {
	s := NewInt(1)
	c := s.Clone()
	s.SetStr("changed")
	if c.Str() != "1" {
		t.Errorf("clone tracked the original: %q", c.Str())
	}
	if !s.Defined() || s.Numeric() {
		t.Error("SetStr should leave a defined, non-numeric scalar")
	}
	s.SetUndef()
	if s.Defined() {
		t.Error("SetUndef should clear the scalar")
	}
}

func TestScalarSetPreservesCellIdentity(t *testing.T) {
	cell := NewInt(1)
	alias := cell
	cell.Set(NewStr("two"))
	if alias.Str() != "two" {
		t.Error("Set must write through the shared cell")
	}
}

func TestUndefConversions(t *testing.T) {
	if Undef.Defined() {
		t.Error("Undef reports defined")
	}
	if Undef.Num() != 0 || Undef.Str() != "" || Undef.Bool() {
		t.Error("Undef should convert to 0 / empty / false")
	}
}

// ---------------------------------------------------------------------------
// Array tests
// ---------------------------------------------------------------------------

func TestArrayAt(t *testing.T) {
	a := NewArray(NewInt(1), NewInt(2), NewInt(3))
	if a.At(0).Num() != 1 || a.At(2).Num() != 3 {
		t.Error("positive indexing broken")
	}
	if a.At(-1).Num() != 3 || a.At(-3).Num() != 1 {
		t.Error("negative indexing broken")
	}
	if a.At(3) != Undef || a.At(-4) != Undef {
		t.Error("out-of-range access should give Undef")
	}
}

func TestArrayPutExtends(t *testing.T) {
	a := NewArray(NewInt(1))
	a.Put(3, NewInt(4))
	if a.Len() != 4 {
		t.Fatalf("len = %d, want 4", a.Len())
	}
	if a.At(1) != Undef || a.At(2) != Undef {
		t.Error("gap elements should be Undef")
	}
	if a.At(3).Num() != 4 {
		t.Error("stored element lost")
	}
}

func TestArrayPutNegative(t *testing.T) {
	a := NewArray(NewInt(1), NewInt(2))
	a.Put(-1, NewInt(9))
	if a.At(1).Num() != 9 {
		t.Error("negative Put should address from the end")
	}
	// Beyond the front: silently ignored.
	a.Put(-5, NewInt(0))
	if a.Len() != 2 {
		t.Errorf("len = %d after out-of-range negative Put", a.Len())
	}
}

func TestArrayUnshift(t *testing.T) {
	a := NewArray(NewInt(3))
	a.Unshift(NewInt(1), NewInt(2))
	if a.Str() != "1 2 3" {
		t.Errorf("got %q", a.Str())
	}
}

func TestArrayConversions(t *testing.T) {
	a := NewArray(NewStr("x"), NewStr("y"))
	if !a.Bool() || a.Num() != 2 || a.Str() != "x y" {
		t.Errorf("conversions: bool=%v num=%v str=%q", a.Bool(), a.Num(), a.Str())
	}
	empty := NewArray()
	if empty.Bool() {
		t.Error("empty array should be false")
	}
}

// ---------------------------------------------------------------------------
// Hash tests
// ---------------------------------------------------------------------------

func TestHashBasics(t *testing.T) {
	h := NewHash()
	h.Put("b", NewInt(2))
	h.Put("a", NewInt(1))
	if h.Get("a").Num() != 1 {
		t.Error("Get broken")
	}
	if h.Get("missing") != Undef {
		t.Error("missing key should give Undef")
	}
	if !h.Exists("b") || h.Exists("missing") {
		t.Error("Exists broken")
	}
	keys := h.SortedKeys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("SortedKeys = %v", keys)
	}
}

// ---------------------------------------------------------------------------
// Flattening
// ---------------------------------------------------------------------------

func TestFlattenSpreadsContainers(t *testing.T) {
	inner := NewArray(NewInt(2), NewInt(3))
	out := Flatten(nil, NewInt(1))
	out = Flatten(out, inner)
	out = Flatten(out, NewInt(4))
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	// Scalar elements keep cell identity through flattening.
	if out[1] != inner.Elems[0] {
		t.Error("flatten should not copy scalar cells")
	}
}

func TestFlattenHashSortedPairs(t *testing.T) {
	h := NewHash()
	h.Put("b", NewInt(2))
	h.Put("a", NewInt(1))
	out := Flatten(nil, h)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if out[0].Str() != "a" || out[1].Num() != 1 || out[2].Str() != "b" || out[3].Num() != 2 {
		t.Errorf("pairs = %v %v %v %v", out[0].Str(), out[1].Str(), out[2].Str(), out[3].Str())
	}
}

// ---------------------------------------------------------------------------
// Number formatting
// ---------------------------------------------------------------------------

func TestFormatNum(t *testing.T) {
	tests := []struct {
		n    float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-3, "-3"},
		{2.5, "2.5"},
		{1e14, "100000000000000"},
	}
	for _, tt := range tests {
		if got := formatNum(tt.n); got != tt.want {
			t.Errorf("formatNum(%v) = %q, want %q", tt.n, got, tt.want)
		}
	}
	// Very large integral values fall back to float formatting.
	if got := formatNum(1e16); got == "" || got == "10000000000000000" {
		t.Errorf("formatNum(1e16) = %q", got)
	}
}

func TestInternalValuesAreHidden(t *testing.T) {
	it := &iterState{list: []Value{NewInt(1)}}
	if !IsInternal(it) {
		t.Error("iterator state should be internal")
	}
	if IsInternal(NewInt(1)) || IsInternal(NewArray()) {
		t.Error("user values flagged as internal")
	}
}
