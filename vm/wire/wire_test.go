package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/perlite-lang/perlite/compiler"
	"github.com/perlite-lang/perlite/vm"
)

const roundTripSrc = `
my $total = 0;
my @items = (3, 1, 2);
OUTER: foreach my $n (@items) {
    next OUTER if $n == 1;
    $total = $total + $n;
}
sub double { my ($n) = @_; return $n * 2; }
my $f = sub { my ($x) = @_; return $x + $total; };
my $msg = "done";
`

func compileSrc(t *testing.T, src string) *vm.Unit {
	t.Helper()
	u, err := compiler.Compile(src, "wire_test.plt")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return u
}

func TestRoundTrip(t *testing.T) {
	orig := compileSrc(t, roundTripSrc)

	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Name != orig.Name {
		t.Errorf("name = %q, want %q", decoded.Name, orig.Name)
	}
	if decoded.Kind != orig.Kind {
		t.Errorf("kind = %v, want %v", decoded.Kind, orig.Kind)
	}
	if decoded.Package != orig.Package {
		t.Errorf("package = %q, want %q", decoded.Package, orig.Package)
	}
	if decoded.NumRegisters != orig.NumRegisters {
		t.Errorf("registers = %d, want %d", decoded.NumRegisters, orig.NumRegisters)
	}
	if !reflect.DeepEqual(decoded.Code, orig.Code) {
		t.Error("code streams differ")
	}
	if !reflect.DeepEqual(decoded.Registry, orig.Registry) {
		t.Errorf("registry = %v, want %v", decoded.Registry, orig.Registry)
	}
	if !reflect.DeepEqual(decoded.Loops, orig.Loops) {
		t.Errorf("loops = %v, want %v", decoded.Loops, orig.Loops)
	}
	if len(decoded.Anon) != len(orig.Anon) {
		t.Fatalf("anon count = %d, want %d", len(decoded.Anon), len(orig.Anon))
	}
	if len(decoded.Subs) != len(orig.Subs) {
		t.Fatalf("subs count = %d, want %d", len(decoded.Subs), len(orig.Subs))
	}
	if _, ok := decoded.Subs["double"]; !ok {
		t.Error("sub double missing after round trip")
	}

	// The decoded unit must disassemble identically, nested units included.
	if got, want := vm.Disassemble(decoded), vm.Disassemble(orig); got != want {
		t.Errorf("disassembly differs:\n%s\nwant:\n%s", got, want)
	}
	for i := range orig.Anon {
		if got, want := vm.Disassemble(decoded.Anon[i]), vm.Disassemble(orig.Anon[i]); got != want {
			t.Errorf("anon %d disassembly differs", i)
		}
	}
}

func TestRoundTripExecutes(t *testing.T) {
	orig := compileSrc(t, "my $x = 2;\nmy $y = 3;\n$x + $y;\n")

	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	in := vm.NewInterp()
	result, err := in.Execute(decoded, nil, vm.ScalarContext)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := result.Num(); got != 5 {
		t.Errorf("result = %v, want 5", got)
	}
}

func TestConstKinds(t *testing.T) {
	orig := compileSrc(t, "my $a = undef;\nmy $b = 42;\nmy $c = \"hello\";\n")

	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(decoded.Consts) != len(orig.Consts) {
		t.Fatalf("const count = %d, want %d", len(decoded.Consts), len(orig.Consts))
	}
	for i, c := range orig.Consts {
		want := c.(*vm.Scalar)
		got, ok := decoded.Consts[i].(*vm.Scalar)
		if !ok {
			t.Fatalf("const %d is not a scalar", i)
		}
		if got.Defined() != want.Defined() || got.Numeric() != want.Numeric() {
			t.Errorf("const %d kind changed: defined=%v numeric=%v", i, got.Defined(), got.Numeric())
		}
		if want.Defined() && got.Str() != want.Str() {
			t.Errorf("const %d = %q, want %q", i, got.Str(), want.Str())
		}
	}
}

func TestUndefConst(t *testing.T) {
	u := &vm.Unit{
		Name:         "undef-const",
		Kind:         vm.UnitMain,
		Package:      "main",
		Code:         []int32{int32(vm.OpLoadConst), int32(vm.ReservedRegs), 0},
		Consts:       []vm.Value{&vm.Scalar{}},
		NumRegisters: vm.ReservedRegs + 1,
		Registry:     vm.ReservedRegistry(),
		ResultReg:    -1,
	}
	data, err := Marshal(u)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	s, ok := decoded.Consts[0].(*vm.Scalar)
	if !ok || s.Defined() {
		t.Errorf("undef constant decoded as %v", decoded.Consts[0])
	}
}

func TestContentHashStable(t *testing.T) {
	u1 := compileSrc(t, "my $x = 1;\n")
	u2 := compileSrc(t, "my $x = 1;\n")

	h1, err := ContentHash(u1)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	h2, err := ContentHash(u2)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("identical sources hash differently: %s vs %s", h1, h2)
	}

	u3 := compileSrc(t, "my $x = 2;\n")
	h3, err := ContentHash(u3)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if h1 == h3 {
		t.Error("different sources hash identically")
	}
}

func TestMarshalDeterministic(t *testing.T) {
	u := compileSrc(t, roundTripSrc)

	d1, err := Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("repeated marshals of the same unit differ")
	}
}

func TestSourceKey(t *testing.T) {
	strict := vm.Pragmas{Strict: true}
	k1 := SourceKey("my $x = 1;", vm.Pragmas{})
	k2 := SourceKey("my $x = 1;", strict)
	k3 := SourceKey("my $x = 2;", vm.Pragmas{})

	if k1 == k2 {
		t.Error("pragma state should change the key")
	}
	if k1 == k3 {
		t.Error("source text should change the key")
	}
	if k1 != SourceKey("my $x = 1;", vm.Pragmas{}) {
		t.Error("key is not deterministic")
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not cbor at all")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestUnmarshalRejectsStaleFormat(t *testing.T) {
	// Opcode numbering is only stable within one format version, so an
	// entry written by another build must miss instead of misdecoding.
	stale := wireUnit{
		Format:       formatVersion - 1,
		Name:         "old",
		Kind:         uint8(vm.UnitMain),
		Package:      "main",
		NumRegisters: vm.ReservedRegs,
		ResultReg:    -1,
	}
	data, err := cborEncMode.Marshal(&stale)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected a format version error")
	}
}

func TestUnmarshalRejectsInvalidUnit(t *testing.T) {
	// A structurally broken unit must be rejected on decode, not later
	// during execution.
	bad := &vm.Unit{
		Name:         "bad",
		Kind:         vm.UnitMain,
		Package:      "main",
		Code:         []int32{int32(vm.OpLoadUndef), 99},
		NumRegisters: vm.ReservedRegs,
		Registry:     vm.ReservedRegistry(),
		ResultReg:    -1,
	}
	data, err := Marshal(bad)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected verification error for out-of-range register")
	}
}
