// Package wire serializes compiled units for the on-disk cache.
package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/perlite-lang/perlite/vm"
)

// cborEncMode uses canonical encoding so a unit always serializes to the
// same bytes and content hashes are stable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// formatVersion gates decoding: opcode numbering and field layout must
// match the build that wrote the entry.
const formatVersion = uint8(2)

// Constant kinds on the wire.
const (
	constUndef = uint8(0)
	constNum   = uint8(1)
	constStr   = uint8(2)
)

type wireConst struct {
	Kind uint8   `cbor:"k"`
	Num  float64 `cbor:"n,omitempty"`
	Str  string  `cbor:"s,omitempty"`
}

type wireLoop struct {
	Start    int   `cbor:"s"`
	Continue int   `cbor:"c"`
	End      int   `cbor:"e"`
	Label    int32 `cbor:"l"`
}

type wireUnit struct {
	Format       uint8                `cbor:"v,omitempty"`
	Name         string               `cbor:"name"`
	Line         int                  `cbor:"line"`
	Kind         uint8                `cbor:"kind"`
	Package      string               `cbor:"pkg"`
	Strict       bool                 `cbor:"strict"`
	Warnings     bool                 `cbor:"warnings"`
	Features     uint32               `cbor:"features"`
	Code         []int32              `cbor:"code"`
	Consts       []wireConst          `cbor:"consts"`
	NumRegisters int                  `cbor:"regs"`
	Registry     map[string]int       `cbor:"registry"`
	Loops        []wireLoop           `cbor:"loops"`
	ResultReg    int                  `cbor:"result"`
	Anon         []*wireUnit          `cbor:"anon,omitempty"`
	CaptureRegs  []int                `cbor:"captures,omitempty"`
	Subs         map[string]*wireUnit `cbor:"subs,omitempty"`
}

// Marshal serializes a unit tree to canonical CBOR bytes.
func Marshal(u *vm.Unit) ([]byte, error) {
	w, err := toWire(u)
	if err != nil {
		return nil, err
	}
	w.Format = formatVersion
	return cborEncMode.Marshal(w)
}

// Unmarshal deserializes a unit tree from CBOR bytes.
func Unmarshal(data []byte) (*vm.Unit, error) {
	var w wireUnit
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wire: unmarshal unit: %w", err)
	}
	if w.Format != formatVersion {
		return nil, fmt.Errorf("wire: format version %d, want %d", w.Format, formatVersion)
	}
	return fromWire(&w)
}

// ContentHash returns the hex sha256 of a unit's canonical encoding.
func ContentHash(u *vm.Unit) (string, error) {
	data, err := Marshal(u)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SourceKey returns the cache key for a source text compiled under the
// given pragmas. Pragma state is part of the key because it changes the
// generated code.
func SourceKey(src string, pragmas vm.Pragmas) string {
	h := sha256.New()
	fmt.Fprintf(h, "strict=%t;warnings=%t;features=%d;", pragmas.Strict, pragmas.Warnings, pragmas.Features)
	h.Write([]byte(src))
	return hex.EncodeToString(h.Sum(nil))
}

func toWire(u *vm.Unit) (*wireUnit, error) {
	w := &wireUnit{
		Name:         u.Name,
		Line:         u.Line,
		Kind:         uint8(u.Kind),
		Package:      u.Package,
		Strict:       u.Pragmas.Strict,
		Warnings:     u.Pragmas.Warnings,
		Features:     uint32(u.Pragmas.Features),
		Code:         u.Code,
		NumRegisters: u.NumRegisters,
		Registry:     u.Registry,
		ResultReg:    u.ResultReg,
		CaptureRegs:  u.CaptureRegs,
	}
	for _, c := range u.Consts {
		s, ok := c.(*vm.Scalar)
		if !ok {
			return nil, fmt.Errorf("wire: constant pool holds %s, expected scalar", c.Kind())
		}
		switch {
		case !s.Defined():
			w.Consts = append(w.Consts, wireConst{Kind: constUndef})
		case s.Numeric():
			w.Consts = append(w.Consts, wireConst{Kind: constNum, Num: s.Num()})
		default:
			w.Consts = append(w.Consts, wireConst{Kind: constStr, Str: s.Str()})
		}
	}
	for _, l := range u.Loops {
		w.Loops = append(w.Loops, wireLoop{Start: l.Start, Continue: l.Continue, End: l.End, Label: l.Label})
	}
	for _, a := range u.Anon {
		wa, err := toWire(a)
		if err != nil {
			return nil, err
		}
		w.Anon = append(w.Anon, wa)
	}
	if len(u.Subs) > 0 {
		w.Subs = make(map[string]*wireUnit, len(u.Subs))
		for name, su := range u.Subs {
			ws, err := toWire(su)
			if err != nil {
				return nil, err
			}
			w.Subs[name] = ws
		}
	}
	return w, nil
}

func fromWire(w *wireUnit) (*vm.Unit, error) {
	u := &vm.Unit{
		Name:    w.Name,
		Line:    w.Line,
		Kind:    vm.UnitKind(w.Kind),
		Package: w.Package,
		Pragmas: vm.Pragmas{
			Strict:   w.Strict,
			Warnings: w.Warnings,
			Features: vm.FeatureSet(w.Features),
		},
		Code:         w.Code,
		NumRegisters: w.NumRegisters,
		Registry:     w.Registry,
		ResultReg:    w.ResultReg,
		CaptureRegs:  w.CaptureRegs,
	}
	for _, c := range w.Consts {
		switch c.Kind {
		case constUndef:
			u.Consts = append(u.Consts, &vm.Scalar{})
		case constNum:
			u.Consts = append(u.Consts, vm.NewNum(c.Num))
		case constStr:
			u.Consts = append(u.Consts, vm.NewStr(c.Str))
		default:
			return nil, fmt.Errorf("wire: unknown constant kind %d", c.Kind)
		}
	}
	for _, l := range w.Loops {
		u.Loops = append(u.Loops, vm.LoopInfo{Start: l.Start, Continue: l.Continue, End: l.End, Label: l.Label})
	}
	for _, wa := range w.Anon {
		a, err := fromWire(wa)
		if err != nil {
			return nil, err
		}
		u.Anon = append(u.Anon, a)
	}
	if len(w.Subs) > 0 {
		u.Subs = make(map[string]*vm.Unit, len(w.Subs))
		for name, ws := range w.Subs {
			su, err := fromWire(ws)
			if err != nil {
				return nil, err
			}
			u.Subs[name] = su
		}
	}
	if err := u.Verify(); err != nil {
		return nil, fmt.Errorf("wire: decoded unit failed verification: %w", err)
	}
	return u, nil
}
