// Package variant implements the self-describing dynamic value used for
// inter-component method arguments and results.
package variant

import (
	"fmt"
)

// Kind tags which field of Variant is populated.
type Kind int8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBytes
	KindList
	KindMap
)

// Variant is a tagged sum type: {null, int, float, bool, bytes, string, list, map}.
// Scalar kinds live in plain fields rather than behind `any`, avoiding the
// interface-boxing allocation a naive `any`-based union would pay on every
// scalar value — the closest this package gets to the small-buffer
// optimization the design notes ask for.
type Variant struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	by   []byte
	list []Variant
	m    map[string]Variant
}

func Null() Variant                  { return Variant{kind: KindNull} }
func Int(v int64) Variant            { return Variant{kind: KindInt, i: v} }
func Float(v float64) Variant        { return Variant{kind: KindFloat, f: v} }
func Bool(v bool) Variant            { return Variant{kind: KindBool, b: v} }
func String(v string) Variant        { return Variant{kind: KindString, s: v} }
func Bytes(v []byte) Variant         { return Variant{kind: KindBytes, by: v} }
func List(v ...Variant) Variant      { return Variant{kind: KindList, list: v} }
func Map(v map[string]Variant) Variant {
	if v == nil {
		v = map[string]Variant{}
	}
	return Variant{kind: KindMap, m: v}
}

func (v Variant) Kind() Kind   { return v.kind }
func (v Variant) IsNull() bool { return v.kind == KindNull }

func (v Variant) Int() (int64, bool)              { return v.i, v.kind == KindInt }
func (v Variant) Float() (float64, bool)           { return v.f, v.kind == KindFloat }
func (v Variant) Bool() (bool, bool)                { return v.b, v.kind == KindBool }
func (v Variant) String() (string, bool)            { return v.s, v.kind == KindString }
func (v Variant) Bytes() ([]byte, bool)             { return v.by, v.kind == KindBytes }
func (v Variant) List() ([]Variant, bool)           { return v.list, v.kind == KindList }
func (v Variant) Map() (map[string]Variant, bool)   { return v.m, v.kind == KindMap }

// GoString renders a debug form; handy in logs and panics, never parsed back.
func (v Variant) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.by))
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.m))
	default:
		return "invalid"
	}
}
