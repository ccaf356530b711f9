// Package descriptor manages the row descriptors a statement exchanges with
// the engine, one for input parameters and one for output columns.
//
// A descriptor is allocated with a guessed capacity. After the engine
// describes a statement into it, the reported field count may exceed that
// capacity; the descriptor is then reallocated to the reported count and the
// statement described again. One regrow always suffices because the engine
// answers consecutive describes of one prepared statement identically, so a
// second mismatch is reported as an internal error.
package descriptor

import (
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

// DefaultCapacity is the slot count allocated before the first describe.
const DefaultCapacity = 8

// Direction says which side of a statement a descriptor serves.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Allocate returns a descriptor with room for at least n slots.
func Allocate(n int) *native.XSQLDA {
	if n < 1 {
		n = 1
	}
	return native.NewXSQLDA(n)
}

// DescribeFunc asks the engine to fill da.
type DescribeFunc func(da *native.XSQLDA) native.StatusVector

// ErrorFunc turns a failing status vector into an error.
type ErrorFunc func(sv native.StatusVector) error

// Describe fills da via describe, regrowing it once if the engine reports
// more fields than it can hold. It returns the descriptor actually filled,
// which is da itself when no regrow was needed.
func Describe(da *native.XSQLDA, dir Direction, describe DescribeFunc, fail ErrorFunc) (*native.XSQLDA, error) {
	if sv := describe(da); sv.Failed() {
		return nil, fail(sv)
	}
	if da.SQLD <= da.SQLN {
		return da, nil
	}

	grown := Allocate(int(da.SQLD))
	if sv := describe(grown); sv.Failed() {
		return nil, fail(sv)
	}
	if grown.SQLD > grown.SQLN {
		return nil, dberr.NewInternalError(
			"%s descriptor still too small after regrow: engine reports %d fields for %d slots",
			dir, grown.SQLD, grown.SQLN)
	}
	return grown, nil
}

// shape is the engine-described layout of one slot.
type shape struct {
	sqlType int16
	sqlLen  int16
	scale   int16
	subtype int16
}

// Row is a described descriptor together with the layout the engine gave
// each slot. Binding mutates slots to carry values, so Restore must run
// before every re-bind.
type Row struct {
	DA        *native.XSQLDA
	Direction Direction
	shapes    []shape
}

// NewRow wraps a described descriptor and records its slot layout.
func NewRow(da *native.XSQLDA, dir Direction) *Row {
	r := &Row{DA: da, Direction: dir, shapes: make([]shape, da.SQLD)}
	for i := range r.shapes {
		v := &da.Vars[i]
		r.shapes[i] = shape{sqlType: v.SQLType, sqlLen: v.SQLLen, scale: v.SQLScale, subtype: v.SQLSubtype}
	}
	return r
}

// Len returns the number of fields in use.
func (r *Row) Len() int {
	return int(r.DA.SQLD)
}

// Var returns slot i.
func (r *Row) Var(i int) *native.XSQLVar {
	return &r.DA.Vars[i]
}

// Restore resets every slot to its described layout and clears its value.
func (r *Row) Restore() {
	for i, s := range r.shapes {
		v := &r.DA.Vars[i]
		v.SQLType = s.sqlType
		v.SQLLen = s.sqlLen
		v.SQLScale = s.scale
		v.SQLSubtype = s.subtype
		v.SQLData = nil
		v.SQLInd = 0
	}
}

// DescribedType returns the type code slot i had when described.
func (r *Row) DescribedType(i int) int16 {
	return r.shapes[i].sqlType
}

// DescribedLen returns the byte length slot i had when described.
func (r *Row) DescribedLen(i int) int16 {
	return r.shapes[i].sqlLen
}
