package descriptor

import (
	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/native"
)

// Column describes one output field.
type Column struct {
	Name     string
	Alias    string
	Relation string
	Owner    string
	// TypeName is the SQL type, NUMERIC/DECIMAL for fixed-point integers.
	TypeName    string
	SQLType     int16
	Subtype     int16
	Scale       int16
	Length      int
	DisplaySize int
	Precision   int
	Nullable    bool
}

// Columns describes every field in use in r.
func Columns(r *Row) []Column {
	cols := make([]Column, r.Len())
	for i := range cols {
		v := r.Var(i)
		c := Column{
			Name:     v.SQLName,
			Alias:    v.AliasName,
			Relation: v.RelName,
			Owner:    v.OwnName,
			TypeName: native.SQLTypeName(v.SQLType),
			SQLType:  v.BaseType(),
			Subtype:  v.SQLSubtype,
			Scale:    v.SQLScale,
			Length:   int(v.SQLLen),
			Nullable: v.Nullable(),
		}
		if c.Alias == "" {
			c.Alias = c.Name
		}
		c.DisplaySize, c.Precision = displaySize(v)
		if IsFixedPoint(v) {
			if v.SQLSubtype == 2 {
				c.TypeName = "DECIMAL"
			} else {
				c.TypeName = "NUMERIC"
			}
		}
		cols[i] = c
	}
	return cols
}

// IsFixedPoint reports whether an integer slot carries a scaled value.
func IsFixedPoint(v *native.XSQLVar) bool {
	switch v.BaseType() {
	case native.SQLShort, native.SQLLong, native.SQLInt64:
		return v.SQLScale != 0 || v.SQLSubtype != 0
	case native.SQLDouble, native.SQLDFloat:
		return v.SQLScale != 0
	}
	return false
}

func displaySize(v *native.XSQLVar) (size, precision int) {
	switch v.BaseType() {
	case native.SQLText, native.SQLVarying:
		// SQLLen counts bytes; the low byte of the subtype is the charset.
		per := 1
		if cs, ok := codec.CharsetByID(v.SQLSubtype & 0xff); ok && cs.BytesPerChar > 0 {
			per = cs.BytesPerChar
		}
		return int(v.SQLLen) / per, 0
	case native.SQLShort:
		return 6, 4
	case native.SQLLong:
		return 11, 9
	case native.SQLInt64:
		return 20, 18
	case native.SQLFloat:
		return 17, 7
	case native.SQLDouble, native.SQLDFloat:
		return 17, 15
	case native.SQLTypeDate:
		return 10, 0
	case native.SQLTypeTime:
		return 13, 0
	case native.SQLTimestamp:
		return 24, 0
	case native.SQLBoolean:
		return 5, 0
	}
	return -1, 0
}
