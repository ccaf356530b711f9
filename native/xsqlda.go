package native

import "encoding/binary"

// SQLDAVersion1 is the only descriptor layout version.
const SQLDAVersion1 = 1

// XSQLVar is one field slot of a row descriptor.
//
// SQLData holds the field's wire bytes: fixed-width integers, floats, dates,
// times, timestamps and quads in little-endian order, CHAR as SQLLen padded
// bytes, and VARCHAR as a 2-byte little-endian length followed by the bytes.
// SQLInd is -1 for NULL.
type XSQLVar struct {
	SQLType    int16
	SQLScale   int16
	SQLSubtype int16
	SQLLen     int16
	SQLData    []byte
	SQLInd     int16

	SQLName   string
	RelName   string
	OwnName   string
	AliasName string
}

// BaseType returns SQLType without the nullable flag.
func (v *XSQLVar) BaseType() int16 {
	return v.SQLType &^ 1
}

// Nullable reports whether the field accepts NULL.
func (v *XSQLVar) Nullable() bool {
	return v.SQLType&1 == 1
}

// IsNull reports whether the slot currently holds NULL.
func (v *XSQLVar) IsNull() bool {
	return v.Nullable() && v.SQLInd == -1
}

// SetNull marks the slot NULL and clears its data.
func (v *XSQLVar) SetNull() {
	v.SQLType |= 1
	v.SQLInd = -1
	v.SQLData = nil
}

// SetValue stores wire bytes into the slot and clears the null indicator.
func (v *XSQLVar) SetValue(data []byte) {
	v.SQLInd = 0
	v.SQLData = data
}

// VaryingBytes returns the payload of a VARCHAR slot.
func (v *XSQLVar) VaryingBytes() []byte {
	if len(v.SQLData) < 2 {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(v.SQLData))
	if n > len(v.SQLData)-2 {
		n = len(v.SQLData) - 2
	}
	return v.SQLData[2 : 2+n]
}

// PackVarying builds the wire form of a VARCHAR value.
func PackVarying(b []byte) []byte {
	out := make([]byte, 2+len(b))
	binary.LittleEndian.PutUint16(out, uint16(len(b)))
	copy(out[2:], b)
	return out
}

// XSQLDA is a row descriptor: SQLN slots allocated, SQLD slots in use.
type XSQLDA struct {
	Version int16
	SQLN    int16
	SQLD    int16
	Vars    []XSQLVar
}

// NewXSQLDA allocates a descriptor with n slots.
func NewXSQLDA(n int) *XSQLDA {
	return &XSQLDA{
		Version: SQLDAVersion1,
		SQLN:    int16(n),
		Vars:    make([]XSQLVar, n),
	}
}

// Quad is a 64-bit blob or array id. On the wire it is a little-endian
// high int32 followed by a little-endian low uint32.
type Quad uint64

// Bytes returns the wire form of q.
func (q Quad) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, uint32(q>>32))
	binary.LittleEndian.PutUint32(b[4:], uint32(q))
	return b
}

// QuadFromBytes decodes the wire form of a quad.
func QuadFromBytes(b []byte) Quad {
	if len(b) < 8 {
		return 0
	}
	return Quad(binary.LittleEndian.Uint32(b))<<32 | Quad(binary.LittleEndian.Uint32(b[4:]))
}
