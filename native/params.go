package native

import (
	"encoding/binary"

	"github.com/tomyedwab/fbdriver/dberr"
)

// ParamBuffer builds a database, transaction or blob parameter buffer:
// a version byte followed by code [length bytes] clusters.
type ParamBuffer struct {
	buf []byte
	err error
}

// NewParamBuffer starts a buffer with the given version byte.
func NewParamBuffer(version byte) *ParamBuffer {
	return &ParamBuffer{buf: []byte{version}}
}

// AddFlag appends a code with no value.
func (p *ParamBuffer) AddFlag(code byte) *ParamBuffer {
	p.buf = append(p.buf, code)
	return p
}

// AddBytes appends a code, a one-byte length and b. A value longer than
// 255 bytes poisons the buffer with a data error.
func (p *ParamBuffer) AddBytes(code byte, b []byte) *ParamBuffer {
	if p.err != nil {
		return p
	}
	if len(b) > 255 {
		p.err = dberr.NewDataError("parameter buffer component %d is %d bytes long, the limit is 255", code, len(b))
		return p
	}
	p.buf = append(p.buf, code, byte(len(b)))
	p.buf = append(p.buf, b...)
	return p
}

// AddString appends a string-valued cluster.
func (p *ParamBuffer) AddString(code byte, s string) *ParamBuffer {
	return p.AddBytes(code, []byte(s))
}

// AddInt appends a 4-byte little-endian integer cluster.
func (p *ParamBuffer) AddInt(code byte, v int32) *ParamBuffer {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return p.AddBytes(code, b)
}

// AddByte appends a one-byte value cluster.
func (p *ParamBuffer) AddByte(code byte, v byte) *ParamBuffer {
	return p.AddBytes(code, []byte{v})
}

// Bytes returns the encoded buffer, or the first error recorded while building it.
func (p *ParamBuffer) Bytes() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return append([]byte(nil), p.buf...), nil
}

// ParamItem is one decoded parameter-buffer cluster.
type ParamItem struct {
	Code  byte
	Value []byte
}

// Int returns the value as a little-endian signed integer.
func (i ParamItem) Int() int64 {
	var v uint64
	for j := len(i.Value) - 1; j >= 0; j-- {
		v = v<<8 | uint64(i.Value[j])
	}
	switch len(i.Value) {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return int64(v)
}

// ParseDPB decodes a database parameter buffer, where every cluster carries a length.
func ParseDPB(b []byte) (version byte, items []ParamItem, err error) {
	if len(b) == 0 {
		return 0, nil, nil
	}
	version = b[0]
	for pos := 1; pos < len(b); {
		if pos+1 >= len(b) {
			return version, nil, dberr.NewInternalError("truncated parameter buffer at offset %d", pos)
		}
		code, n := b[pos], int(b[pos+1])
		pos += 2
		if pos+n > len(b) {
			return version, nil, dberr.NewInternalError("parameter buffer cluster %d overruns the buffer", code)
		}
		items = append(items, ParamItem{Code: code, Value: b[pos : pos+n]})
		pos += n
	}
	return version, items, nil
}

// ParseTPB decodes a transaction parameter buffer. Only table reservations
// and the lock timeout carry a length; every other code is a bare flag.
func ParseTPB(b []byte) (items []ParamItem, err error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[0] != TPBVersion3 {
		return nil, dberr.NewInternalError("unsupported transaction parameter buffer version %d", b[0])
	}
	for pos := 1; pos < len(b); {
		code := b[pos]
		pos++
		switch code {
		case TPBLockRead, TPBLockWrite, TPBLockTimeout:
			if pos >= len(b) {
				return nil, dberr.NewInternalError("truncated transaction parameter %d", code)
			}
			n := int(b[pos])
			pos++
			if pos+n > len(b) {
				return nil, dberr.NewInternalError("transaction parameter %d overruns the buffer", code)
			}
			items = append(items, ParamItem{Code: code, Value: b[pos : pos+n]})
			pos += n
		default:
			items = append(items, ParamItem{Code: code})
		}
	}
	return items, nil
}
