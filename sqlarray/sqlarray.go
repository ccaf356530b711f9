// Package sqlarray moves ARRAY column values between Go and the engine.
//
// An array travels as one contiguous slice buffer holding every element in
// row-major order. Get folds that buffer into nested []any values matching
// the declared dimensions; Put validates a nested Go value against the
// declared bounds and element type before flattening it.
package sqlarray

import (
	"bytes"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

// Channel reads and writes arrays over one attachment and transaction.
type Channel struct {
	API      native.API
	DB       native.DBHandle
	TR       native.TrHandle
	Charset  *codec.Charset
	Location *time.Location
}

// Lookup returns the element descriptor and bounds of relation.field.
func (c *Channel) Lookup(relation, field string) (native.ArrayDesc, error) {
	desc, sv := c.API.ArrayLookupBounds(c.DB, c.TR, relation, field)
	if sv.Failed() {
		return native.ArrayDesc{}, native.StatusError(c.API, sv, "Error while looking up array bounds:")
	}
	if len(desc.Bounds) == 0 {
		return native.ArrayDesc{}, dberr.NewInternalError("array %s.%s has no dimensions", relation, field)
	}
	return desc, nil
}

// ElementSize returns the bytes one element occupies in a slice buffer.
func ElementSize(desc *native.ArrayDesc) (int, error) {
	switch desc.Dtype {
	case native.BLRShort:
		return 2, nil
	case native.BLRLong, native.BLRFloat, native.BLRSQLDate, native.BLRSQLTime:
		return 4, nil
	case native.BLRInt64, native.BLRDouble, native.BLRDFloat, native.BLRTimestamp, native.BLRQuad:
		return 8, nil
	case native.BLRText, native.BLRCString:
		return int(desc.Length), nil
	case native.BLRVarying:
		return int(desc.Length) + 2, nil
	case native.BLRBool:
		return 1, nil
	}
	return 0, dberr.NewInterfaceError("unsupported array element type %d", desc.Dtype)
}

// Get reads the array id stored in relation.field.
func (c *Channel) Get(relation, field string, id native.Quad) ([]any, error) {
	desc, err := c.Lookup(relation, field)
	if err != nil {
		return nil, err
	}
	size, err := ElementSize(&desc)
	if err != nil {
		return nil, err
	}
	total := desc.Elements() * size
	data, sv := c.API.ArrayGetSlice(c.DB, c.TR, id, &desc, total)
	if sv.Failed() {
		return nil, native.StatusError(c.API, sv, "Error while reading array slice:")
	}
	if len(data) < total {
		return nil, dberr.NewInternalError("array slice has %d bytes, want %d", len(data), total)
	}
	out, _, err := c.unflatten(&desc, 0, data, size)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// unflatten decodes dimension dim from data and returns the unread rest.
func (c *Channel) unflatten(desc *native.ArrayDesc, dim int, data []byte, size int) ([]any, []byte, error) {
	n := desc.Bounds[dim].Count()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		if dim == len(desc.Bounds)-1 {
			v, err := c.decodeElement(desc, data[:size])
			if err != nil {
				return nil, nil, err
			}
			out[i] = v
			data = data[size:]
			continue
		}
		sub, rest, err := c.unflatten(desc, dim+1, data, size)
		if err != nil {
			return nil, nil, err
		}
		out[i] = sub
		data = rest
	}
	return out, data, nil
}

func (c *Channel) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c *Channel) decodeElement(desc *native.ArrayDesc, b []byte) (any, error) {
	switch desc.Dtype {
	case native.BLRShort, native.BLRLong, native.BLRInt64:
		raw := codec.DecodeLE(b)
		if desc.Scale != 0 {
			return codec.DecodeScaled(raw, int16(desc.Scale)), nil
		}
		return raw, nil
	case native.BLRFloat:
		return codec.DecodeFloat32(b), nil
	case native.BLRDouble, native.BLRDFloat:
		return codec.DecodeFloat64(b), nil
	case native.BLRSQLDate:
		return codec.DecodeDate(int32(codec.DecodeLE(b)), c.loc()), nil
	case native.BLRSQLTime:
		return codec.DecodeTime(uint32(codec.DecodeULE(b)), c.loc())
	case native.BLRTimestamp:
		return codec.DecodeTimestamp(b, c.loc())
	case native.BLRText:
		return c.Charset.Decode(b)
	case native.BLRCString:
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		return c.Charset.Decode(b)
	case native.BLRVarying:
		n := int(codec.DecodeULE(b[:2]))
		if n > len(b)-2 {
			n = len(b) - 2
		}
		return c.Charset.Decode(b[2 : 2+n])
	case native.BLRBool:
		return b[0] != 0, nil
	case native.BLRQuad:
		return native.QuadFromBytes(b), nil
	}
	return nil, dberr.NewInterfaceError("unsupported array element type %d", desc.Dtype)
}

// Put validates value against relation.field and writes it as a new array,
// returning the new id. value must be nested slices whose lengths match
// every declared dimension exactly.
func (c *Channel) Put(relation, field string, value any) (native.Quad, error) {
	desc, err := c.Lookup(relation, field)
	if err != nil {
		return 0, err
	}
	size, err := ElementSize(&desc)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 0, desc.Elements()*size)
	buf, err = c.flatten(&desc, 0, reflect.ValueOf(value), buf, size)
	if err != nil {
		return 0, err
	}
	var id native.Quad
	if sv := c.API.ArrayPutSlice(c.DB, c.TR, &id, &desc, buf); sv.Failed() {
		return 0, native.StatusError(c.API, sv, "Error while writing array slice:")
	}
	return id, nil
}

func (c *Channel) flatten(desc *native.ArrayDesc, dim int, v reflect.Value, buf []byte, size int) ([]byte, error) {
	for v.IsValid() && v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	want := desc.Bounds[dim].Count()
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Type().Elem().Kind() == reflect.Uint8 {
		return nil, dberr.NewDataError("array %s.%s dimension %d needs a sequence of %d elements, got %s",
			desc.RelationName, desc.FieldName, dim+1, want, typeName(v))
	}
	if v.Len() != want {
		return nil, dberr.NewDataError("array %s.%s dimension %d needs %d elements, got %d",
			desc.RelationName, desc.FieldName, dim+1, want, v.Len())
	}
	for i := 0; i < want; i++ {
		elem := v.Index(i)
		var err error
		if dim == len(desc.Bounds)-1 {
			buf, err = c.encodeElement(desc, elem, buf, size)
		} else {
			buf, err = c.flatten(desc, dim+1, elem, buf, size)
		}
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func typeName(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func (c *Channel) encodeElement(desc *native.ArrayDesc, v reflect.Value, buf []byte, size int) ([]byte, error) {
	for v.IsValid() && v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	mismatch := func() error {
		return dberr.NewDataError("array %s.%s element of type %s does not match the declared element type %d",
			desc.RelationName, desc.FieldName, typeName(v), desc.Dtype)
	}
	if !v.IsValid() {
		return nil, mismatch()
	}
	elem := make([]byte, size)

	switch desc.Dtype {
	case native.BLRShort, native.BLRLong, native.BLRInt64:
		var d *apd.Decimal
		switch {
		case isInt(v.Kind()):
			x, err := codec.DecimalFromValue(v.Interface())
			if err != nil {
				return nil, err
			}
			d = x
		case desc.Scale != 0 && (isFloat(v.Kind()) || v.Type() == reflect.TypeOf(&apd.Decimal{})):
			x, err := codec.DecimalFromValue(v.Interface())
			if err != nil {
				return nil, err
			}
			d = x
		default:
			return nil, mismatch()
		}
		raw, err := codec.EncodeScaled(d, int16(desc.Scale), size)
		if err != nil {
			return nil, err
		}
		codec.PutLE(elem, uint64(raw))
	case native.BLRFloat, native.BLRDouble, native.BLRDFloat:
		var f float64
		switch {
		case isFloat(v.Kind()):
			f = v.Float()
		case v.Kind() >= reflect.Int && v.Kind() <= reflect.Int64:
			f = float64(v.Int())
		case v.Kind() >= reflect.Uint && v.Kind() <= reflect.Uint64:
			f = float64(v.Uint())
		default:
			return nil, mismatch()
		}
		if desc.Dtype == native.BLRFloat {
			copy(elem, codec.EncodeFloat32(float32(f)))
		} else {
			copy(elem, codec.EncodeFloat64(f))
		}
	case native.BLRSQLDate, native.BLRSQLTime, native.BLRTimestamp:
		t, ok := v.Interface().(time.Time)
		if !ok {
			return nil, mismatch()
		}
		switch desc.Dtype {
		case native.BLRSQLDate:
			day, err := codec.EncodeDate(t)
			if err != nil {
				return nil, err
			}
			codec.PutLE(elem, uint64(uint32(day)))
		case native.BLRSQLTime:
			codec.PutLE(elem, uint64(codec.EncodeTime(t)))
		default:
			ts, err := codec.EncodeTimestamp(t.In(c.loc()))
			if err != nil {
				return nil, err
			}
			copy(elem, ts)
		}
	case native.BLRText, native.BLRCString, native.BLRVarying:
		if v.Kind() != reflect.String {
			return nil, mismatch()
		}
		b, err := c.Charset.Encode(v.String())
		if err != nil {
			return nil, err
		}
		limit := int(desc.Length)
		if desc.Dtype == native.BLRCString {
			limit--
		}
		if len(b) > limit {
			return nil, dberr.NewDataError("array %s.%s string element is %d bytes long, the limit is %d",
				desc.RelationName, desc.FieldName, len(b), limit)
		}
		switch desc.Dtype {
		case native.BLRText:
			n := copy(elem, b)
			for i := n; i < len(elem); i++ {
				elem[i] = ' '
			}
		case native.BLRCString:
			copy(elem, b)
		default:
			codec.PutLE(elem[:2], uint64(len(b)))
			copy(elem[2:], b)
		}
	case native.BLRBool:
		if v.Kind() != reflect.Bool {
			return nil, mismatch()
		}
		if v.Bool() {
			elem[0] = 1
		}
	default:
		return nil, dberr.NewInterfaceError("unsupported array element type %d", desc.Dtype)
	}
	return append(buf, elem...), nil
}
