package descriptor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

// charsetOctets marks a text field holding raw bytes.
const charsetOctets = 1

// Converter turns slot bytes into Go values and back for every scalar type.
// BLOB and ARRAY slots carry a native.Quad id; their contents are handled by
// the blob and sqlarray channels.
type Converter struct {
	Charset  *codec.Charset
	Location *time.Location
}

func (c Converter) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func isOctets(v *native.XSQLVar) bool {
	return v.SQLSubtype&0xff == charsetOctets
}

// Decode returns the value held in an output slot.
//
// NULL decodes as nil. Integers decode as int64, fixed-point integers as
// *apd.Decimal, FLOAT as float32, DOUBLE as float64, DATE, TIME and
// TIMESTAMP as time.Time, BOOLEAN as bool, text as string (or []byte for
// OCTETS) and BLOB, ARRAY and QUAD slots as native.Quad.
func (c Converter) Decode(v *native.XSQLVar) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	data := v.SQLData
	need := func(n int) error {
		if len(data) < n {
			return dberr.NewInternalError("%s field %q has %d data bytes, want %d",
				native.SQLTypeName(v.SQLType), v.SQLName, len(data), n)
		}
		return nil
	}

	switch v.BaseType() {
	case native.SQLText:
		if isOctets(v) {
			return append([]byte(nil), data...), nil
		}
		return c.Charset.Decode(data)
	case native.SQLVarying:
		if err := need(2); err != nil {
			return nil, err
		}
		b := v.VaryingBytes()
		if isOctets(v) {
			return append([]byte(nil), b...), nil
		}
		return c.Charset.Decode(b)
	case native.SQLShort, native.SQLLong, native.SQLInt64:
		width := intWidth(v.BaseType())
		if err := need(width); err != nil {
			return nil, err
		}
		raw := codec.DecodeLE(data[:width])
		if IsFixedPoint(v) {
			return codec.DecodeScaled(raw, v.SQLScale), nil
		}
		return raw, nil
	case native.SQLFloat:
		if err := need(4); err != nil {
			return nil, err
		}
		return codec.DecodeFloat32(data), nil
	case native.SQLDouble, native.SQLDFloat:
		if err := need(8); err != nil {
			return nil, err
		}
		f := codec.DecodeFloat64(data)
		if v.SQLScale != 0 {
			return codec.DecimalFromFloat(f, v.SQLScale)
		}
		return f, nil
	case native.SQLTypeDate:
		if err := need(4); err != nil {
			return nil, err
		}
		return codec.DecodeDate(int32(codec.DecodeLE(data[:4])), c.loc()), nil
	case native.SQLTypeTime:
		if err := need(4); err != nil {
			return nil, err
		}
		return codec.DecodeTime(uint32(codec.DecodeULE(data[:4])), c.loc())
	case native.SQLTimestamp:
		return codec.DecodeTimestamp(data, c.loc())
	case native.SQLBoolean:
		if err := need(1); err != nil {
			return nil, err
		}
		return data[0] != 0, nil
	case native.SQLBlob, native.SQLArray, native.SQLQuad:
		if err := need(8); err != nil {
			return nil, err
		}
		return native.QuadFromBytes(data), nil
	case native.SQLNull:
		return nil, nil
	}
	return nil, dberr.NewInterfaceError("unsupported result type code %d for field %q", v.SQLType, v.SQLName)
}

func intWidth(t int16) int {
	switch t {
	case native.SQLShort:
		return 2
	case native.SQLLong:
		return 4
	}
	return 8
}

// Encode stores value into an input slot that has been restored to its
// described layout. Text is always sent as VARCHAR.
func (c Converter) Encode(v *native.XSQLVar, value any) error {
	if value == nil {
		v.SetNull()
		return nil
	}
	v.SQLType |= 1

	switch v.BaseType() {
	case native.SQLText, native.SQLVarying:
		return c.encodeText(v, value)
	case native.SQLShort, native.SQLLong, native.SQLInt64:
		return encodeInteger(v, value)
	case native.SQLFloat:
		f, err := toFloat(v, value)
		if err != nil {
			return err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return dberr.NewDataError("float overflow: %v does not fit FLOAT parameter %q", f, v.SQLName)
		}
		v.SetValue(codec.EncodeFloat32(float32(f)))
		return nil
	case native.SQLDouble, native.SQLDFloat:
		f, err := toFloat(v, value)
		if err != nil {
			return err
		}
		v.SQLType = native.SQLDouble | 1
		v.SetValue(codec.EncodeFloat64(f))
		return nil
	case native.SQLTypeDate:
		t, err := toTime(v, value, "2006-01-02")
		if err != nil {
			return err
		}
		day, err := codec.EncodeDate(t)
		if err != nil {
			return err
		}
		buf := make([]byte, 4)
		codec.PutLE(buf, uint64(uint32(day)))
		v.SetValue(buf)
		return nil
	case native.SQLTypeTime:
		t, err := toTime(v, value, "15:04:05.9999", "15:04:05", "15:04")
		if err != nil {
			return err
		}
		buf := make([]byte, 4)
		codec.PutLE(buf, uint64(codec.EncodeTime(t)))
		v.SetValue(buf)
		return nil
	case native.SQLTimestamp:
		t, err := toTime(v, value, "2006-01-02 15:04:05.9999", "2006-01-02T15:04:05.9999", "2006-01-02 15:04:05", "2006-01-02")
		if err != nil {
			return err
		}
		buf, err := codec.EncodeTimestamp(t.In(c.loc()))
		if err != nil {
			return err
		}
		v.SetValue(buf)
		return nil
	case native.SQLBoolean:
		b, err := toBool(v, value)
		if err != nil {
			return err
		}
		if b {
			v.SetValue([]byte{1})
		} else {
			v.SetValue([]byte{0})
		}
		return nil
	case native.SQLBlob, native.SQLArray, native.SQLQuad:
		q, ok := value.(native.Quad)
		if !ok {
			return dberr.NewInterfaceError("parameter %q of type %s needs a quad id, got %T", v.SQLName, native.SQLTypeName(v.SQLType), value)
		}
		v.SetValue(q.Bytes())
		return nil
	}
	return dberr.NewInterfaceError("unsupported parameter type code %d for %q", v.SQLType, v.SQLName)
}

func (c Converter) encodeText(v *native.XSQLVar, value any) error {
	var b []byte
	switch x := value.(type) {
	case string:
		if isOctets(v) {
			b = []byte(x)
			break
		}
		enc, err := c.Charset.Encode(x)
		if err != nil {
			return err
		}
		b = enc
	case []byte:
		b = x
	case bool:
		b = []byte(strconv.FormatBool(x))
	case time.Time:
		b = []byte(x.Format("2006-01-02 15:04:05.0000"))
	default:
		s, ok := numberString(value)
		if !ok {
			return dberr.NewInterfaceError("cannot bind %T to text parameter %q", value, v.SQLName)
		}
		b = []byte(s)
	}
	if len(b) > int(v.SQLLen) {
		return dberr.NewDataError("string overflow: value is %d bytes long, which exceeds the maximum length of %d for parameter %q",
			len(b), v.SQLLen, v.SQLName)
	}
	v.SQLType = native.SQLVarying | 1
	v.SetValue(native.PackVarying(b))
	return nil
}

func numberString(value any) (string, bool) {
	switch x := value.(type) {
	case int:
		return strconv.Itoa(x), true
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		d, err := codec.DecimalFromValue(x)
		if err != nil {
			return "", false
		}
		return d.String(), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case *apd.Decimal:
		return x.String(), true
	}
	return "", false
}

func encodeInteger(v *native.XSQLVar, value any) error {
	width := intWidth(v.BaseType())
	if IsFixedPoint(v) {
		d, err := codec.DecimalFromValue(value)
		if err != nil {
			return err
		}
		raw, err := codec.EncodeScaled(d, v.SQLScale, width)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", v.SQLName, err)
		}
		buf, _ := codec.EncodeLE(raw, width)
		v.SetValue(buf)
		return nil
	}

	var n int64
	switch x := value.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint, uint64, string, *apd.Decimal, float32, float64, bool:
		d, err := integralDecimal(v, value)
		if err != nil {
			return err
		}
		i, err := d.Int64()
		if err != nil {
			return dberr.NewDataError("integer overflow: %s does not fit parameter %q", d.String(), v.SQLName)
		}
		n = i
	default:
		return dberr.NewInterfaceError("cannot bind %T to integer parameter %q", value, v.SQLName)
	}
	buf, err := codec.EncodeLE(n, width)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", v.SQLName, err)
	}
	v.SetValue(buf)
	return nil
}

func integralDecimal(v *native.XSQLVar, value any) (*apd.Decimal, error) {
	if b, ok := value.(bool); ok {
		if b {
			return apd.New(1, 0), nil
		}
		return apd.New(0, 0), nil
	}
	d, err := codec.DecimalFromValue(value)
	if err != nil {
		return nil, err
	}
	var reduced apd.Decimal
	if reduced.Reduce(d); reduced.Exponent < 0 {
		return nil, dberr.NewDataError("value %s has a fractional part but parameter %q is an integer", d.String(), v.SQLName)
	}
	return d, nil
}

func toFloat(v *native.XSQLVar, value any) (float64, error) {
	switch x := value.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case *apd.Decimal:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, dberr.NewDataErrorWithCause(err, "cannot bind %q to floating point parameter %q", x, v.SQLName)
		}
		return f, nil
	}
	return 0, dberr.NewInterfaceError("cannot bind %T to floating point parameter %q", value, v.SQLName)
}

func toTime(v *native.XSQLVar, value any, layouts ...string) (time.Time, error) {
	switch x := value.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, dberr.NewDataError("cannot parse %q as %s for parameter %q", x, native.SQLTypeName(v.SQLType), v.SQLName)
	}
	return time.Time{}, dberr.NewInterfaceError("cannot bind %T to %s parameter %q", value, native.SQLTypeName(v.SQLType), v.SQLName)
}

func toBool(v *native.XSQLVar, value any) (bool, error) {
	switch x := value.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, dberr.NewDataErrorWithCause(err, "cannot bind %q to BOOLEAN parameter %q", x, v.SQLName)
		}
		return b, nil
	}
	return false, dberr.NewInterfaceError("cannot bind %T to BOOLEAN parameter %q", value, v.SQLName)
}
