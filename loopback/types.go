package loopback

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
)

// maxVarying is the longest VARCHAR the engine describes.
const maxVarying = 32765

const (
	subtypeNumeric int16 = 1
	subtypeDecimal int16 = 2
	charsetOctets  int16 = 1
)

// shape is the described layout of one field.
type shape struct {
	typ     int16
	scale   int16
	subtype int16
	length  int16
}

// apply writes s into v as a nullable field.
func (s shape) apply(v *native.XSQLVar) {
	v.SQLType = s.typ | 1
	v.SQLScale = s.scale
	v.SQLSubtype = s.subtype
	v.SQLLen = s.length
}

func textShape(typ int16, chars int, cs *codec.Charset) shape {
	per := 1
	id := int16(0)
	if cs != nil {
		per, id = cs.BytesPerChar, cs.ID
	}
	return shape{typ: typ, subtype: id, length: int16(min(chars*per, maxVarying))}
}

func varyingShape(cs *codec.Charset) shape {
	return textShape(native.SQLVarying, maxVarying, cs)
}

// declArgs splits "NAME(p, s)" into the upper-cased name and its numeric
// arguments.
func declArgs(decl string) (string, []int) {
	decl = strings.ToUpper(strings.TrimSpace(decl))
	lp := strings.IndexByte(decl, '(')
	if lp < 0 {
		return decl, nil
	}
	name := strings.TrimSpace(decl[:lp])
	rest := decl[lp+1:]
	if rp := strings.IndexByte(rest, ')'); rp >= 0 {
		if tail := strings.TrimSpace(rest[rp+1:]); tail != "" {
			name += " " + tail
		}
		rest = rest[:rp]
	}
	var args []int
	for _, a := range strings.Split(rest, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(a)); err == nil {
			args = append(args, n)
		}
	}
	return name, args
}

// declShape maps a declared column type to a field layout. ok is false for
// an empty declaration.
func declShape(decl string, cs *codec.Charset) (shape, bool) {
	name, args := declArgs(decl)
	if name == "" {
		return shape{}, false
	}
	arg := func(i, def int) int {
		if i < len(args) {
			return args[i]
		}
		return def
	}
	switch {
	case strings.Contains(name, "ARRAY") || strings.HasSuffix(name, "[]"):
		return shape{typ: native.SQLArray, length: 8}, true
	case strings.HasPrefix(name, "BLOB"):
		s := shape{typ: native.SQLBlob, length: 8}
		if strings.Contains(name, "SUB_TYPE TEXT") || strings.Contains(name, "SUB_TYPE 1") {
			s.subtype = native.BlobSubtypeText
		}
		return s, true
	}
	switch name {
	case "SMALLINT":
		return shape{typ: native.SQLShort, length: 2}, true
	case "INT", "INTEGER":
		return shape{typ: native.SQLLong, length: 4}, true
	case "BIGINT", "INT64":
		return shape{typ: native.SQLInt64, length: 8}, true
	case "NUMERIC", "DECIMAL":
		p, sc := arg(0, 18), arg(1, 0)
		s := shape{scale: int16(-sc), subtype: subtypeNumeric}
		if name == "DECIMAL" {
			s.subtype = subtypeDecimal
		}
		switch {
		case p <= 4:
			s.typ, s.length = native.SQLShort, 2
		case p <= 9:
			s.typ, s.length = native.SQLLong, 4
		default:
			s.typ, s.length = native.SQLInt64, 8
		}
		return s, true
	case "FLOAT":
		return shape{typ: native.SQLFloat, length: 4}, true
	case "REAL", "DOUBLE", "DOUBLE PRECISION":
		return shape{typ: native.SQLDouble, length: 8}, true
	case "DATE":
		return shape{typ: native.SQLTypeDate, length: 4}, true
	case "TIME":
		return shape{typ: native.SQLTypeTime, length: 4}, true
	case "TIMESTAMP", "DATETIME":
		return shape{typ: native.SQLTimestamp, length: 8}, true
	case "BOOLEAN", "BOOL":
		return shape{typ: native.SQLBoolean, length: 1}, true
	case "CHAR", "CHARACTER", "NCHAR":
		return textShape(native.SQLText, arg(0, 1), cs), true
	case "VARCHAR", "CHARACTER VARYING", "NVARCHAR", "VARYING":
		return textShape(native.SQLVarying, arg(0, 255), cs), true
	case "BINARY":
		return shape{typ: native.SQLText, subtype: charsetOctets, length: int16(arg(0, 1))}, true
	case "VARBINARY":
		return shape{typ: native.SQLVarying, subtype: charsetOctets, length: int16(arg(0, 255))}, true
	case "TEXT", "CLOB", "STRING":
		return varyingShape(cs), true
	}
	// SQLite affinity rules for everything else.
	switch {
	case strings.Contains(name, "INT"):
		return shape{typ: native.SQLInt64, length: 8}, true
	case strings.Contains(name, "CHAR"), strings.Contains(name, "TEXT"), strings.Contains(name, "CLOB"):
		return varyingShape(cs), true
	case strings.Contains(name, "REAL"), strings.Contains(name, "FLOA"), strings.Contains(name, "DOUB"):
		return shape{typ: native.SQLDouble, length: 8}, true
	}
	return varyingShape(cs), true
}

// valueShape types a column that has no declaration by the value SQLite
// produced for it.
func valueShape(v any, cs *codec.Charset) shape {
	switch x := v.(type) {
	case int64:
		return shape{typ: native.SQLInt64, length: 8}
	case float64:
		return shape{typ: native.SQLDouble, length: 8}
	case []byte:
		return shape{typ: native.SQLVarying, subtype: charsetOctets, length: int16(min(max(len(x), 1), maxVarying))}
	case time.Time:
		return shape{typ: native.SQLTimestamp, length: 8}
	case bool:
		return shape{typ: native.SQLBoolean, length: 1}
	}
	return varyingShape(cs)
}

// sqliteArg converts the decoded value of an input slot into a value
// SQLite stores.
func sqliteArg(v *native.XSQLVar, conv descriptor.Converter) (any, error) {
	val, err := conv.Decode(v)
	if err != nil {
		return nil, err
	}
	switch x := val.(type) {
	case float32:
		return float64(x), nil
	case *apd.Decimal:
		return x.Text('f'), nil
	case native.Quad:
		return int64(x), nil
	case time.Time:
		switch v.BaseType() {
		case native.SQLTypeDate:
			return x.Format("2006-01-02"), nil
		case native.SQLTypeTime:
			return x.Format("15:04:05.0000"), nil
		}
		return x.Format("2006-01-02 15:04:05.0000"), nil
	}
	return val, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"15:04:05.999999999",
	"15:04",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot read %q as a date or time", s)
}

func arith(format string, args ...any) native.StatusVector {
	return native.NewStatus(native.GDSArithExcept).Append(native.GDSRandom, fmt.Sprintf(format, args...))
}

// storeOutput writes a value read from SQLite into the output slot v,
// following the slot's described type.
func storeOutput(v *native.XSQLVar, val any, cs *codec.Charset) native.StatusVector {
	if val == nil {
		v.SQLType |= 1
		v.SQLInd = -1
		v.SQLData = nil
		return native.OK()
	}
	data, err := outputBytes(v, val, cs)
	if err != nil {
		return arith("%s for column %s", err, v.SQLName)
	}
	v.SetValue(data)
	return native.OK()
}

func outputBytes(v *native.XSQLVar, val any, cs *codec.Charset) ([]byte, error) {
	switch v.BaseType() {
	case native.SQLText, native.SQLVarying:
		b, err := textBytes(val, v.SQLSubtype&0xff == charsetOctets, cs)
		if err != nil {
			return nil, err
		}
		if len(b) > int(v.SQLLen) {
			return nil, fmt.Errorf("string of %d bytes exceeds length %d", len(b), v.SQLLen)
		}
		if v.BaseType() == native.SQLVarying {
			return native.PackVarying(b), nil
		}
		pad := byte(' ')
		if v.SQLSubtype&0xff == charsetOctets {
			pad = 0
		}
		out := make([]byte, v.SQLLen)
		copy(out, b)
		for i := len(b); i < len(out); i++ {
			out[i] = pad
		}
		return out, nil
	case native.SQLShort, native.SQLLong, native.SQLInt64:
		width := int(v.SQLLen)
		var raw int64
		if descriptor.IsFixedPoint(v) {
			d, err := decimalOf(val)
			if err != nil {
				return nil, err
			}
			if raw, err = codec.EncodeScaled(d, v.SQLScale, width); err != nil {
				return nil, err
			}
		} else {
			n, err := integerOf(val)
			if err != nil {
				return nil, err
			}
			raw = n
		}
		return codec.EncodeLE(raw, width)
	case native.SQLFloat:
		f, err := floatOf(val)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return nil, fmt.Errorf("%v overflows FLOAT", f)
		}
		return codec.EncodeFloat32(float32(f)), nil
	case native.SQLDouble, native.SQLDFloat:
		f, err := floatOf(val)
		if err != nil {
			return nil, err
		}
		return codec.EncodeFloat64(f), nil
	case native.SQLTypeDate:
		t, err := timeOf(val)
		if err != nil {
			return nil, err
		}
		day, err := codec.EncodeDate(t)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		codec.PutLE(buf, uint64(uint32(day)))
		return buf, nil
	case native.SQLTypeTime:
		t, err := timeOf(val)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		codec.PutLE(buf, uint64(codec.EncodeTime(t)))
		return buf, nil
	case native.SQLTimestamp:
		t, err := timeOf(val)
		if err != nil {
			return nil, err
		}
		return codec.EncodeTimestamp(t)
	case native.SQLBoolean:
		b, err := boolOf(val)
		if err != nil {
			return nil, err
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case native.SQLBlob, native.SQLArray, native.SQLQuad:
		n, err := integerOf(val)
		if err != nil {
			return nil, err
		}
		return native.Quad(n).Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported field type %s", native.SQLTypeName(v.SQLType))
}

func textBytes(val any, octets bool, cs *codec.Charset) ([]byte, error) {
	var s string
	switch x := val.(type) {
	case []byte:
		return x, nil
	case string:
		s = x
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		s = strings.ToUpper(strconv.FormatBool(x))
	case time.Time:
		s = x.Format("2006-01-02 15:04:05.0000")
	default:
		return nil, fmt.Errorf("cannot convert %T to text", val)
	}
	if octets || cs == nil {
		return []byte(s), nil
	}
	return cs.Encode(s)
}

func integerOf(val any) (int64, error) {
	switch x := val.(type) {
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to an integer", val)
}

func decimalOf(val any) (*apd.Decimal, error) {
	switch x := val.(type) {
	case int64:
		return apd.New(x, 0), nil
	case float64:
		d, _, err := apd.NewFromString(strconv.FormatFloat(x, 'f', -1, 64))
		return d, err
	case string:
		d, _, err := apd.NewFromString(strings.TrimSpace(x))
		return d, err
	case []byte:
		d, _, err := apd.NewFromString(strings.TrimSpace(string(x)))
		return d, err
	}
	return nil, fmt.Errorf("cannot convert %T to a decimal", val)
}

func floatOf(val any) (float64, error) {
	switch x := val.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to a float", val)
}

func timeOf(val any) (time.Time, error) {
	switch x := val.(type) {
	case time.Time:
		return x, nil
	case string:
		return parseTime(x)
	case []byte:
		return parseTime(string(x))
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to a date or time", val)
}

func boolOf(val any) (bool, error) {
	switch x := val.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	return false, fmt.Errorf("cannot convert %T to a boolean", val)
}
