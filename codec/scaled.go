package codec

import (
	"fmt"
	"math"
	"math/big"

	"github.com/cockroachdb/apd/v3"

	"github.com/tomyedwab/fbdriver/dberr"
)

// decimalContext rounds half away from zero when a bound value carries more
// fractional digits than the field's scale.
var decimalContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(60)
	c.Rounding = apd.RoundHalfUp
	return c
}()

func absScale(scale int16) int32 {
	if scale < 0 {
		return -int32(scale)
	}
	return int32(scale)
}

// DecodeScaled turns the raw integer of a fixed-point field into its decimal
// value by dividing by 10^|scale|.
func DecodeScaled(raw int64, scale int16) *apd.Decimal {
	return apd.New(raw, -absScale(scale))
}

// EncodeScaled multiplies v by 10^|scale|, rounds to an integer and checks the
// result against the signed range of a width-byte field.
func EncodeScaled(v *apd.Decimal, scale int16, width int) (int64, error) {
	if v.Form != apd.Finite {
		return 0, dberr.NewDataError("cannot store %s in a fixed-point field", v.String())
	}
	var shifted apd.Decimal
	shifted.Set(v)
	shifted.Exponent += absScale(scale)

	var integral apd.Decimal
	if _, err := decimalContext.RoundToIntegralValue(&integral, &shifted); err != nil {
		return 0, dberr.NewDataErrorWithCause(err, "cannot scale %s", v.String())
	}
	min, max := SignedRange(width)
	raw, err := integral.Int64()
	if err != nil || raw < min || raw > max {
		return 0, dberr.NewDataError(
			"numeric overflow: %s does not fit a %d-byte field with scale %d (raw range %d..%d)",
			v.String(), width, -absScale(scale), min, max)
	}
	return raw, nil
}

// DecimalFromValue converts a bound Go value to a decimal.
func DecimalFromValue(v any) (*apd.Decimal, error) {
	switch x := v.(type) {
	case *apd.Decimal:
		return x, nil
	case apd.Decimal:
		return &x, nil
	case int:
		return apd.New(int64(x), 0), nil
	case int8:
		return apd.New(int64(x), 0), nil
	case int16:
		return apd.New(int64(x), 0), nil
	case int32:
		return apd.New(int64(x), 0), nil
	case int64:
		return apd.New(x, 0), nil
	case uint8:
		return apd.New(int64(x), 0), nil
	case uint16:
		return apd.New(int64(x), 0), nil
	case uint32:
		return apd.New(int64(x), 0), nil
	case uint:
		return decimalFromUint(uint64(x)), nil
	case uint64:
		return decimalFromUint(x), nil
	case float32:
		return decimalFromFloat(float64(x))
	case float64:
		return decimalFromFloat(x)
	case *big.Int:
		return apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(x), 0), nil
	case string:
		d, _, err := apd.NewFromString(x)
		if err != nil {
			return nil, dberr.NewDataErrorWithCause(err, "cannot parse %q as a decimal", x)
		}
		return d, nil
	case fmt.Stringer:
		return DecimalFromValue(x.String())
	}
	return nil, dberr.NewDataError("cannot convert %T to a fixed-point value", v)
}

func decimalFromUint(x uint64) *apd.Decimal {
	var b apd.BigInt
	b.SetUint64(x)
	return apd.NewWithBigInt(&b, 0)
}

func decimalFromFloat(f float64) (*apd.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, dberr.NewDataError("cannot store %v in a fixed-point field", f)
	}
	d, err := new(apd.Decimal).SetFloat64(f)
	if err != nil {
		return nil, dberr.NewDataErrorWithCause(err, "cannot convert %v to a decimal", f)
	}
	return d, nil
}

// DecimalFromFloat converts a float fetched from the engine into a decimal
// quantized to scale. Used when a fixed-point value was stored as a double.
func DecimalFromFloat(f float64, scale int16) (*apd.Decimal, error) {
	d, err := decimalFromFloat(f)
	if err != nil {
		return nil, err
	}
	var q apd.Decimal
	if _, err := decimalContext.Quantize(&q, d, -absScale(scale)); err != nil {
		return nil, dberr.NewDataErrorWithCause(err, "cannot quantize %v", f)
	}
	return &q, nil
}
