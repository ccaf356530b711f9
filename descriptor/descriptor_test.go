package descriptor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

var errFailed = errors.New("describe failed")

func failFn(native.StatusVector) error { return errFailed }

// fieldsDescriber reports n fields and fills as many slots as fit.
func fieldsDescriber(n int, calls *[]int) DescribeFunc {
	return func(da *native.XSQLDA) native.StatusVector {
		*calls = append(*calls, int(da.SQLN))
		da.SQLD = int16(n)
		for i := 0; i < n && i < int(da.SQLN); i++ {
			da.Vars[i] = native.XSQLVar{SQLType: native.SQLLong | 1, SQLLen: 4, SQLName: "C"}
		}
		return native.OK()
	}
}

func TestDescribeWithoutRegrow(t *testing.T) {
	var calls []int
	da := Allocate(DefaultCapacity)
	got, err := Describe(da, Output, fieldsDescriber(3, &calls), failFn)
	require.NoError(t, err)
	assert.Same(t, da, got)
	assert.Equal(t, []int{DefaultCapacity}, calls)
}

func TestDescribeRegrowsOnce(t *testing.T) {
	var calls []int
	got, err := Describe(Allocate(2), Input, fieldsDescriber(12, &calls), failFn)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, calls)
	assert.Equal(t, int16(12), got.SQLD)
	assert.Equal(t, int16(12), got.SQLN)
}

func TestDescribeSecondMismatchIsInternalError(t *testing.T) {
	grow := 0
	describe := func(da *native.XSQLDA) native.StatusVector {
		grow++
		da.SQLD = da.SQLN + 1
		return native.OK()
	}
	_, err := Describe(Allocate(1), Output, describe, failFn)
	require.Error(t, err)
	assert.True(t, dberr.IsInternalError(err))
	assert.Equal(t, 2, grow)
}

func TestDescribeFailure(t *testing.T) {
	describe := func(*native.XSQLDA) native.StatusVector { return native.NewStatus(native.GDSDSQLError) }
	_, err := Describe(Allocate(1), Output, describe, failFn)
	assert.ErrorIs(t, err, errFailed)
}

func TestRowRestore(t *testing.T) {
	da := Allocate(1)
	da.SQLD = 1
	da.Vars[0] = native.XSQLVar{SQLType: native.SQLText | 1, SQLLen: 10, SQLName: "NAME"}
	row := NewRow(da, Input)

	conv := Converter{Charset: codec.Raw}
	require.NoError(t, conv.Encode(row.Var(0), "abc"))
	assert.Equal(t, native.SQLVarying|1, row.Var(0).SQLType)

	row.Restore()
	assert.Equal(t, native.SQLText|1, row.Var(0).SQLType)
	assert.Equal(t, int16(10), row.Var(0).SQLLen)
	assert.Nil(t, row.Var(0).SQLData)
}

func slot(t int16, scale int16, length int16) *native.XSQLVar {
	return &native.XSQLVar{SQLType: t | 1, SQLScale: scale, SQLLen: length, SQLName: "F"}
}

func TestConverterRoundTrip(t *testing.T) {
	ts := time.Date(2021, 3, 4, 5, 6, 7, 800000000, time.UTC)
	dec, _, _ := apd.NewFromString("123.45")

	tests := []struct {
		name  string
		slot  *native.XSQLVar
		in    any
		check func(t *testing.T, out any)
	}{
		{"smallint", slot(native.SQLShort, 0, 2), 42, func(t *testing.T, out any) { assert.Equal(t, int64(42), out) }},
		{"bigint", slot(native.SQLInt64, 0, 8), int64(-7), func(t *testing.T, out any) { assert.Equal(t, int64(-7), out) }},
		{"numeric", slot(native.SQLLong, -2, 4), dec, func(t *testing.T, out any) {
			assert.Equal(t, "123.45", out.(*apd.Decimal).String())
		}},
		{"float", slot(native.SQLFloat, 0, 4), 1.5, func(t *testing.T, out any) { assert.Equal(t, float32(1.5), out) }},
		{"double", slot(native.SQLDouble, 0, 8), 2.25, func(t *testing.T, out any) { assert.Equal(t, 2.25, out) }},
		{"date", slot(native.SQLTypeDate, 0, 4), ts, func(t *testing.T, out any) {
			assert.Equal(t, "2021-03-04", out.(time.Time).Format("2006-01-02"))
		}},
		{"time", slot(native.SQLTypeTime, 0, 4), "05:06:07.8", func(t *testing.T, out any) {
			assert.Equal(t, "05:06:07.8", out.(time.Time).Format("15:04:05.9"))
		}},
		{"timestamp", slot(native.SQLTimestamp, 0, 8), ts, func(t *testing.T, out any) { assert.True(t, ts.Equal(out.(time.Time))) }},
		{"boolean", slot(native.SQLBoolean, 0, 1), true, func(t *testing.T, out any) { assert.Equal(t, true, out) }},
		{"varchar", slot(native.SQLVarying, 0, 20), "hello", func(t *testing.T, out any) { assert.Equal(t, "hello", out) }},
		{"null", slot(native.SQLLong, 0, 4), nil, func(t *testing.T, out any) { assert.Nil(t, out) }},
	}

	conv := Converter{Charset: codec.Raw}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conv.Encode(tt.slot, tt.in))
			out, err := conv.Decode(tt.slot)
			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestConverterErrors(t *testing.T) {
	conv := Converter{Charset: codec.Raw}

	err := conv.Encode(slot(native.SQLShort, 0, 2), 40000)
	assert.True(t, dberr.IsDataError(err))

	err = conv.Encode(slot(native.SQLShort, -2, 2), "327.68")
	assert.True(t, dberr.IsDataError(err))
	assert.True(t, strings.HasPrefix(err.Error(), `parameter "F": data error: numeric overflow`), err.Error())
	assert.Equal(t, 1, strings.Count(err.Error(), "data error"))

	err = conv.Encode(slot(native.SQLVarying, 0, 3), "abcd")
	assert.True(t, dberr.IsDataError(err))

	err = conv.Encode(slot(native.SQLLong, 0, 4), 1.5)
	assert.True(t, dberr.IsDataError(err))

	err = conv.Encode(slot(native.SQLLong, 0, 4), struct{}{})
	assert.True(t, dberr.IsInterfaceError(err))

	_, err = conv.Decode(&native.XSQLVar{SQLType: 12345, SQLData: []byte{0}})
	assert.True(t, dberr.IsInterfaceError(err))
}

func TestColumns(t *testing.T) {
	da := Allocate(3)
	da.SQLD = 3
	da.Vars[0] = native.XSQLVar{SQLType: native.SQLInt64 | 1, SQLScale: -2, SQLSubtype: 1, SQLLen: 8, SQLName: "PRICE", RelName: "ITEMS"}
	da.Vars[1] = native.XSQLVar{SQLType: native.SQLVarying, SQLLen: 40, SQLName: "NAME", AliasName: "N"}
	da.Vars[2] = native.XSQLVar{SQLType: native.SQLText | 1, SQLSubtype: 4, SQLLen: 80, SQLName: "CODE"}

	cols := Columns(NewRow(da, Output))
	require.Len(t, cols, 3)
	assert.Equal(t, "NUMERIC", cols[0].TypeName)
	assert.Equal(t, "PRICE", cols[0].Alias)
	assert.True(t, cols[0].Nullable)
	assert.Equal(t, "VARCHAR", cols[1].TypeName)
	assert.Equal(t, "N", cols[1].Alias)
	assert.Equal(t, 40, cols[1].DisplaySize)
	assert.False(t, cols[1].Nullable)
	// UTF8 reserves four bytes per character.
	assert.Equal(t, 80, cols[2].Length)
	assert.Equal(t, 20, cols[2].DisplaySize)
}
