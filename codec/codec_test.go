package codec

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/dberr"
)

var widths = []int{1, 2, 4, 8}

func clampSigned(n int64, width int) int64 {
	min, max := SignedRange(width)
	if n < min || n > max {
		return n % (max + 1)
	}
	return n
}

func TestIntegerRoundTripProperties(t *testing.T) {
	for _, w := range widths {
		w := w
		signedLE := func(n int64) bool {
			n = clampSigned(n, w)
			b, err := EncodeLE(n, w)
			return err == nil && DecodeLE(b) == n
		}
		signedBE := func(n int64) bool {
			n = clampSigned(n, w)
			b, err := EncodeBE(n, w)
			return err == nil && DecodeBE(b) == n
		}
		unsignedLE := func(n uint64) bool {
			n &= UnsignedMax(w)
			b, err := EncodeULE(n, w)
			return err == nil && DecodeULE(b) == n
		}
		unsignedBE := func(n uint64) bool {
			n &= UnsignedMax(w)
			b, err := EncodeUBE(n, w)
			return err == nil && DecodeUBE(b) == n
		}
		require.NoError(t, quick.Check(signedLE, nil), "signed LE width %d", w)
		require.NoError(t, quick.Check(signedBE, nil), "signed BE width %d", w)
		require.NoError(t, quick.Check(unsignedLE, nil), "unsigned LE width %d", w)
		require.NoError(t, quick.Check(unsignedBE, nil), "unsigned BE width %d", w)
	}
}

func TestIntegerByteOrder(t *testing.T) {
	le, err := EncodeLE(0x0102, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01}, le)

	be, err := EncodeBE(0x0102, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0x01, 0x02}, be)

	assert.Equal(t, int64(-1), DecodeLE([]byte{0xff, 0xff}))
	assert.Equal(t, int64(-2), DecodeBE([]byte{0xff, 0xfe}))
}

func TestIntegerOverflow(t *testing.T) {
	_, err := EncodeLE(128, 1)
	assert.True(t, dberr.IsDataError(err))

	_, err = EncodeLE(-32769, 2)
	assert.True(t, dberr.IsDataError(err))

	_, err = EncodeULE(256, 1)
	assert.True(t, dberr.IsDataError(err))

	_, err = EncodeLE(1, 3)
	assert.True(t, dberr.IsInterfaceError(err))
}

func TestFloatRoundTrip(t *testing.T) {
	f32 := func(f float32) bool { return DecodeFloat32(EncodeFloat32(f)) == f }
	f64 := func(f float64) bool { return DecodeFloat64(EncodeFloat64(f)) == f }
	require.NoError(t, quick.Check(f32, nil))
	require.NoError(t, quick.Check(f64, nil))
}

func TestDateEpochAndKnownValues(t *testing.T) {
	tests := []struct {
		date time.Time
		days int32
	}{
		{time.Date(1858, 11, 17, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(1858, 11, 18, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 40587},
		{time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC), 51603},
	}
	for _, tt := range tests {
		t.Run(tt.date.Format("2006-01-02"), func(t *testing.T) {
			n, err := EncodeDate(tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.days, n)
			assert.True(t, DecodeDate(n, nil).Equal(tt.date))
		})
	}
}

func TestDateRoundTripProperty(t *testing.T) {
	span := int64(MaxDate.Sub(MinDate).Hours() / 24)
	prop := func(offset uint32) bool {
		d := MinDate.AddDate(0, 0, int(int64(offset)%span))
		n, err := EncodeDate(d)
		if err != nil {
			return false
		}
		return DecodeDate(n, nil).Equal(d)
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 2000}))
}

func TestDateOutOfRange(t *testing.T) {
	_, err := EncodeDate(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, dberr.IsDataError(err))
}

func TestTimeRoundTrip(t *testing.T) {
	prop := func(ticks uint32) bool {
		ticks %= ticksPerDay
		tm, err := DecodeTime(ticks, nil)
		return err == nil && EncodeTime(tm) == ticks
	}
	require.NoError(t, quick.Check(prop, nil))

	tm := time.Date(2024, 5, 6, 13, 14, 15, 123456789, time.UTC)
	assert.Equal(t, uint32(((13*60+14)*60+15)*10000+1234), EncodeTime(tm))

	_, err := DecodeTime(ticksPerDay, nil)
	assert.True(t, dberr.IsDataError(err))
}

func TestTimestampLayout(t *testing.T) {
	ts := time.Date(1858, 11, 18, 0, 0, 1, 0, time.UTC)
	b, err := EncodeTimestamp(ts)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 0x10, 0x27, 0, 0}, b)

	back, err := DecodeTimestamp(b, nil)
	require.NoError(t, err)
	assert.True(t, back.Equal(ts))
}

func TestScaledRoundTripProperty(t *testing.T) {
	prop := func(raw int32, s uint8) bool {
		scale := -int16(s % 9)
		d := DecodeScaled(int64(raw), scale)
		back, err := EncodeScaled(d, scale, 4)
		return err == nil && back == int64(raw)
	}
	require.NoError(t, quick.Check(prop, nil))
}

func TestEncodeScaled(t *testing.T) {
	tests := []struct {
		name  string
		value string
		scale int16
		width int
		want  int64
	}{
		{"exact", "12.34", -2, 4, 1234},
		{"pads", "12", -2, 4, 1200},
		{"rounds half up", "1.005", -2, 4, 101},
		{"rounds negative away from zero", "-1.005", -2, 4, -101},
		{"max smallint", "327.67", -2, 2, 32767},
		{"bigint", "92233720368547758.07", -2, 8, 9223372036854775807},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, err := apd.NewFromString(tt.value)
			require.NoError(t, err)
			got, err := EncodeScaled(d, tt.scale, tt.width)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeScaledOverflow(t *testing.T) {
	for _, v := range []string{"327.68", "-327.69", "1e10"} {
		d, _, err := apd.NewFromString(v)
		require.NoError(t, err)
		_, err = EncodeScaled(d, -2, 2)
		assert.True(t, dberr.IsDataError(err), v)
		assert.Contains(t, err.Error(), "overflow")
	}
}

func TestDecimalFromValue(t *testing.T) {
	d, err := DecimalFromValue(42)
	require.NoError(t, err)
	assert.Equal(t, "42", d.String())

	d, err = DecimalFromValue("3.14159")
	require.NoError(t, err)
	raw, err := EncodeScaled(d, -4, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(31416), raw)

	d, err = DecimalFromValue(uint64(18446744073709551615))
	require.NoError(t, err)
	_, err = EncodeScaled(d, 0, 8)
	assert.True(t, dberr.IsDataError(err))

	_, err = DecimalFromValue(struct{}{})
	assert.True(t, dberr.IsDataError(err))
}

func TestCharsets(t *testing.T) {
	cs, err := LookupCharset("win1251")
	require.NoError(t, err)
	assert.Equal(t, int16(52), cs.ID)

	b, err := cs.Encode("Привет")
	require.NoError(t, err)
	assert.Len(t, b, 6)
	s, err := cs.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "Привет", s)

	utf, ok := CharsetByID(4)
	require.True(t, ok)
	assert.Equal(t, 4, utf.BytesPerChar)
	_, err = utf.Decode([]byte{0xff, 0xfe})
	assert.True(t, dberr.IsDataError(err))

	ascii, err := LookupCharset("ascii")
	require.NoError(t, err)
	_, err = ascii.Encode("é")
	assert.True(t, dberr.IsDataError(err))

	none, err := LookupCharset("")
	require.NoError(t, err)
	assert.Same(t, Raw, none)

	_, err = LookupCharset("KLINGON")
	assert.True(t, dberr.IsInterfaceError(err))
}
