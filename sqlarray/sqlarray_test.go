package sqlarray

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

type memArrays struct {
	native.API
	descs  map[string]native.ArrayDesc
	slices map[native.Quad][]byte
}

func newMemArrays() *memArrays {
	return &memArrays{descs: map[string]native.ArrayDesc{}, slices: map[native.Quad][]byte{}}
}

func (m *memArrays) Interpret(c *native.StatusCursor) (string, bool) {
	_, _, ok := c.Next()
	return "array failure", ok
}

func (m *memArrays) SQLCode(native.StatusVector) int32 { return -901 }

func (m *memArrays) ArrayLookupBounds(db native.DBHandle, tr native.TrHandle, relation, field string) (native.ArrayDesc, native.StatusVector) {
	d, ok := m.descs[relation+"."+field]
	if !ok {
		return native.ArrayDesc{}, native.NewStatus(native.GDSDSQLFieldErr, field)
	}
	return d, native.OK()
}

func (m *memArrays) ArrayGetSlice(db native.DBHandle, tr native.TrHandle, id native.Quad, desc *native.ArrayDesc, n int) ([]byte, native.StatusVector) {
	return m.slices[id], native.OK()
}

func (m *memArrays) ArrayPutSlice(db native.DBHandle, tr native.TrHandle, id *native.Quad, desc *native.ArrayDesc, data []byte) native.StatusVector {
	if *id == 0 {
		*id = native.Quad(len(m.slices) + 1)
	}
	m.slices[*id] = append([]byte(nil), data...)
	return native.OK()
}

func newChannel(api native.API) *Channel {
	return &Channel{API: api, DB: 1, TR: 1, Charset: codec.Raw}
}

func TestTwoDimensionalIntegerRoundTrip(t *testing.T) {
	api := newMemArrays()
	api.descs["T.GRID"] = native.ArrayDesc{
		Dtype: native.BLRLong, Length: 4, RelationName: "T", FieldName: "GRID",
		Bounds: []native.ArrayBound{{Lower: 1, Upper: 2}, {Lower: 0, Upper: 2}},
	}
	ch := newChannel(api)

	id, err := ch.Put("T", "GRID", [][]int{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Len(t, api.slices[id], 24)
	assert.Equal(t, []byte{1, 0, 0, 0}, api.slices[id][:4])

	got, err := ch.Get("T", "GRID", id)
	require.NoError(t, err)
	assert.Equal(t, []any{
		[]any{int64(1), int64(2), int64(3)},
		[]any{int64(4), int64(5), int64(6)},
	}, got)
}

func TestScaledAndTextElements(t *testing.T) {
	api := newMemArrays()
	api.descs["T.PRICES"] = native.ArrayDesc{
		Dtype: native.BLRInt64, Scale: -2, Length: 8, Bounds: []native.ArrayBound{{Lower: 1, Upper: 2}},
	}
	api.descs["T.TAGS"] = native.ArrayDesc{
		Dtype: native.BLRVarying, Length: 5, Bounds: []native.ArrayBound{{Lower: 1, Upper: 2}},
	}
	ch := newChannel(api)

	id, err := ch.Put("T", "PRICES", []any{1.25, apd.New(-3, 0)})
	require.NoError(t, err)
	got, err := ch.Get("T", "PRICES", id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.25", got[0].(*apd.Decimal).String())
	assert.Equal(t, "-3.00", got[1].(*apd.Decimal).String())

	id, err = ch.Put("T", "TAGS", []string{"a", "bcd"})
	require.NoError(t, err)
	got, err = ch.Get("T", "TAGS", id)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "bcd"}, got)
}

func TestDateElements(t *testing.T) {
	api := newMemArrays()
	api.descs["T.DAYS"] = native.ArrayDesc{Dtype: native.BLRSQLDate, Length: 4, Bounds: []native.ArrayBound{{Lower: 1, Upper: 1}}}
	ch := newChannel(api)

	day := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	id, err := ch.Put("T", "DAYS", []time.Time{day})
	require.NoError(t, err)
	got, err := ch.Get("T", "DAYS", id)
	require.NoError(t, err)
	assert.True(t, day.Equal(got[0].(time.Time)))
}

func TestPutRejectsMismatches(t *testing.T) {
	api := newMemArrays()
	api.descs["T.GRID"] = native.ArrayDesc{
		Dtype: native.BLRShort, Length: 2,
		Bounds: []native.ArrayBound{{Lower: 1, Upper: 2}, {Lower: 1, Upper: 2}},
	}
	api.descs["T.NAMES"] = native.ArrayDesc{Dtype: native.BLRText, Length: 3, Bounds: []native.ArrayBound{{Lower: 1, Upper: 1}}}
	ch := newChannel(api)

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"too few rows", "GRID", [][]int{{1, 2}}},
		{"ragged row", "GRID", [][]int{{1, 2}, {3}}},
		{"flat instead of nested", "GRID", []int{1, 2, 3, 4}},
		{"wrong leaf type", "GRID", [][]any{{1, "2"}, {3, 4}}},
		{"fraction in integer array", "GRID", [][]any{{1, 2.5}, {3, 4}}},
		{"overflow", "GRID", [][]int{{1, 2}, {3, 70000}}},
		{"nil leaf", "GRID", [][]any{{1, nil}, {3, 4}}},
		{"string too long", "NAMES", []string{"abcd"}},
		{"bytes are not a sequence", "NAMES", []byte("abc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ch.Put("T", tt.field, tt.value)
			require.Error(t, err)
			assert.True(t, dberr.IsDataError(err), err.Error())
		})
	}
	assert.Empty(t, api.slices, "nothing may be written when validation fails")
}

func TestUnknownField(t *testing.T) {
	_, err := newChannel(newMemArrays()).Get("T", "NOPE", 1)
	assert.True(t, dberr.IsOperationalError(err))
}
