package infobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

type noopAPI struct {
	native.API
}

func (noopAPI) Interpret(c *native.StatusCursor) (string, bool) {
	code, _, ok := c.Next()
	if !ok {
		return "", false
	}
	if code == native.GDSBadDBHandle {
		return "invalid database handle (no active connection)", true
	}
	return "unknown", true
}

func (noopAPI) SQLCode(native.StatusVector) int32 { return -901 }

func truncatedReply() []byte {
	return []byte{native.InfoTruncated}
}

func pageSizeReply(n int) []byte {
	w := native.NewInfoWriter(n)
	w.AddInt(native.InfoPageSize, 8192, 4)
	return w.Bytes()
}

func TestGrowthLoopDoublesUntilReplyFits(t *testing.T) {
	q := NewQuerier(noopAPI{}, nil)
	q.Max = 4096

	var tried []int
	probe := func(n int) ([]byte, native.StatusVector) {
		tried = append(tried, n)
		if n < 1024 {
			return truncatedReply(), native.OK()
		}
		return pageSizeReply(n), native.OK()
	}

	reply, err := q.Query("page size", []byte{native.InfoPageSize}, probe)
	require.NoError(t, err)
	assert.Equal(t, []int{256, 512, 1024}, tried)
	require.Len(t, reply, 1)
	assert.Equal(t, int64(8192), reply[0].Int())
}

func TestGrowthLoopStopsAtMaximum(t *testing.T) {
	q := NewQuerier(noopAPI{}, nil)
	q.Max = 600

	var tried []int
	_, err := q.Grow("page size", func(n int) ([]byte, native.StatusVector) {
		tried = append(tried, n)
		return truncatedReply(), native.OK()
	})
	require.Error(t, err)
	assert.True(t, dberr.IsInternalError(err))
	assert.Equal(t, []int{256, 512, 600}, tried)
}

func TestGrowthLoopReportsNativeFailure(t *testing.T) {
	q := NewQuerier(noopAPI{}, nil)
	_, err := q.Grow("Error while requesting database information:", func(int) ([]byte, native.StatusVector) {
		return nil, native.NewStatus(native.GDSBadDBHandle)
	})
	require.Error(t, err)
	assert.True(t, dberr.IsOperationalError(err))
	assert.Contains(t, err.Error(), "invalid database handle")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		request []byte
		reply   []native.InfoItem
		check   func(error) bool
	}{
		{
			name:    "echoed",
			request: []byte{native.InfoPageSize},
			reply:   []native.InfoItem{{Code: native.InfoPageSize}},
			check:   func(err error) bool { return err == nil },
		},
		{
			name:    "unexpected code",
			request: []byte{native.InfoPageSize},
			reply:   []native.InfoItem{{Code: native.InfoNumBuffers}},
			check:   dberr.IsInternalError,
		},
		{
			name:    "missing code",
			request: []byte{native.InfoPageSize},
			check:   dberr.IsInternalError,
		},
		{
			name:    "no active transactions answers with end only",
			request: []byte{native.InfoActiveTransactions},
			check:   func(err error) bool { return err == nil },
		},
		{
			name:    "unsupported item",
			request: []byte{200},
			reply:   []native.InfoItem{{Code: native.InfoError}},
			check:   dberr.IsInterfaceError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(Validate(tt.request, tt.reply)))
		})
	}
}

func TestSingleSilentCode(t *testing.T) {
	q := NewQuerier(noopAPI{}, nil)
	_, ok, err := q.Single("active transactions", native.InfoActiveTransactions, func(items []byte, n int) ([]byte, native.StatusVector) {
		return []byte{native.InfoEnd}, native.OK()
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubItems(t *testing.T) {
	inner := native.NewInfoWriter(64)
	inner.AddInt(native.InfoReqInsertCount, 3, 4)
	inner.AddInt(native.InfoReqSelectCount, 0, 4)
	counts, err := SubItems(native.InfoItem{Code: native.InfoSQLRecords, Data: inner.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[native.InfoReqInsertCount])
	assert.Equal(t, int64(0), counts[native.InfoReqSelectCount])
}
