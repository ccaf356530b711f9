package blob

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

// memBlobs stores blobs as lists of segments and delivers at most
// pieceLen bytes per GetSegment, reporting the rest as partial.
type memBlobs struct {
	native.API
	blobs    map[native.Quad][][]byte
	pieceLen int

	open    map[native.BlobHandle]*memCursor
	next    native.BlobHandle
	puts    []int
	closed  int
	created map[native.BlobHandle]native.Quad
}

type memCursor struct {
	id     native.Quad
	seg    int
	offset int
}

func newMemBlobs(pieceLen int) *memBlobs {
	return &memBlobs{
		blobs:    map[native.Quad][][]byte{},
		pieceLen: pieceLen,
		open:     map[native.BlobHandle]*memCursor{},
		created:  map[native.BlobHandle]native.Quad{},
	}
}

func (m *memBlobs) Interpret(c *native.StatusCursor) (string, bool) {
	_, _, ok := c.Next()
	return "blob failure", ok
}

func (m *memBlobs) SQLCode(native.StatusVector) int32 { return -901 }

func (m *memBlobs) OpenBlob(db native.DBHandle, tr native.TrHandle, id native.Quad, bpb []byte) (native.BlobHandle, native.StatusVector) {
	if _, ok := m.blobs[id]; !ok {
		return 0, native.NewStatus(native.GDSBadSegstrID)
	}
	m.next++
	m.open[m.next] = &memCursor{id: id}
	return m.next, native.OK()
}

func (m *memBlobs) BlobInfo(h native.BlobHandle, items []byte, n int) ([]byte, native.StatusVector) {
	segs := m.blobs[m.open[h].id]
	total, max := 0, 0
	for _, s := range segs {
		total += len(s)
		if len(s) > max {
			max = len(s)
		}
	}
	w := native.NewInfoWriter(n)
	for _, it := range items {
		switch it {
		case native.InfoBlobTotalLength:
			w.AddInt(it, int64(total), 4)
		case native.InfoBlobMaxSegment:
			w.AddInt(it, int64(max), 4)
		case native.InfoBlobNumSegments:
			w.AddInt(it, int64(len(segs)), 4)
		case native.InfoBlobType:
			w.AddInt(it, 0, 1)
		}
	}
	return w.Bytes(), native.OK()
}

func (m *memBlobs) GetSegment(h native.BlobHandle, n int) ([]byte, native.StatusVector) {
	c := m.open[h]
	segs := m.blobs[c.id]
	if c.seg >= len(segs) {
		return nil, native.NewStatus(native.GDSSegstrEOF)
	}
	limit := n
	if m.pieceLen > 0 && m.pieceLen < limit {
		limit = m.pieceLen
	}
	rest := segs[c.seg][c.offset:]
	if len(rest) > limit {
		c.offset += limit
		return append([]byte(nil), rest[:limit]...), native.NewStatus(native.GDSSegment)
	}
	c.seg++
	c.offset = 0
	return append([]byte(nil), rest...), native.OK()
}

func (m *memBlobs) CreateBlob(db native.DBHandle, tr native.TrHandle, bpb []byte) (native.BlobHandle, native.Quad, native.StatusVector) {
	m.next++
	id := native.Quad(len(m.blobs) + 1)
	m.blobs[id] = nil
	m.created[m.next] = id
	return m.next, id, native.OK()
}

func (m *memBlobs) PutSegment(h native.BlobHandle, data []byte) native.StatusVector {
	id := m.created[h]
	m.blobs[id] = append(m.blobs[id], append([]byte(nil), data...))
	m.puts = append(m.puts, len(data))
	return native.OK()
}

func (m *memBlobs) CloseBlob(h native.BlobHandle) native.StatusVector {
	m.closed++
	return native.OK()
}

func (m *memBlobs) CancelBlob(h native.BlobHandle) native.StatusVector {
	delete(m.blobs, m.created[h])
	return native.OK()
}

func TestReaderJoinsPartialSegments(t *testing.T) {
	api := newMemBlobs(3)
	api.blobs[1] = [][]byte{[]byte("hello "), []byte("world")}

	r, err := Open(api, 1, 1, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(11), r.Len())
	assert.Equal(t, 2, r.Info().NumSegments)

	seg, err := r.ReadSegment()
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(seg))
	seg, err = r.ReadSegment()
	require.NoError(t, err)
	assert.Equal(t, "world", string(seg))
	_, err = r.ReadSegment()
	assert.Equal(t, io.EOF, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, api.closed)
}

func TestReaderReadNShortOnlyAtEnd(t *testing.T) {
	api := newMemBlobs(2)
	api.blobs[1] = [][]byte{[]byte("abcdefg")}

	r, err := Open(api, 1, 1, 1, Options{})
	require.NoError(t, err)
	defer r.Close()

	b, err := r.ReadN(5)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(b))
	b, err = r.ReadN(5)
	require.NoError(t, err)
	assert.Equal(t, "fg", string(b))
	b, err = r.ReadN(5)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestReaderText(t *testing.T) {
	api := newMemBlobs(0)
	win, err := codec.LookupCharset("WIN1251")
	require.NoError(t, err)
	enc, err := win.Encode("Мир")
	require.NoError(t, err)
	api.blobs[1] = [][]byte{enc}

	r, err := Open(api, 1, 1, 1, Options{Charset: win})
	require.NoError(t, err)
	s, err := r.Text()
	require.NoError(t, err)
	assert.Equal(t, "Мир", s)

	require.NoError(t, r.Close())
	_, err = r.Read(make([]byte, 1))
	assert.True(t, dberr.IsInterfaceError(err))
}

func TestSeekRejectsOffsetsBeyondInt32(t *testing.T) {
	api := newMemBlobs(0)
	api.blobs[1] = [][]byte{[]byte("abc")}
	r, err := Open(api, 1, 1, 1, Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Seek(1<<31, io.SeekStart)
	assert.True(t, dberr.IsDataError(err))
	_, err = r.Seek(-1<<31-1, io.SeekEnd)
	assert.True(t, dberr.IsDataError(err))
	_, err = r.Seek(0, 7)
	assert.True(t, dberr.IsInterfaceError(err))
	assert.Equal(t, int64(0), r.Tell())
}

func TestOpenUnknownBlob(t *testing.T) {
	_, err := Open(newMemBlobs(0), 1, 1, 99, Options{})
	assert.True(t, dberr.IsOperationalError(err))
}

func TestWriterSplitsIntoSegments(t *testing.T) {
	api := newMemBlobs(0)
	id, err := Store(api, 1, 1, strings.Repeat("x", 10), 4, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2}, api.puts)
	assert.Equal(t, []byte("xxxxxxxxxx"), bytes.Join(api.blobs[id], nil))
}

type countingReader struct {
	src   io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.src.Read(p)
}

func TestWriterStreamsFromReader(t *testing.T) {
	api := newMemBlobs(0)
	src := &countingReader{src: strings.NewReader(strings.Repeat("y", 9))}
	id, err := Store(api, 1, 1, src, 4, Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, src.reads, 3)
	assert.Equal(t, []int{4, 4, 1}, api.puts)
	assert.Len(t, bytes.Join(api.blobs[id], nil), 9)
}

func TestStoreRejectsUnsupportedValue(t *testing.T) {
	_, err := Store(newMemBlobs(0), 1, 1, 42, 0, Options{})
	assert.True(t, dberr.IsInterfaceError(err))
}

func TestPolicy(t *testing.T) {
	p := Policy{Threshold: 100}.WithStream("doc")
	assert.True(t, p.Streams("DOC", 1))
	assert.False(t, p.Streams("NOTES", 100))
	assert.True(t, p.Streams("NOTES", 101))
	assert.False(t, Policy{}.Streams("NOTES", 1<<30))
}
