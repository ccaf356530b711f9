// Package blob moves BLOB values between Go and the engine.
//
// A Reader pulls segments on demand and can serve either a fully
// materialized value or a stream; a Writer pushes data in segments no larger
// than the maximum segment size, pulling progressively from an io.Reader
// source when given one. Policy decides per field whether a fetched BLOB is
// materialized or handed out as a stream.
package blob

import (
	"io"
	"log/slog"
	"math"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/infobuf"
	"github.com/tomyedwab/fbdriver/metrics"
	"github.com/tomyedwab/fbdriver/native"
)

// MaxSegmentSize is the largest segment the engine accepts.
const MaxSegmentSize = 65535

// Info is what the engine reports about an open blob.
type Info struct {
	TotalLength int64
	MaxSegment  int
	NumSegments int
	// Stream is true for stream blobs, false for segmented ones.
	Stream bool
}

var infoItems = []byte{
	native.InfoBlobTotalLength,
	native.InfoBlobMaxSegment,
	native.InfoBlobNumSegments,
	native.InfoBlobType,
}

func queryInfo(q *infobuf.Querier, api native.API, h native.BlobHandle) (Info, error) {
	reply, err := q.Query("Error while requesting blob information:", infoItems, func(n int) ([]byte, native.StatusVector) {
		return api.BlobInfo(h, infoItems, n)
	})
	if err != nil {
		return Info{}, err
	}
	var info Info
	for _, it := range reply {
		switch it.Code {
		case native.InfoBlobTotalLength:
			info.TotalLength = it.Int()
		case native.InfoBlobMaxSegment:
			info.MaxSegment = int(it.Int())
		case native.InfoBlobNumSegments:
			info.NumSegments = int(it.Int())
		case native.InfoBlobType:
			info.Stream = it.Int() == 1
		}
	}
	return info, nil
}

// Options configure readers and writers.
type Options struct {
	Querier *infobuf.Querier
	Charset *codec.Charset
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func (o *Options) defaults(api native.API) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Querier == nil {
		o.Querier = infobuf.NewQuerier(api, o.Logger)
	}
}

// Reader reads one open blob.
type Reader struct {
	api    native.API
	handle native.BlobHandle
	id     native.Quad
	info   Info
	opts   Options

	pending []byte
	pos     int64
	eof     bool
	closed  bool
}

// Open opens blob id for reading and queries its length and segment size.
func Open(api native.API, db native.DBHandle, tr native.TrHandle, id native.Quad, opts Options) (*Reader, error) {
	opts.defaults(api)
	h, sv := api.OpenBlob(db, tr, id, nil)
	if sv.Failed() {
		return nil, native.StatusError(api, sv, "Error while opening blob:")
	}
	info, err := queryInfo(opts.Querier, api, h)
	if err != nil {
		api.CloseBlob(h)
		return nil, err
	}
	return &Reader{api: api, handle: h, id: id, info: info, opts: opts}, nil
}

// ID returns the blob id.
func (r *Reader) ID() native.Quad {
	return r.id
}

// Info returns the length and segment layout reported at open.
func (r *Reader) Info() Info {
	return r.info
}

// Len returns the total length of the blob.
func (r *Reader) Len() int64 {
	return r.info.TotalLength
}

func (r *Reader) segmentLen() int {
	n := r.info.MaxSegment
	if n <= 0 || n > MaxSegmentSize {
		n = MaxSegmentSize
	}
	return n
}

// getSegment pulls one piece from the engine. partial is true when the
// piece did not complete its segment.
func (r *Reader) getSegment() (data []byte, partial bool, err error) {
	data, sv := r.api.GetSegment(r.handle, r.segmentLen())
	switch sv.Code() {
	case 0:
		return data, false, nil
	case native.GDSSegment:
		return data, true, nil
	case native.GDSSegstrEOF:
		r.eof = true
		return data, false, nil
	}
	return nil, false, native.StatusError(r.api, sv, "Error while reading blob segment:")
}

// ReadSegment returns the next whole segment, joining partially delivered
// pieces. It returns io.EOF at the end of the blob.
func (r *Reader) ReadSegment() ([]byte, error) {
	if r.closed {
		return nil, dberr.NewInterfaceError("blob reader is closed")
	}
	seg := r.pending
	r.pending = nil
	if r.eof && len(seg) == 0 {
		return nil, io.EOF
	}
	for !r.eof {
		data, partial, err := r.getSegment()
		if err != nil {
			return nil, err
		}
		seg = append(seg, data...)
		if !partial {
			break
		}
	}
	if len(seg) == 0 && r.eof {
		return nil, io.EOF
	}
	r.pos += int64(len(seg))
	r.opts.Metrics.BlobRead(len(seg))
	return seg, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, dberr.NewInterfaceError("blob reader is closed")
	}
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		data, _, err := r.getSegment()
		if err != nil {
			return 0, err
		}
		r.pending = data
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	r.pos += int64(n)
	r.opts.Metrics.BlobRead(n)
	return n, nil
}

// ReadN reads up to n bytes. It returns fewer only at the end of the blob.
func (r *Reader) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	switch err {
	case nil:
		return buf, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return buf[:got], nil
	}
	return nil, err
}

// ReadAll reads the rest of the blob.
func (r *Reader) ReadAll() ([]byte, error) {
	size := r.info.TotalLength - r.pos
	if size < 0 {
		size = 0
	}
	out := make([]byte, 0, size)
	for {
		seg, err := r.ReadSegment()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, seg...)
	}
}

// Text reads the rest of the blob and decodes it with the reader's charset.
func (r *Reader) Text() (string, error) {
	b, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	return r.opts.Charset.Decode(b)
}

// Seek repositions the reader. Only stream blobs support seeking.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, dberr.NewInterfaceError("blob reader is closed")
	}
	mode := native.SeekFromStart
	switch whence {
	case io.SeekCurrent:
		mode = native.SeekFromCurrent
		// The engine's position is past any bytes still buffered here.
		offset -= int64(len(r.pending))
	case io.SeekEnd:
		mode = native.SeekFromEnd
	case io.SeekStart:
	default:
		return 0, dberr.NewInterfaceError("invalid seek whence %d", whence)
	}
	if offset < math.MinInt32 || offset > math.MaxInt32 {
		return 0, dberr.NewDataError("blob seek offset %d is out of range", offset)
	}
	pos, sv := r.api.SeekBlob(r.handle, mode, int32(offset))
	if sv.Failed() {
		return 0, native.StatusError(r.api, sv, "Error while seeking blob:")
	}
	r.pending = nil
	r.pos = int64(pos)
	r.eof = r.pos >= r.info.TotalLength
	return r.pos, nil
}

// Tell returns the current read position.
func (r *Reader) Tell() int64 {
	return r.pos
}

// Close releases the blob handle. Closing twice is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pending = nil
	if sv := r.api.CloseBlob(r.handle); sv.Failed() {
		return native.StatusError(r.api, sv, "Error while closing blob:")
	}
	return nil
}

// Closed reports whether Close has been called.
func (r *Reader) Closed() bool {
	return r.closed
}
