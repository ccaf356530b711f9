package loopback

import (
	"database/sql"
	"errors"

	"github.com/tomyedwab/fbdriver/native"
)

const (
	blobSegmented = 0
	blobStream    = 1
)

type openBlob struct {
	handle   native.BlobHandle
	part     *part
	id       int64
	kind     int
	write    bool
	segments [][]byte
	// pos is the read position in bytes from the start of the blob.
	pos int64
}

func (b *openBlob) total() int64 {
	var n int64
	for _, s := range b.segments {
		n += int64(len(s))
	}
	return n
}

func blobKind(bpb []byte) (int, native.StatusVector) {
	_, items, err := native.ParseDPB(bpb)
	if err != nil {
		return 0, native.NewStatus(native.GDSRandom, err.Error())
	}
	for _, it := range items {
		if it.Code == native.BPBType && it.Int() == int64(native.BPBTypeStream) {
			return blobStream, native.OK()
		}
	}
	return blobSegmented, native.OK()
}

func (e *Engine) register(b *openBlob) native.BlobHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	b.handle = native.BlobHandle(e.nextHandle())
	e.blobs[b.handle] = b
	return b.handle
}

func (e *Engine) forgetBlob(b *openBlob) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.blobs, b.handle)
}

// CreateBlob allocates a blob id in tr and opens it for writing. Segments
// are stored when the blob is closed.
func (e *Engine) CreateBlob(db native.DBHandle, tr native.TrHandle, bpb []byte) (native.BlobHandle, native.Quad, native.StatusVector) {
	p, sv := e.part(db, tr)
	if sv.Failed() {
		return 0, 0, sv
	}
	kind, sv := blobKind(bpb)
	if sv.Failed() {
		return 0, 0, sv
	}
	res, err := p.conn.ExecContext(ctx(), "INSERT INTO RDB$BLOBS (RDB$BLOB_TYPE) VALUES (?)", kind)
	if err != nil {
		return 0, 0, sqliteStatus(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, sqliteStatus(err)
	}
	b := &openBlob{part: p, id: id, kind: kind, write: true}
	return e.register(b), native.Quad(id), native.OK()
}

// OpenBlob opens an existing blob for reading.
func (e *Engine) OpenBlob(db native.DBHandle, tr native.TrHandle, id native.Quad, bpb []byte) (native.BlobHandle, native.StatusVector) {
	p, sv := e.part(db, tr)
	if sv.Failed() {
		return 0, sv
	}
	b := &openBlob{part: p, id: int64(id)}
	err := p.conn.GetContext(ctx(), &b.kind, "SELECT RDB$BLOB_TYPE FROM RDB$BLOBS WHERE RDB$BLOB_ID = ?", b.id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, native.NewStatus(native.GDSBadSegstrID)
	}
	if err != nil {
		return 0, sqliteStatus(err)
	}
	if err := p.conn.SelectContext(ctx(), &b.segments,
		"SELECT RDB$DATA FROM RDB$BLOB_SEGMENTS WHERE RDB$BLOB_ID = ? ORDER BY RDB$SEQ", b.id); err != nil {
		return 0, sqliteStatus(err)
	}
	p.att.stats.reads.Add(1)
	return e.register(b), native.OK()
}

// GetSegment returns up to bufLen bytes of the current segment. A segment
// longer than bufLen is delivered in pieces flagged with GDSSegment; past
// the end GDSSegstrEOF is reported.
func (e *Engine) GetSegment(blob native.BlobHandle, bufLen int) ([]byte, native.StatusVector) {
	b, sv := e.blob(blob)
	if sv.Failed() {
		return nil, sv
	}
	if b.write {
		return nil, native.NewStatus(native.GDSBadSegstrHandle)
	}
	if bufLen <= 0 {
		return nil, native.NewStatus(native.GDSRandom, "segment buffer is empty")
	}
	start := int64(0)
	for i, seg := range b.segments {
		end := start + int64(len(seg))
		if b.pos >= end {
			start = end
			continue
		}
		off := b.pos - start
		if b.kind == blobStream {
			// Stream blobs ignore segment boundaries.
			out := make([]byte, 0, bufLen)
			for j := i; j < len(b.segments) && len(out) < bufLen; j++ {
				piece := b.segments[j][off:]
				off = 0
				out = append(out, piece[:min(len(piece), bufLen-len(out))]...)
			}
			b.pos += int64(len(out))
			return out, native.OK()
		}
		rest := seg[off:]
		if len(rest) > bufLen {
			b.pos += int64(bufLen)
			return append([]byte(nil), rest[:bufLen]...), native.NewStatus(native.GDSSegment)
		}
		b.pos = end
		return append([]byte(nil), rest...), native.OK()
	}
	return nil, native.NewStatus(native.GDSSegstrEOF)
}

// PutSegment appends a segment to a blob opened for writing.
func (e *Engine) PutSegment(blob native.BlobHandle, data []byte) native.StatusVector {
	b, sv := e.blob(blob)
	if sv.Failed() {
		return sv
	}
	if !b.write {
		return native.NewStatus(native.GDSBadSegstrHandle)
	}
	b.segments = append(b.segments, append([]byte(nil), data...))
	return native.OK()
}

// BlobInfo answers blob info requests.
func (e *Engine) BlobInfo(blob native.BlobHandle, items []byte, bufLen int) ([]byte, native.StatusVector) {
	b, sv := e.blob(blob)
	if sv.Failed() {
		return nil, sv
	}
	w := native.NewInfoWriter(bufLen)
	for _, code := range items {
		if code == native.InfoEnd {
			break
		}
		switch code {
		case native.InfoBlobTotalLength:
			w.AddInt(code, b.total(), 4)
		case native.InfoBlobMaxSegment:
			longest := 0
			for _, s := range b.segments {
				longest = max(longest, len(s))
			}
			w.AddInt(code, int64(longest), 4)
		case native.InfoBlobNumSegments:
			w.AddInt(code, int64(len(b.segments)), 4)
		case native.InfoBlobType:
			w.AddInt(code, int64(b.kind), 1)
		default:
			w.Add(native.InfoError, []byte{code})
		}
	}
	return w.Bytes(), native.OK()
}

// SeekBlob moves the read position and returns the new position.
func (e *Engine) SeekBlob(blob native.BlobHandle, mode int, offset int32) (int32, native.StatusVector) {
	b, sv := e.blob(blob)
	if sv.Failed() {
		return 0, sv
	}
	total := b.total()
	var pos int64
	switch mode {
	case native.SeekFromStart:
		pos = int64(offset)
	case native.SeekFromCurrent:
		pos = b.pos + int64(offset)
	case native.SeekFromEnd:
		pos = total + int64(offset)
	default:
		return 0, native.NewStatus(native.GDSRandom, "invalid seek mode")
	}
	b.pos = min(max(pos, 0), total)
	return int32(b.pos), native.OK()
}

// CloseBlob closes a blob. A blob opened for writing is stored.
func (e *Engine) CloseBlob(blob native.BlobHandle) native.StatusVector {
	b, sv := e.blob(blob)
	if sv.Failed() {
		return sv
	}
	e.forgetBlob(b)
	if !b.write {
		return native.OK()
	}
	for seq, seg := range b.segments {
		if _, err := b.part.conn.ExecContext(ctx(),
			"INSERT INTO RDB$BLOB_SEGMENTS (RDB$BLOB_ID, RDB$SEQ, RDB$DATA) VALUES (?, ?, ?)", b.id, seq, seg); err != nil {
			return sqliteStatus(err)
		}
	}
	b.part.att.stats.writes.Add(int64(len(b.segments)))
	return native.OK()
}

// CancelBlob discards a blob opened for writing.
func (e *Engine) CancelBlob(blob native.BlobHandle) native.StatusVector {
	b, sv := e.blob(blob)
	if sv.Failed() {
		return sv
	}
	e.forgetBlob(b)
	if !b.write {
		return native.OK()
	}
	if _, err := b.part.conn.ExecContext(ctx(), "DELETE FROM RDB$BLOBS WHERE RDB$BLOB_ID = ?", b.id); err != nil {
		return sqliteStatus(err)
	}
	return native.OK()
}
