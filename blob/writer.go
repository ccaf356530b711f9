package blob

import (
	"errors"
	"fmt"
	"io"

	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

// Writer creates a blob and writes it segment by segment.
type Writer struct {
	api        native.API
	handle     native.BlobHandle
	id         native.Quad
	maxSegment int
	written    int64
	opts       Options
	done       bool
}

// Create opens a new blob for writing. maxSegment bounds the size of every
// segment written; values outside 1..MaxSegmentSize use MaxSegmentSize.
func Create(api native.API, db native.DBHandle, tr native.TrHandle, maxSegment int, opts Options) (*Writer, error) {
	opts.defaults(api)
	h, id, sv := api.CreateBlob(db, tr, nil)
	if sv.Failed() {
		return nil, native.StatusError(api, sv, "Error while creating blob:")
	}
	if maxSegment <= 0 || maxSegment > MaxSegmentSize {
		maxSegment = MaxSegmentSize
	}
	return &Writer{api: api, handle: h, id: id, maxSegment: maxSegment, opts: opts}, nil
}

// ID returns the id of the blob being written.
func (w *Writer) ID() native.Quad {
	return w.id
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Write implements io.Writer, splitting p into segments.
func (w *Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, dberr.NewInterfaceError("blob writer is closed")
	}
	n := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > w.maxSegment {
			chunk = chunk[:w.maxSegment]
		}
		if sv := w.api.PutSegment(w.handle, chunk); sv.Failed() {
			return n, native.StatusError(w.api, sv, "Error while writing blob segment:")
		}
		n += len(chunk)
		w.written += int64(len(chunk))
		w.opts.Metrics.BlobWritten(len(chunk))
		p = p[len(chunk):]
	}
	return n, nil
}

// ReadFrom implements io.ReaderFrom, pulling src one segment at a time so
// the whole value is never held in memory.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) {
	buf := make([]byte, w.maxSegment)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("reading blob source: %w", err)
		}
	}
}

// Close finishes the blob. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if sv := w.api.CloseBlob(w.handle); sv.Failed() {
		return native.StatusError(w.api, sv, "Error while closing blob:")
	}
	return nil
}

// Cancel discards the blob being written.
func (w *Writer) Cancel() error {
	if w.done {
		return nil
	}
	w.done = true
	if sv := w.api.CancelBlob(w.handle); sv.Failed() {
		return native.StatusError(w.api, sv, "Error while canceling blob:")
	}
	return nil
}

// Store writes value as a new blob and returns its id. Strings are encoded
// with the writer's charset, byte slices are written as is and io.Readers
// are streamed.
func Store(api native.API, db native.DBHandle, tr native.TrHandle, value any, maxSegment int, opts Options) (native.Quad, error) {
	opts.defaults(api)
	var data []byte
	var src io.Reader
	switch v := value.(type) {
	case string:
		b, err := opts.Charset.Encode(v)
		if err != nil {
			return 0, err
		}
		data = b
	case []byte:
		data = v
	case io.Reader:
		src = v
	case *Reader:
		src = v
	default:
		return 0, dberr.NewInterfaceError("cannot store %T as a blob", value)
	}

	w, err := Create(api, db, tr, maxSegment, opts)
	if err != nil {
		return 0, err
	}
	if src != nil {
		_, err = w.ReadFrom(src)
	} else {
		_, err = w.Write(data)
	}
	if err != nil {
		if cerr := w.Cancel(); cerr != nil {
			opts.Logger.Warn("Failed to cancel blob after write error", "error", cerr)
		}
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.ID(), nil
}
