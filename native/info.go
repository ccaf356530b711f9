package native

import (
	"encoding/binary"

	"github.com/tomyedwab/fbdriver/dberr"
)

// InfoItem is one code/data cluster of an info reply.
type InfoItem struct {
	Code byte
	Data []byte
}

// Int decodes the cluster data as a little-endian signed integer.
func (i InfoItem) Int() int64 {
	var v uint64
	for j := len(i.Data) - 1; j >= 0; j-- {
		v = v<<8 | uint64(i.Data[j])
	}
	switch len(i.Data) {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return int64(v)
}

// ParseInfo splits an info reply into clusters. It stops at InfoEnd and
// reports whether the engine marked the reply truncated.
func ParseInfo(buf []byte) (items []InfoItem, truncated bool, err error) {
	for pos := 0; pos < len(buf); {
		code := buf[pos]
		pos++
		switch code {
		case InfoEnd:
			return items, false, nil
		case InfoTruncated:
			return items, true, nil
		}
		if pos+2 > len(buf) {
			return nil, false, dberr.NewInternalError("info cluster %d has no length", code)
		}
		n := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2
		if pos+n > len(buf) {
			return nil, false, dberr.NewInternalError("info cluster %d overruns the reply", code)
		}
		items = append(items, InfoItem{Code: code, Data: buf[pos : pos+n]})
		pos += n
	}
	return items, false, nil
}

// InfoWriter renders an info reply that fits a caller-supplied buffer length.
// Once a cluster does not fit the reply is marked truncated and later
// clusters are dropped.
type InfoWriter struct {
	buf       []byte
	limit     int
	truncated bool
}

// NewInfoWriter starts a reply that must fit in limit bytes.
func NewInfoWriter(limit int) *InfoWriter {
	return &InfoWriter{limit: limit}
}

// Add appends a cluster.
func (w *InfoWriter) Add(code byte, data []byte) {
	if w.truncated {
		return
	}
	// Room must remain for the terminating byte.
	if len(w.buf)+3+len(data)+1 > w.limit {
		w.truncated = true
		return
	}
	w.buf = append(w.buf, code, byte(len(data)), byte(len(data)>>8))
	w.buf = append(w.buf, data...)
}

// AddInt appends an integer cluster of width bytes, little-endian.
func (w *InfoWriter) AddInt(code byte, v int64, width int) {
	b := make([]byte, width)
	for i := range b {
		b[i] = byte(uint64(v) >> (8 * uint(i)))
	}
	w.Add(code, b)
}

// Truncated reports whether a cluster was dropped.
func (w *InfoWriter) Truncated() bool {
	return w.truncated
}

// Bytes terminates and returns the reply.
func (w *InfoWriter) Bytes() []byte {
	out := append([]byte(nil), w.buf...)
	if w.truncated {
		return append(out, InfoTruncated)
	}
	return append(out, InfoEnd)
}
