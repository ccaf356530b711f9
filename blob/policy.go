package blob

import "strings"

// Policy decides whether a fetched BLOB is materialized or streamed.
type Policy struct {
	// Stream names the fields, by alias, always returned as a *Reader.
	Stream map[string]bool
	// Threshold forces streaming for any BLOB longer than this many bytes.
	// Zero disables the threshold.
	Threshold int64
	// Binary returns text BLOBs as []byte instead of decoded strings.
	Binary bool
}

// WithStream returns a copy of p that also streams the named fields.
func (p Policy) WithStream(fields ...string) Policy {
	out := p
	out.Stream = make(map[string]bool, len(p.Stream)+len(fields))
	for k, v := range p.Stream {
		out.Stream[k] = v
	}
	for _, f := range fields {
		out.Stream[strings.ToUpper(f)] = true
	}
	return out
}

// Streams reports whether the field should be returned as a stream.
func (p Policy) Streams(field string, length int64) bool {
	if p.Stream[strings.ToUpper(field)] {
		return true
	}
	return p.Threshold > 0 && length > p.Threshold
}
