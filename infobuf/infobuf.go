// Package infobuf implements the request-code plus growable-result-buffer
// protocol shared by the database, transaction, statement and blob info calls.
//
// A reply that does not fit the offered buffer comes back marked truncated.
// The caller doubles the buffer, up to a hard maximum, and asks again; a
// reply still truncated at the maximum is a protocol violation.
package infobuf

import (
	"fmt"
	"log/slog"

	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

const (
	// DefaultInitial is the first buffer size offered to the engine.
	DefaultInitial = 256
	// DefaultMax is the largest buffer the engine can fill.
	DefaultMax = 65535
)

// Probe issues one info call with a result buffer of bufLen bytes.
type Probe func(bufLen int) ([]byte, native.StatusVector)

// Querier runs the growth loop against one native API.
type Querier struct {
	API     native.API
	Initial int
	Max     int
	Logger  *slog.Logger
	// OnRegrow, when set, is called each time a reply is retried with a
	// larger buffer.
	OnRegrow func()
}

// NewQuerier creates a querier with default buffer sizes.
func NewQuerier(api native.API, logger *slog.Logger) *Querier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Querier{
		API:     api,
		Initial: DefaultInitial,
		Max:     DefaultMax,
		Logger:  logger.With("component", "infobuf"),
	}
}

// silentCodes may legitimately be answered with an empty reply instead of
// echoing the request code. An attachment with no active transactions
// answers InfoActiveTransactions with InfoEnd alone.
var silentCodes = map[byte]bool{
	native.InfoActiveTransactions: true,
}

// Grow returns the raw reply, doubling the buffer while the engine reports
// truncation.
func (q *Querier) Grow(preamble string, probe Probe) ([]byte, error) {
	size, limit := q.Initial, q.Max
	if size <= 0 {
		size = DefaultInitial
	}
	if limit <= 0 {
		limit = DefaultMax
	}
	if size > limit {
		size = limit
	}
	for {
		buf, sv := probe(size)
		if sv.Failed() {
			return nil, native.StatusError(q.API, sv, preamble)
		}
		_, truncated, err := native.ParseInfo(buf)
		if err != nil {
			return nil, err
		}
		if !truncated {
			return buf, nil
		}
		if size >= limit {
			return nil, dberr.NewInternalError("%s result does not fit in the maximum buffer size of %d bytes", preamble, limit)
		}
		next := size * 2
		if next > limit {
			next = limit
		}
		if q.Logger != nil {
			q.Logger.Debug("Info reply truncated, growing buffer", "from", size, "to", next)
		}
		if q.OnRegrow != nil {
			q.OnRegrow()
		}
		size = next
	}
}

// Query runs the growth loop and returns the parsed clusters after checking
// that every cluster answers one of the requested codes.
func (q *Querier) Query(preamble string, items []byte, probe Probe) ([]native.InfoItem, error) {
	buf, err := q.Grow(preamble, probe)
	if err != nil {
		return nil, err
	}
	reply, _, err := native.ParseInfo(buf)
	if err != nil {
		return nil, err
	}
	if err := Validate(items, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Validate checks that a reply echoes the requested codes.
func Validate(request []byte, reply []native.InfoItem) error {
	requested := make(map[byte]bool, len(request))
	for _, c := range request {
		requested[c] = true
	}
	answered := make(map[byte]bool, len(reply))
	for _, it := range reply {
		if it.Code == native.InfoError {
			return dberr.NewInterfaceError("the engine does not support info request %v", request)
		}
		if !requested[it.Code] {
			return dberr.NewInternalError("unexpected info result code %d for request %v", it.Code, request)
		}
		answered[it.Code] = true
	}
	for _, c := range request {
		if !answered[c] && !silentCodes[c] {
			return dberr.NewInternalError("info result did not echo request code %d", c)
		}
	}
	return nil
}

// Single asks for one code and returns its cluster. Codes allowed to answer
// silently yield ok == false.
func (q *Querier) Single(preamble string, code byte, probe func(items []byte, bufLen int) ([]byte, native.StatusVector)) (native.InfoItem, bool, error) {
	items := []byte{code}
	reply, err := q.Query(preamble, items, func(n int) ([]byte, native.StatusVector) {
		return probe(items, n)
	})
	if err != nil {
		return native.InfoItem{}, false, err
	}
	if len(reply) == 0 {
		return native.InfoItem{}, false, nil
	}
	return reply[0], true, nil
}

// All asks for one code and returns every cluster answering it. Used for
// codes the engine repeats, such as the active transaction list.
func (q *Querier) All(preamble string, code byte, probe func(items []byte, bufLen int) ([]byte, native.StatusVector)) ([]native.InfoItem, error) {
	items := []byte{code}
	return q.Query(preamble, items, func(n int) ([]byte, native.StatusVector) {
		return probe(items, n)
	})
}

// SubItems parses the nested clusters of a composite reply such as the
// statement record counts.
func SubItems(item native.InfoItem) (map[byte]int64, error) {
	nested, _, err := native.ParseInfo(item.Data)
	if err != nil {
		return nil, fmt.Errorf("parsing info cluster %d: %w", item.Code, err)
	}
	out := make(map[byte]int64, len(nested))
	for _, n := range nested {
		out[n.Code] = n.Int()
	}
	return out, nil
}
