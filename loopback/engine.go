// Package loopback is an in-process engine implementing native.API on top
// of SQLite.
//
// Every attachment opens a SQLite file through sqlx. Each transaction
// checks out one dedicated connection per attachment it spans and drives
// BEGIN, COMMIT and ROLLBACK on it; statements, blobs and array slices run
// on the connection of the transaction they are executed in. BLOB and ARRAY
// contents live in system tables next to the user tables, events are posted
// with the post_event SQL function and delivered when the posting
// transaction commits.
//
// The engine exists so the driver can be exercised end to end without a
// database server. It answers the same handles, status vectors, info
// clusters and row descriptors a server would.
package loopback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/native"
)

// DefaultBusyTimeout bounds lock waits of transactions started with
// TPBWait and no explicit lock timeout.
const DefaultBusyTimeout = 5 * time.Second

// Options configure an engine.
type Options struct {
	Users       map[string]string // Optional, any user is accepted when nil
	BusyTimeout time.Duration     // Optional, defaults to DefaultBusyTimeout
	Logger      *slog.Logger      // Optional, defaults to slog.Default()
}

// Engine is a native.API backed by SQLite files.
type Engine struct {
	opts   Options
	logger *slog.Logger
	// callbacks tracks event notifications still being delivered.
	callbacks sync.WaitGroup

	mu     sync.Mutex
	seq    uint32
	nextTx int64
	atts   map[native.DBHandle]*attachment
	trs    map[native.TrHandle]*transaction
	stmts  map[native.StmtHandle]*statement
	blobs  map[native.BlobHandle]*openBlob
	events map[native.EventID]*registration
	// posted holds the event counters of every database file.
	posted map[string]map[string]uint32
	procs  map[string]*Procedure
	closed bool
}

var _ native.API = (*Engine)(nil)

// New creates an engine with no attachments.
func New(opts Options) *Engine {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger.With("component", "loopback"),
		nextTx: 1,
		atts:   make(map[native.DBHandle]*attachment),
		trs:    make(map[native.TrHandle]*transaction),
		stmts:  make(map[native.StmtHandle]*statement),
		blobs:  make(map[native.BlobHandle]*openBlob),
		events: make(map[native.EventID]*registration),
		posted: make(map[string]map[string]uint32),
		procs:  make(map[string]*Procedure),
	}
}

// nextHandle returns a fresh non-zero handle value. e.mu is held.
func (e *Engine) nextHandle() uint32 {
	e.seq++
	return e.seq
}

func ctx() context.Context {
	return context.Background()
}

// Close rolls back every open transaction, detaches every attachment and
// waits for event notifications in flight.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	trs := make([]native.TrHandle, 0, len(e.trs))
	for h := range e.trs {
		trs = append(trs, h)
	}
	atts := make([]native.DBHandle, 0, len(e.atts))
	for h := range e.atts {
		atts = append(atts, h)
	}
	e.mu.Unlock()

	var err error
	for _, h := range trs {
		if sv := e.RollbackTransaction(h); sv.Failed() {
			err = multierr.Append(err, native.StatusError(e, sv, "Error while rolling back on engine shutdown:"))
		}
	}
	for _, h := range atts {
		if sv := e.DetachDatabase(h); sv.Failed() {
			err = multierr.Append(err, native.StatusError(e, sv, "Error while detaching on engine shutdown:"))
		}
	}
	e.callbacks.Wait()
	return err
}

func (e *Engine) attachment(h native.DBHandle) (*attachment, native.StatusVector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.atts[h]
	if !ok {
		return nil, native.NewStatus(native.GDSBadDBHandle)
	}
	return a, native.OK()
}

func (e *Engine) transaction(h native.TrHandle) (*transaction, native.StatusVector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trs[h]
	if !ok {
		return nil, native.NewStatus(native.GDSBadTransHandle)
	}
	return t, native.OK()
}

func (e *Engine) statement(h native.StmtHandle) (*statement, native.StatusVector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stmts[h]
	if !ok {
		return nil, native.NewStatus(native.GDSDSQLStmtHandle)
	}
	return s, native.OK()
}

func (e *Engine) blob(h native.BlobHandle) (*openBlob, native.StatusVector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.blobs[h]
	if !ok {
		return nil, native.NewStatus(native.GDSBadSegstrHandle)
	}
	return b, native.OK()
}

// part returns the piece of transaction tr running on attachment db.
func (e *Engine) part(db native.DBHandle, tr native.TrHandle) (*part, native.StatusVector) {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return nil, sv
	}
	for _, p := range t.parts {
		if p.att.handle == db {
			return p, native.OK()
		}
	}
	return nil, native.NewStatus(native.GDSBadTransHandle).
		Append(native.GDSRandom, "transaction does not span this attachment")
}
