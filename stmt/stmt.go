// Package stmt implements the statement engine: prepare SQL into a handle,
// bind parameters, execute and fetch rows.
//
// A Statement moves through allocated, prepared, executed, fetching, closed
// and dropped. Closing releases the result set but keeps the handle so the
// statement can run again; dropping frees the handle for good.
package stmt

import (
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/blob"
	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/infobuf"
	"github.com/tomyedwab/fbdriver/metrics"
	"github.com/tomyedwab/fbdriver/native"
	"github.com/tomyedwab/fbdriver/sqlarray"
)

// DefaultDialect is the SQL dialect used when Options.Dialect is zero.
const DefaultDialect = 3

// State is a statement lifecycle state.
type State int

const (
	Allocated State = iota
	Prepared
	Executed
	Fetching
	Closed
	Dropped
)

func (s State) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case Prepared:
		return "prepared"
	case Executed:
		return "executed"
	case Fetching:
		return "fetching"
	case Closed:
		return "closed"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

// TypeName returns a short lowercase name for a statement type code.
func TypeName(t int) string {
	switch t {
	case native.StmtSelect:
		return "select"
	case native.StmtInsert:
		return "insert"
	case native.StmtUpdate:
		return "update"
	case native.StmtDelete:
		return "delete"
	case native.StmtDDL:
		return "ddl"
	case native.StmtGetSegment:
		return "get_segment"
	case native.StmtPutSegment:
		return "put_segment"
	case native.StmtExecProcedure:
		return "exec_procedure"
	case native.StmtStartTrans:
		return "start_transaction"
	case native.StmtCommit:
		return "commit"
	case native.StmtRollback:
		return "rollback"
	case native.StmtSelectForUpd:
		return "select_for_update"
	case native.StmtSetGenerator:
		return "set_generator"
	case native.StmtSavepoint:
		return "savepoint"
	}
	return "unknown"
}

// Options configure a statement.
type Options struct {
	Dialect  int
	Charset  *codec.Charset
	Location *time.Location
	Policy   blob.Policy
	// MaxBlobSegment bounds the segments written for BLOB parameters.
	MaxBlobSegment int
	Querier        *infobuf.Querier
	Metrics        *metrics.Collector
	Logger         *slog.Logger
}

func (o *Options) defaults(api native.API) {
	if o.Dialect == 0 {
		o.Dialect = DefaultDialect
	}
	if o.Charset == nil {
		o.Charset = codec.Raw
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Querier == nil {
		o.Querier = infobuf.NewQuerier(api, o.Logger)
	}
}

// Statement is one allocated statement handle and its descriptors.
type Statement struct {
	api    native.API
	db     native.DBHandle
	tr     native.TrHandle
	handle native.StmtHandle
	opts   Options
	conv   descriptor.Converter
	logger *slog.Logger

	sql     string
	typ     int
	in      *descriptor.Row
	out     *descriptor.Row
	columns []descriptor.Column

	state     State
	exhausted bool
	cursor    bool
	cached    []any
	hasCached bool
	readers   []*blob.Reader
}

// Allocate obtains a statement handle on db.
func Allocate(api native.API, db native.DBHandle, opts Options) (*Statement, error) {
	opts.defaults(api)
	h, sv := api.AllocateStatement(db)
	if sv.Failed() {
		return nil, native.StatusError(api, sv, "Error while allocating SQL statement:")
	}
	return &Statement{
		api:    api,
		db:     db,
		handle: h,
		opts:   opts,
		conv:   descriptor.Converter{Charset: opts.Charset, Location: opts.Location},
		logger: opts.Logger.With("component", "stmt"),
		state:  Allocated,
	}, nil
}

// Handle returns the engine statement handle.
func (s *Statement) Handle() native.StmtHandle { return s.handle }

// SQL returns the prepared SQL text.
func (s *Statement) SQL() string { return s.sql }

// Type returns the statement type code reported by the engine.
func (s *Statement) Type() int { return s.typ }

// State returns the lifecycle state.
func (s *Statement) State() State { return s.state }

// Columns describes the output fields. It is empty for statements without
// a result.
func (s *Statement) Columns() []descriptor.Column { return s.columns }

// NumParams returns the number of input parameters the statement declares.
func (s *Statement) NumParams() int {
	if s.in == nil {
		return 0
	}
	return s.in.Len()
}

// Input returns the described input row.
func (s *Statement) Input() *descriptor.Row { return s.in }

// Output returns the described output row.
func (s *Statement) Output() *descriptor.Row { return s.out }

// SetPolicy changes how BLOB columns are fetched from now on.
func (s *Statement) SetPolicy(p blob.Policy) { s.opts.Policy = p }

// ReturnsRows reports whether the statement produces a result set or a
// singleton row.
func (s *Statement) ReturnsRows() bool {
	return s.out != nil && s.out.Len() > 0 &&
		(s.typ == native.StmtSelect || s.typ == native.StmtSelectForUpd || s.typ == native.StmtExecProcedure)
}

func (s *Statement) checkLive(op string) error {
	if s.state == Dropped {
		return dberr.NewInterfaceError("cannot %s: statement has been dropped", op)
	}
	return nil
}

// Prepare compiles sql in transaction tr, describes both descriptors and
// classifies the statement.
func (s *Statement) Prepare(tr native.TrHandle, sql string) error {
	if err := s.checkLive("prepare"); err != nil {
		return err
	}
	if s.cursor {
		if err := s.closeCursor(); err != nil {
			return err
		}
	}
	s.tr = tr
	fail := func(preamble string) descriptor.ErrorFunc {
		return func(sv native.StatusVector) error {
			return native.StatusError(s.api, sv, preamble)
		}
	}

	first := true
	out, err := descriptor.Describe(descriptor.Allocate(descriptor.DefaultCapacity), descriptor.Output,
		func(da *native.XSQLDA) native.StatusVector {
			if first {
				first = false
				return s.api.PrepareStatement(tr, s.handle, sql, s.opts.Dialect, da)
			}
			return s.api.Describe(s.handle, s.opts.Dialect, da)
		}, fail("Error while preparing SQL statement:"))
	if err != nil {
		return err
	}
	in, err := descriptor.Describe(descriptor.Allocate(descriptor.DefaultCapacity), descriptor.Input,
		func(da *native.XSQLDA) native.StatusVector {
			return s.api.DescribeBind(s.handle, s.opts.Dialect, da)
		}, fail("Error while determining SQL statement parameters:"))
	if err != nil {
		return err
	}

	item, ok, err := s.opts.Querier.Single("Error while determining SQL statement type:", native.InfoSQLStmtType,
		func(items []byte, n int) ([]byte, native.StatusVector) {
			return s.api.SQLInfo(s.handle, items, n)
		})
	if err != nil {
		return err
	}
	if !ok {
		return dberr.NewInternalError("engine did not report a statement type")
	}

	s.sql = sql
	s.typ = int(item.Int())
	s.in = descriptor.NewRow(in, descriptor.Input)
	s.out = descriptor.NewRow(out, descriptor.Output)
	s.columns = descriptor.Columns(s.out)
	s.state = Prepared
	s.exhausted = false
	s.cached, s.hasCached = nil, false
	s.opts.Metrics.StatementPrepared()
	s.logger.Debug("Prepared statement", "type", TypeName(s.typ), "params", s.in.Len(), "columns", s.out.Len())
	return nil
}

// Execute binds params and runs the statement in transaction tr.
// Statements returning a single row, such as procedure calls, receive the
// row immediately; it is served by the next Fetch.
func (s *Statement) Execute(tr native.TrHandle, params []any) error {
	if err := s.checkLive("execute"); err != nil {
		return err
	}
	if s.state == Allocated {
		return dberr.NewInterfaceError("cannot execute a statement that has not been prepared")
	}
	if len(params) > s.in.Len() {
		return dberr.NewInterfaceError("statement parameter sequence contains %d parameters, but only %d are allowed",
			len(params), s.in.Len())
	}
	if s.cursor {
		if err := s.closeCursor(); err != nil {
			return err
		}
	}
	s.tr = tr
	if err := s.bind(params); err != nil {
		return err
	}

	var in *native.XSQLDA
	if s.in.Len() > 0 {
		in = s.in.DA
	}
	s.cached, s.hasCached = nil, false
	if s.typ == native.StmtExecProcedure && s.out.Len() > 0 {
		if sv := s.api.Execute2(tr, s.handle, s.opts.Dialect, in, s.out.DA); sv.Failed() {
			return native.StatusError(s.api, sv, "Error while executing Stored Procedure:")
		}
		row, err := s.decodeRow()
		if err != nil {
			return err
		}
		s.cached, s.hasCached = row, true
	} else {
		if sv := s.api.Execute(tr, s.handle, s.opts.Dialect, in); sv.Failed() {
			return native.StatusError(s.api, sv, "Error while executing SQL statement:")
		}
		s.cursor = s.out.Len() > 0 && s.typ != native.StmtExecProcedure
	}
	s.state = Executed
	s.exhausted = false
	s.opts.Metrics.Executed(TypeName(s.typ))
	s.logger.Debug("Executed statement", "type", TypeName(s.typ), "params", len(params))
	return nil
}

// bind resets every input slot and encodes params into it. Slots beyond
// len(params) are bound to NULL.
func (s *Statement) bind(params []any) error {
	s.in.Restore()
	for i := 0; i < s.in.Len(); i++ {
		v := s.in.Var(i)
		if i >= len(params) {
			v.SetNull()
			continue
		}
		value := params[i]
		if value != nil {
			if _, isQuad := value.(native.Quad); !isQuad {
				switch v.BaseType() {
				case native.SQLBlob:
					id, err := blob.Store(s.api, s.db, s.tr, value, s.opts.MaxBlobSegment, s.blobOptions())
					if err != nil {
						return err
					}
					value = id
				case native.SQLArray:
					id, err := s.arrays().Put(v.RelName, v.SQLName, value)
					if err != nil {
						return err
					}
					value = id
				}
			}
		}
		if err := s.conv.Encode(v, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Statement) blobOptions() blob.Options {
	return blob.Options{
		Querier: s.opts.Querier,
		Charset: s.opts.Charset,
		Metrics: s.opts.Metrics,
		Logger:  s.opts.Logger,
	}
}

func (s *Statement) arrays() *sqlarray.Channel {
	return &sqlarray.Channel{API: s.api, DB: s.db, TR: s.tr, Charset: s.opts.Charset, Location: s.opts.Location}
}

// Fetch returns the next row, or nil once the result set is exhausted.
// Further calls after exhaustion keep returning nil.
func (s *Statement) Fetch() ([]any, error) {
	if err := s.checkLive("fetch"); err != nil {
		return nil, err
	}
	switch s.state {
	case Allocated, Prepared:
		return nil, dberr.NewInterfaceError("cannot fetch from a statement that has not been executed")
	case Closed:
		if s.exhausted {
			return nil, nil
		}
		return nil, dberr.NewInterfaceError("cannot fetch from a closed statement")
	}
	if !s.ReturnsRows() {
		if s.typ == native.StmtExecProcedure {
			return nil, nil
		}
		return nil, dberr.NewInterfaceError("attempt to fetch a row after a %s statement that does not produce a result set", TypeName(s.typ))
	}

	if s.typ == native.StmtExecProcedure {
		if !s.hasCached {
			s.state, s.exhausted = Closed, true
			return nil, nil
		}
		row := s.cached
		s.cached, s.hasCached = nil, false
		s.state = Fetching
		s.opts.Metrics.RowsFetched(1)
		return row, nil
	}

	status, sv := s.api.Fetch(s.handle, s.opts.Dialect, s.out.DA)
	if sv.Failed() {
		return nil, native.StatusError(s.api, sv, "Error while fetching a row:")
	}
	switch status {
	case native.FetchOK:
	case native.FetchNoMoreRows:
		if err := s.closeCursor(); err != nil {
			return nil, err
		}
		s.exhausted = true
		return nil, nil
	default:
		return nil, dberr.NewInternalError("unexpected fetch status %d", status)
	}
	s.state = Fetching
	row, err := s.decodeRow()
	if err != nil {
		return nil, err
	}
	s.opts.Metrics.RowsFetched(1)
	return row, nil
}

func (s *Statement) decodeRow() ([]any, error) {
	row := make([]any, s.out.Len())
	for i := range row {
		v := s.out.Var(i)
		val, err := s.conv.Decode(v)
		if err != nil {
			return nil, err
		}
		if id, ok := val.(native.Quad); ok {
			switch v.BaseType() {
			case native.SQLBlob:
				val, err = s.fetchBlob(i, v, id)
			case native.SQLArray:
				val, err = s.arrays().Get(v.RelName, v.SQLName, id)
			}
			if err != nil {
				return nil, err
			}
		}
		row[i] = val
	}
	return row, nil
}

// fetchBlob materializes a BLOB column or, when the policy asks for it,
// returns an open *blob.Reader owned by the statement.
func (s *Statement) fetchBlob(i int, v *native.XSQLVar, id native.Quad) (any, error) {
	r, err := blob.Open(s.api, s.db, s.tr, id, s.blobOptions())
	if err != nil {
		return nil, err
	}
	if s.opts.Policy.Streams(s.columns[i].Alias, r.Len()) {
		s.readers = append(s.readers, r)
		return r, nil
	}
	var val any
	if v.SQLSubtype == native.BlobSubtypeText && !s.opts.Policy.Binary {
		val, err = r.Text()
	} else {
		val, err = r.ReadAll()
	}
	return val, multierr.Append(err, r.Close())
}

// closeCursor releases the open result set and every stream reader.
func (s *Statement) closeCursor() error {
	err := s.closeReaders()
	if s.cursor {
		s.cursor = false
		if sv := s.api.FreeStatement(s.handle, native.DSQLClose); sv.Failed() {
			err = multierr.Append(err, native.StatusError(s.api, sv, "Error while closing SQL statement:"))
		}
	}
	s.state = Closed
	return err
}

func (s *Statement) closeReaders() error {
	var err error
	for _, r := range s.readers {
		err = multierr.Append(err, r.Close())
	}
	s.readers = nil
	return err
}

// Close releases the result set and stream readers, keeping the handle for
// re-execution. Closing a statement that is not open is a no-op.
func (s *Statement) Close() error {
	if s.state == Dropped {
		return nil
	}
	if s.state == Allocated || s.state == Prepared {
		return s.closeReaders()
	}
	s.cached, s.hasCached = nil, false
	s.exhausted = false
	return s.closeCursor()
}

// Drop frees the statement handle. Dropping twice is a no-op.
func (s *Statement) Drop() error {
	if s.state == Dropped {
		return nil
	}
	err := s.closeReaders()
	s.cursor = false
	s.state = Dropped
	if sv := s.api.FreeStatement(s.handle, native.DSQLDrop); sv.Failed() {
		err = multierr.Append(err, native.StatusError(s.api, sv, "Error while releasing SQL statement handle:"))
	}
	return err
}

// Plan returns the access plan chosen by the engine.
func (s *Statement) Plan() (string, error) {
	if err := s.requirePrepared("read the plan"); err != nil {
		return "", err
	}
	item, ok, err := s.opts.Querier.Single("Error while retrieving the access plan:", native.InfoSQLGetPlan,
		func(items []byte, n int) ([]byte, native.StatusVector) {
			return s.api.SQLInfo(s.handle, items, n)
		})
	if err != nil || !ok {
		return "", err
	}
	return strings.TrimLeft(string(item.Data), "\n"), nil
}

// RowCount returns the number of rows the last execution selected, inserted,
// updated or deleted, or -1 for statement types without a row count.
func (s *Statement) RowCount() (int64, error) {
	if err := s.requirePrepared("read the row count"); err != nil {
		return 0, err
	}
	var code byte
	switch s.typ {
	case native.StmtSelect, native.StmtSelectForUpd:
		code = native.InfoReqSelectCount
	case native.StmtInsert:
		code = native.InfoReqInsertCount
	case native.StmtUpdate:
		code = native.InfoReqUpdateCount
	case native.StmtDelete:
		code = native.InfoReqDeleteCount
	default:
		return -1, nil
	}
	item, ok, err := s.opts.Querier.Single("Error while determining rowcount:", native.InfoSQLRecords,
		func(items []byte, n int) ([]byte, native.StatusVector) {
			return s.api.SQLInfo(s.handle, items, n)
		})
	if err != nil || !ok {
		return -1, err
	}
	counts, err := infobuf.SubItems(item)
	if err != nil {
		return -1, err
	}
	return counts[code], nil
}

// SetCursorName names the open cursor for positioned updates.
func (s *Statement) SetCursorName(name string) error {
	if err := s.requirePrepared("set the cursor name"); err != nil {
		return err
	}
	if sv := s.api.SetCursorName(s.handle, name); sv.Failed() {
		return native.StatusError(s.api, sv, "Error while setting cursor name:")
	}
	return nil
}

func (s *Statement) requirePrepared(op string) error {
	if err := s.checkLive(op); err != nil {
		return err
	}
	if s.state == Allocated {
		return dberr.NewInterfaceError("cannot %s of a statement that has not been prepared", op)
	}
	return nil
}
