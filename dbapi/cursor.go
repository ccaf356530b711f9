package dbapi

import (
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/blob"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
	"github.com/tomyedwab/fbdriver/stmt"
)

// Cursor runs statements on one connection within one transaction.
type Cursor struct {
	handle Handle
	conn   Handle
	tr     Handle
	policy blob.Policy
	name   string
	closed bool
	logger *slog.Logger

	// own is the statement behind Execute, reused while the SQL text is
	// unchanged. cur is whichever statement executed last.
	own      *stmt.Statement
	cur      *stmt.Statement
	prepared []*PreparedStatement

	// ArraySize is the default batch size of FetchMany.
	ArraySize int
}

// PreparedStatement is a statement prepared once and executed through the
// cursor that prepared it.
type PreparedStatement struct {
	cursor Handle
	st     *stmt.Statement
	closed bool
}

// SQL returns the statement text.
func (p *PreparedStatement) SQL() string { return p.st.SQL() }

// NumParams returns the number of declared input parameters.
func (p *PreparedStatement) NumParams() int { return p.st.NumParams() }

// Type returns the statement type code.
func (p *PreparedStatement) Type() int { return p.st.Type() }

// Description describes the output columns.
func (p *PreparedStatement) Description() []descriptor.Column { return p.st.Columns() }

// Plan returns the engine's access plan.
func (p *PreparedStatement) Plan() (string, error) { return p.st.Plan() }

// CloseResults releases the open result set, keeping ps prepared.
func (p *PreparedStatement) CloseResults() error {
	if p.closed {
		return nil
	}
	return p.st.Close()
}

// Close frees the statement handle.
func (p *PreparedStatement) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.st.Drop()
}

func newCursor(conn *Connection, t *Transaction) *Cursor {
	c := &Cursor{
		conn:      conn.handle,
		tr:        t.handle,
		policy:    conn.cfg.BlobPolicy,
		ArraySize: 1,
	}
	c.handle = cursors.add(c)
	c.logger = conn.cfg.Logger.With("component", "cursor", "cursor", c.handle)
	return c
}

// Handle returns the arena handle of c.
func (c *Cursor) Handle() Handle { return c.handle }

// Closed reports whether Close has been called.
func (c *Cursor) Closed() bool { return c.closed }

// Name returns the cursor name set by SetCursorName.
func (c *Cursor) Name() string { return c.name }

// Connection returns the connection the cursor runs on.
func (c *Cursor) Connection() (*Connection, error) {
	conn, ok := connections.get(c.conn)
	if !ok || conn.closed {
		return nil, dberr.NewInterfaceError("the cursor's connection is closed")
	}
	return conn, nil
}

// Transaction returns the transaction the cursor runs in.
func (c *Cursor) Transaction() (*Transaction, error) {
	t, ok := transactions.get(c.tr)
	if !ok || t.closed {
		return nil, dberr.NewInterfaceError("the cursor's transaction is closed")
	}
	return t, nil
}

// bound returns the live connection and transaction, starting the
// transaction if needed.
func (c *Cursor) bound() (*Connection, *Transaction, error) {
	if c.closed {
		return nil, nil, dberr.NewInterfaceError("cursor is closed")
	}
	conn, err := c.Connection()
	if err != nil {
		return nil, nil, err
	}
	t, err := c.Transaction()
	if err != nil {
		return nil, nil, err
	}
	if err := t.ensureActive(); err != nil {
		return nil, nil, err
	}
	return conn, t, nil
}

func (c *Cursor) statementOptions(conn *Connection) stmt.Options {
	return stmt.Options{
		Dialect:        conn.cfg.Dialect,
		Charset:        conn.charset,
		Location:       conn.cfg.Location,
		Policy:         c.policy,
		MaxBlobSegment: conn.cfg.MaxBlobSegment,
		Querier:        conn.querier,
		Metrics:        conn.cfg.Metrics,
		Logger:         conn.cfg.Logger,
	}
}

func (c *Cursor) prepare(conn *Connection, t *Transaction, sql string) (*stmt.Statement, error) {
	st, err := stmt.Allocate(conn.api, conn.db, c.statementOptions(conn))
	if err != nil {
		return nil, err
	}
	if err := st.Prepare(t.tr, sql); err != nil {
		if derr := st.Drop(); derr != nil {
			c.logger.Warn("Failed to drop statement after prepare error", "error", derr)
		}
		return nil, err
	}
	return st, nil
}

// Execute prepares sql, unless it is the text executed last, and runs it
// with params.
func (c *Cursor) Execute(sql string, params ...any) error {
	conn, t, err := c.bound()
	if err != nil {
		return err
	}
	if c.own == nil || c.own.SQL() != sql || c.own.State() == stmt.Dropped {
		if c.own != nil {
			if err := c.own.Drop(); err != nil {
				return err
			}
		}
		c.own, c.cur = nil, nil
		st, err := c.prepare(conn, t, sql)
		if err != nil {
			return err
		}
		c.own = st
	}
	c.cur = c.own
	return c.own.Execute(t.tr, params)
}

// ExecuteMany runs sql once for every parameter row.
func (c *Cursor) ExecuteMany(sql string, rows [][]any) error {
	for _, params := range rows {
		if err := c.Execute(sql, params...); err != nil {
			return err
		}
	}
	return nil
}

// Prepare compiles sql for repeated execution with ExecutePrepared.
func (c *Cursor) Prepare(sql string) (*PreparedStatement, error) {
	conn, t, err := c.bound()
	if err != nil {
		return nil, err
	}
	st, err := c.prepare(conn, t, sql)
	if err != nil {
		return nil, err
	}
	ps := &PreparedStatement{cursor: c.handle, st: st}
	c.prepared = append(c.prepared, ps)
	return ps, nil
}

// ExecutePrepared runs ps with params. ps must come from this cursor.
func (c *Cursor) ExecutePrepared(ps *PreparedStatement, params ...any) error {
	if ps == nil || ps.cursor != c.handle {
		return dberr.NewInterfaceError("prepared statement was not created by this cursor")
	}
	if ps.closed {
		return dberr.NewInterfaceError("prepared statement is closed")
	}
	_, t, err := c.bound()
	if err != nil {
		return err
	}
	c.cur = ps.st
	return ps.st.Execute(t.tr, params)
}

// CallProcedure executes stored procedure name and returns its output row,
// nil for a procedure without outputs.
func (c *Cursor) CallProcedure(name string, params ...any) ([]any, error) {
	if !identifier.MatchString(name) {
		return nil, dberr.NewInterfaceError("invalid procedure name %q", name)
	}
	sql := "EXECUTE PROCEDURE " + name
	if len(params) > 0 {
		sql += " (" + strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ") + ")"
	}
	if err := c.Execute(sql, params...); err != nil {
		return nil, err
	}
	if !c.cur.ReturnsRows() {
		return nil, nil
	}
	return c.FetchOne()
}

func (c *Cursor) current() (*stmt.Statement, error) {
	if c.closed {
		return nil, dberr.NewInterfaceError("cursor is closed")
	}
	if c.cur == nil {
		return nil, dberr.NewInterfaceError("no statement has been executed on this cursor")
	}
	return c.cur, nil
}

// FetchOne returns the next row, or nil when no rows remain.
func (c *Cursor) FetchOne() ([]any, error) {
	st, err := c.current()
	if err != nil {
		return nil, err
	}
	return st.Fetch()
}

// FetchMany returns up to n rows; n <= 0 uses ArraySize.
func (c *Cursor) FetchMany(n int) ([][]any, error) {
	if n <= 0 {
		n = c.ArraySize
	}
	var rows [][]any
	for len(rows) < n {
		row, err := c.FetchOne()
		if err != nil {
			return rows, err
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll returns every remaining row.
func (c *Cursor) FetchAll() ([][]any, error) {
	var rows [][]any
	for row, err := range c.Rows() {
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchMap returns the next row keyed by column alias, or nil when no rows
// remain.
func (c *Cursor) FetchMap() (map[string]any, error) {
	row, err := c.FetchOne()
	if err != nil || row == nil {
		return nil, err
	}
	cols := c.Description()
	out := make(map[string]any, len(row))
	for i, v := range row {
		out[cols[i].Alias] = v
	}
	return out, nil
}

// Rows iterates over the remaining rows. Iteration stops after the first
// error.
func (c *Cursor) Rows() iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		for {
			row, err := c.FetchOne()
			if err != nil {
				yield(nil, err)
				return
			}
			if row == nil || !yield(row, nil) {
				return
			}
		}
	}
}

// Description describes the result columns of the last statement, nil
// when it returns no rows.
func (c *Cursor) Description() []descriptor.Column {
	if c.cur == nil || !c.cur.ReturnsRows() {
		return nil
	}
	return c.cur.Columns()
}

// RowCount returns the rows affected or selected by the last statement, -1
// when unknown.
func (c *Cursor) RowCount() (int64, error) {
	if c.cur == nil {
		return -1, nil
	}
	return c.cur.RowCount()
}

// Plan returns the access plan of the last statement.
func (c *Cursor) Plan() (string, error) {
	st, err := c.current()
	if err != nil {
		return "", err
	}
	return st.Plan()
}

// SetCursorName names the open result set for positioned updates. An empty
// name generates a unique one.
func (c *Cursor) SetCursorName(name string) error {
	st, err := c.current()
	if err != nil {
		return err
	}
	if st.Type() != native.StmtSelect && st.Type() != native.StmtSelectForUpd {
		return dberr.NewInterfaceError("cursor name can only be set on a select statement")
	}
	if name == "" {
		name = "CUR_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	if err := st.SetCursorName(name); err != nil {
		return err
	}
	c.name = name
	return nil
}

// StreamBlobs makes the named BLOB columns come back as *blob.Reader.
func (c *Cursor) StreamBlobs(fields ...string) {
	c.setPolicy(c.policy.WithStream(fields...))
}

// SetStreamThreshold streams every BLOB longer than n bytes. Zero disables
// the threshold.
func (c *Cursor) SetStreamThreshold(n int64) {
	p := c.policy
	p.Threshold = n
	c.setPolicy(p)
}

// SetBinaryBlobs returns text BLOBs as []byte instead of strings.
func (c *Cursor) SetBinaryBlobs(binary bool) {
	p := c.policy
	p.Binary = binary
	c.setPolicy(p)
}

func (c *Cursor) setPolicy(p blob.Policy) {
	c.policy = p
	if c.own != nil {
		c.own.SetPolicy(p)
	}
	for _, ps := range c.prepared {
		ps.st.SetPolicy(p)
	}
}

// closeResults releases every open result set and stream reader, keeping
// statement handles for re-execution.
func (c *Cursor) closeResults() error {
	var err error
	if c.own != nil {
		err = multierr.Append(err, c.own.Close())
	}
	for _, ps := range c.prepared {
		if !ps.closed {
			err = multierr.Append(err, ps.st.Close())
		}
	}
	return err
}

// Close frees every statement of the cursor and detaches it from its
// transaction. Closing twice is a no-op.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	var err error
	if c.own != nil {
		err = multierr.Append(err, c.own.Drop())
	}
	for _, ps := range c.prepared {
		err = multierr.Append(err, ps.Close())
	}
	c.own, c.cur, c.prepared = nil, nil, nil
	c.closed = true
	if t, ok := transactions.get(c.tr); ok {
		t.forgetCursor(c.handle)
	}
	cursors.remove(c.handle)
	return err
}
