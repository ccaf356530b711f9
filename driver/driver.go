package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/dbapi"
	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
)

// nativeAPI is the client library used by connections opened through
// sql.Open. It must be set with SetNativeAPI before any database operations.
var nativeAPI native.API

// SetNativeAPI installs the client library used by sql.Open. Connectors built
// with NewConnector carry their own and ignore it.
func SetNativeAPI(api native.API) {
	nativeAPI = api
}

const driverName = "fbdriver"

func init() {
	sql.Register(driverName, &Driver{})
}

// --- Driver implementation ---

// Driver is the database/sql driver.
type Driver struct{}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

// Open returns a new connection to the database named by dsn.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses dsn once for every connection of a pool.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	if nativeAPI == nil {
		return nil, fmt.Errorf("fbdriver: native API is not set")
	}
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{api: nativeAPI, cfg: cfg, driver: d}, nil
}

// ParseDSN converts [user[:password]@]path[?param=value...] into a
// connection config. Recognised parameters are charset, role, dialect and
// timezone.
func ParseDSN(dsn string) (dbapi.Config, error) {
	var cfg dbapi.Config
	rest, query, _ := strings.Cut(dsn, "?")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		cred := rest[:at]
		rest = rest[at+1:]
		user, password, _ := strings.Cut(cred, ":")
		var err error
		if cfg.User, err = url.PathUnescape(user); err != nil {
			return cfg, fmt.Errorf("fbdriver: invalid user in DSN: %w", err)
		}
		if cfg.Password, err = url.PathUnescape(password); err != nil {
			return cfg, fmt.Errorf("fbdriver: invalid password in DSN: %w", err)
		}
	}
	if rest == "" {
		return cfg, fmt.Errorf("fbdriver: DSN %q names no database", dsn)
	}
	cfg.Database = rest

	params, err := url.ParseQuery(query)
	if err != nil {
		return cfg, fmt.Errorf("fbdriver: invalid DSN parameters: %w", err)
	}
	for key, values := range params {
		value := values[len(values)-1]
		switch key {
		case "charset":
			cfg.Charset = value
		case "role":
			cfg.Role = value
		case "dialect":
			if cfg.Dialect, err = strconv.Atoi(value); err != nil || (cfg.Dialect != 1 && cfg.Dialect != 3) {
				return cfg, fmt.Errorf("fbdriver: invalid dialect %q", value)
			}
		case "timezone":
			if cfg.Location, err = time.LoadLocation(value); err != nil {
				return cfg, fmt.Errorf("fbdriver: invalid timezone: %w", err)
			}
		default:
			return cfg, fmt.Errorf("fbdriver: unknown DSN parameter %q", key)
		}
	}
	return cfg, nil
}

// --- Connector implementation ---

// Connector opens connections with a fixed client library and config.
type Connector struct {
	api    native.API
	cfg    dbapi.Config
	driver *Driver
}

var _ driver.Connector = (*Connector)(nil)

// NewConnector returns a connector for sql.OpenDB.
func NewConnector(api native.API, cfg dbapi.Config) *Connector {
	return &Connector{api: api, cfg: cfg, driver: &Driver{}}
}

// Connect attaches to the database.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.api == nil {
		return nil, fmt.Errorf("fbdriver: native API is not set")
	}
	conn, err := dbapi.Connect(c.api, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("fbdriver: connect failed: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Driver returns the driver that created c.
func (c *Connector) Driver() driver.Driver {
	return c.driver
}

// --- Connection implementation ---

// Conn implements the driver.Conn interface.
type Conn struct {
	conn *dbapi.Connection
	// inTx is set between BeginTx and the end of the transaction.
	inTx bool
	// openRows counts auto-commit result sets still being read.
	openRows int
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)
	_ driver.NamedValueChecker  = (*Conn)(nil)
)

// Connection returns the underlying dbapi connection.
func (c *Conn) Connection() *dbapi.Connection {
	return c.conn
}

// Prepare returns a prepared statement, suitable for query or execution.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext prepares query on a cursor of its own.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cur, err := c.conn.Cursor()
	if err != nil {
		return nil, fmt.Errorf("fbdriver: failed to open cursor: %w", err)
	}
	ps, err := cur.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("fbdriver: prepare failed: %w", multierr.Append(err, cur.Close()))
	}
	return &Stmt{conn: c, cursor: cur, ps: ps}, nil
}

// Close ends the attachment, committing or rolling back work in progress
// according to the configured default action.
func (c *Conn) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("fbdriver: close failed: %w", err)
	}
	return nil
}

// Begin starts a snapshot transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts an explicit transaction on the main transaction of the
// connection.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.inTx {
		return nil, fmt.Errorf("fbdriver: a transaction is already in progress")
	}
	tpb, err := txParams(opts)
	if err != nil {
		return nil, err
	}
	if err := c.settle(); err != nil {
		return nil, err
	}
	if err := c.conn.Begin(tpb); err != nil {
		return nil, fmt.Errorf("fbdriver: begin failed: %w", err)
	}
	c.inTx = true
	return &Tx{conn: c}, nil
}

func txParams(opts driver.TxOptions) ([]byte, error) {
	tpb := dbapi.TPB{ReadOnly: opts.ReadOnly}
	switch sql.IsolationLevel(opts.Isolation) {
	case sql.LevelDefault, sql.LevelSnapshot, sql.LevelRepeatableRead:
		tpb.Isolation = dbapi.Concurrency
	case sql.LevelSerializable:
		tpb.Isolation = dbapi.Consistency
	case sql.LevelReadUncommitted, sql.LevelReadCommitted:
		tpb.Isolation = dbapi.ReadCommitted
	default:
		return nil, fmt.Errorf("fbdriver: unsupported isolation level %v", sql.IsolationLevel(opts.Isolation))
	}
	return tpb.Bytes()
}

// settle commits the auto-commit work still pending on the main
// transaction.
func (c *Conn) settle() error {
	t, err := c.conn.MainTransaction()
	if err != nil {
		return fmt.Errorf("fbdriver: %w", err)
	}
	if !t.Active() {
		return nil
	}
	if err := t.Commit(false); err != nil {
		return fmt.Errorf("fbdriver: auto-commit failed: %w", err)
	}
	return nil
}

// autoCommit commits statements run outside an explicit transaction once no
// auto-commit result set is being read.
func (c *Conn) autoCommit() error {
	if c.inTx || c.openRows > 0 {
		return nil
	}
	return c.settle()
}

// Ping round-trips a database info request.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.conn.ServerVersion(); err != nil {
		return driver.ErrBadConn
	}
	return nil
}

// IsValid reports whether the connection can be reused by the pool.
func (c *Conn) IsValid() bool {
	return !c.conn.Closed()
}

// CheckNamedValue passes values through unchanged; the parameter converter
// validates them against the declared parameter types.
func (c *Conn) CheckNamedValue(nv *driver.NamedValue) error {
	if nv.Name != "" {
		return fmt.Errorf("fbdriver: named parameter %q is not supported", nv.Name)
	}
	if v, ok := nv.Value.(driver.Valuer); ok {
		val, err := v.Value()
		if err != nil {
			return err
		}
		nv.Value = val
	}
	return nil
}

// --- Statement implementation ---

// Stmt implements the driver.Stmt interface.
type Stmt struct {
	conn   *Conn
	cursor *dbapi.Cursor
	ps     *dbapi.PreparedStatement
}

var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

// Close frees the statement and its cursor.
func (s *Stmt) Close() error {
	if err := s.cursor.Close(); err != nil {
		return fmt.Errorf("fbdriver: failed to close statement: %w", err)
	}
	return nil
}

// NumInput returns the number of placeholder parameters.
func (s *Stmt) NumInput() int {
	return s.ps.NumParams()
}

// Exec executes a query that doesn't return rows, such as an INSERT or UPDATE.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}

// ExecContext runs the statement and auto-commits outside a transaction.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.cursor.ExecutePrepared(s.ps, values(args)...); err != nil {
		return nil, fmt.Errorf("fbdriver: exec failed: %w", err)
	}
	n, err := s.cursor.RowCount()
	if err != nil {
		return nil, fmt.Errorf("fbdriver: failed to read row count: %w", err)
	}
	if err := s.ps.CloseResults(); err != nil {
		return nil, fmt.Errorf("fbdriver: %w", err)
	}
	if err := s.conn.autoCommit(); err != nil {
		return nil, err
	}
	return result{rowsAffected: max(n, 0)}, nil
}

// Query executes a query that may return rows, such as a SELECT.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}

// QueryContext runs the statement and returns its result set.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.cursor.ExecutePrepared(s.ps, values(args)...); err != nil {
		return nil, fmt.Errorf("fbdriver: query failed: %w", err)
	}
	if !s.conn.inTx {
		s.conn.openRows++
	}
	return &Rows{stmt: s, columns: s.ps.Description(), autoCommit: !s.conn.inTx}, nil
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// --- Transaction implementation ---

// Tx implements the driver.Tx interface.
type Tx struct {
	conn *Conn
}

var _ driver.Tx = (*Tx)(nil)

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	if !tx.conn.inTx {
		return fmt.Errorf("fbdriver: transaction has already finished")
	}
	tx.conn.inTx = false
	if err := tx.conn.conn.Commit(false); err != nil {
		return fmt.Errorf("fbdriver: commit failed: %w", err)
	}
	return nil
}

// Rollback aborts the transaction.
func (tx *Tx) Rollback() error {
	if !tx.conn.inTx {
		return fmt.Errorf("fbdriver: transaction has already finished")
	}
	tx.conn.inTx = false
	if err := tx.conn.conn.Rollback(false); err != nil {
		return fmt.Errorf("fbdriver: rollback failed: %w", err)
	}
	return nil
}

// --- Result implementation ---

type result struct {
	rowsAffected int64
}

// LastInsertId is not supported; use INSERT ... RETURNING instead.
func (r result) LastInsertId() (int64, error) {
	return 0, errors.New("fbdriver: LastInsertId is not supported, use RETURNING")
}

// RowsAffected returns the number of rows changed by the statement.
func (r result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

// Rows implements the driver.Rows interface.
type Rows struct {
	stmt       *Stmt
	columns    []descriptor.Column
	autoCommit bool
	closed     bool
}

var (
	_ driver.Rows                           = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*Rows)(nil)
	_ driver.RowsColumnTypeLength           = (*Rows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*Rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*Rows)(nil)
)

// Columns returns the names of the columns.
func (r *Rows) Columns() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Alias
	}
	return names
}

// Close releases the result set and, outside an explicit transaction,
// commits once no other auto-commit result set is open.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.stmt.ps.CloseResults()
	if r.autoCommit {
		r.stmt.conn.openRows--
		if cerr := r.stmt.conn.autoCommit(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("fbdriver: failed to close rows: %w", err)
	}
	return nil
}

// Next is called to populate the next row of data into the provided slice.
func (r *Rows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}
	row, err := r.stmt.cursor.FetchOne()
	if err != nil {
		return fmt.Errorf("fbdriver: fetch failed: %w", err)
	}
	if row == nil {
		return io.EOF
	}
	if len(row) != len(dest) {
		return fmt.Errorf("fbdriver: row has %d columns, expected %d", len(row), len(dest))
	}
	for i, v := range row {
		dest[i] = driverValue(v)
	}
	return nil
}

// driverValue narrows decoded values to the types database/sql scans.
func driverValue(v any) driver.Value {
	switch x := v.(type) {
	case *apd.Decimal:
		return x.Text('f')
	case float32:
		return float64(x)
	}
	return v
}

// ColumnTypeDatabaseTypeName returns the SQL type name of column i.
func (r *Rows) ColumnTypeDatabaseTypeName(i int) string {
	return r.columns[i].TypeName
}

// ColumnTypeNullable reports whether column i may hold NULL.
func (r *Rows) ColumnTypeNullable(i int) (nullable, ok bool) {
	return r.columns[i].Nullable, true
}

// ColumnTypeLength returns the declared length of text columns in
// characters, and the maximum length of binary columns.
func (r *Rows) ColumnTypeLength(i int) (int64, bool) {
	c := r.columns[i]
	switch c.SQLType {
	case native.SQLText, native.SQLVarying:
		return int64(c.DisplaySize), true
	case native.SQLBlob:
		return 1<<31 - 1, true
	}
	return 0, false
}

// ColumnTypePrecisionScale returns precision and scale of fixed-point
// columns.
func (r *Rows) ColumnTypePrecisionScale(i int) (precision, scale int64, ok bool) {
	c := r.columns[i]
	if c.TypeName != "NUMERIC" && c.TypeName != "DECIMAL" {
		return 0, 0, false
	}
	return int64(c.Precision), int64(-c.Scale), true
}

var (
	scanInt64   = reflect.TypeOf(int64(0))
	scanFloat64 = reflect.TypeOf(float64(0))
	scanString  = reflect.TypeOf("")
	scanBytes   = reflect.TypeOf([]byte(nil))
	scanTime    = reflect.TypeOf(time.Time{})
	scanBool    = reflect.TypeOf(false)
	scanAny     = reflect.TypeOf((*any)(nil)).Elem()
)

// ColumnTypeScanType returns the Go type Next stores for column i.
func (r *Rows) ColumnTypeScanType(i int) reflect.Type {
	c := r.columns[i]
	switch c.SQLType {
	case native.SQLShort, native.SQLLong, native.SQLInt64:
		if c.Scale != 0 {
			return scanString
		}
		return scanInt64
	case native.SQLFloat, native.SQLDouble, native.SQLDFloat:
		if c.Scale != 0 {
			return scanString
		}
		return scanFloat64
	case native.SQLText, native.SQLVarying:
		if c.Subtype == 1 {
			return scanBytes
		}
		return scanString
	case native.SQLTimestamp, native.SQLTypeDate, native.SQLTypeTime:
		return scanTime
	case native.SQLBoolean:
		return scanBool
	case native.SQLBlob:
		if c.Subtype == native.BlobSubtypeText {
			return scanString
		}
		return scanBytes
	}
	return scanAny
}
