// Package dbapi is the user-facing layer of the driver: connections,
// transactions, cursors and connection groups.
//
// Every object is registered in an arena and refers to the others by
// Handle, so closing an object makes it unreachable from the objects that
// pointed at it. Objects are not safe for concurrent use; use one
// connection per goroutine.
package dbapi

import (
	"log/slog"

	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/events"
	"github.com/tomyedwab/fbdriver/infobuf"
	"github.com/tomyedwab/fbdriver/native"
)

// Introspector is an optional schema or monitoring helper bound to a
// connection's read-only transaction. The connection closes it first.
type Introspector interface {
	Close() error
}

// Connection is one attachment to a database.
type Connection struct {
	handle  Handle
	api     native.API
	db      native.DBHandle
	cfg     Config
	charset *codec.Charset
	querier *infobuf.Querier
	logger  *slog.Logger

	main         Handle
	query        Handle
	transactions []Handle
	internal     *Cursor
	conduits     []*events.Conduit
	introspector Introspector
	group        Handle
	closed       bool
}

// Connect attaches to cfg.Database.
func Connect(api native.API, cfg Config) (*Connection, error) {
	charset, err := cfg.defaults()
	if err != nil {
		return nil, err
	}
	dpb, err := cfg.DPB()
	if err != nil {
		return nil, err
	}
	db, sv := api.AttachDatabase(cfg.Database, dpb)
	if sv.Failed() {
		return nil, native.StatusError(api, sv, "Error while connecting to database:")
	}
	return newConnection(api, db, cfg, charset), nil
}

// CreateDatabase creates cfg.Database and returns a connection to it.
func CreateDatabase(api native.API, cfg Config) (*Connection, error) {
	charset, err := cfg.defaults()
	if err != nil {
		return nil, err
	}
	dpb, err := cfg.createDPB()
	if err != nil {
		return nil, err
	}
	db, sv := api.CreateDatabase(cfg.Database, cfg.Dialect, dpb)
	if sv.Failed() {
		return nil, native.StatusError(api, sv, "Error while creating database:")
	}
	return newConnection(api, db, cfg, charset), nil
}

func newConnection(api native.API, db native.DBHandle, cfg Config, charset *codec.Charset) *Connection {
	c := &Connection{api: api, db: db, cfg: cfg, charset: charset}
	c.handle = connections.add(c)
	c.logger = cfg.Logger.With("component", "connection", "connection", c.handle)

	q := infobuf.NewQuerier(api, cfg.Logger)
	q.Initial = cfg.InfoBufferSize
	q.Max = cfg.InfoBufferMax
	q.OnRegrow = cfg.Metrics.InfoRegrown
	c.querier = q

	c.main = newTransaction([]*Connection{c}, cfg.TPB, c.handle).handle
	c.query = newTransaction([]*Connection{c}, ReadOnlyTPB, c.handle).handle
	c.transactions = []Handle{c.main, c.query}
	c.logger.Debug("Attached database", "database", cfg.Database)
	return c
}

// Handle returns the arena handle of c.
func (c *Connection) Handle() Handle { return c.handle }

// Native returns the engine attachment handle.
func (c *Connection) Native() native.DBHandle { return c.db }

// API returns the native interface the connection talks through.
func (c *Connection) API() native.API { return c.api }

// Charset returns the connection character set.
func (c *Connection) Charset() *codec.Charset { return c.charset }

// Dialect returns the SQL dialect.
func (c *Connection) Dialect() int { return c.cfg.Dialect }

// Closed reports whether Close or Drop has been called.
func (c *Connection) Closed() bool { return c.closed }

func (c *Connection) checkOpen() error {
	if c.closed {
		return dberr.NewInterfaceError("connection is closed")
	}
	return nil
}

func (c *Connection) transaction(h Handle) (*Transaction, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	t, ok := transactions.get(h)
	if !ok {
		return nil, dberr.NewInterfaceError("transaction %d is closed", h)
	}
	return t, nil
}

// MainTransaction returns the default transaction of the connection.
func (c *Connection) MainTransaction() (*Transaction, error) {
	return c.transaction(c.main)
}

// QueryTransaction returns the read-only transaction used for
// introspection.
func (c *Connection) QueryTransaction() (*Transaction, error) {
	return c.transaction(c.query)
}

// Transactions returns every live transaction the connection takes part
// in, the main and query transactions first.
func (c *Connection) Transactions() []*Transaction {
	return transactions.resolve(c.transactions)
}

// NewTransaction creates an additional transaction on this connection.
func (c *Connection) NewTransaction(tpb []byte) (*Transaction, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return NewTransaction([]*Connection{c}, tpb)
}

// Cursor opens a cursor bound to the main transaction.
func (c *Connection) Cursor() (*Cursor, error) {
	t, err := c.MainTransaction()
	if err != nil {
		return nil, err
	}
	return t.Cursor(c)
}

// InternalCursor returns the connection's cursor on the read-only
// transaction, creating it on first use.
func (c *Connection) InternalCursor() (*Cursor, error) {
	if c.internal != nil && !c.internal.closed {
		return c.internal, nil
	}
	t, err := c.QueryTransaction()
	if err != nil {
		return nil, err
	}
	cur, err := t.Cursor(c)
	if err != nil {
		return nil, err
	}
	c.internal = cur
	return cur, nil
}

// SetIntrospector attaches a helper closed before anything else when the
// connection closes.
func (c *Connection) SetIntrospector(i Introspector) {
	c.introspector = i
}

// Group returns the group the connection belongs to, if any.
func (c *Connection) Group() (*ConnectionGroup, bool) {
	if c.group == 0 {
		return nil, false
	}
	return groups.get(c.group)
}

func (c *Connection) checkNotGrouped(op string) error {
	if c.group != 0 && groups.alive(c.group) {
		return dberr.NewInterfaceError("cannot %s on a connection that belongs to a group; use the group", op)
	}
	return nil
}

// Begin starts the main transaction.
func (c *Connection) Begin(tpb []byte) error {
	if err := c.checkNotGrouped("begin"); err != nil {
		return err
	}
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.Begin(tpb)
}

// Commit commits the main transaction.
func (c *Connection) Commit(retaining bool) error {
	if err := c.checkNotGrouped("commit"); err != nil {
		return err
	}
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.Commit(retaining)
}

// Rollback rolls back the main transaction.
func (c *Connection) Rollback(retaining bool) error {
	if err := c.checkNotGrouped("rollback"); err != nil {
		return err
	}
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.Rollback(retaining)
}

// RollbackTo rolls the main transaction back to a savepoint.
func (c *Connection) RollbackTo(savepoint string) error {
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.RollbackTo(savepoint)
}

// Savepoint creates a savepoint in the main transaction.
func (c *Connection) Savepoint(name string) error {
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.Savepoint(name)
}

// Prepare runs the first commit phase of the main transaction.
func (c *Connection) Prepare() error {
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.Prepare()
}

// ExecuteImmediate runs sql in the main transaction without preparing it.
func (c *Connection) ExecuteImmediate(sql string) error {
	t, err := c.MainTransaction()
	if err != nil {
		return err
	}
	return t.ExecuteImmediate(sql)
}

// EventConduit registers for the named events. Call Begin on the result
// to start receiving notifications.
func (c *Connection) EventConduit(names ...string) (*events.Conduit, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	conduit, err := events.New(c.api, c.db, names, events.Options{
		Logger:  c.cfg.Logger,
		Metrics: c.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	live := c.conduits[:0]
	for _, ec := range c.conduits {
		if !ec.Closed() {
			live = append(live, ec)
		}
	}
	c.conduits = append(live, conduit)
	return conduit, nil
}

// Close closes the introspector, the internal cursor, every event conduit
// and every transaction, in that order, then detaches. Active transactions
// are resolved with their default action. Every step runs even when an
// earlier one fails; the failures are returned together.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	err := c.teardown()
	if sv := c.api.DetachDatabase(c.db); sv.Failed() {
		err = multierr.Append(err, native.StatusError(c.api, sv, "Error while detaching from database:"))
	}
	c.release()
	c.logger.Debug("Detached database")
	return err
}

// Drop closes the connection and deletes the database.
func (c *Connection) Drop() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := c.teardown()
	if sv := c.api.DropDatabase(c.db); sv.Failed() {
		return multierr.Append(err, native.StatusError(c.api, sv, "Error while dropping database:"))
	}
	c.release()
	c.logger.Debug("Dropped database")
	return err
}

func (c *Connection) teardown() error {
	var err error
	if c.introspector != nil {
		err = multierr.Append(err, c.introspector.Close())
		c.introspector = nil
	}
	if c.internal != nil {
		err = multierr.Append(err, c.internal.Close())
		c.internal = nil
	}
	for _, ec := range c.conduits {
		err = multierr.Append(err, ec.Close())
	}
	c.conduits = nil
	// Extra transactions first, then the query and main transactions.
	ts := c.Transactions()
	for i := len(ts) - 1; i >= 0; i-- {
		err = multierr.Append(err, ts[i].Close())
	}
	if g, ok := c.Group(); ok {
		err = multierr.Append(err, g.Remove(c))
	}
	if err != nil {
		c.logger.Warn("Connection teardown was incomplete", "error", err)
	}
	return err
}

func (c *Connection) release() {
	c.closed = true
	c.transactions = nil
	connections.remove(c.handle)
}
