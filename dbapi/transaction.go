package dbapi

import (
	"log/slog"
	"regexp"

	"go.uber.org/multierr"

	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/infobuf"
	"github.com/tomyedwab/fbdriver/metrics"
	"github.com/tomyedwab/fbdriver/native"
)

var identifier = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_$]*|"[^"]+")$`)

// Transaction is a logical transaction over one to MaxAttachments
// attachments. It starts a physical transaction on Begin, or implicitly on
// first use, and ends it on a non-retaining Commit or Rollback.
type Transaction struct {
	handle  Handle
	conns   []Handle
	owner   Handle
	group   Handle
	api     native.API
	tpb     []byte
	action  Action
	dialect int

	tr       native.TrHandle
	active   bool
	prepared bool
	closed   bool
	cursors  []Handle

	querier *infobuf.Querier
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewTransaction creates a transaction spanning conns. tpb nil uses the
// first connection's default parameters. The transaction is not started.
func NewTransaction(conns []*Connection, tpb []byte) (*Transaction, error) {
	if len(conns) == 0 {
		return nil, dberr.NewInterfaceError("a transaction needs at least one connection")
	}
	if len(conns) > MaxAttachments {
		return nil, dberr.NewInterfaceError("a transaction can span at most %d connections, got %d", MaxAttachments, len(conns))
	}
	seen := make(map[Handle]bool, len(conns))
	for _, c := range conns {
		if c == nil || c.closed {
			return nil, dberr.NewInterfaceError("cannot create a transaction on a closed connection")
		}
		if seen[c.handle] {
			return nil, dberr.NewInterfaceError("connection %d appears twice in the transaction", c.handle)
		}
		seen[c.handle] = true
	}
	t := newTransaction(conns, tpb, 0)
	for _, c := range conns {
		c.transactions = append(c.transactions, t.handle)
	}
	return t, nil
}

func newTransaction(conns []*Connection, tpb []byte, owner Handle) *Transaction {
	first := conns[0]
	if tpb == nil {
		tpb = first.cfg.TPB
	}
	t := &Transaction{
		owner:   owner,
		api:     first.api,
		tpb:     tpb,
		action:  first.cfg.DefaultAction,
		dialect: first.cfg.Dialect,
		querier: first.querier,
		metrics: first.cfg.Metrics,
	}
	for _, c := range conns {
		t.conns = append(t.conns, c.handle)
	}
	t.handle = transactions.add(t)
	t.logger = first.cfg.Logger.With("component", "transaction", "transaction", t.handle)
	return t
}

// Handle returns the arena handle of t.
func (t *Transaction) Handle() Handle { return t.handle }

// Active reports whether a physical transaction is running.
func (t *Transaction) Active() bool { return t.active }

// Closed reports whether the transaction has been closed for good.
func (t *Transaction) Closed() bool { return t.closed }

// Native returns the physical transaction handle, zero when inactive.
func (t *Transaction) Native() native.TrHandle { return t.tr }

// DefaultAction is how Begin and Close resolve a still active transaction.
func (t *Transaction) DefaultAction() Action { return t.action }

// SetDefaultAction changes the default resolution.
func (t *Transaction) SetDefaultAction(a Action) { t.action = a }

// TPB returns the default transaction parameters.
func (t *Transaction) TPB() []byte { return t.tpb }

// Connections returns the live connections the transaction spans.
func (t *Transaction) Connections() []*Connection {
	return connections.resolve(t.conns)
}

// Cursors returns the live cursors opened under the transaction.
func (t *Transaction) Cursors() []*Cursor {
	return cursors.resolve(t.cursors)
}

func (t *Transaction) checkOpen() error {
	if t.closed {
		return dberr.NewInterfaceError("transaction is closed")
	}
	return nil
}

func (t *Transaction) liveConnections() ([]*Connection, error) {
	conns := t.Connections()
	if len(conns) != len(t.conns) {
		return nil, dberr.NewInterfaceError("a connection of the transaction has been closed")
	}
	for _, c := range conns {
		if c.closed {
			return nil, dberr.NewInterfaceError("a connection of the transaction has been closed")
		}
	}
	return conns, nil
}

// Begin starts a physical transaction. A transaction still active is first
// resolved with the default action. tpb nil uses the default parameters.
func (t *Transaction) Begin(tpb []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.active {
		if err := t.end(t.action); err != nil {
			return err
		}
	}
	conns, err := t.liveConnections()
	if err != nil {
		return err
	}
	if tpb == nil {
		tpb = t.tpb
	}

	var h native.TrHandle
	var sv native.StatusVector
	if len(conns) == 1 {
		h, sv = t.api.StartTransaction(conns[0].db, tpb)
	} else {
		tebs := make([]native.TEB, len(conns))
		for i, c := range conns {
			tebs[i] = native.TEB{DB: c.db, TPB: append([]byte(nil), tpb...)}
		}
		h, sv = t.api.StartMultiple(tebs)
	}
	if sv.Failed() {
		return native.StatusError(t.api, sv, "Error while starting transaction:")
	}
	t.tr = h
	t.active = true
	t.prepared = false
	t.logger.Debug("Started transaction", "attachments", len(conns))
	return nil
}

func (t *Transaction) ensureActive() error {
	if t.active {
		return nil
	}
	return t.Begin(nil)
}

func (t *Transaction) end(a Action) error {
	if a == Rollback {
		return t.Rollback(false)
	}
	return t.Commit(false)
}

// Prepare runs the first phase of a two-phase commit. It is a no-op on an
// inactive or already prepared transaction.
func (t *Transaction) Prepare() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if !t.active || t.prepared {
		return nil
	}
	if sv := t.api.PrepareTransaction(t.tr); sv.Failed() {
		return native.StatusError(t.api, sv, "Error while preparing transaction:")
	}
	t.prepared = true
	t.logger.Debug("Prepared transaction")
	return nil
}

// Commit commits the transaction. With retaining the physical transaction
// and its snapshot stay active. Committing an inactive transaction is a
// no-op. A transaction spanning several attachments is prepared first.
func (t *Transaction) Commit(retaining bool) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if !t.active {
		return nil
	}
	if retaining {
		if sv := t.api.CommitRetaining(t.tr); sv.Failed() {
			return native.StatusError(t.api, sv, "Error while committing transaction:")
		}
		t.metrics.TransactionResolved("commit_retaining")
		t.logger.Debug("Committed transaction", "retaining", true)
		return nil
	}

	closeErr := t.closeCursors()
	if len(t.conns) > 1 {
		if err := t.Prepare(); err != nil {
			return multierr.Append(closeErr, err)
		}
	}
	if sv := t.api.CommitTransaction(t.tr); sv.Failed() {
		return multierr.Append(closeErr, native.StatusError(t.api, sv, "Error while committing transaction:"))
	}
	t.finish()
	t.metrics.TransactionResolved("commit")
	t.logger.Debug("Committed transaction", "retaining", false)
	return closeErr
}

// Rollback rolls the transaction back. With retaining the physical
// transaction stays active. Rolling back an inactive transaction is a no-op.
func (t *Transaction) Rollback(retaining bool) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if !t.active {
		return nil
	}
	if retaining {
		if sv := t.api.RollbackRetaining(t.tr); sv.Failed() {
			return native.StatusError(t.api, sv, "Error while rolling back transaction:")
		}
		t.metrics.TransactionResolved("rollback_retaining")
		t.logger.Debug("Rolled back transaction", "retaining", true)
		return nil
	}

	closeErr := t.closeCursors()
	if sv := t.api.RollbackTransaction(t.tr); sv.Failed() {
		return multierr.Append(closeErr, native.StatusError(t.api, sv, "Error while rolling back transaction:"))
	}
	t.finish()
	t.metrics.TransactionResolved("rollback")
	t.logger.Debug("Rolled back transaction", "retaining", false)
	return closeErr
}

func (t *Transaction) finish() {
	t.tr = 0
	t.active = false
	t.prepared = false
}

// Savepoint creates a named savepoint, starting the transaction if needed.
func (t *Transaction) Savepoint(name string) error {
	if !identifier.MatchString(name) {
		return dberr.NewInterfaceError("invalid savepoint name %q", name)
	}
	return t.ExecuteImmediate("SAVEPOINT " + name)
}

// RollbackTo undoes the work done since savepoint name. The transaction
// stays active.
func (t *Transaction) RollbackTo(name string) error {
	if !identifier.MatchString(name) {
		return dberr.NewInterfaceError("invalid savepoint name %q", name)
	}
	if !t.active {
		return dberr.NewInterfaceError("cannot roll back to savepoint %s: transaction is not active", name)
	}
	return t.ExecuteImmediate("ROLLBACK TO SAVEPOINT " + name)
}

// ExecuteImmediate runs sql without preparing it, on every attachment,
// starting the transaction if needed.
func (t *Transaction) ExecuteImmediate(sql string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	conns, err := t.liveConnections()
	if err != nil {
		return err
	}
	if err := t.ensureActive(); err != nil {
		return err
	}
	for _, c := range conns {
		if sv := t.api.ExecuteImmediate(c.db, t.tr, sql, t.dialect); sv.Failed() {
			return native.StatusError(t.api, sv, "Error while executing SQL statement:")
		}
	}
	return nil
}

// Cursor opens a cursor bound to this transaction on conn. conn may be nil
// when the transaction spans a single connection.
func (t *Transaction) Cursor(conn *Connection) (*Cursor, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	conns, err := t.liveConnections()
	if err != nil {
		return nil, err
	}
	if conn == nil {
		if len(conns) != 1 {
			return nil, dberr.NewInterfaceError("a transaction spanning %d connections needs an explicit connection for a cursor", len(conns))
		}
		conn = conns[0]
	}
	member := false
	for _, c := range conns {
		if c == conn {
			member = true
		}
	}
	if !member {
		return nil, dberr.NewInterfaceError("connection %d is not part of the transaction", conn.handle)
	}
	cur := newCursor(conn, t)
	t.cursors = append(t.cursors, cur.handle)
	return cur, nil
}

// closeCursors releases the result sets of every cursor under t. All
// cursors are given the chance to close before the first error returns.
func (t *Transaction) closeCursors() error {
	var err error
	for _, c := range t.Cursors() {
		err = multierr.Append(err, c.closeResults())
	}
	return err
}

// Close resolves an active transaction with the default action and closes
// every cursor opened under it. A closed transaction cannot be reused.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	var err error
	if t.active {
		err = t.end(t.action)
		if err != nil && t.active {
			t.logger.Warn("Failed to resolve transaction on close, rolling back", "error", err)
			if sv := t.api.RollbackTransaction(t.tr); sv.Failed() {
				err = multierr.Append(err, native.StatusError(t.api, sv, "Error while rolling back transaction:"))
			}
			t.finish()
		}
	}
	for _, c := range t.Cursors() {
		err = multierr.Append(err, c.Close())
	}
	t.cursors = nil
	for _, c := range t.Connections() {
		c.transactions = removeHandle(c.transactions, t.handle)
	}
	t.closed = true
	transactions.remove(t.handle)
	return err
}

func (t *Transaction) forgetCursor(h Handle) {
	t.cursors = removeHandle(t.cursors, h)
}

func (t *Transaction) info(code byte) (native.InfoItem, error) {
	if !t.active {
		return native.InfoItem{}, dberr.NewInterfaceError("transaction is not active")
	}
	item, ok, err := t.querier.Single("Error while requesting transaction information:", code,
		func(items []byte, n int) ([]byte, native.StatusVector) {
			return t.api.TransactionInfo(t.tr, items, n)
		})
	if err != nil {
		return native.InfoItem{}, err
	}
	if !ok {
		return native.InfoItem{}, dberr.NewInternalError("transaction info code %d was not answered", code)
	}
	return item, nil
}

// TransactionID returns the engine id of the active transaction.
func (t *Transaction) TransactionID() (int64, error) {
	item, err := t.info(native.InfoTraID)
	if err != nil {
		return 0, err
	}
	return item.Int(), nil
}

// IsolationLevel returns the isolation of the active transaction.
func (t *Transaction) IsolationLevel() (Isolation, error) {
	item, err := t.info(native.InfoTraIsolation)
	if err != nil {
		return 0, err
	}
	if len(item.Data) == 0 {
		return 0, dberr.NewInternalError("empty isolation answer")
	}
	switch item.Data[0] {
	case native.InfoTraConsistency:
		return Consistency, nil
	case native.InfoTraConcurrency:
		return Concurrency, nil
	case native.InfoTraReadCommitted:
		if len(item.Data) > 1 && item.Data[1] == native.InfoTraNoRecVersion {
			return ReadCommittedNoRecVersion, nil
		}
		return ReadCommitted, nil
	}
	return 0, dberr.NewInternalError("unknown isolation answer %d", item.Data[0])
}

// ReadOnly reports whether the active transaction is read-only.
func (t *Transaction) ReadOnly() (bool, error) {
	item, err := t.info(native.InfoTraAccess)
	if err != nil {
		return false, err
	}
	return item.Int() == int64(native.InfoTraReadOnly), nil
}

// LockTimeout returns the lock timeout in seconds, -1 for an unbounded wait
// and 0 for no wait.
func (t *Transaction) LockTimeout() (int64, error) {
	item, err := t.info(native.InfoTraLockTimeout)
	if err != nil {
		return 0, err
	}
	return item.Int(), nil
}
