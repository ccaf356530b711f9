package loopback

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/fbdriver/native"
)

type transaction struct {
	handle native.TrHandle
	id     int64
	parts  []*part

	isolation  byte
	recVersion byte
	readOnly   bool
	// lockTimeout is in seconds; -1 waits with the engine's busy timeout
	// and 0 fails at once.
	lockTimeout int64
	immediate   bool
	prepared    bool
}

// part is the piece of a transaction running on one attachment. It owns a
// dedicated SQLite connection for the lifetime of the transaction.
type part struct {
	tr   *transaction
	att  *attachment
	conn *sqlx.Conn
	// raw identifies the connection to the SQLite hooks.
	raw *sqlite3.SQLiteConn
}

func parseTPB(tpb []byte, t *transaction) native.StatusVector {
	t.isolation = native.InfoTraConcurrency
	t.recVersion = native.InfoTraRecVersion
	t.lockTimeout = -1
	items, err := native.ParseTPB(tpb)
	if err != nil {
		return native.NewStatus(native.GDSRandom, err.Error())
	}
	for _, it := range items {
		switch it.Code {
		case native.TPBConsistency:
			t.isolation = native.InfoTraConsistency
		case native.TPBConcurrency:
			t.isolation = native.InfoTraConcurrency
		case native.TPBReadCommitted:
			t.isolation = native.InfoTraReadCommitted
		case native.TPBRecVersion:
			t.recVersion = native.InfoTraRecVersion
		case native.TPBNoRecVersion:
			t.recVersion = native.InfoTraNoRecVersion
		case native.TPBRead:
			t.readOnly = true
		case native.TPBWrite:
			t.readOnly = false
		case native.TPBNoWait:
			t.lockTimeout = 0
		case native.TPBWait:
			if t.lockTimeout == 0 {
				t.lockTimeout = -1
			}
		case native.TPBLockTimeout:
			t.lockTimeout = it.Int()
		case native.TPBLockWrite:
			t.immediate = true
		}
	}
	if t.isolation == native.InfoTraConsistency {
		t.immediate = true
	}
	if t.readOnly {
		t.immediate = false
	}
	return native.OK()
}

func (t *transaction) busyMillis(e *Engine) int64 {
	if t.lockTimeout < 0 {
		return e.opts.BusyTimeout.Milliseconds()
	}
	return t.lockTimeout * 1000
}

// StartTransaction starts a transaction on one attachment.
func (e *Engine) StartTransaction(db native.DBHandle, tpb []byte) (native.TrHandle, native.StatusVector) {
	return e.StartMultiple([]native.TEB{{DB: db, TPB: tpb}})
}

// StartMultiple starts one transaction spanning every attachment in tebs.
// The parameters of the first entry apply to the whole transaction.
func (e *Engine) StartMultiple(tebs []native.TEB) (native.TrHandle, native.StatusVector) {
	if len(tebs) == 0 {
		return 0, native.NewStatus(native.GDSRandom, "no attachments given for transaction")
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, native.NewStatus(native.GDSUnavailable)
	}

	t := &transaction{}
	if sv := parseTPB(tebs[0].TPB, t); sv.Failed() {
		return 0, sv
	}
	for _, teb := range tebs {
		a, sv := e.attachment(teb.DB)
		if sv.Failed() {
			e.abandon(t)
			return 0, sv
		}
		p, sv := e.begin(t, a)
		if sv.Failed() {
			e.abandon(t)
			return 0, sv
		}
		t.parts = append(t.parts, p)
	}

	e.mu.Lock()
	t.handle = native.TrHandle(e.nextHandle())
	t.id = e.nextTx
	e.nextTx++
	e.trs[t.handle] = t
	e.mu.Unlock()
	e.logger.Debug("Started transaction", "transaction", t.id, "attachments", len(t.parts))
	return t.handle, native.OK()
}

// begin checks out a connection of a and starts t on it.
func (e *Engine) begin(t *transaction, a *attachment) (*part, native.StatusVector) {
	conn, err := a.db.Connx(ctx())
	if err != nil {
		return nil, sqliteStatus(err)
	}
	p := &part{tr: t, att: a, conn: conn}
	if err := conn.Raw(func(dc any) error {
		p.raw = dc.(*sqlite3.SQLiteConn)
		return nil
	}); err != nil {
		conn.Close()
		return nil, sqliteStatus(err)
	}
	stmts := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", t.busyMillis(e))}
	if t.readOnly {
		stmts = append(stmts, "PRAGMA query_only = ON")
	}
	if t.immediate {
		stmts = append(stmts, "BEGIN IMMEDIATE")
	} else {
		stmts = append(stmts, "BEGIN")
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx(), s); err != nil {
			e.releasePart(p)
			return nil, sqliteStatus(err)
		}
	}
	takePosted(p.raw)
	return p, native.OK()
}

// releasePart restores the connection settings of p and hands the
// connection back to the pool.
func (e *Engine) releasePart(p *part) {
	reset := fmt.Sprintf("PRAGMA busy_timeout = %d", e.opts.BusyTimeout.Milliseconds())
	if _, err := p.conn.ExecContext(ctx(), reset); err != nil {
		e.logger.Warn("Failed to reset connection", "error", err)
	}
	if p.tr.readOnly {
		if _, err := p.conn.ExecContext(ctx(), "PRAGMA query_only = OFF"); err != nil {
			e.logger.Warn("Failed to reset connection", "error", err)
		}
	}
	if err := p.conn.Close(); err != nil {
		e.logger.Warn("Failed to release connection", "error", err)
	}
}

// abandon rolls back the parts of a transaction that never registered.
func (e *Engine) abandon(t *transaction) {
	for _, p := range t.parts {
		p.conn.ExecContext(ctx(), "ROLLBACK")
		takePosted(p.raw)
		e.releasePart(p)
	}
	t.parts = nil
}

// endCursors closes the result sets of statements executed under t and
// drops the blobs opened in it.
func (e *Engine) endCursors(t *transaction, blobs bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.stmts {
		if s.part != nil && s.part.tr == t {
			s.closeRows()
			s.part = nil
		}
	}
	if !blobs {
		return
	}
	for h, b := range e.blobs {
		if b.part.tr == t {
			delete(e.blobs, h)
		}
	}
}

// resolve runs COMMIT or ROLLBACK on every part still held by t. Parts
// that finished are released, so a failure leaves only the unresolved
// parts in t.
func (e *Engine) resolve(t *transaction, commit bool) native.StatusVector {
	verb := "ROLLBACK"
	if commit {
		verb = "COMMIT"
	}
	for len(t.parts) > 0 {
		p := t.parts[0]
		if _, err := p.conn.ExecContext(ctx(), verb); err != nil {
			if commit || !strings.Contains(err.Error(), "no transaction is active") {
				return sqliteStatus(err)
			}
		}
		posted := takePosted(p.raw)
		e.releasePart(p)
		t.parts = t.parts[1:]
		if commit {
			p.att.stats.writes.Add(1)
			if len(posted) > 0 {
				e.deliver(p.att.file, posted)
			}
		}
	}
	return native.OK()
}

func (e *Engine) finish(t *transaction) {
	e.mu.Lock()
	delete(e.trs, t.handle)
	e.mu.Unlock()
	e.logger.Debug("Finished transaction", "transaction", t.id)
}

// CommitTransaction commits and ends a transaction.
func (e *Engine) CommitTransaction(tr native.TrHandle) native.StatusVector {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return sv
	}
	e.endCursors(t, true)
	if sv := e.resolve(t, true); sv.Failed() {
		return sv
	}
	e.finish(t)
	return native.OK()
}

// RollbackTransaction rolls back and ends a transaction.
func (e *Engine) RollbackTransaction(tr native.TrHandle) native.StatusVector {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return sv
	}
	e.endCursors(t, true)
	if sv := e.resolve(t, false); sv.Failed() {
		return sv
	}
	e.finish(t)
	return native.OK()
}

// CommitRetaining commits the work of a transaction and keeps it running
// with its cursors open.
func (e *Engine) CommitRetaining(tr native.TrHandle) native.StatusVector {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return sv
	}
	t.prepared = false
	return e.retain(t, true)
}

// RollbackRetaining undoes the work of a transaction and keeps it running.
func (e *Engine) RollbackRetaining(tr native.TrHandle) native.StatusVector {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return sv
	}
	t.prepared = false
	e.endCursors(t, false)
	return e.retain(t, false)
}

// retain resolves every part of t and begins a new SQLite transaction on
// the same connection.
func (e *Engine) retain(t *transaction, commit bool) native.StatusVector {
	verb := "ROLLBACK"
	if commit {
		verb = "COMMIT"
	}
	begin := "BEGIN"
	if t.immediate {
		begin = "BEGIN IMMEDIATE"
	}
	for _, p := range t.parts {
		if _, err := p.conn.ExecContext(ctx(), verb); err != nil {
			return sqliteStatus(err)
		}
		posted := takePosted(p.raw)
		if _, err := p.conn.ExecContext(ctx(), begin); err != nil {
			return sqliteStatus(err)
		}
		if commit {
			p.att.stats.writes.Add(1)
			if len(posted) > 0 {
				e.deliver(p.att.file, posted)
			}
		}
	}
	return native.OK()
}

// PrepareTransaction runs the first commit phase. Work of a writing SQLite
// transaction in WAL mode already holds the write lock, so preparing only
// records the state.
func (e *Engine) PrepareTransaction(tr native.TrHandle) native.StatusVector {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return sv
	}
	t.prepared = true
	return native.OK()
}

// TransactionInfo answers transaction info requests.
func (e *Engine) TransactionInfo(tr native.TrHandle, items []byte, bufLen int) ([]byte, native.StatusVector) {
	t, sv := e.transaction(tr)
	if sv.Failed() {
		return nil, sv
	}
	w := native.NewInfoWriter(bufLen)
	for _, code := range items {
		if code == native.InfoEnd {
			break
		}
		switch code {
		case native.InfoTraID:
			w.AddInt(code, t.id, 4)
		case native.InfoTraIsolation:
			if t.isolation == native.InfoTraReadCommitted {
				w.Add(code, []byte{t.isolation, t.recVersion})
			} else {
				w.Add(code, []byte{t.isolation})
			}
		case native.InfoTraAccess:
			if t.readOnly {
				w.Add(code, []byte{native.InfoTraReadOnly})
			} else {
				w.Add(code, []byte{native.InfoTraReadWrite})
			}
		case native.InfoTraLockTimeout:
			w.AddInt(code, t.lockTimeout, 4)
		default:
			w.Add(native.InfoError, []byte{code})
		}
	}
	return w.Bytes(), native.OK()
}

// ExecuteImmediate runs sql on the connection of tr's part on db.
func (e *Engine) ExecuteImmediate(db native.DBHandle, tr native.TrHandle, sql string, dialect int) native.StatusVector {
	p, sv := e.part(db, tr)
	if sv.Failed() {
		return sv
	}
	an, sv := analyze(sql)
	if sv.Failed() {
		return sv
	}
	res, err := p.conn.ExecContext(ctx(), an.sql)
	if err != nil {
		return sqliteStatus(err)
	}
	p.att.stats.reads.Add(1)
	if n, err := res.RowsAffected(); err == nil && an.typ != native.StmtDDL {
		p.att.stats.marks.Add(n)
	}
	return native.OK()
}
