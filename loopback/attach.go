package loopback

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/native"
)

const systemSchema = `
CREATE TABLE IF NOT EXISTS RDB$DATABASE (
	RDB$RELATION_ID SMALLINT,
	RDB$DESCRIPTION VARCHAR(255)
);
INSERT INTO RDB$DATABASE (RDB$RELATION_ID)
SELECT 128 WHERE NOT EXISTS (SELECT 1 FROM RDB$DATABASE);
CREATE TABLE IF NOT EXISTS RDB$BLOBS (
	RDB$BLOB_ID INTEGER PRIMARY KEY AUTOINCREMENT,
	RDB$BLOB_TYPE SMALLINT NOT NULL
);
CREATE TABLE IF NOT EXISTS RDB$BLOB_SEGMENTS (
	RDB$BLOB_ID INTEGER NOT NULL,
	RDB$SEQ INTEGER NOT NULL,
	RDB$DATA BLOB,
	PRIMARY KEY (RDB$BLOB_ID, RDB$SEQ)
);
CREATE TABLE IF NOT EXISTS RDB$ARRAYS (
	RDB$ARRAY_ID INTEGER PRIMARY KEY AUTOINCREMENT,
	RDB$DATA BLOB
);
CREATE TABLE IF NOT EXISTS RDB$ARRAY_FIELDS (
	RDB$RELATION_NAME VARCHAR(63) NOT NULL,
	RDB$FIELD_NAME VARCHAR(63) NOT NULL,
	RDB$DTYPE SMALLINT NOT NULL,
	RDB$SCALE SMALLINT NOT NULL DEFAULT 0,
	RDB$LENGTH SMALLINT NOT NULL,
	RDB$BOUNDS VARCHAR(255) NOT NULL,
	PRIMARY KEY (RDB$RELATION_NAME, RDB$FIELD_NAME)
);
`

// ioStats are the page I/O counters of one attachment. The engine counts
// statement executions as reads, committed changes as writes, fetched rows
// as fetches and changed rows as marks.
type ioStats struct {
	reads   atomic.Int64
	writes  atomic.Int64
	fetches atomic.Int64
	marks   atomic.Int64
}

type attachment struct {
	handle  native.DBHandle
	id      int64
	path    string
	file    string
	db      *sqlx.DB
	dialect int
	user    string
	role    string
	charset *codec.Charset
	stats   ioStats
}

type dpbOptions struct {
	user     string
	password string
	role     string
	charset  string
	dialect  int
	pageSize int64
	buffers  int64
}

func parseDPB(dpb []byte) (dpbOptions, error) {
	opts := dpbOptions{dialect: 3}
	_, items, err := native.ParseDPB(dpb)
	if err != nil {
		return opts, err
	}
	for _, it := range items {
		switch it.Code {
		case native.DPBUserName:
			opts.user = string(it.Value)
		case native.DPBPassword:
			opts.password = string(it.Value)
		case native.DPBSQLRoleName:
			opts.role = string(it.Value)
		case native.DPBLCCtype:
			opts.charset = string(it.Value)
		case native.DPBSQLDialect:
			opts.dialect = int(it.Int())
		case native.DPBPageSize:
			opts.pageSize = it.Int()
		case native.DPBNumBuffers:
			opts.buffers = it.Int()
		}
	}
	return opts, nil
}

// dsn builds the SQLite URI of path. Settings that SQLite keeps per
// connection go into the URI so every pooled connection carries them.
func dsn(path, mode string, busy time.Duration, buffers int64) string {
	v := url.Values{}
	v.Set("mode", mode)
	v.Set("_journal_mode", "WAL")
	v.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	if buffers > 0 {
		v.Set("_cache_size", strconv.FormatInt(buffers, 10))
	}
	return "file:" + path + "?" + v.Encode()
}

// AttachDatabase opens an existing database file.
func (e *Engine) AttachDatabase(path string, dpb []byte) (native.DBHandle, native.StatusVector) {
	if _, err := os.Stat(path); err != nil {
		return 0, native.NewStatus(native.GDSIOError, "open", path).Append(native.GDSRandom, err.Error())
	}
	return e.open(path, dpb, "rw", false)
}

// CreateDatabase creates a database file and attaches to it. The file must
// not exist yet.
func (e *Engine) CreateDatabase(path string, dialect int, dpb []byte) (native.DBHandle, native.StatusVector) {
	if _, err := os.Stat(path); err == nil {
		return 0, native.NewStatus(native.GDSIOError, "create", path).Append(native.GDSRandom, "database file exists")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, native.NewStatus(native.GDSIOError, "create", path).Append(native.GDSRandom, err.Error())
	}
	h, sv := e.open(path, dpb, "rwc", true)
	if sv.Failed() {
		return 0, sv
	}
	if dialect != 0 {
		a, _ := e.attachment(h)
		a.dialect = dialect
	}
	return h, sv
}

func (e *Engine) open(path string, dpb []byte, mode string, create bool) (native.DBHandle, native.StatusVector) {
	opts, err := parseDPB(dpb)
	if err != nil {
		return 0, native.NewStatus(native.GDSRandom, err.Error())
	}
	if e.opts.Users != nil {
		if pw, ok := e.opts.Users[strings.ToUpper(opts.user)]; !ok || pw != opts.password {
			return 0, native.NewStatus(native.GDSLogin)
		}
	}
	cs, err := codec.LookupCharset(opts.charset)
	if opts.charset == "" {
		cs, err = codec.LookupCharset("NONE")
	}
	if err != nil {
		return 0, native.NewStatus(native.GDSRandom, fmt.Sprintf("character set %s is not defined", opts.charset))
	}

	db, err := sqlx.Open(driverName, dsn(path, mode, e.opts.BusyTimeout, opts.buffers))
	if err != nil {
		return 0, native.NewStatus(native.GDSIOError, "open", path).Append(native.GDSRandom, err.Error())
	}
	if create && opts.pageSize > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA page_size = %d", opts.pageSize)); err != nil {
			db.Close()
			return 0, sqliteStatus(err)
		}
	}
	if err := bootstrap(db); err != nil {
		db.Close()
		return 0, native.NewStatus(native.GDSIOError, "open", path).Append(native.GDSRandom, err.Error())
	}
	file, err := filename(db)
	if err != nil {
		db.Close()
		return 0, sqliteStatus(err)
	}

	a := &attachment{
		path:    path,
		file:    file,
		db:      db,
		dialect: opts.dialect,
		user:    strings.ToUpper(opts.user),
		role:    strings.ToUpper(opts.role),
		charset: cs,
	}
	e.mu.Lock()
	a.handle = native.DBHandle(e.nextHandle())
	a.id = int64(a.handle)
	e.atts[a.handle] = a
	e.mu.Unlock()
	e.logger.Debug("Attached database", "path", path, "attachment", a.id)
	return a.handle, native.OK()
}

func bootstrap(db *sqlx.DB) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(systemSchema); err != nil {
		return err
	}
	return tx.Commit()
}

// filename asks SQLite for the file name it resolved path to. Row
// operation counters are keyed by it.
func filename(db *sqlx.DB) (string, error) {
	conn, err := db.Connx(ctx())
	if err != nil {
		return "", err
	}
	defer conn.Close()
	var file string
	err = conn.Raw(func(dc any) error {
		file = dc.(*sqlite3.SQLiteConn).GetFilename("")
		return nil
	})
	return file, err
}

// DetachDatabase closes an attachment. It fails while transactions are
// still open on it.
func (e *Engine) DetachDatabase(db native.DBHandle) native.StatusVector {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return sv
	}
	e.mu.Lock()
	open := 0
	for _, t := range e.trs {
		for _, p := range t.parts {
			if p.att == a {
				open++
			}
		}
	}
	if open > 0 {
		e.mu.Unlock()
		return native.NewStatus(native.GDSOpenTrans, open)
	}
	e.release(a)
	e.mu.Unlock()

	if err := a.db.Close(); err != nil {
		return sqliteStatus(err)
	}
	e.logger.Debug("Detached database", "path", a.path, "attachment", a.id)
	return native.OK()
}

// release forgets every statement, blob and event registration of a.
// e.mu is held.
func (e *Engine) release(a *attachment) {
	for h, s := range e.stmts {
		if s.att == a {
			s.closeRows()
			delete(e.stmts, h)
		}
	}
	for h, b := range e.blobs {
		if b.part.att == a {
			delete(e.blobs, h)
		}
	}
	for id, r := range e.events {
		if r.db == a.handle {
			delete(e.events, id)
		}
	}
	delete(e.atts, a.handle)
}

// DropDatabase detaches and deletes the database file. Other attachments
// to the same file make it fail.
func (e *Engine) DropDatabase(db native.DBHandle) native.StatusVector {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return sv
	}
	e.mu.Lock()
	others := 0
	for _, o := range e.atts {
		if o != a && o.file == a.file {
			others++
		}
	}
	e.mu.Unlock()
	if others > 0 {
		return native.NewStatus(native.GDSLockConflict).
			Append(native.GDSRandom, fmt.Sprintf("database %s is in use by %d other attachments", a.path, others))
	}
	if sv := e.DetachDatabase(db); sv.Failed() {
		return sv
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(a.path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return native.NewStatus(native.GDSIOError, "delete", a.path+suffix).Append(native.GDSRandom, err.Error())
		}
	}
	forgetFile(a.file)
	e.mu.Lock()
	delete(e.posted, a.file)
	e.mu.Unlock()
	return native.OK()
}
