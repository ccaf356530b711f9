package loopback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
)

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := New(opts)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return e
}

func createDB(t *testing.T, e *Engine, name string) (native.DBHandle, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, sv := e.CreateDatabase(path, 3, dpb(t, "SYSDBA", "masterkey", "UTF8"))
	require.False(t, sv.Failed(), "create %s: %v", path, sv)
	return db, path
}

func dpb(t *testing.T, user, password, charset string) []byte {
	t.Helper()
	pb := native.NewParamBuffer(native.DPBVersion1).
		AddString(native.DPBUserName, user).
		AddString(native.DPBPassword, password)
	if charset != "" {
		pb.AddString(native.DPBLCCtype, charset)
	}
	b, err := pb.Bytes()
	require.NoError(t, err)
	return b
}

func writeTPB(t *testing.T) []byte {
	t.Helper()
	b, err := native.NewParamBuffer(native.TPBVersion3).
		AddFlag(native.TPBWrite).
		AddFlag(native.TPBConcurrency).
		AddFlag(native.TPBWait).
		Bytes()
	require.NoError(t, err)
	return b
}

func begin(t *testing.T, e *Engine, db native.DBHandle) native.TrHandle {
	t.Helper()
	tr, sv := e.StartTransaction(db, writeTPB(t))
	require.False(t, sv.Failed(), "start: %v", sv)
	return tr
}

func exec(t *testing.T, e *Engine, db native.DBHandle, tr native.TrHandle, sql string) {
	t.Helper()
	sv := e.ExecuteImmediate(db, tr, sql, 3)
	require.False(t, sv.Failed(), "%s: %v", sql, sv)
}

func commit(t *testing.T, e *Engine, tr native.TrHandle) {
	t.Helper()
	sv := e.CommitTransaction(tr)
	require.False(t, sv.Failed(), "commit: %v", sv)
}

// query prepares and runs sql, returning the decoded rows.
func query(t *testing.T, e *Engine, db native.DBHandle, tr native.TrHandle, sql string) [][]any {
	t.Helper()
	stmt, sv := e.AllocateStatement(db)
	require.False(t, sv.Failed())
	defer e.FreeStatement(stmt, native.DSQLDrop)

	out := descriptor.Allocate(8)
	require.False(t, e.PrepareStatement(tr, stmt, sql, 3, out).Failed())
	require.LessOrEqual(t, out.SQLD, out.SQLN)
	require.False(t, e.Execute(tr, stmt, 3, nil).Failed())

	conv := descriptor.Converter{Charset: utf8(t), Location: time.UTC}
	var rows [][]any
	for {
		n, sv := e.Fetch(stmt, 3, out)
		require.False(t, sv.Failed(), "fetch: %v", sv)
		if n == native.FetchNoMoreRows {
			return rows
		}
		row := make([]any, out.SQLD)
		for i := range row {
			v, err := conv.Decode(&out.Vars[i])
			require.NoError(t, err)
			row[i] = v
		}
		rows = append(rows, row)
	}
}

func utf8(t *testing.T) *codec.Charset {
	t.Helper()
	cs, err := codec.LookupCharset("UTF8")
	require.NoError(t, err)
	return cs
}

func message(e *Engine, sv native.StatusVector) string {
	return native.StatusError(e, sv, "").Error()
}

func TestCreateRejectsExistingFile(t *testing.T) {
	e := newEngine(t, Options{})
	_, path := createDB(t, e, "a.fdb")

	_, sv := e.CreateDatabase(path, 3, nil)
	require.True(t, sv.Failed())
	assert.Equal(t, native.GDSIOError, sv.Code())
}

func TestAttachMissingFile(t *testing.T) {
	e := newEngine(t, Options{})
	_, sv := e.AttachDatabase(filepath.Join(t.TempDir(), "missing.fdb"), nil)
	require.True(t, sv.Failed())
	assert.Equal(t, native.GDSIOError, sv.Code())
	assert.Equal(t, int32(-902), e.SQLCode(sv))
}

func TestLoginIsChecked(t *testing.T) {
	e := newEngine(t, Options{Users: map[string]string{"SYSDBA": "masterkey"}})
	db, path := createDB(t, e, "a.fdb")
	require.False(t, e.DetachDatabase(db).Failed())

	_, sv := e.AttachDatabase(path, dpb(t, "SYSDBA", "wrong", ""))
	require.True(t, sv.Failed())
	assert.Equal(t, native.GDSLogin, sv.Code())
	assert.Contains(t, message(e, sv), "user name and password")

	db, sv = e.AttachDatabase(path, dpb(t, "SYSDBA", "masterkey", ""))
	require.False(t, sv.Failed())
	require.False(t, e.DetachDatabase(db).Failed())
}

func TestDetachWithOpenTransactionFails(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)

	sv := e.DetachDatabase(db)
	require.True(t, sv.Failed())
	assert.Equal(t, native.GDSOpenTrans, sv.Code())

	require.False(t, e.RollbackTransaction(tr).Failed())
	require.False(t, e.DetachDatabase(db).Failed())
	assert.True(t, e.DetachDatabase(db).Failed(), "handle is gone after detach")
}

func TestDropNeedsSoleAttachment(t *testing.T) {
	e := newEngine(t, Options{})
	db, path := createDB(t, e, "a.fdb")
	other, sv := e.AttachDatabase(path, nil)
	require.False(t, sv.Failed())

	sv = e.DropDatabase(db)
	require.True(t, sv.Failed())
	assert.Equal(t, native.GDSLockConflict, sv.Code())

	require.False(t, e.DetachDatabase(other).Failed())
	require.False(t, e.DropDatabase(db).Failed())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSelectDescribesColumns(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	exec(t, e, db, tr, "CREATE TABLE ITEMS (ID INTEGER NOT NULL, NAME VARCHAR(10), PRICE NUMERIC(9,2), ADDED DATE)")

	stmt, sv := e.AllocateStatement(db)
	require.False(t, sv.Failed())
	out := descriptor.Allocate(1)
	require.False(t, e.PrepareStatement(tr, stmt, "SELECT ID, NAME, PRICE, ADDED FROM ITEMS", 3, out).Failed())
	assert.Equal(t, int16(4), out.SQLD, "too few slots still reports the field count")

	out = descriptor.Allocate(4)
	require.False(t, e.Describe(stmt, 3, out).Failed())
	want := []struct {
		typ      int16
		length   int16
		scale    int16
		nullable bool
	}{
		{native.SQLLong, 4, 0, false},
		{native.SQLVarying, 40, 0, true},
		{native.SQLLong, 4, -2, true},
		{native.SQLTypeDate, 4, 0, true},
	}
	for i, w := range want {
		v := out.Vars[i]
		assert.Equal(t, w.typ, v.BaseType(), "column %d", i)
		assert.Equal(t, w.nullable, v.Nullable(), "column %d", i)
		assert.Equal(t, w.length, v.SQLLen, "column %d", i)
		assert.Equal(t, w.scale, v.SQLScale, "column %d", i)
		assert.Equal(t, "ITEMS", v.RelName)
	}
	assert.Equal(t, "NAME", out.Vars[1].SQLName)

	info, sv := e.SQLInfo(stmt, []byte{native.InfoSQLStmtType, native.InfoEnd}, 64)
	require.False(t, sv.Failed())
	items, _, err := native.ParseInfo(info)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(native.StmtSelect), items[0].Int())

	require.False(t, e.FreeStatement(stmt, native.DSQLDrop).Failed())
	require.False(t, e.RollbackTransaction(tr).Failed())
}

func TestBoundInsertRoundTrip(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	exec(t, e, db, tr, "CREATE TABLE ITEMS (ID INTEGER NOT NULL, NAME VARCHAR(10), ADDED TIMESTAMP)")

	stmt, sv := e.AllocateStatement(db)
	require.False(t, sv.Failed())
	require.False(t, e.PrepareStatement(tr, stmt, "INSERT INTO ITEMS (ID, NAME, ADDED) VALUES (?, ?, ?)", 3, nil).Failed())
	in := descriptor.Allocate(3)
	require.False(t, e.DescribeBind(stmt, 3, in).Failed())
	require.Equal(t, int16(3), in.SQLD)
	assert.Equal(t, native.SQLLong, in.Vars[0].BaseType())
	assert.Equal(t, native.SQLVarying, in.Vars[1].BaseType())
	assert.Equal(t, native.SQLTimestamp, in.Vars[2].BaseType())

	conv := descriptor.Converter{Charset: utf8(t), Location: time.UTC}
	added := time.Date(2024, 2, 29, 13, 14, 15, 0, time.UTC)
	require.NoError(t, conv.Encode(&in.Vars[0], 7))
	require.NoError(t, conv.Encode(&in.Vars[1], "żółw"))
	require.NoError(t, conv.Encode(&in.Vars[2], added))
	require.False(t, e.Execute(tr, stmt, 3, in).Failed())

	info, sv := e.SQLInfo(stmt, []byte{native.InfoSQLRecords, native.InfoEnd}, 128)
	require.False(t, sv.Failed())
	items, _, err := native.ParseInfo(info)
	require.NoError(t, err)
	require.Len(t, items, 1)
	counts, _, err := native.ParseInfo(items[0].Data)
	require.NoError(t, err)
	found := false
	for _, c := range counts {
		if c.Code == native.InfoReqInsertCount {
			found = true
			assert.Equal(t, int64(1), c.Int())
		}
	}
	assert.True(t, found, "insert count reported")
	require.False(t, e.FreeStatement(stmt, native.DSQLDrop).Failed())

	rows := query(t, e, db, tr, "SELECT ID, NAME, ADDED FROM ITEMS")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0][0])
	assert.Equal(t, "żółw", rows[0][1])
	assert.True(t, added.Equal(rows[0][2].(time.Time)))
	commit(t, e, tr)
}

func TestFetchWithoutCursorFails(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	stmt, sv := e.AllocateStatement(db)
	require.False(t, sv.Failed())
	out := descriptor.Allocate(1)
	require.False(t, e.PrepareStatement(tr, stmt, "SELECT 1 FROM RDB$DATABASE", 3, out).Failed())

	_, sv = e.Fetch(stmt, 3, out)
	require.True(t, sv.Failed())
	assert.Equal(t, int32(-504), e.SQLCode(sv))
	require.False(t, e.RollbackTransaction(tr).Failed())
}

func TestUnknownTableIsDSQLError(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	stmt, sv := e.AllocateStatement(db)
	require.False(t, sv.Failed())

	sv = e.PrepareStatement(tr, stmt, "SELECT * FROM NOPE", 3, descriptor.Allocate(1))
	require.True(t, sv.Failed())
	assert.Less(t, e.SQLCode(sv), int32(0))
	require.False(t, e.RollbackTransaction(tr).Failed())
}

func TestRollbackDiscardsWork(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	exec(t, e, db, tr, "CREATE TABLE T (N INTEGER)")
	commit(t, e, tr)

	tr = begin(t, e, db)
	exec(t, e, db, tr, "INSERT INTO T VALUES (1)")
	require.False(t, e.RollbackRetaining(tr).Failed())
	exec(t, e, db, tr, "INSERT INTO T VALUES (2)")
	require.False(t, e.CommitRetaining(tr).Failed())
	exec(t, e, db, tr, "INSERT INTO T VALUES (3)")
	require.False(t, e.RollbackTransaction(tr).Failed())

	tr = begin(t, e, db)
	assert.Equal(t, [][]any{{int64(2)}}, query(t, e, db, tr, "SELECT N FROM T"))
	commit(t, e, tr)
}

func TestTransactionInfo(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)

	buf, sv := e.TransactionInfo(tr, []byte{native.InfoTraID, native.InfoTraIsolation, native.InfoTraAccess, 99, native.InfoEnd}, 64)
	require.False(t, sv.Failed())
	items, _, err := native.ParseInfo(buf)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, int64(1), items[0].Int())
	assert.Equal(t, []byte{native.InfoTraConcurrency}, items[1].Data)
	assert.Equal(t, []byte{native.InfoTraReadWrite}, items[2].Data)
	assert.Equal(t, native.InfoError, items[3].Code)
}

func TestDatabaseInfo(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")

	buf, sv := e.DatabaseInfo(db, []byte{native.InfoPageSize, native.InfoDBSQLDialect, native.InfoActiveTransactions, native.InfoEnd}, 256)
	require.False(t, sv.Failed())
	items, _, err := native.ParseInfo(buf)
	require.NoError(t, err)
	require.Len(t, items, 2, "no active transactions means no cluster")
	assert.Positive(t, items[0].Int())
	assert.Equal(t, int64(3), items[1].Int())

	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)
	buf, sv = e.DatabaseInfo(db, []byte{native.InfoActiveTransactions, native.InfoEnd}, 256)
	require.False(t, sv.Failed())
	items, _, err = native.ParseInfo(buf)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, native.InfoActiveTransactions, items[0].Code)
}

func TestBlobSegments(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)

	h, id, sv := e.CreateBlob(db, tr, nil)
	require.False(t, sv.Failed())
	require.NotZero(t, id)
	require.False(t, e.PutSegment(h, []byte("hello ")).Failed())
	require.False(t, e.PutSegment(h, []byte("world")).Failed())
	require.False(t, e.CloseBlob(h).Failed())

	h, sv = e.OpenBlob(db, tr, id, nil)
	require.False(t, sv.Failed())
	buf, sv := e.BlobInfo(h, []byte{native.InfoBlobTotalLength, native.InfoBlobMaxSegment, native.InfoBlobNumSegments, native.InfoBlobType}, 64)
	require.False(t, sv.Failed())
	items, _, err := native.ParseInfo(buf)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, int64(11), items[0].Int())
	assert.Equal(t, int64(6), items[1].Int())
	assert.Equal(t, int64(2), items[2].Int())
	assert.Equal(t, int64(0), items[3].Int())

	data, sv := e.GetSegment(h, 4)
	assert.Equal(t, native.GDSSegment, sv.Code(), "partial segment")
	assert.Equal(t, "hell", string(data))
	data, sv = e.GetSegment(h, 4)
	assert.False(t, sv.Failed())
	assert.Equal(t, "o ", string(data))
	data, sv = e.GetSegment(h, 100)
	assert.False(t, sv.Failed())
	assert.Equal(t, "world", string(data))
	_, sv = e.GetSegment(h, 100)
	assert.Equal(t, native.GDSSegstrEOF, sv.Code())
	require.False(t, e.CloseBlob(h).Failed())

	_, sv = e.OpenBlob(db, tr, id+100, nil)
	assert.Equal(t, native.GDSBadSegstrID, sv.Code())
}

func TestStreamBlobSeek(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)

	bpb, err := native.NewParamBuffer(native.BPBVersion1).AddByte(native.BPBType, native.BPBTypeStream).Bytes()
	require.NoError(t, err)
	h, id, sv := e.CreateBlob(db, tr, bpb)
	require.False(t, sv.Failed())
	require.False(t, e.PutSegment(h, []byte("0123")).Failed())
	require.False(t, e.PutSegment(h, []byte("456789")).Failed())
	require.False(t, e.CloseBlob(h).Failed())

	h, sv = e.OpenBlob(db, tr, id, nil)
	require.False(t, sv.Failed())
	defer e.CloseBlob(h)

	pos, sv := e.SeekBlob(h, native.SeekFromStart, 2)
	require.False(t, sv.Failed())
	assert.Equal(t, int32(2), pos)
	data, sv := e.GetSegment(h, 5)
	require.False(t, sv.Failed())
	assert.Equal(t, "23456", string(data), "stream reads cross segment boundaries")

	pos, _ = e.SeekBlob(h, native.SeekFromEnd, -1)
	assert.Equal(t, int32(9), pos)
	pos, _ = e.SeekBlob(h, native.SeekFromCurrent, 50)
	assert.Equal(t, int32(10), pos, "seeks clamp to the blob length")
}

func TestCancelBlobForgetsId(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)

	h, id, sv := e.CreateBlob(db, tr, nil)
	require.False(t, sv.Failed())
	require.False(t, e.PutSegment(h, []byte("x")).Failed())
	require.False(t, e.CancelBlob(h).Failed())
	assert.True(t, e.PutSegment(h, []byte("y")).Failed(), "handle is released")

	_, sv = e.OpenBlob(db, tr, id, nil)
	assert.Equal(t, native.GDSBadSegstrID, sv.Code())
}

func TestArraySlices(t *testing.T) {
	e := newEngine(t, Options{})
	db, _ := createDB(t, e, "a.fdb")
	require.NoError(t, e.DefineArrayField(db, native.ArrayDesc{
		Dtype:        native.BLRLong,
		Length:       4,
		RelationName: "grid",
		FieldName:    "cells",
		Bounds:       []native.ArrayBound{{Lower: 1, Upper: 2}, {Lower: 0, Upper: 2}},
	}))
	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)

	desc, sv := e.ArrayLookupBounds(db, tr, "GRID", "Cells")
	require.False(t, sv.Failed())
	assert.Equal(t, native.BLRLong, desc.Dtype)
	assert.Equal(t, "GRID", desc.RelationName)
	assert.Equal(t, "CELLS", desc.FieldName)
	assert.Equal(t, 6, desc.Elements())

	data := make([]byte, 24)
	for i := range data {
		data[i] = byte(i)
	}
	var id native.Quad
	require.False(t, e.ArrayPutSlice(db, tr, &id, &desc, data).Failed())
	require.NotZero(t, id)

	got, sv := e.ArrayGetSlice(db, tr, id, &desc, 24)
	require.False(t, sv.Failed())
	assert.Equal(t, data, got)

	missing := id + 1
	assert.Equal(t, native.GDSBadSegstrID, e.ArrayPutSlice(db, tr, &missing, &desc, data).Code())

	_, sv = e.ArrayLookupBounds(db, tr, "GRID", "NOPE")
	require.True(t, sv.Failed())
	assert.Equal(t, int32(-206), e.SQLCode(sv))
}

func TestEventsFireOnCommit(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := New(Options{})
	defer func() { assert.NoError(t, e.Close()) }()
	db, _ := createDB(t, e, "a.fdb")

	fired := make(chan []byte, 4)
	cb := func(updated []byte) { fired <- updated }
	countsOf := func(buf []byte) []uint32 {
		_, counts, err := native.ParseEventBlock(buf)
		require.NoError(t, err)
		return counts
	}

	eventBuf, _, err := native.EventBlock([]string{"A", "B"})
	require.NoError(t, err)
	_, sv := e.QueueEvents(db, eventBuf, cb)
	require.False(t, sv.Failed())
	first := <-fired
	assert.Equal(t, []uint32{1, 1}, countsOf(first), "a fresh registration fires at once")

	_, sv = e.QueueEvents(db, first, cb)
	require.False(t, sv.Failed())

	tr := begin(t, e, db)
	exec(t, e, db, tr, "SELECT post_event('B')")
	require.False(t, e.RollbackTransaction(tr).Failed())
	select {
	case <-fired:
		t.Fatal("rolled back postings must not fire")
	case <-time.After(50 * time.Millisecond):
	}

	tr = begin(t, e, db)
	exec(t, e, db, tr, "SELECT post_event('B')")
	exec(t, e, db, tr, "SELECT post_event('B')")
	commit(t, e, tr)
	select {
	case got := <-fired:
		assert.Equal(t, []uint32{1, 3}, countsOf(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after commit")
	}
}

func TestCancelledRegistrationStaysQuiet(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := New(Options{})
	defer func() { assert.NoError(t, e.Close()) }()
	db, _ := createDB(t, e, "a.fdb")

	buf, _, err := native.EventBlock([]string{"A"})
	require.NoError(t, err)
	require.NoError(t, native.SetEventCounts(buf, []uint32{1}))
	fired := make(chan struct{}, 1)
	id, sv := e.QueueEvents(db, buf, func([]byte) { fired <- struct{}{} })
	require.False(t, sv.Failed())
	require.False(t, e.CancelEvents(db, id).Failed())
	require.False(t, e.CancelEvents(db, id).Failed(), "cancel is idempotent")

	tr := begin(t, e, db)
	exec(t, e, db, tr, "SELECT post_event('A')")
	commit(t, e, tr)
	select {
	case <-fired:
		t.Fatal("cancelled registration fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiAttachmentCommit(t *testing.T) {
	e := newEngine(t, Options{})
	db1, _ := createDB(t, e, "a.fdb")
	db2, _ := createDB(t, e, "b.fdb")

	tr := begin(t, e, db1)
	exec(t, e, db1, tr, "CREATE TABLE T (N INTEGER)")
	commit(t, e, tr)
	tr = begin(t, e, db2)
	exec(t, e, db2, tr, "CREATE TABLE T (N INTEGER)")
	commit(t, e, tr)

	tpb := writeTPB(t)
	tr, sv := e.StartMultiple([]native.TEB{{DB: db1, TPB: tpb}, {DB: db2, TPB: tpb}})
	require.False(t, sv.Failed())
	exec(t, e, db1, tr, "INSERT INTO T VALUES (1)")
	exec(t, e, db2, tr, "INSERT INTO T VALUES (2)")
	require.False(t, e.PrepareTransaction(tr).Failed())
	commit(t, e, tr)

	tr, sv = e.StartMultiple([]native.TEB{{DB: db1, TPB: tpb}, {DB: db2, TPB: tpb}})
	require.False(t, sv.Failed())
	assert.Equal(t, [][]any{{int64(1)}}, query(t, e, db1, tr, "SELECT N FROM T"))
	assert.Equal(t, [][]any{{int64(2)}}, query(t, e, db2, tr, "SELECT N FROM T"))
	require.False(t, e.RollbackTransaction(tr).Failed())
}

func TestProcedureCall(t *testing.T) {
	e := newEngine(t, Options{})
	e.DefineProcedure("add_one", &Procedure{
		Inputs:  []Param{{Name: "N", Type: "INTEGER"}},
		Outputs: []Param{{Name: "RESULT", Type: "BIGINT"}},
		Body: func(_ context.Context, _ *sqlx.Conn, args []any) ([]any, error) {
			return []any{args[0].(int64) + 1}, nil
		},
	})
	db, _ := createDB(t, e, "a.fdb")
	tr := begin(t, e, db)
	defer e.RollbackTransaction(tr)

	stmt, sv := e.AllocateStatement(db)
	require.False(t, sv.Failed())
	out := descriptor.Allocate(1)
	require.False(t, e.PrepareStatement(tr, stmt, "EXECUTE PROCEDURE ADD_ONE (?)", 3, out).Failed())
	require.Equal(t, int16(1), out.SQLD)
	in := descriptor.Allocate(1)
	require.False(t, e.DescribeBind(stmt, 3, in).Failed())
	assert.Equal(t, native.SQLLong, in.Vars[0].BaseType())

	conv := descriptor.Converter{Location: time.UTC}
	require.NoError(t, conv.Encode(&in.Vars[0], 41))
	require.False(t, e.Execute2(tr, stmt, 3, in, out).Failed())
	v, err := conv.Decode(&out.Vars[0])
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	sv = e.PrepareStatement(tr, stmt, "EXECUTE PROCEDURE NOPE", 3, out)
	assert.Equal(t, int32(-204), e.SQLCode(sv))
}

func TestPostEventDirectly(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := New(Options{})
	defer func() { assert.NoError(t, e.Close()) }()
	db, _ := createDB(t, e, "a.fdb")

	buf, _, err := native.EventBlock([]string{"A"})
	require.NoError(t, err)
	require.NoError(t, native.SetEventCounts(buf, []uint32{1}))
	fired := make(chan []byte, 1)
	_, sv := e.QueueEvents(db, buf, func(b []byte) { fired <- b })
	require.False(t, sv.Failed())

	require.NoError(t, e.PostEvent(db, "A"))
	select {
	case got := <-fired:
		_, counts, err := native.ParseEventBlock(got)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2}, counts)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
	assert.Error(t, e.PostEvent(db+100, "A"))
}
