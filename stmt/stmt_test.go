package stmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
)

// scripted answers every statement call from canned descriptions and rows.
type scripted struct {
	native.API
	stmtType int
	cols     []native.XSQLVar
	params   []native.XSQLVar
	rows     [][][]byte
	single   [][]byte

	pos       int
	describes int
	binds     int
	bound     [][]native.XSQLVar
	frees     []int
	execute2  int
	plan      string
	records   map[byte]int64
}

func (f *scripted) Interpret(c *native.StatusCursor) (string, bool) {
	_, _, ok := c.Next()
	return "statement failure", ok
}

func (f *scripted) SQLCode(native.StatusVector) int32 { return -104 }

func fill(da *native.XSQLDA, vars []native.XSQLVar) {
	da.SQLD = int16(len(vars))
	for i := 0; i < len(vars) && i < int(da.SQLN); i++ {
		da.Vars[i] = vars[i]
	}
}

func (f *scripted) AllocateStatement(db native.DBHandle) (native.StmtHandle, native.StatusVector) {
	return 7, native.OK()
}

func (f *scripted) PrepareStatement(tr native.TrHandle, h native.StmtHandle, sql string, dialect int, out *native.XSQLDA) native.StatusVector {
	if sql == "bogus" {
		return native.NewStatus(native.GDSSQLErr)
	}
	f.describes++
	fill(out, f.cols)
	return native.OK()
}

func (f *scripted) Describe(h native.StmtHandle, dialect int, out *native.XSQLDA) native.StatusVector {
	f.describes++
	fill(out, f.cols)
	return native.OK()
}

func (f *scripted) DescribeBind(h native.StmtHandle, dialect int, in *native.XSQLDA) native.StatusVector {
	f.binds++
	fill(in, f.params)
	return native.OK()
}

func (f *scripted) SQLInfo(h native.StmtHandle, items []byte, n int) ([]byte, native.StatusVector) {
	w := native.NewInfoWriter(n)
	for _, it := range items {
		switch it {
		case native.InfoSQLStmtType:
			w.AddInt(it, int64(f.stmtType), 4)
		case native.InfoSQLGetPlan:
			w.Add(it, []byte("\n"+f.plan))
		case native.InfoSQLRecords:
			nested := native.NewInfoWriter(256)
			for code, v := range f.records {
				nested.AddInt(code, v, 4)
			}
			b := nested.Bytes()
			w.Add(it, b[:len(b)-1])
		}
	}
	return w.Bytes(), native.OK()
}

func (f *scripted) capture(in *native.XSQLDA) {
	if in == nil {
		f.bound = append(f.bound, nil)
		return
	}
	f.bound = append(f.bound, append([]native.XSQLVar(nil), in.Vars[:in.SQLD]...))
}

func (f *scripted) Execute(tr native.TrHandle, h native.StmtHandle, dialect int, in *native.XSQLDA) native.StatusVector {
	f.capture(in)
	f.pos = 0
	return native.OK()
}

func (f *scripted) Execute2(tr native.TrHandle, h native.StmtHandle, dialect int, in, out *native.XSQLDA) native.StatusVector {
	f.capture(in)
	f.execute2++
	for i, b := range f.single {
		out.Vars[i].SQLData = b
	}
	return native.OK()
}

func (f *scripted) Fetch(h native.StmtHandle, dialect int, out *native.XSQLDA) (int, native.StatusVector) {
	if f.pos >= len(f.rows) {
		return native.FetchNoMoreRows, native.OK()
	}
	for i, b := range f.rows[f.pos] {
		v := &out.Vars[i]
		if b == nil {
			v.SQLInd = -1
			v.SQLData = nil
			continue
		}
		v.SQLInd = 0
		v.SQLData = b
	}
	f.pos++
	return native.FetchOK, native.OK()
}

func (f *scripted) FreeStatement(h native.StmtHandle, option int) native.StatusVector {
	f.frees = append(f.frees, option)
	return native.OK()
}

func intCol(name string) native.XSQLVar {
	return native.XSQLVar{SQLType: native.SQLLong | 1, SQLLen: 4, SQLName: name, RelName: "T"}
}

func le32(v int64) []byte {
	b := make([]byte, 4)
	codec.PutLE(b, uint64(v))
	return b
}

func prepared(t *testing.T, f *scripted, sql string) *Statement {
	t.Helper()
	s, err := Allocate(f, 1, Options{Charset: codec.Raw})
	require.NoError(t, err)
	require.NoError(t, s.Prepare(1, sql))
	return s
}

func TestPrepareRegrowsOutputDescriptor(t *testing.T) {
	cols := make([]native.XSQLVar, 10)
	for i := range cols {
		cols[i] = intCol("C")
	}
	f := &scripted{stmtType: native.StmtSelect, cols: cols}
	s := prepared(t, f, "select * from t")

	assert.Equal(t, 2, f.describes)
	assert.Len(t, s.Columns(), 10)
	assert.Equal(t, Prepared, s.State())
	assert.True(t, s.ReturnsRows())
}

func TestPrepareRegrowsInputDescriptor(t *testing.T) {
	params := make([]native.XSQLVar, descriptor.DefaultCapacity+4)
	for i := range params {
		params[i] = intCol("P")
	}
	f := &scripted{stmtType: native.StmtInsert, params: params}
	s := prepared(t, f, "insert into t values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

	assert.Equal(t, 1, f.describes, "output side fits the default capacity")
	assert.Equal(t, 2, f.binds)
	assert.Equal(t, len(params), s.NumParams())

	args := make([]any, len(params))
	for i := range args {
		args[i] = int64(i * 10)
	}
	require.NoError(t, s.Execute(1, args))
	require.Len(t, f.bound, 1)
	require.Len(t, f.bound[0], len(params))
	assert.Equal(t, le32(110), f.bound[0][11].SQLData)
}

func TestPrepareFailureIsOperational(t *testing.T) {
	f := &scripted{stmtType: native.StmtSelect}
	s, err := Allocate(f, 1, Options{})
	require.NoError(t, err)
	err = s.Prepare(1, "bogus")
	require.Error(t, err)
	assert.True(t, dberr.IsOperationalError(err))
	assert.Equal(t, int32(-104), dberr.SQLCode(err))
}

func TestFetchInOrderThenNoData(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtSelect,
		cols:     []native.XSQLVar{intCol("ID")},
		rows:     [][][]byte{{le32(1)}, {le32(2)}, {nil}},
	}
	s := prepared(t, f, "select id from t")

	_, err := s.Fetch()
	assert.True(t, dberr.IsInterfaceError(err), "fetch before execute")

	require.NoError(t, s.Execute(1, nil))
	var got []any
	for {
		row, err := s.Fetch()
		require.NoError(t, err)
		if row == nil {
			break
		}
		got = append(got, row[0])
	}
	assert.Equal(t, []any{int64(1), int64(2), nil}, got)
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, []int{native.DSQLClose}, f.frees)

	for i := 0; i < 3; i++ {
		row, err := s.Fetch()
		require.NoError(t, err)
		assert.Nil(t, row)
	}
	assert.Len(t, f.frees, 1)
}

func TestFetchAfterExplicitCloseFails(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtSelect,
		cols:     []native.XSQLVar{intCol("ID")},
		rows:     [][][]byte{{le32(1)}, {le32(2)}},
	}
	s := prepared(t, f, "select id from t")
	require.NoError(t, s.Execute(1, nil))
	_, err := s.Fetch()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = s.Fetch()
	assert.True(t, dberr.IsInterfaceError(err))

	require.NoError(t, s.Execute(1, nil))
	row, err := s.Fetch()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, row)
}

func TestExecuteRejectsTooManyParams(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtInsert,
		params:   []native.XSQLVar{intCol("A")},
	}
	s := prepared(t, f, "insert into t values (?)")
	err := s.Execute(1, []any{1, 2})
	require.Error(t, err)
	assert.True(t, dberr.IsInterfaceError(err))
	assert.Empty(t, f.bound)
}

func TestExecuteBindsMissingParamsAsNull(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtInsert,
		params:   []native.XSQLVar{intCol("A"), intCol("B")},
	}
	s := prepared(t, f, "insert into t values (?, ?)")
	require.NoError(t, s.Execute(1, []any{5}))
	require.Len(t, f.bound, 1)
	assert.Equal(t, le32(5), f.bound[0][0].SQLData)
	assert.True(t, f.bound[0][1].IsNull())

	_, err := s.Fetch()
	assert.True(t, dberr.IsInterfaceError(err), "DML has no result set")
}

func TestRebindRestoresDescribedLayout(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtUpdate,
		params:   []native.XSQLVar{{SQLType: native.SQLText | 1, SQLLen: 5, SQLName: "NAME"}},
	}
	s := prepared(t, f, "update t set name = ?")

	require.NoError(t, s.Execute(1, []any{"abc"}))
	require.NoError(t, s.Execute(1, []any{nil}))
	require.NoError(t, s.Execute(1, []any{"abcde"}))

	require.Len(t, f.bound, 3)
	assert.Equal(t, native.SQLVarying|1, f.bound[0][0].SQLType)
	assert.Equal(t, []byte{3, 0, 'a', 'b', 'c'}, f.bound[0][0].SQLData)
	assert.True(t, f.bound[1][0].IsNull())
	assert.Equal(t, int16(5), f.bound[2][0].SQLLen)
	assert.Equal(t, native.SQLText|1, s.Input().DescribedType(0))

	err := s.Execute(1, []any{"abcdef"})
	assert.True(t, dberr.IsDataError(err))
}

func TestProcedureRowIsCachedForOneFetch(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtExecProcedure,
		cols:     []native.XSQLVar{intCol("OUT")},
		params:   []native.XSQLVar{intCol("IN")},
		single:   [][]byte{le32(42)},
	}
	s := prepared(t, f, "execute procedure p(?)")
	require.NoError(t, s.Execute(1, []any{1}))
	assert.Equal(t, 1, f.execute2)

	row, err := s.Fetch()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42)}, row)
	row, err = s.Fetch()
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = s.Fetch()
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestPlanAndRowCount(t *testing.T) {
	f := &scripted{
		stmtType: native.StmtDelete,
		plan:     "PLAN (T NATURAL)",
		records:  map[byte]int64{native.InfoReqSelectCount: 9, native.InfoReqDeleteCount: 3},
	}
	s := prepared(t, f, "delete from t")
	require.NoError(t, s.Execute(1, nil))

	plan, err := s.Plan()
	require.NoError(t, err)
	assert.Equal(t, "PLAN (T NATURAL)", plan)

	n, err := s.RowCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDrop(t *testing.T) {
	f := &scripted{stmtType: native.StmtDDL}
	s := prepared(t, f, "create table t (a integer)")
	require.NoError(t, s.Drop())
	require.NoError(t, s.Drop())
	assert.Equal(t, []int{native.DSQLDrop}, f.frees)

	err := s.Execute(1, nil)
	assert.True(t, dberr.IsInterfaceError(err))
	assert.Equal(t, "dropped", s.State().String())
}
