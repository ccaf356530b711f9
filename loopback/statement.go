package loopback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
)

// Param is one input or output of a procedure.
type Param struct {
	Name string
	// Type is a column type declaration such as "INTEGER" or
	// "VARCHAR(20)".
	Type string
}

// ProcedureFunc is the body of a procedure. It runs on the connection of
// the calling transaction and returns one value per output.
type ProcedureFunc func(ctx context.Context, conn *sqlx.Conn, args []any) ([]any, error)

// Procedure is a stored procedure callable with EXECUTE PROCEDURE.
type Procedure struct {
	Inputs  []Param
	Outputs []Param
	Body    ProcedureFunc
}

// DefineProcedure makes a procedure callable by name on every attachment.
func (e *Engine) DefineProcedure(name string, p *Procedure) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.procs[strings.ToUpper(name)] = p
}

type column struct {
	name     string
	relation string
	shape    shape
	notNull  bool
}

func (c column) apply(v *native.XSQLVar) {
	c.shape.apply(v)
	if c.notNull {
		v.SQLType &^= 1
	}
	v.SQLName = c.name
	v.AliasName = c.name
	v.RelName = c.relation
	v.OwnName = ""
	v.SQLInd = 0
	v.SQLData = nil
}

type statement struct {
	handle native.StmtHandle
	att    *attachment

	an     *analysis
	proc   *Procedure
	cols   []column
	params []column

	// part is the transaction the open cursor or pending row belongs to.
	part *part
	rows *sqlx.Rows
	// pending is the singleton row of a procedure call or a DML statement
	// with RETURNING, served by Execute2.
	pending    []any
	hasPending bool
	cursorName string
	counts     map[byte]int64
}

// closeRows releases the open result set. e.mu may be held.
func (s *statement) closeRows() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	s.pending, s.hasPending = nil, false
}

// AllocateStatement creates a statement handle on an attachment.
func (e *Engine) AllocateStatement(db native.DBHandle) (native.StmtHandle, native.StatusVector) {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return 0, sv
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &statement{att: a, handle: native.StmtHandle(e.nextHandle()), counts: map[byte]int64{}}
	e.stmts[s.handle] = s
	return s.handle, native.OK()
}

type tableColumn struct {
	Name    string `db:"name"`
	Type    string `db:"type"`
	NotNull bool   `db:"notnull"`
}

// schema caches table layouts read during one prepare.
type schema struct {
	conn   *sqlx.Conn
	tables map[string][]tableColumn
}

func (sc *schema) columns(table string) []tableColumn {
	if cols, ok := sc.tables[table]; ok {
		return cols
	}
	var cols []tableColumn
	if err := sc.conn.SelectContext(ctx(), &cols, "SELECT name, type, \"notnull\" FROM pragma_table_info(?)", table); err != nil {
		cols = nil
	}
	sc.tables[table] = cols
	return cols
}

// lookup finds column in table, or in the first of tables that has it.
func (sc *schema) lookup(tables []string, table, column string) (col tableColumn, relation string, ok bool) {
	if table != "" {
		tables = []string{table}
	}
	for _, t := range tables {
		for _, c := range sc.columns(t) {
			if strings.EqualFold(c.Name, column) {
				return c, t, true
			}
		}
	}
	return tableColumn{}, "", false
}

// PrepareStatement compiles sql in tr, describes its output into out and
// works out its parameters.
func (e *Engine) PrepareStatement(tr native.TrHandle, stmt native.StmtHandle, sql string, dialect int, out *native.XSQLDA) native.StatusVector {
	s, sv := e.statement(stmt)
	if sv.Failed() {
		return sv
	}
	p, sv := e.part(s.att.handle, tr)
	if sv.Failed() {
		return sv
	}
	s.closeRows()
	s.part = nil
	s.an, s.proc, s.cols, s.params = nil, nil, nil, nil
	clear(s.counts)

	an, sv := analyze(sql)
	if sv.Failed() {
		return sv
	}
	sc := &schema{conn: p.conn, tables: map[string][]tableColumn{}}
	var cols, params []column
	if an.procedure != "" {
		e.mu.Lock()
		proc, ok := e.procs[an.procedure]
		e.mu.Unlock()
		if !ok {
			return dsqlStatus(-204, "Procedure unknown "+an.procedure)
		}
		cols, params, sv = procedureShape(an, proc, s.att)
		if sv.Failed() {
			return sv
		}
		s.proc = proc
	} else {
		if an.sql != "" {
			if sv := compile(p.conn, an.sql); sv.Failed() {
				return sv
			}
		}
		if an.typ == native.StmtSelect || an.typ == native.StmtSelectForUpd || an.returning {
			cols, sv = describeColumns(p, an, sc, s.att)
			if sv.Failed() {
				return sv
			}
		}
		params = describeParams(an, sc, s.att)
	}
	s.an, s.cols, s.params = an, cols, params
	fill(out, cols)
	return native.OK()
}

// compile checks that SQLite accepts sql without running it.
func compile(conn *sqlx.Conn, sql string) native.StatusVector {
	st, err := conn.PreparexContext(ctx(), sql)
	if err != nil {
		return sqliteStatus(err)
	}
	st.Close()
	return native.OK()
}

func procedureShape(an *analysis, proc *Procedure, a *attachment) (cols, params []column, sv native.StatusVector) {
	for _, o := range proc.Outputs {
		sh, _ := declShape(o.Type, a.charset)
		cols = append(cols, column{name: strings.ToUpper(o.Name), shape: sh})
	}
	for _, h := range an.params {
		if h.index >= len(proc.Inputs) {
			return nil, nil, dsqlStatus(-170, fmt.Sprintf("procedure %s takes %d inputs", an.procedure, len(proc.Inputs)))
		}
		in := proc.Inputs[h.index]
		sh, _ := declShape(in.Type, a.charset)
		params = append(params, column{name: strings.ToUpper(in.Name), shape: sh})
	}
	return cols, params, native.OK()
}

// describeColumns reads the result columns of a query without running it.
// Columns without a declared type are typed by the first row a probe run
// returns.
func describeColumns(p *part, an *analysis, sc *schema, a *attachment) ([]column, native.StatusVector) {
	args := make([]any, len(an.params))
	rows, err := p.conn.QueryxContext(ctx(), an.sql, args...)
	if err != nil {
		return nil, sqliteStatus(err)
	}
	types, err := rows.ColumnTypes()
	rows.Close()
	if err != nil {
		return nil, sqliteStatus(err)
	}

	cols := make([]column, len(types))
	var untyped []int
	for i, ct := range types {
		name := strings.ToUpper(ct.Name())
		c := column{name: name}
		decl := ct.DatabaseTypeName()
		if tc, rel, ok := sc.lookup(an.tables, "", name); ok {
			c.relation = rel
			// Only a direct column reference carries its declared type.
			c.notNull = tc.NotNull && decl != ""
			if decl == "" {
				decl = tc.Type
			}
		}
		if sh, ok := declShape(decl, a.charset); ok {
			c.shape = sh
		} else {
			untyped = append(untyped, i)
		}
		cols[i] = c
	}
	if len(untyped) == 0 {
		return cols, native.OK()
	}

	var first []any
	if !an.returning {
		first = probe(p, an.sql, args)
	}
	for _, i := range untyped {
		var v any
		if i < len(first) {
			v = first[i]
		}
		cols[i].shape = valueShape(v, a.charset)
	}
	return cols, native.OK()
}

// probe runs a query and returns its first row, discarding any events the
// query posted.
func probe(p *part, sql string, args []any) []any {
	mark := postedMark(p.raw)
	defer truncatePosted(p.raw, mark)
	rows, err := p.conn.QueryxContext(ctx(), sql, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()
	if !rows.Next() {
		return nil
	}
	row, err := rows.SliceScan()
	if err != nil {
		return nil
	}
	return row
}

func describeParams(an *analysis, sc *schema, a *attachment) []column {
	params := make([]column, len(an.params))
	for i, h := range an.params {
		c := column{shape: varyingShape(a.charset)}
		switch h.kind {
		case hintBigint:
			c.shape = shape{typ: native.SQLInt64, length: 8}
		case hintColumn:
			if tc, rel, ok := sc.lookup(an.tables, h.table, h.column); ok {
				c.name, c.relation = h.column, rel
				if sh, ok := declShape(tc.Type, a.charset); ok {
					c.shape = sh
				}
			}
		case hintPosition:
			if cols := sc.columns(h.table); h.index < len(cols) {
				c.name, c.relation = strings.ToUpper(cols[h.index].Name), h.table
				if sh, ok := declShape(cols[h.index].Type, a.charset); ok {
					c.shape = sh
				}
			}
		}
		params[i] = c
	}
	return params
}

// fill describes cols into da. When da has too few slots only SQLD is set
// so the caller can grow it and describe again.
func fill(da *native.XSQLDA, cols []column) {
	if da == nil {
		return
	}
	da.SQLD = int16(len(cols))
	if len(cols) > int(da.SQLN) || len(cols) > len(da.Vars) {
		return
	}
	for i, c := range cols {
		c.apply(&da.Vars[i])
	}
}

// Describe repeats the output description of a prepared statement.
func (e *Engine) Describe(stmt native.StmtHandle, dialect int, out *native.XSQLDA) native.StatusVector {
	s, sv := e.prepared(stmt)
	if sv.Failed() {
		return sv
	}
	fill(out, s.cols)
	return native.OK()
}

// DescribeBind describes the parameters of a prepared statement.
func (e *Engine) DescribeBind(stmt native.StmtHandle, dialect int, in *native.XSQLDA) native.StatusVector {
	s, sv := e.prepared(stmt)
	if sv.Failed() {
		return sv
	}
	fill(in, s.params)
	return native.OK()
}

func (e *Engine) prepared(stmt native.StmtHandle) (*statement, native.StatusVector) {
	s, sv := e.statement(stmt)
	if sv.Failed() {
		return nil, sv
	}
	if s.an == nil {
		return nil, native.NewStatus(native.GDSDSQLStmtHandle)
	}
	return s, native.OK()
}

// inputArgs converts the bound parameter slots into SQLite arguments.
func (s *statement) inputArgs(in *native.XSQLDA) ([]any, native.StatusVector) {
	if len(s.params) == 0 {
		return nil, native.OK()
	}
	if in == nil || int(in.SQLD) < len(s.params) || len(in.Vars) < len(s.params) {
		return nil, native.NewStatus(native.GDSDSQLSQLDAErr)
	}
	conv := descriptor.Converter{Charset: s.att.charset, Location: time.UTC}
	args := make([]any, len(s.params))
	for i := range args {
		v, err := sqliteArg(&in.Vars[i], conv)
		if err != nil {
			return nil, arith("%s", err)
		}
		args[i] = v
	}
	return args, native.OK()
}

// Execute runs a prepared statement in tr. A query opens a cursor served by
// Fetch.
func (e *Engine) Execute(tr native.TrHandle, stmt native.StmtHandle, dialect int, in *native.XSQLDA) native.StatusVector {
	s, sv := e.prepared(stmt)
	if sv.Failed() {
		return sv
	}
	p, sv := e.part(s.att.handle, tr)
	if sv.Failed() {
		return sv
	}
	args, sv := s.inputArgs(in)
	if sv.Failed() {
		return sv
	}
	s.closeRows()
	s.part = nil
	clear(s.counts)
	a := s.att
	a.stats.reads.Add(1)

	switch {
	case s.proc != nil:
		var vals []any
		if s.an.sql != "" {
			row, err := p.conn.QueryRowxContext(ctx(), s.an.sql, args...).SliceScan()
			if err != nil {
				return sqliteStatus(err)
			}
			vals = row
		}
		out, err := s.proc.Body(ctx(), p.conn, vals)
		if err != nil {
			return native.NewStatus(native.GDSRandom, err.Error())
		}
		s.pending, s.hasPending = out, len(s.cols) > 0
	case s.an.typ == native.StmtSelect || s.an.typ == native.StmtSelectForUpd:
		rows, err := p.conn.QueryxContext(ctx(), s.an.sql, args...)
		if err != nil {
			return sqliteStatus(err)
		}
		s.rows = rows
	case s.an.returning:
		rows, err := p.conn.QueryxContext(ctx(), s.an.sql, args...)
		if err != nil {
			return sqliteStatus(err)
		}
		var n int64
		for rows.Next() {
			row, err := rows.SliceScan()
			if err != nil {
				rows.Close()
				return sqliteStatus(err)
			}
			if n == 0 {
				s.pending, s.hasPending = row, true
			}
			n++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return sqliteStatus(err)
		}
		s.counts[dmlCountCode(s.an.sql)] = n
		a.stats.marks.Add(n)
	default:
		res, err := p.conn.ExecContext(ctx(), s.an.sql, args...)
		if err != nil {
			return sqliteStatus(err)
		}
		if code := countCode(s.an.typ); code != 0 {
			n, _ := res.RowsAffected()
			s.counts[code] = n
			a.stats.marks.Add(n)
		}
	}
	s.part = p
	return native.OK()
}

func countCode(typ int) byte {
	switch typ {
	case native.StmtInsert:
		return native.InfoReqInsertCount
	case native.StmtUpdate:
		return native.InfoReqUpdateCount
	case native.StmtDelete:
		return native.InfoReqDeleteCount
	}
	return 0
}

func dmlCountCode(sql string) byte {
	toks := tokenize(sql)
	switch {
	case len(toks) == 0:
		return 0
	case toks[0].is("UPDATE"):
		return native.InfoReqUpdateCount
	case toks[0].is("DELETE"):
		return native.InfoReqDeleteCount
	}
	return native.InfoReqInsertCount
}

// Execute2 runs a statement that yields at most one row and writes that row
// into out. A missing row is written as NULLs.
func (e *Engine) Execute2(tr native.TrHandle, stmt native.StmtHandle, dialect int, in, out *native.XSQLDA) native.StatusVector {
	if sv := e.Execute(tr, stmt, dialect, in); sv.Failed() {
		return sv
	}
	s, _ := e.statement(stmt)
	if s.rows != nil {
		n, sv := e.Fetch(stmt, dialect, out)
		s.closeRows()
		if sv.Failed() || n == native.FetchOK {
			return sv
		}
		return s.writeRow(out, nil)
	}
	row := s.pending
	s.pending, s.hasPending = nil, false
	return s.writeRow(out, row)
}

func (s *statement) writeRow(out *native.XSQLDA, row []any) native.StatusVector {
	if out == nil || len(out.Vars) < len(s.cols) {
		return native.NewStatus(native.GDSDSQLSQLDAErr)
	}
	for i := range s.cols {
		var v any
		if i < len(row) {
			v = row[i]
		}
		if sv := storeOutput(&out.Vars[i], v, s.att.charset); sv.Failed() {
			return sv
		}
	}
	return native.OK()
}

func cursorError() native.StatusVector {
	return native.NewStatus(native.GDSDSQLError).
		Append(native.GDSSQLErr, -504).
		Append(native.GDSDSQLCursorErr)
}

// Fetch moves the open cursor to the next row and writes it into out.
func (e *Engine) Fetch(stmt native.StmtHandle, dialect int, out *native.XSQLDA) (int, native.StatusVector) {
	s, sv := e.prepared(stmt)
	if sv.Failed() {
		return 0, sv
	}
	if s.rows == nil {
		return 0, cursorError()
	}
	if !s.rows.Next() {
		err := s.rows.Err()
		s.closeRows()
		if err != nil {
			return 0, sqliteStatus(err)
		}
		return native.FetchNoMoreRows, native.OK()
	}
	row, err := s.rows.SliceScan()
	if err != nil {
		return 0, sqliteStatus(err)
	}
	if sv := s.writeRow(out, row); sv.Failed() {
		return 0, sv
	}
	s.counts[native.InfoReqSelectCount]++
	s.att.stats.fetches.Add(1)
	return native.FetchOK, native.OK()
}

// FreeStatement closes the cursor of a statement or, with DSQLDrop, frees
// the handle. Closing a statement without a cursor is allowed.
func (e *Engine) FreeStatement(stmt native.StmtHandle, option int) native.StatusVector {
	s, sv := e.statement(stmt)
	if sv.Failed() {
		return sv
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.closeRows()
	s.part = nil
	if option == native.DSQLDrop {
		delete(e.stmts, stmt)
	}
	return native.OK()
}

// SetCursorName names the cursor of a statement. Names are recorded but
// positioned updates are not supported.
func (e *Engine) SetCursorName(stmt native.StmtHandle, name string) native.StatusVector {
	s, sv := e.prepared(stmt)
	if sv.Failed() {
		return sv
	}
	s.cursorName = name
	return native.OK()
}

// SQLInfo answers statement info requests.
func (e *Engine) SQLInfo(stmt native.StmtHandle, items []byte, bufLen int) ([]byte, native.StatusVector) {
	s, sv := e.prepared(stmt)
	if sv.Failed() {
		return nil, sv
	}
	w := native.NewInfoWriter(bufLen)
	for _, code := range items {
		if code == native.InfoEnd {
			break
		}
		switch code {
		case native.InfoSQLStmtType:
			w.AddInt(code, int64(s.an.typ), 4)
		case native.InfoSQLGetPlan:
			w.Add(code, []byte(e.plan(s)))
		case native.InfoSQLRecords:
			rec := native.NewInfoWriter(64)
			for _, c := range []byte{native.InfoReqSelectCount, native.InfoReqInsertCount, native.InfoReqUpdateCount, native.InfoReqDeleteCount} {
				rec.AddInt(c, s.counts[c], 4)
			}
			w.Add(code, rec.Bytes())
		default:
			w.Add(native.InfoError, []byte{code})
		}
	}
	return w.Bytes(), native.OK()
}

// plan renders SQLite's query plan in the engine's PLAN syntax.
func (e *Engine) plan(s *statement) string {
	if s.an.sql == "" || s.an.typ == native.StmtDDL || s.an.typ == native.StmtSavepoint {
		return ""
	}
	conn, err := s.att.db.Connx(ctx())
	if err != nil {
		return ""
	}
	defer conn.Close()
	type step struct {
		ID      int    `db:"id"`
		Parent  int    `db:"parent"`
		NotUsed int    `db:"notused"`
		Detail  string `db:"detail"`
	}
	var steps []step
	args := make([]any, len(s.params))
	if err := conn.SelectContext(ctx(), &steps, "EXPLAIN QUERY PLAN "+s.an.sql, args...); err != nil {
		return ""
	}
	details := make([]string, len(steps))
	for i, st := range steps {
		details[i] = st.Detail
	}
	return "\nPLAN (" + strings.Join(details, ", ") + ")"
}
