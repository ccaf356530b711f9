package loopback

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tomyedwab/fbdriver/native"
)

func formatBounds(bounds []native.ArrayBound) string {
	parts := make([]string, len(bounds))
	for i, b := range bounds {
		parts[i] = fmt.Sprintf("%d:%d", b.Lower, b.Upper)
	}
	return strings.Join(parts, ",")
}

func parseBounds(s string) ([]native.ArrayBound, error) {
	var out []native.ArrayBound
	for _, dim := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(dim), ":")
		if !ok {
			lo, hi = "1", lo
		}
		l, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 16)
		if err != nil {
			return nil, err
		}
		h, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 16)
		if err != nil {
			return nil, err
		}
		if h < l {
			return nil, fmt.Errorf("dimension %q has upper bound below lower bound", dim)
		}
		out = append(out, native.ArrayBound{Lower: int16(l), Upper: int16(h)})
	}
	return out, nil
}

// DefineArrayField declares the element type and dimensions of an ARRAY
// column. The column itself is created with ordinary DDL using the ARRAY
// type name.
func (e *Engine) DefineArrayField(db native.DBHandle, desc native.ArrayDesc) error {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return native.StatusError(e, sv, "Error while defining array field:")
	}
	if len(desc.Bounds) == 0 {
		return fmt.Errorf("array field %s.%s needs at least one dimension", desc.RelationName, desc.FieldName)
	}
	_, err := a.db.Exec(`INSERT OR REPLACE INTO RDB$ARRAY_FIELDS
		(RDB$RELATION_NAME, RDB$FIELD_NAME, RDB$DTYPE, RDB$SCALE, RDB$LENGTH, RDB$BOUNDS)
		VALUES (?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(desc.RelationName), strings.ToUpper(desc.FieldName),
		desc.Dtype, desc.Scale, desc.Length, formatBounds(desc.Bounds))
	return err
}

// ArrayLookupBounds returns the descriptor of relation.field.
func (e *Engine) ArrayLookupBounds(db native.DBHandle, tr native.TrHandle, relation, field string) (native.ArrayDesc, native.StatusVector) {
	p, sv := e.part(db, tr)
	if sv.Failed() {
		return native.ArrayDesc{}, sv
	}
	var row struct {
		Dtype  byte   `db:"RDB$DTYPE"`
		Scale  int8   `db:"RDB$SCALE"`
		Length uint16 `db:"RDB$LENGTH"`
		Bounds string `db:"RDB$BOUNDS"`
	}
	err := p.conn.GetContext(ctx(), &row, `SELECT RDB$DTYPE, RDB$SCALE, RDB$LENGTH, RDB$BOUNDS
		FROM RDB$ARRAY_FIELDS WHERE RDB$RELATION_NAME = upper(?) AND RDB$FIELD_NAME = upper(?)`, relation, field)
	if errors.Is(err, sql.ErrNoRows) {
		return native.ArrayDesc{}, dsqlStatus(-206, fmt.Sprintf("array field %s.%s is not defined", relation, field)).
			Append(native.GDSDSQLFieldErr)
	}
	if err != nil {
		return native.ArrayDesc{}, sqliteStatus(err)
	}
	bounds, err := parseBounds(row.Bounds)
	if err != nil {
		return native.ArrayDesc{}, native.NewStatus(native.GDSRandom, err.Error())
	}
	return native.ArrayDesc{
		Dtype:        row.Dtype,
		Scale:        row.Scale,
		Length:       row.Length,
		FieldName:    strings.ToUpper(field),
		RelationName: strings.ToUpper(relation),
		Bounds:       bounds,
	}, native.OK()
}

// ArrayGetSlice reads the slice buffer of array id.
func (e *Engine) ArrayGetSlice(db native.DBHandle, tr native.TrHandle, id native.Quad, desc *native.ArrayDesc, bufLen int) ([]byte, native.StatusVector) {
	p, sv := e.part(db, tr)
	if sv.Failed() {
		return nil, sv
	}
	var data []byte
	err := p.conn.GetContext(ctx(), &data, "SELECT RDB$DATA FROM RDB$ARRAYS WHERE RDB$ARRAY_ID = ?", int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, native.NewStatus(native.GDSBadSegstrID)
	}
	if err != nil {
		return nil, sqliteStatus(err)
	}
	p.att.stats.reads.Add(1)
	if len(data) > bufLen {
		data = data[:bufLen]
	}
	return data, native.OK()
}

// ArrayPutSlice stores a slice buffer. A zero *id allocates a new array.
func (e *Engine) ArrayPutSlice(db native.DBHandle, tr native.TrHandle, id *native.Quad, desc *native.ArrayDesc, data []byte) native.StatusVector {
	p, sv := e.part(db, tr)
	if sv.Failed() {
		return sv
	}
	if *id == 0 {
		res, err := p.conn.ExecContext(ctx(), "INSERT INTO RDB$ARRAYS (RDB$DATA) VALUES (?)", data)
		if err != nil {
			return sqliteStatus(err)
		}
		n, err := res.LastInsertId()
		if err != nil {
			return sqliteStatus(err)
		}
		*id = native.Quad(n)
		return native.OK()
	}
	res, err := p.conn.ExecContext(ctx(), "UPDATE RDB$ARRAYS SET RDB$DATA = ? WHERE RDB$ARRAY_ID = ?", data, int64(*id))
	if err != nil {
		return sqliteStatus(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return native.NewStatus(native.GDSBadSegstrID)
	}
	return native.OK()
}
