package loopback

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/fbdriver/native"
)

var messages = map[int64]string{
	native.GDSArithExcept:     "arithmetic exception, numeric overflow, or string truncation",
	native.GDSBadDBHandle:     "invalid database handle (no active connection)",
	native.GDSBadReqHandle:    "invalid request handle",
	native.GDSBadSegstrHandle: "invalid BLOB handle",
	native.GDSBadSegstrID:     "invalid BLOB ID",
	native.GDSBadTransHandle:  "invalid transaction handle (expecting explicit transaction start)",
	native.GDSDeadlock:        "deadlock",
	native.GDSIOError:         "I/O error during \"@1\" operation for file \"@2\"",
	native.GDSLockConflict:    "lock conflict on no wait transaction",
	native.GDSNotValid:        "validation error for column @1, value \"@2\"",
	native.GDSNoCurRec:        "no current record for fetch operation",
	native.GDSReadOnlyTrans:   "attempted update during read-only transaction",
	native.GDSSegment:         "segment buffer length shorter than expected",
	native.GDSSegstrEOF:       "attempted retrieval of more segments than exist",
	native.GDSUnavailable:     "unavailable database",
	native.GDSRandom:          "@1",
	native.GDSSQLErr:          "SQL error code = @1",
	native.GDSDSQLError:       "Dynamic SQL Error",
	native.GDSDSQLCursorErr:   "Invalid cursor reference",
	native.GDSDSQLFieldErr:    "Column unknown",
	native.GDSDSQLRelationErr: "Table unknown",
	native.GDSDSQLSQLDAErr:    "SQLDA missing or incorrect version, or incorrect number/type of variables",
	native.GDSUniqueKey:       "violation of PRIMARY or UNIQUE KEY constraint \"@1\" on table \"@2\"",
	native.GDSNoDupIndex:      "attempt to store duplicate value (visible to active transactions) in unique index \"@1\"",
	native.GDSDSQLStmtHandle:  "Attempt to execute an unprepared dynamic SQL statement.",
	native.GDSReadOnlyDB:      "attempted update on read-only database",
	native.GDSOpenTrans:       "cannot disconnect database with open transactions (@1 active)",
	native.GDSLogin:           "Your user name and password are not defined. Ask your database administrator to set up a login.",
}

var sqlCodes = map[int64]int32{
	native.GDSArithExcept:     -802,
	native.GDSLockConflict:    -913,
	native.GDSDeadlock:        -913,
	native.GDSUniqueKey:       -803,
	native.GDSNoDupIndex:      -803,
	native.GDSNotValid:        -625,
	native.GDSReadOnlyTrans:   -817,
	native.GDSReadOnlyDB:      -817,
	native.GDSLogin:           -902,
	native.GDSIOError:         -902,
	native.GDSUnavailable:     -904,
	native.GDSDSQLCursorErr:   -504,
	native.GDSDSQLRelationErr: -204,
	native.GDSDSQLFieldErr:    -206,
	native.GDSSegstrEOF:       -402,
}

// Interpret renders the next error cluster of c.
func (e *Engine) Interpret(c *native.StatusCursor) (string, bool) {
	code, args, ok := c.Next()
	if !ok {
		return "", false
	}
	tmpl, known := messages[code]
	if !known {
		return native.FormatMessage("unknown engine error @1", []any{code}), true
	}
	return native.FormatMessage(tmpl, args), true
}

// SQLCode derives the SQL error code of a status vector.
func (e *Engine) SQLCode(sv native.StatusVector) int32 {
	if !sv.Failed() {
		return 0
	}
	c := native.NewStatusCursor(sv)
	for {
		code, args, ok := c.Next()
		if !ok {
			break
		}
		if code == native.GDSSQLErr && len(args) > 0 {
			if n, isNum := args[0].(int64); isNum {
				return int32(n)
			}
		}
	}
	if n, ok := sqlCodes[sv.Code()]; ok {
		return n
	}
	return -901
}

// dsqlStatus reports a statement the engine could not compile.
func dsqlStatus(sqlCode int, detail string) native.StatusVector {
	return native.NewStatus(native.GDSDSQLError).
		Append(native.GDSSQLErr, sqlCode).
		Append(native.GDSRandom, detail)
}

// sqliteStatus translates an error returned by SQLite.
func sqliteStatus(err error) native.StatusVector {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return native.NewStatus(native.GDSRandom, err.Error())
	}
	msg := se.Error()
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return native.NewStatus(native.GDSLockConflict).
			Append(native.GDSDeadlock).
			Append(native.GDSRandom, msg)
	case sqlite3.ErrConstraint:
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			table, index := constraintTarget(msg)
			return native.NewStatus(native.GDSUniqueKey, index, table).
				Append(native.GDSRandom, msg)
		}
		return native.NewStatus(native.GDSNotValid, constraintColumn(msg), "*** null ***").
			Append(native.GDSRandom, msg)
	case sqlite3.ErrReadonly:
		return native.NewStatus(native.GDSReadOnlyTrans).Append(native.GDSRandom, msg)
	case sqlite3.ErrError:
		switch {
		case strings.Contains(msg, "no such table"):
			return dsqlStatus(-204, msg).Append(native.GDSDSQLRelationErr)
		case strings.Contains(msg, "no such column"):
			return dsqlStatus(-206, msg).Append(native.GDSDSQLFieldErr)
		}
		return dsqlStatus(-104, msg)
	}
	return native.NewStatus(native.GDSRandom, msg)
}

// constraintTarget extracts the table and column list of a SQLite unique
// constraint message such as "UNIQUE constraint failed: T.A, T.B".
func constraintTarget(msg string) (table, index string) {
	_, cols, ok := strings.Cut(msg, ": ")
	if !ok {
		return "", ""
	}
	if t, _, ok := strings.Cut(cols, "."); ok {
		table = t
	}
	return table, cols
}

func constraintColumn(msg string) string {
	if _, col, ok := strings.Cut(msg, ": "); ok {
		return col
	}
	return msg
}
