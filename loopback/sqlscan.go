package loopback

import (
	"strings"

	"github.com/tomyedwab/fbdriver/native"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokString
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	kind       tokenKind
	text       string
	start, end int
}

func (t token) is(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

func (t token) ident() bool {
	return t.kind == tokWord || t.kind == tokQuoted
}

func (t token) name() string {
	if t.kind == tokQuoted {
		return t.text
	}
	return strings.ToUpper(t.text)
}

// tokenize splits sql into tokens, dropping whitespace and comments.
func tokenize(sql string) []token {
	var toks []token
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(sql) {
				if sql[j] == c {
					if j+1 < len(sql) && sql[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := min(j+1, len(sql))
			body := strings.ReplaceAll(sql[i+1:min(j, len(sql))], string([]byte{c, c}), string(c))
			kind := tokString
			if c == '"' {
				kind = tokQuoted
			}
			toks = append(toks, token{kind: kind, text: body, start: i, end: end})
			i = end
		case c == '?':
			toks = append(toks, token{kind: tokParam, text: "?", start: i, end: i + 1})
			i++
		case isWordStart(c):
			j := i + 1
			for j < len(sql) && isWordPart(sql[j]) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: sql[i:j], start: i, end: j})
			i = j
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9':
			j := i + 1
			for j < len(sql) && (sql[j] >= '0' && sql[j] <= '9' || sql[j] == '.' || sql[j] == 'e' || sql[j] == 'E') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: sql[i:j], start: i, end: j})
			i = j
		default:
			j := i + 1
			if j < len(sql) {
				switch sql[i : j+1] {
				case "<=", ">=", "<>", "!=", "||", "==":
					j++
				}
			}
			toks = append(toks, token{kind: tokPunct, text: sql[i:j], start: i, end: j})
			i = j
		}
	}
	return toks
}

func isWordStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || c >= '0' && c <= '9' || c == '$'
}

// hintKind tells how the type of a parameter marker is found.
type hintKind int

const (
	hintNone hintKind = iota
	// hintColumn takes the declared type of a column.
	hintColumn
	// hintPosition takes the declared type of the n-th column of a table.
	hintPosition
	// hintBigint types LIMIT and OFFSET operands.
	hintBigint
	// hintProcedure takes the type of the n-th procedure input.
	hintProcedure
)

type paramHint struct {
	kind   hintKind
	table  string
	column string
	index  int
}

// analysis is what the engine learns about a statement from its text.
type analysis struct {
	// sql is the text handed to SQLite.
	sql       string
	typ       int
	params    []paramHint
	tables    []string
	aliases   map[string]string
	procedure string
	returning bool
}

// analyze classifies sql and works out what its parameter markers stand
// for.
func analyze(sql string) (*analysis, native.StatusVector) {
	toks := tokenize(sql)
	if len(toks) == 0 {
		return nil, dsqlStatus(-104, "Unexpected end of command")
	}
	an := &analysis{sql: sql, aliases: make(map[string]string)}
	first := toks[0]
	switch {
	case first.is("SELECT"), first.is("WITH"), first.is("VALUES"):
		an.typ = native.StmtSelect
		if i := forUpdate(toks); i >= 0 {
			an.typ = native.StmtSelectForUpd
			an.sql = strings.TrimRight(sql[:toks[i].start], " \t\r\n")
			toks = toks[:i]
		}
	case first.is("INSERT"), first.is("REPLACE"):
		an.typ = native.StmtInsert
	case first.is("UPDATE"):
		an.typ = native.StmtUpdate
	case first.is("DELETE"):
		an.typ = native.StmtDelete
	case first.is("CREATE"), first.is("ALTER"), first.is("DROP"):
		an.typ = native.StmtDDL
	case first.is("SAVEPOINT"), first.is("RELEASE"):
		an.typ = native.StmtSavepoint
	case first.is("ROLLBACK") && rollbackTo(toks):
		an.typ = native.StmtSavepoint
	case first.is("EXECUTE") && len(toks) > 2 && toks[1].is("PROCEDURE"):
		return analyzeProcedure(sql, toks)
	case first.is("COMMIT"), first.is("ROLLBACK"), first.is("BEGIN"), first.is("END"),
		first.is("SET") && len(toks) > 1 && toks[1].is("TRANSACTION"):
		return nil, dsqlStatus(-104, "transaction control statements must use the transaction API")
	default:
		return nil, dsqlStatus(-104, "Token unknown - "+first.text)
	}

	switch an.typ {
	case native.StmtInsert, native.StmtUpdate, native.StmtDelete:
		for _, t := range toks {
			if t.is("RETURNING") {
				an.returning = true
				an.typ = native.StmtExecProcedure
			}
		}
	}
	an.collectTables(toks)
	an.hintParams(toks)
	return an, native.OK()
}

// forUpdate returns the index of a trailing FOR UPDATE clause, or -1.
func forUpdate(toks []token) int {
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].is("FOR") && toks[i+1].is("UPDATE") {
			return i
		}
	}
	return -1
}

func rollbackTo(toks []token) bool {
	for _, t := range toks[1:] {
		if t.is("TO") {
			return true
		}
	}
	return false
}

// analyzeProcedure turns EXECUTE PROCEDURE name args into a SELECT of the
// argument expressions.
func analyzeProcedure(sql string, toks []token) (*analysis, native.StatusVector) {
	if !toks[2].ident() {
		return nil, dsqlStatus(-104, "Token unknown - "+toks[2].text)
	}
	an := &analysis{typ: native.StmtExecProcedure, procedure: toks[2].name(), aliases: map[string]string{}}
	args := toks[3:]
	if len(args) > 0 && args[0].text == "(" && args[len(args)-1].text == ")" {
		args = args[1 : len(args)-1]
	}
	if len(args) > 0 {
		an.sql = "SELECT " + sql[args[0].start:args[len(args)-1].end]
	}
	pos, depth := 0, 0
	for _, t := range args {
		switch {
		case t.text == "(":
			depth++
		case t.text == ")":
			depth--
		case t.text == "," && depth == 0:
			pos++
		case t.kind == tokParam:
			an.params = append(an.params, paramHint{kind: hintProcedure, index: pos})
		}
	}
	return an, native.OK()
}

// collectTables records the tables named after FROM, JOIN, UPDATE, INTO
// and TABLE, with their aliases.
func (an *analysis) collectTables(toks []token) {
	add := func(i int) int {
		if i >= len(toks) || !toks[i].ident() || reserved(toks[i]) {
			return i
		}
		table := toks[i].name()
		i++
		// schema.table
		if i+1 < len(toks) && toks[i].text == "." && toks[i+1].ident() {
			table = toks[i+1].name()
			i += 2
		}
		if !containsString(an.tables, table) {
			an.tables = append(an.tables, table)
		}
		an.aliases[table] = table
		if i < len(toks) && toks[i].is("AS") {
			i++
		}
		if i < len(toks) && toks[i].ident() && !reserved(toks[i]) {
			an.aliases[toks[i].name()] = table
			i++
		}
		return i
	}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is("FROM"), t.is("JOIN"), t.is("INTO"), t.is("TABLE"),
			t.is("UPDATE") && (i == 0 || !toks[i-1].is("FOR")):
			j := add(i + 1)
			for t.is("FROM") && j < len(toks) && toks[j].text == "," {
				j = add(j + 1)
			}
			i = j - 1
		}
	}
}

var reservedWords = []string{
	"WHERE", "SET", "VALUES", "JOIN", "LEFT", "RIGHT", "INNER", "OUTER", "CROSS", "FULL",
	"ON", "USING", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "UNION", "EXCEPT",
	"INTERSECT", "RETURNING", "DEFAULT", "SELECT", "NATURAL", "WINDOW", "FOR", "ROWS",
}

func reserved(t token) bool {
	if t.kind != tokWord {
		return false
	}
	for _, w := range reservedWords {
		if t.is(w) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

var comparisons = map[string]bool{
	"=": true, "==": true, "<": true, ">": true, "<=": true, ">=": true, "<>": true, "!=": true,
}

func isComparison(t token) bool {
	return t.kind == tokPunct && comparisons[t.text] || t.is("LIKE") || t.is("GLOB")
}

// columnBefore reads a column reference ending at toks[i].
func columnBefore(toks []token, i int) (table, column string, ok bool) {
	if i < 0 || !toks[i].ident() || reserved(toks[i]) {
		return "", "", false
	}
	column = toks[i].name()
	if i >= 2 && toks[i-1].text == "." && toks[i-2].ident() {
		table = toks[i-2].name()
	}
	return table, column, true
}

// columnAfter reads a column reference starting at toks[i].
func columnAfter(toks []token, i int) (table, column string, ok bool) {
	if i >= len(toks) || !toks[i].ident() || reserved(toks[i]) {
		return "", "", false
	}
	if i+2 < len(toks) && toks[i+1].text == "." && toks[i+2].ident() {
		return toks[i].name(), toks[i+2].name(), true
	}
	if i+1 < len(toks) && toks[i+1].text == "(" {
		// A function call.
		return "", "", false
	}
	return "", toks[i].name(), true
}

// hintParams decides, for every parameter marker, where its type comes
// from.
func (an *analysis) hintParams(toks []token) {
	insertCols, valuesAt := an.insertShape(toks)
	for i, t := range toks {
		if t.kind != tokParam {
			continue
		}
		h := paramHint{}
		if valuesAt >= 0 && i > valuesAt {
			if pos, ok := tuplePosition(toks, valuesAt, i); ok {
				if pos < len(insertCols) {
					h = paramHint{kind: hintColumn, table: an.tables[0], column: insertCols[pos]}
				} else if insertCols == nil {
					h = paramHint{kind: hintPosition, table: an.tables[0], index: pos}
				}
			}
		}
		if h.kind == hintNone {
			h = an.hintAt(toks, i)
		}
		an.params = append(an.params, h)
	}
}

func (an *analysis) hintAt(toks []token, i int) paramHint {
	column := func(table, col string) paramHint {
		if table != "" {
			if real, ok := an.aliases[table]; ok {
				table = real
			}
		}
		return paramHint{kind: hintColumn, table: table, column: col}
	}
	if i > 0 && (toks[i-1].is("LIMIT") || toks[i-1].is("OFFSET") || toks[i-1].is("FIRST") || toks[i-1].is("SKIP")) {
		return paramHint{kind: hintBigint}
	}
	if i > 0 && toks[i-1].text == "," && i > 2 && toks[i-3].is("LIMIT") {
		return paramHint{kind: hintBigint}
	}
	if i >= 2 && isComparison(toks[i-1]) {
		if tb, col, ok := columnBefore(toks, i-2); ok {
			return column(tb, col)
		}
	}
	if i+2 < len(toks) && isComparison(toks[i+1]) {
		if tb, col, ok := columnAfter(toks, i+2); ok {
			return column(tb, col)
		}
	}
	// col BETWEEN ? AND ?
	if i >= 2 && toks[i-1].is("BETWEEN") {
		if tb, col, ok := columnBefore(toks, i-2); ok {
			return column(tb, col)
		}
	}
	if i >= 4 && toks[i-1].is("AND") && toks[i-2].kind == tokParam && toks[i-3].is("BETWEEN") {
		if tb, col, ok := columnBefore(toks, i-4); ok {
			return column(tb, col)
		}
	}
	// col IN (?, ?, ...)
	j := i - 1
	for j >= 0 && (toks[j].kind == tokParam || toks[j].text == ",") {
		j--
	}
	if j >= 2 && toks[j].text == "(" && toks[j-1].is("IN") {
		k := j - 2
		if k >= 0 && toks[k].is("NOT") {
			k--
		}
		if tb, col, ok := columnBefore(toks, k); ok {
			return column(tb, col)
		}
	}
	return paramHint{}
}

// insertShape finds the column list and the VALUES keyword of an INSERT.
// valuesAt is -1 for other statements.
func (an *analysis) insertShape(toks []token) (cols []string, valuesAt int) {
	valuesAt = -1
	if an.typ != native.StmtInsert && !(an.returning && len(toks) > 0 && (toks[0].is("INSERT") || toks[0].is("REPLACE"))) {
		return nil, -1
	}
	if len(an.tables) == 0 {
		return nil, -1
	}
	for i, t := range toks {
		if t.is("VALUES") {
			valuesAt = i
			break
		}
	}
	if valuesAt < 0 {
		return nil, -1
	}
	// INSERT INTO t (a, b) VALUES
	if valuesAt > 0 && toks[valuesAt-1].text == ")" {
		for j := valuesAt - 2; j >= 0; j-- {
			if toks[j].text == "(" {
				for _, c := range toks[j+1 : valuesAt-1] {
					if c.ident() {
						cols = append(cols, c.name())
					}
				}
				break
			}
		}
	}
	return cols, valuesAt
}

// tuplePosition returns the position of the marker at toks[i] within its
// VALUES tuple, when it stands alone as a tuple item.
func tuplePosition(toks []token, valuesAt, i int) (int, bool) {
	depth, pos := 0, 0
	for j := valuesAt + 1; j < i; j++ {
		switch toks[j].text {
		case "(":
			depth++
			if depth == 1 {
				pos = 0
			}
		case ")":
			depth--
		case ",":
			if depth == 1 {
				pos++
			}
		}
	}
	if depth != 1 {
		return 0, false
	}
	prev, next := toks[i-1].text, ""
	if i+1 < len(toks) {
		next = toks[i+1].text
	}
	if (prev == "(" || prev == ",") && (next == ")" || next == ",") {
		return pos, true
	}
	return 0, false
}
