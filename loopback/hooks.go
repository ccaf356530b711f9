package loopback

import (
	"database/sql"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3_loopback"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{ConnectHook: connectHook})
}

// hooks holds what SQLite callbacks record per connection and per file.
var hooks = struct {
	sync.Mutex
	// posted lists the events posted on a connection since its last commit
	// or rollback.
	posted map[*sqlite3.SQLiteConn][]string
	// tables counts row operations per database file.
	tables map[string]*tableStats
}{
	posted: make(map[*sqlite3.SQLiteConn][]string),
	tables: make(map[string]*tableStats),
}

// Row operation kinds reported by the SQLite update hook.
const (
	opDelete = 9
	opInsert = 18
	opUpdate = 23
)

// firstRelationID is the id given to the first user table seen in a file.
const firstRelationID = 128

type tableStats struct {
	ids    map[string]int
	counts map[int]*[3]int64
}

func statsFor(file string) *tableStats {
	ts, ok := hooks.tables[file]
	if !ok {
		ts = &tableStats{ids: make(map[string]int), counts: make(map[int]*[3]int64)}
		hooks.tables[file] = ts
	}
	return ts
}

func connectHook(conn *sqlite3.SQLiteConn) error {
	file := conn.GetFilename("")
	if err := conn.RegisterFunc("post_event", func(name string) int64 {
		hooks.Lock()
		defer hooks.Unlock()
		hooks.posted[conn] = append(hooks.posted[conn], name)
		return 1
	}, false); err != nil {
		return err
	}
	conn.RegisterUpdateHook(func(op int, _ string, table string, _ int64) {
		if strings.HasPrefix(strings.ToUpper(table), "RDB$") {
			return
		}
		hooks.Lock()
		defer hooks.Unlock()
		ts := statsFor(file)
		id, ok := ts.ids[table]
		if !ok {
			id = firstRelationID + len(ts.ids)
			ts.ids[table] = id
			ts.counts[id] = new([3]int64)
		}
		switch op {
		case opInsert:
			ts.counts[id][0]++
		case opUpdate:
			ts.counts[id][1]++
		case opDelete:
			ts.counts[id][2]++
		}
	})
	return nil
}

// takePosted returns and forgets the events posted on conn.
func takePosted(conn *sqlite3.SQLiteConn) []string {
	hooks.Lock()
	defer hooks.Unlock()
	names := hooks.posted[conn]
	delete(hooks.posted, conn)
	return names
}

// postedMark and truncatePosted let a probe query run without leaving
// postings behind.
func postedMark(conn *sqlite3.SQLiteConn) int {
	hooks.Lock()
	defer hooks.Unlock()
	return len(hooks.posted[conn])
}

func truncatePosted(conn *sqlite3.SQLiteConn, n int) {
	hooks.Lock()
	defer hooks.Unlock()
	if names, ok := hooks.posted[conn]; ok && len(names) > n {
		hooks.posted[conn] = names[:n]
	}
}

// tableCounts returns one row operation counter per relation id of file.
func tableCounts(file string, op int) map[int]int64 {
	hooks.Lock()
	defer hooks.Unlock()
	ts, ok := hooks.tables[file]
	if !ok {
		return nil
	}
	idx := map[int]int{opInsert: 0, opUpdate: 1, opDelete: 2}[op]
	out := make(map[int]int64, len(ts.counts))
	for id, c := range ts.counts {
		if c[idx] > 0 {
			out[id] = c[idx]
		}
	}
	return out
}

// relationID returns the id assigned to table in file, or zero if no row
// of it has been touched yet.
func relationID(file, table string) int {
	hooks.Lock()
	defer hooks.Unlock()
	if ts, ok := hooks.tables[file]; ok {
		return ts.ids[table]
	}
	return 0
}

func forgetFile(file string) {
	hooks.Lock()
	defer hooks.Unlock()
	delete(hooks.tables, file)
}
