package loopback

import (
	"fmt"
	"os"
	"slices"

	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/native"
)

const (
	implementationCode  = 60
	implementationClass = 1
	odsMajor            = 12
	odsMinor            = 0
	sweepInterval       = 20000
	serverVersion       = "LI-V6.3.0 Loopback"
)

// countedStrings renders a count byte followed by length-prefixed strings.
func countedStrings(parts ...string) []byte {
	out := []byte{byte(len(parts))}
	for _, p := range parts {
		if len(p) > 255 {
			p = p[:255]
		}
		out = append(out, byte(len(p)))
		out = append(out, p...)
	}
	return out
}

func (a *attachment) pragma(name string) int64 {
	var n int64
	if err := a.db.Get(&n, "PRAGMA "+name); err != nil {
		return 0
	}
	return n
}

// DatabaseInfo answers database info requests. Unknown codes are answered
// with an InfoError cluster.
func (e *Engine) DatabaseInfo(db native.DBHandle, items []byte, bufLen int) ([]byte, native.StatusVector) {
	a, sv := e.attachment(db)
	if sv.Failed() {
		return nil, sv
	}
	w := native.NewInfoWriter(bufLen)
	for _, code := range items {
		if code == native.InfoEnd {
			break
		}
		switch code {
		case native.InfoDBID:
			host, _ := os.Hostname()
			w.Add(code, countedStrings(a.path, host))
		case native.InfoVersion:
			w.Add(code, countedStrings(serverVersion))
		case native.InfoFirebirdVersion:
			lib, _, _ := sqlite3.Version()
			w.Add(code, countedStrings(fmt.Sprintf("%s on SQLite %s", serverVersion, lib)))
		case native.InfoImplementation:
			w.Add(code, []byte{1, implementationCode, implementationClass})
		case native.InfoPageSize:
			w.AddInt(code, a.pragma("page_size"), 4)
		case native.InfoNumBuffers:
			n := a.pragma("cache_size")
			if n < 0 {
				// Negative cache sizes are in KiB.
				n = -n * 1024 / max(a.pragma("page_size"), 1)
			}
			w.AddInt(code, n, 4)
		case native.InfoDBSizeInPages:
			w.AddInt(code, a.pragma("page_count"), 4)
		case native.InfoAttachmentID:
			w.AddInt(code, a.id, 4)
		case native.InfoSweepInterval:
			w.AddInt(code, sweepInterval, 4)
		case native.InfoODSVersion:
			w.AddInt(code, odsMajor, 4)
		case native.InfoODSMinorVersion:
			w.AddInt(code, odsMinor, 4)
		case native.InfoDBSQLDialect:
			w.AddInt(code, int64(a.dialect), 1)
		case native.InfoDBReadOnly:
			w.AddInt(code, 0, 1)
		case native.InfoReads:
			w.AddInt(code, a.stats.reads.Load(), 4)
		case native.InfoWrites:
			w.AddInt(code, a.stats.writes.Load(), 4)
		case native.InfoFetches:
			w.AddInt(code, a.stats.fetches.Load(), 4)
		case native.InfoMarks:
			w.AddInt(code, a.stats.marks.Load(), 4)
		case native.InfoOldestTransaction, native.InfoOldestActive, native.InfoOldestSnapshot, native.InfoNextTransaction:
			w.AddInt(code, e.transactionCounter(code), 4)
		case native.InfoActiveTransactions:
			// No cluster at all when nothing is active.
			for _, id := range e.activeTransactions(a) {
				w.AddInt(code, id, 4)
			}
		case native.InfoReadSeqCount, native.InfoReadIdxCount:
			// Reads are not tracked per table.
			w.Add(code, nil)
		case native.InfoInsertCount:
			w.Add(code, tableCounters(tableCounts(a.file, opInsert)))
		case native.InfoUpdateCount:
			w.Add(code, tableCounters(tableCounts(a.file, opUpdate)))
		case native.InfoDeleteCount:
			w.Add(code, tableCounters(tableCounts(a.file, opDelete)))
		default:
			w.Add(native.InfoError, []byte{code})
		}
	}
	return w.Bytes(), native.OK()
}

// tableCounters renders per-relation counters as 2-byte relation ids and
// 4-byte counts, big-endian, ordered by relation id.
func tableCounters(counts map[int]int64) []byte {
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]byte, 6*len(ids))
	for i, id := range ids {
		codec.PutBE(out[6*i:6*i+2], uint64(id))
		codec.PutBE(out[6*i+2:6*i+6], uint64(counts[id]))
	}
	return out
}

// transactionCounter answers one of the transaction marker codes.
func (e *Engine) transactionCounter(code byte) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	oldest := e.nextTx
	for _, t := range e.trs {
		oldest = min(oldest, t.id)
	}
	switch code {
	case native.InfoNextTransaction:
		return e.nextTx
	case native.InfoOldestTransaction:
		return max(oldest-1, 0)
	}
	return oldest
}

// activeTransactions lists the ids of the transactions spanning a.
func (e *Engine) activeTransactions(a *attachment) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []int64
	for _, t := range e.trs {
		for _, p := range t.parts {
			if p.att == a {
				ids = append(ids, t.id)
				break
			}
		}
	}
	slices.Sort(ids)
	return ids
}
