package dbapi

import (
	"fmt"

	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dberr"
	"github.com/tomyedwab/fbdriver/native"
)

// DatabaseInfo sends a raw database info request and returns the validated
// reply clusters.
func (c *Connection) DatabaseInfo(items []byte) ([]native.InfoItem, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.querier.Query("Error while requesting database information:", items, func(n int) ([]byte, native.StatusVector) {
		return c.api.DatabaseInfo(c.db, items, n)
	})
}

func (c *Connection) dbInfo(code byte) (native.InfoItem, error) {
	if err := c.checkOpen(); err != nil {
		return native.InfoItem{}, err
	}
	item, ok, err := c.querier.Single("Error while requesting database information:", code,
		func(items []byte, n int) ([]byte, native.StatusVector) {
			return c.api.DatabaseInfo(c.db, items, n)
		})
	if err != nil {
		return native.InfoItem{}, err
	}
	if !ok {
		return native.InfoItem{}, dberr.NewInternalError("database info code %d was not answered", code)
	}
	return item, nil
}

func (c *Connection) dbInt(code byte) (int64, error) {
	item, err := c.dbInfo(code)
	if err != nil {
		return 0, err
	}
	return item.Int(), nil
}

// counted parses a reply made of a count byte followed by that many
// length-prefixed strings.
func counted(item native.InfoItem) ([]string, error) {
	data := item.Data
	if len(data) == 0 {
		return nil, nil
	}
	n := int(data[0])
	data = data[1:]
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if len(data) == 0 || int(data[0]) > len(data)-1 {
			return nil, dberr.NewInternalError("malformed string list in info code %d", item.Code)
		}
		l := int(data[0])
		out = append(out, string(data[1:1+l]))
		data = data[1+l:]
	}
	return out, nil
}

// ServerVersion returns the engine's version string.
func (c *Connection) ServerVersion() (string, error) {
	item, err := c.dbInfo(native.InfoVersion)
	if err != nil {
		return "", err
	}
	parts, err := counted(item)
	if err != nil || len(parts) == 0 {
		return "", err
	}
	return parts[0], nil
}

// EngineVersion returns the engine's product version string.
func (c *Connection) EngineVersion() (string, error) {
	item, err := c.dbInfo(native.InfoFirebirdVersion)
	if err != nil {
		return "", err
	}
	parts, err := counted(item)
	if err != nil || len(parts) == 0 {
		return "", err
	}
	return parts[0], nil
}

// DatabaseID returns the database file name and the site name.
func (c *Connection) DatabaseID() ([]string, error) {
	item, err := c.dbInfo(native.InfoDBID)
	if err != nil {
		return nil, err
	}
	return counted(item)
}

// Implementation describes the engine build.
type Implementation struct {
	Code  int
	Class int
}

// Implementation returns the implementation code and class.
func (c *Connection) Implementation() (Implementation, error) {
	item, err := c.dbInfo(native.InfoImplementation)
	if err != nil {
		return Implementation{}, err
	}
	if len(item.Data) < 3 {
		return Implementation{}, dberr.NewInternalError("implementation answer has %d bytes", len(item.Data))
	}
	return Implementation{Code: int(item.Data[1]), Class: int(item.Data[2])}, nil
}

// PageSize returns the database page size in bytes.
func (c *Connection) PageSize() (int64, error) { return c.dbInt(native.InfoPageSize) }

// NumBuffers returns the number of page buffers.
func (c *Connection) NumBuffers() (int64, error) { return c.dbInt(native.InfoNumBuffers) }

// SQLDialect returns the database SQL dialect.
func (c *Connection) SQLDialect() (int64, error) { return c.dbInt(native.InfoDBSQLDialect) }

// SizeInPages returns the allocated size of the database in pages.
func (c *Connection) SizeInPages() (int64, error) { return c.dbInt(native.InfoDBSizeInPages) }

// AttachmentID returns the engine's id for this attachment.
func (c *Connection) AttachmentID() (int64, error) { return c.dbInt(native.InfoAttachmentID) }

// SweepInterval returns the automatic sweep interval.
func (c *Connection) SweepInterval() (int64, error) { return c.dbInt(native.InfoSweepInterval) }

// ReadOnly reports whether the database is read-only.
func (c *Connection) ReadOnly() (bool, error) {
	n, err := c.dbInt(native.InfoDBReadOnly)
	return n != 0, err
}

// ODSVersion returns the on-disk structure version as "major.minor".
func (c *Connection) ODSVersion() (string, error) {
	major, err := c.dbInt(native.InfoODSVersion)
	if err != nil {
		return "", err
	}
	minor, err := c.dbInt(native.InfoODSMinorVersion)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", major, minor), nil
}

// IOStats are the attachment's page I/O counters.
type IOStats struct {
	Reads   int64
	Writes  int64
	Fetches int64
	Marks   int64
}

// IOStats returns page reads, writes, fetches and marks.
func (c *Connection) IOStats() (IOStats, error) {
	reply, err := c.DatabaseInfo([]byte{native.InfoReads, native.InfoWrites, native.InfoFetches, native.InfoMarks})
	if err != nil {
		return IOStats{}, err
	}
	var s IOStats
	for _, it := range reply {
		switch it.Code {
		case native.InfoReads:
			s.Reads = it.Int()
		case native.InfoWrites:
			s.Writes = it.Int()
		case native.InfoFetches:
			s.Fetches = it.Int()
		case native.InfoMarks:
			s.Marks = it.Int()
		}
	}
	return s, nil
}

// TransactionCounters are the engine's transaction markers.
type TransactionCounters struct {
	Oldest         int64
	OldestActive   int64
	OldestSnapshot int64
	Next           int64
}

// TransactionCounters returns the oldest interesting, oldest active,
// oldest snapshot and next transaction ids.
func (c *Connection) TransactionCounters() (TransactionCounters, error) {
	reply, err := c.DatabaseInfo([]byte{
		native.InfoOldestTransaction, native.InfoOldestActive, native.InfoOldestSnapshot, native.InfoNextTransaction,
	})
	if err != nil {
		return TransactionCounters{}, err
	}
	var tc TransactionCounters
	for _, it := range reply {
		switch it.Code {
		case native.InfoOldestTransaction:
			tc.Oldest = it.Int()
		case native.InfoOldestActive:
			tc.OldestActive = it.Int()
		case native.InfoOldestSnapshot:
			tc.OldestSnapshot = it.Int()
		case native.InfoNextTransaction:
			tc.Next = it.Int()
		}
	}
	return tc, nil
}

// ActiveTransactions returns the ids of the active transactions. An
// attachment with none answers without echoing the request code, which
// yields an empty list.
func (c *Connection) ActiveTransactions() ([]int64, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	reply, err := c.querier.All("Error while requesting database information:", native.InfoActiveTransactions,
		func(items []byte, n int) ([]byte, native.StatusVector) {
			return c.api.DatabaseInfo(c.db, items, n)
		})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(reply))
	for _, it := range reply {
		ids = append(ids, it.Int())
	}
	return ids, nil
}

// Table operation counters, keyed by relation id.
const (
	ReadSeqCount = native.InfoReadSeqCount
	ReadIdxCount = native.InfoReadIdxCount
	InsertCount  = native.InfoInsertCount
	UpdateCount  = native.InfoUpdateCount
	DeleteCount  = native.InfoDeleteCount
)

// TableCounts returns one of the per-table operation counters. Each entry
// is a 2-byte relation id and a 4-byte count, both big-endian.
func (c *Connection) TableCounts(code byte) (map[int]int64, error) {
	switch code {
	case ReadSeqCount, ReadIdxCount, InsertCount, UpdateCount, DeleteCount:
	default:
		return nil, dberr.NewInterfaceError("info code %d is not a table counter", code)
	}
	item, err := c.dbInfo(code)
	if err != nil {
		return nil, err
	}
	if len(item.Data)%6 != 0 {
		return nil, dberr.NewInternalError("table counter reply has %d bytes, not a multiple of 6", len(item.Data))
	}
	out := make(map[int]int64, len(item.Data)/6)
	for p := 0; p < len(item.Data); p += 6 {
		rel := int(codec.DecodeUBE(item.Data[p : p+2]))
		out[rel] = codec.DecodeBE(item.Data[p+2 : p+6])
	}
	return out, nil
}
