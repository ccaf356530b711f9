package dbapi

import (
	"github.com/tomyedwab/fbdriver/native"
)

// Isolation is a transaction isolation level.
type Isolation int

const (
	// Concurrency is snapshot isolation.
	Concurrency Isolation = iota
	// Consistency is snapshot isolation with table stability.
	Consistency
	// ReadCommitted sees the latest committed version of every record.
	ReadCommitted
	// ReadCommittedNoRecVersion waits for uncommitted versions instead of
	// reading past them.
	ReadCommittedNoRecVersion
)

// Sharing is a table reservation mode.
type Sharing int

const (
	Shared Sharing = iota
	Protected
	Exclusive
)

// Reservation locks one table when the transaction starts.
type Reservation struct {
	Table   string
	Write   bool
	Sharing Sharing
}

// TPB describes transaction parameters.
type TPB struct {
	ReadOnly  bool
	Isolation Isolation
	NoWait    bool
	// LockTimeout, in seconds, bounds lock waits. Ignored with NoWait.
	LockTimeout  int
	Reservations []Reservation
}

// DefaultTPB is a read-write snapshot transaction that waits on conflicts.
var DefaultTPB = mustTPB(TPB{})

// ReadOnlyTPB is the parameter block of a connection's query transaction.
var ReadOnlyTPB = mustTPB(TPB{ReadOnly: true, Isolation: ReadCommitted})

func mustTPB(t TPB) []byte {
	b, err := t.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}

// Bytes renders the transaction parameter buffer.
func (t TPB) Bytes() ([]byte, error) {
	pb := native.NewParamBuffer(native.TPBVersion3)
	if t.ReadOnly {
		pb.AddFlag(native.TPBRead)
	} else {
		pb.AddFlag(native.TPBWrite)
	}
	switch t.Isolation {
	case Consistency:
		pb.AddFlag(native.TPBConsistency)
	case ReadCommitted:
		pb.AddFlag(native.TPBReadCommitted).AddFlag(native.TPBRecVersion)
	case ReadCommittedNoRecVersion:
		pb.AddFlag(native.TPBReadCommitted).AddFlag(native.TPBNoRecVersion)
	default:
		pb.AddFlag(native.TPBConcurrency)
	}
	if t.NoWait {
		pb.AddFlag(native.TPBNoWait)
	} else {
		pb.AddFlag(native.TPBWait)
		if t.LockTimeout > 0 {
			pb.AddInt(native.TPBLockTimeout, int32(t.LockTimeout))
		}
	}
	for _, r := range t.Reservations {
		code := native.TPBLockRead
		if r.Write {
			code = native.TPBLockWrite
		}
		pb.AddString(code, r.Table)
		switch r.Sharing {
		case Protected:
			pb.AddFlag(native.TPBProtected)
		case Exclusive:
			pb.AddFlag(native.TPBExclusive)
		default:
			pb.AddFlag(native.TPBShared)
		}
	}
	return pb.Bytes()
}
