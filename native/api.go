// Package native describes the engine's fixed call interface.
//
// The driver never talks to the engine except through API. Each method mirrors
// one native entry point: it takes engine handles and raw parameter or info
// buffers, fills the row descriptors it is given, and reports the outcome in a
// StatusVector. Callers translate failing vectors into typed errors with
// StatusError at the call site.
//
// The package also holds the bit-exact wire contracts shared with the native
// library: the XSQLDA row descriptor layout, parameter-buffer encoding, info
// cluster encoding and event-block encoding.
package native

// DBHandle identifies an attachment.
type DBHandle uint32

// TrHandle identifies a physical transaction.
type TrHandle uint32

// StmtHandle identifies an allocated statement.
type StmtHandle uint32

// BlobHandle identifies an open blob.
type BlobHandle uint32

// EventID identifies a queued event block.
type EventID int32

// TEB is one attachment's part of a multi-attachment transaction start.
type TEB struct {
	DB  DBHandle
	TPB []byte
}

// ArrayBound is the inclusive range of one array dimension.
type ArrayBound struct {
	Lower int16
	Upper int16
}

// Count returns the number of elements in the dimension.
func (b ArrayBound) Count() int {
	return int(b.Upper) - int(b.Lower) + 1
}

// ArrayDesc describes the elements and dimensions of an ARRAY column.
type ArrayDesc struct {
	Dtype        byte
	Scale        int8
	Length       uint16
	FieldName    string
	RelationName string
	Bounds       []ArrayBound
}

// Elements returns the total number of elements across all dimensions.
func (d *ArrayDesc) Elements() int {
	n := 1
	for _, b := range d.Bounds {
		n *= b.Count()
	}
	return n
}

// EventCallback receives the updated result buffer of an event block.
// It may be invoked on a goroutine the caller does not control.
type EventCallback func(updated []byte)

// API is the native call interface. Implementations must be safe for use from
// multiple goroutines; the driver serializes calls per attachment itself.
type API interface {
	// Attachments
	AttachDatabase(path string, dpb []byte) (DBHandle, StatusVector)
	CreateDatabase(path string, dialect int, dpb []byte) (DBHandle, StatusVector)
	DropDatabase(db DBHandle) StatusVector
	DetachDatabase(db DBHandle) StatusVector
	DatabaseInfo(db DBHandle, items []byte, bufLen int) ([]byte, StatusVector)

	// Transactions
	StartTransaction(db DBHandle, tpb []byte) (TrHandle, StatusVector)
	StartMultiple(tebs []TEB) (TrHandle, StatusVector)
	CommitTransaction(tr TrHandle) StatusVector
	CommitRetaining(tr TrHandle) StatusVector
	RollbackTransaction(tr TrHandle) StatusVector
	RollbackRetaining(tr TrHandle) StatusVector
	PrepareTransaction(tr TrHandle) StatusVector
	TransactionInfo(tr TrHandle, items []byte, bufLen int) ([]byte, StatusVector)

	// Statements
	AllocateStatement(db DBHandle) (StmtHandle, StatusVector)
	PrepareStatement(tr TrHandle, stmt StmtHandle, sql string, dialect int, out *XSQLDA) StatusVector
	DescribeBind(stmt StmtHandle, dialect int, in *XSQLDA) StatusVector
	Describe(stmt StmtHandle, dialect int, out *XSQLDA) StatusVector
	Execute(tr TrHandle, stmt StmtHandle, dialect int, in *XSQLDA) StatusVector
	Execute2(tr TrHandle, stmt StmtHandle, dialect int, in, out *XSQLDA) StatusVector
	ExecuteImmediate(db DBHandle, tr TrHandle, sql string, dialect int) StatusVector
	// Fetch returns FetchOK with a row in out, or FetchNoMoreRows.
	Fetch(stmt StmtHandle, dialect int, out *XSQLDA) (int, StatusVector)
	FreeStatement(stmt StmtHandle, option int) StatusVector
	SetCursorName(stmt StmtHandle, name string) StatusVector
	SQLInfo(stmt StmtHandle, items []byte, bufLen int) ([]byte, StatusVector)

	// Blobs. GetSegment reports a partially delivered segment with
	// GDSSegment and the end of the blob with GDSSegstrEOF.
	OpenBlob(db DBHandle, tr TrHandle, id Quad, bpb []byte) (BlobHandle, StatusVector)
	CreateBlob(db DBHandle, tr TrHandle, bpb []byte) (BlobHandle, Quad, StatusVector)
	GetSegment(blob BlobHandle, bufLen int) ([]byte, StatusVector)
	PutSegment(blob BlobHandle, data []byte) StatusVector
	BlobInfo(blob BlobHandle, items []byte, bufLen int) ([]byte, StatusVector)
	SeekBlob(blob BlobHandle, mode int, offset int32) (int32, StatusVector)
	CloseBlob(blob BlobHandle) StatusVector
	CancelBlob(blob BlobHandle) StatusVector

	// Arrays. ArrayPutSlice assigns a new id when *id is zero.
	ArrayLookupBounds(db DBHandle, tr TrHandle, relation, field string) (ArrayDesc, StatusVector)
	ArrayGetSlice(db DBHandle, tr TrHandle, id Quad, desc *ArrayDesc, bufLen int) ([]byte, StatusVector)
	ArrayPutSlice(db DBHandle, tr TrHandle, id *Quad, desc *ArrayDesc, data []byte) StatusVector

	// Events
	QueueEvents(db DBHandle, eventBuf []byte, callback EventCallback) (EventID, StatusVector)
	CancelEvents(db DBHandle, id EventID) StatusVector

	// Status translation. Interpret yields one message fragment per call and
	// reports false once the vector is exhausted.
	Interpret(c *StatusCursor) (string, bool)
	SQLCode(sv StatusVector) int32
}
