package native

// SQL data types carried in XSQLVar.SQLType. Bit zero flags a nullable column.
const (
	SQLText      int16 = 452
	SQLVarying   int16 = 448
	SQLShort     int16 = 500
	SQLLong      int16 = 496
	SQLFloat     int16 = 482
	SQLDouble    int16 = 480
	SQLDFloat    int16 = 530
	SQLTimestamp int16 = 510
	SQLBlob      int16 = 520
	SQLArray     int16 = 540
	SQLQuad      int16 = 550
	SQLTypeTime  int16 = 560
	SQLTypeDate  int16 = 570
	SQLInt64     int16 = 580
	SQLBoolean   int16 = 32764
	SQLNull      int16 = 32766
)

// SQLTypeName returns the SQL name of a base type code.
func SQLTypeName(t int16) string {
	switch t &^ 1 {
	case SQLText:
		return "CHAR"
	case SQLVarying:
		return "VARCHAR"
	case SQLShort:
		return "SMALLINT"
	case SQLLong:
		return "INTEGER"
	case SQLInt64:
		return "BIGINT"
	case SQLFloat:
		return "FLOAT"
	case SQLDouble, SQLDFloat:
		return "DOUBLE PRECISION"
	case SQLTimestamp:
		return "TIMESTAMP"
	case SQLTypeDate:
		return "DATE"
	case SQLTypeTime:
		return "TIME"
	case SQLBlob:
		return "BLOB"
	case SQLArray:
		return "ARRAY"
	case SQLQuad:
		return "QUAD"
	case SQLBoolean:
		return "BOOLEAN"
	case SQLNull:
		return "NULL"
	}
	return "UNKNOWN"
}

// Blob subtypes.
const (
	BlobSubtypeBinary int16 = 0
	BlobSubtypeText   int16 = 1
)

// BLR element types used in array descriptors.
const (
	BLRText      byte = 14
	BLRShort     byte = 7
	BLRLong      byte = 8
	BLRQuad      byte = 9
	BLRInt64     byte = 16
	BLRFloat     byte = 10
	BLRDouble    byte = 27
	BLRDFloat    byte = 11
	BLRTimestamp byte = 35
	BLRVarying   byte = 37
	BLRCString   byte = 40
	BLRSQLDate   byte = 12
	BLRSQLTime   byte = 13
	BLRBool      byte = 23
)

// Statement types reported by SQLInfo(InfoSQLStmtType).
const (
	StmtSelect        = 1
	StmtInsert        = 2
	StmtUpdate        = 3
	StmtDelete        = 4
	StmtDDL           = 5
	StmtGetSegment    = 6
	StmtPutSegment    = 7
	StmtExecProcedure = 8
	StmtStartTrans    = 9
	StmtCommit        = 10
	StmtRollback      = 11
	StmtSelectForUpd  = 12
	StmtSetGenerator  = 13
	StmtSavepoint     = 14
)

// Fetch results.
const (
	FetchOK         = 0
	FetchNoMoreRows = 100
)

// FreeStatement options.
const (
	DSQLClose = 1
	DSQLDrop  = 2
)

// SeekBlob modes.
const (
	SeekFromStart   = 0
	SeekFromCurrent = 1
	SeekFromEnd     = 2
)

// Generic info codes.
const (
	InfoEnd       byte = 1
	InfoTruncated byte = 2
	InfoError     byte = 3
)

// SQLInfo request codes.
const (
	InfoSQLSelect      byte = 4
	InfoSQLBind        byte = 5
	InfoSQLGetPlan     byte = 22
	InfoSQLRecords     byte = 23
	InfoSQLStmtType    byte = 21
	InfoReqSelectCount byte = 13
	InfoReqInsertCount byte = 14
	InfoReqUpdateCount byte = 15
	InfoReqDeleteCount byte = 16
)

// DatabaseInfo request codes.
const (
	InfoDBID               byte = 4
	InfoReads              byte = 5
	InfoWrites             byte = 6
	InfoFetches            byte = 7
	InfoMarks              byte = 8
	InfoImplementation     byte = 11
	InfoVersion            byte = 12
	InfoPageSize           byte = 14
	InfoNumBuffers         byte = 15
	InfoAttachmentID       byte = 22
	InfoReadSeqCount       byte = 23
	InfoReadIdxCount       byte = 24
	InfoInsertCount        byte = 25
	InfoUpdateCount        byte = 26
	InfoDeleteCount        byte = 27
	InfoSweepInterval      byte = 31
	InfoODSVersion         byte = 32
	InfoODSMinorVersion    byte = 33
	InfoDBSQLDialect       byte = 62
	InfoDBReadOnly         byte = 63
	InfoDBSizeInPages      byte = 64
	InfoFirebirdVersion    byte = 103
	InfoOldestTransaction  byte = 104
	InfoOldestActive       byte = 105
	InfoOldestSnapshot     byte = 106
	InfoNextTransaction    byte = 107
	InfoActiveTransactions byte = 109
)

// TransactionInfo request codes.
const (
	InfoTraID          byte = 4
	InfoTraIsolation   byte = 8
	InfoTraAccess      byte = 9
	InfoTraLockTimeout byte = 10
)

// TransactionInfo isolation and access answers.
const (
	InfoTraConsistency   byte = 1
	InfoTraConcurrency   byte = 2
	InfoTraReadCommitted byte = 3
	InfoTraNoRecVersion  byte = 0
	InfoTraRecVersion    byte = 1
	InfoTraReadOnly      byte = 0
	InfoTraReadWrite     byte = 1
)

// BlobInfo request codes.
const (
	InfoBlobNumSegments byte = 4
	InfoBlobMaxSegment  byte = 5
	InfoBlobTotalLength byte = 6
	InfoBlobType        byte = 7
)

// Database parameter buffer.
const (
	DPBVersion1    byte = 1
	DPBPageSize    byte = 4
	DPBNumBuffers  byte = 5
	DPBUserName    byte = 28
	DPBPassword    byte = 29
	DPBLCCtype     byte = 48
	DPBSQLRoleName byte = 60
	DPBSQLDialect  byte = 63
)

// Transaction parameter buffer.
const (
	TPBVersion3      byte = 3
	TPBConsistency   byte = 1
	TPBConcurrency   byte = 2
	TPBShared        byte = 3
	TPBProtected     byte = 4
	TPBExclusive     byte = 5
	TPBWait          byte = 6
	TPBNoWait        byte = 7
	TPBRead          byte = 8
	TPBWrite         byte = 9
	TPBLockRead      byte = 10
	TPBLockWrite     byte = 11
	TPBReadCommitted byte = 15
	TPBRecVersion    byte = 17
	TPBNoRecVersion  byte = 18
	TPBLockTimeout   byte = 21
)

// Blob parameter buffer.
const (
	BPBVersion1   byte = 1
	BPBSourceType byte = 1
	BPBTargetType byte = 2
	BPBType       byte = 3
	BPBTypeStream byte = 1
)

// EPBVersion1 is the leading byte of an event parameter block.
const EPBVersion1 byte = 1

// MaxEventNames is the number of event names one block can register.
const MaxEventNames = 15

// Engine status codes the driver inspects.
const (
	GDSArithExcept     int64 = 335544321
	GDSBadDBHandle     int64 = 335544324
	GDSBadReqHandle    int64 = 335544327
	GDSBadSegstrHandle int64 = 335544328
	GDSBadSegstrID     int64 = 335544329
	GDSBadTransHandle  int64 = 335544332
	GDSDeadlock        int64 = 335544336
	GDSIOError         int64 = 335544344
	GDSLockConflict    int64 = 335544345
	GDSNotValid        int64 = 335544347
	GDSNoCurRec        int64 = 335544348
	GDSOpenTrans       int64 = 335544357
	GDSReadOnlyTrans   int64 = 335544361
	GDSSegment         int64 = 335544366
	GDSSegstrEOF       int64 = 335544367
	GDSUnavailable     int64 = 335544375
	GDSRandom          int64 = 335544382
	GDSSQLErr          int64 = 335544436
	GDSLogin           int64 = 335544472
	GDSDSQLError       int64 = 335544569
	GDSDSQLCursorErr   int64 = 335544572
	GDSDSQLFieldErr    int64 = 335544578
	GDSDSQLRelationErr int64 = 335544580
	GDSDSQLSQLDAErr    int64 = 335544583
	GDSUniqueKey       int64 = 335544665
	GDSNoDupIndex      int64 = 335544349
	GDSDSQLStmtHandle  int64 = 335544711
	GDSReadOnlyDB      int64 = 335544765
)
