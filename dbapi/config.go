package dbapi

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tomyedwab/fbdriver/blob"
	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/infobuf"
	"github.com/tomyedwab/fbdriver/metrics"
	"github.com/tomyedwab/fbdriver/native"
	"github.com/tomyedwab/fbdriver/stmt"
)

// Action is how an unresolved transaction is ended when it has to be.
type Action int

const (
	Commit Action = iota
	Rollback
)

func (a Action) String() string {
	if a == Rollback {
		return "rollback"
	}
	return "commit"
}

// ParseAction accepts "commit" or "rollback".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "", "commit":
		return Commit, nil
	case "rollback":
		return Rollback, nil
	}
	return Commit, fmt.Errorf("unknown transaction action %q", s)
}

// MaxAttachments is the number of attachments one transaction can span.
const MaxAttachments = 16

const defaultMaxBlobSegment = blob.MaxSegmentSize

// Config holds attachment settings.
type Config struct {
	Database       string
	User           string
	Password       string
	Role           string
	Charset        string             // Optional, defaults to NONE
	Dialect        int                // Optional, defaults to 3
	PageSize       int                // Optional, used by CreateDatabase only
	TPB            []byte             // Optional, defaults to DefaultTPB
	DefaultAction  Action             // Optional, defaults to Commit
	BlobPolicy     blob.Policy        // Optional, defaults to materializing every BLOB
	MaxBlobSegment int                // Optional, defaults to blob.MaxSegmentSize
	InfoBufferSize int                // Optional, defaults to 256
	InfoBufferMax  int                // Optional, defaults to 65535
	Location       *time.Location     // Optional, defaults to time.Local
	Logger         *slog.Logger       // Optional, defaults to slog.Default()
	Metrics        *metrics.Collector // Optional, nil disables metrics
}

func (c *Config) defaults() (*codec.Charset, error) {
	if c.Dialect == 0 {
		c.Dialect = stmt.DefaultDialect
	}
	if c.TPB == nil {
		c.TPB = DefaultTPB
	}
	if c.MaxBlobSegment <= 0 || c.MaxBlobSegment > blob.MaxSegmentSize {
		c.MaxBlobSegment = defaultMaxBlobSegment
	}
	if c.InfoBufferSize == 0 {
		c.InfoBufferSize = infobuf.DefaultInitial
	}
	if c.InfoBufferMax == 0 {
		c.InfoBufferMax = infobuf.DefaultMax
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return codec.LookupCharset(c.Charset)
}

// DPB renders the database parameter buffer for an attach.
func (c *Config) DPB() ([]byte, error) {
	pb := native.NewParamBuffer(native.DPBVersion1)
	if c.User != "" {
		pb.AddString(native.DPBUserName, c.User)
	}
	if c.Password != "" {
		pb.AddString(native.DPBPassword, c.Password)
	}
	if c.Role != "" {
		pb.AddString(native.DPBSQLRoleName, c.Role)
	}
	if c.Charset != "" {
		pb.AddString(native.DPBLCCtype, strings.ToUpper(c.Charset))
	}
	if c.Dialect != 0 {
		pb.AddInt(native.DPBSQLDialect, int32(c.Dialect))
	}
	return pb.Bytes()
}

// createDPB is DPB plus the settings only a new database takes.
func (c *Config) createDPB() ([]byte, error) {
	pb := native.NewParamBuffer(native.DPBVersion1)
	if c.User != "" {
		pb.AddString(native.DPBUserName, c.User)
	}
	if c.Password != "" {
		pb.AddString(native.DPBPassword, c.Password)
	}
	if c.Charset != "" {
		pb.AddString(native.DPBLCCtype, strings.ToUpper(c.Charset))
	}
	if c.PageSize > 0 {
		pb.AddInt(native.DPBPageSize, int32(c.PageSize))
	}
	return pb.Bytes()
}
