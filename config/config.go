// Package config loads connection settings from YAML or TOML files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tomyedwab/fbdriver/blob"
	"github.com/tomyedwab/fbdriver/codec"
	"github.com/tomyedwab/fbdriver/dbapi"
)

// File is the on-disk configuration.
type File struct {
	Database    Database    `yaml:"database" toml:"database"`
	Transaction Transaction `yaml:"transaction" toml:"transaction"`
	Blobs       Blobs       `yaml:"blobs" toml:"blobs"`
	Log         Log         `yaml:"log" toml:"log"`
}

// Database describes the attachment.
type Database struct {
	Path     string `yaml:"path" toml:"path"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Role     string `yaml:"role" toml:"role"`
	Charset  string `yaml:"charset" toml:"charset"`     // Optional, defaults to NONE
	Dialect  int    `yaml:"dialect" toml:"dialect"`     // Optional, defaults to 3
	PageSize int    `yaml:"page_size" toml:"page_size"` // Optional, used when creating a database
	Timezone string `yaml:"timezone" toml:"timezone"`   // Optional, defaults to the local zone
	// InfoBufferSize is the first buffer size tried for info requests.
	InfoBufferSize int `yaml:"info_buffer_size" toml:"info_buffer_size"`
}

// Transaction holds the parameters of the main transaction.
type Transaction struct {
	// Isolation is one of concurrency, consistency, read_committed or
	// read_committed_no_rec_version.
	Isolation     string `yaml:"isolation" toml:"isolation"` // Optional, defaults to concurrency
	ReadOnly      bool   `yaml:"read_only" toml:"read_only"`
	NoWait        bool   `yaml:"no_wait" toml:"no_wait"`
	LockTimeout   int    `yaml:"lock_timeout" toml:"lock_timeout"`     // Seconds, ignored with no_wait
	DefaultAction string `yaml:"default_action" toml:"default_action"` // Optional, defaults to commit
}

// Blobs selects how BLOB columns are returned.
type Blobs struct {
	Stream     []string `yaml:"stream" toml:"stream"`
	Threshold  int64    `yaml:"threshold" toml:"threshold"`
	Binary     bool     `yaml:"binary" toml:"binary"`
	MaxSegment int      `yaml:"max_segment" toml:"max_segment"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" toml:"level"`   // Optional, defaults to info
	Format string `yaml:"format" toml:"format"` // Optional, text or json, defaults to text
}

var isolations = map[string]dbapi.Isolation{
	"":                              dbapi.Concurrency,
	"concurrency":                   dbapi.Concurrency,
	"snapshot":                      dbapi.Concurrency,
	"consistency":                   dbapi.Consistency,
	"read_committed":                dbapi.ReadCommitted,
	"read_committed_no_rec_version": dbapi.ReadCommittedNoRecVersion,
}

// Load reads path as YAML (.yaml, .yml) or TOML (.toml) and validates it.
// Unknown keys are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("failed to parse TOML: unknown keys %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &f, nil
}

// Validate checks values that would otherwise fail on first use.
func (f *File) Validate() error {
	d := f.Database
	if d.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if d.Dialect != 0 && d.Dialect != 1 && d.Dialect != 3 {
		return fmt.Errorf("database.dialect must be 1 or 3, got %d", d.Dialect)
	}
	if _, err := codec.LookupCharset(d.Charset); err != nil {
		return fmt.Errorf("database.charset: %w", err)
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return fmt.Errorf("database.timezone: %w", err)
		}
	}
	if _, ok := isolations[strings.ToLower(f.Transaction.Isolation)]; !ok {
		return fmt.Errorf("transaction.isolation %q is not recognised", f.Transaction.Isolation)
	}
	if f.Transaction.LockTimeout < 0 {
		return fmt.Errorf("transaction.lock_timeout must not be negative")
	}
	if f.Transaction.DefaultAction != "" {
		if _, err := dbapi.ParseAction(f.Transaction.DefaultAction); err != nil {
			return fmt.Errorf("transaction.default_action: %w", err)
		}
	}
	if f.Blobs.Threshold < 0 {
		return fmt.Errorf("blobs.threshold must not be negative")
	}
	if f.Blobs.MaxSegment < 0 || f.Blobs.MaxSegment > blob.MaxSegmentSize {
		return fmt.Errorf("blobs.max_segment must not exceed %d", blob.MaxSegmentSize)
	}
	if _, err := f.level(); err != nil {
		return err
	}
	switch strings.ToLower(f.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", f.Log.Format)
	}
	return nil
}

// TPB renders the transaction section as a parameter block.
func (f *File) TPB() ([]byte, error) {
	t := f.Transaction
	return dbapi.TPB{
		ReadOnly:    t.ReadOnly,
		Isolation:   isolations[strings.ToLower(t.Isolation)],
		NoWait:      t.NoWait,
		LockTimeout: t.LockTimeout,
	}.Bytes()
}

// DBConfig converts the file into connection settings using logger.
func (f *File) DBConfig(logger *slog.Logger) (dbapi.Config, error) {
	d := f.Database
	cfg := dbapi.Config{
		Database:       d.Path,
		User:           d.User,
		Password:       d.Password,
		Role:           d.Role,
		Charset:        d.Charset,
		Dialect:        d.Dialect,
		PageSize:       d.PageSize,
		InfoBufferSize: d.InfoBufferSize,
		MaxBlobSegment: f.Blobs.MaxSegment,
		Logger:         logger,
		BlobPolicy: blob.Policy{
			Threshold: f.Blobs.Threshold,
			Binary:    f.Blobs.Binary,
		}.WithStream(f.Blobs.Stream...),
	}
	if d.Timezone != "" {
		loc, err := time.LoadLocation(d.Timezone)
		if err != nil {
			return cfg, err
		}
		cfg.Location = loc
	}
	if f.Transaction.DefaultAction != "" {
		a, err := dbapi.ParseAction(f.Transaction.DefaultAction)
		if err != nil {
			return cfg, err
		}
		cfg.DefaultAction = a
	}
	tpb, err := f.TPB()
	if err != nil {
		return cfg, err
	}
	cfg.TPB = tpb
	return cfg, nil
}

func (f *File) level() (slog.Level, error) {
	var level slog.Level
	if f.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(f.Log.Level)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Logger builds the logger described by the log section, writing to w.
func (f *File) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := f.level()
	if err != nil {
		return nil, err
	}
	return NewLogger(w, f.Log.Format, level), nil
}

// NewLogger returns a JSON logger when format is json, a text logger
// otherwise.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
