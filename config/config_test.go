package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/fbdriver/dbapi"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const yamlConfig = `
database:
  path: /data/app.fdb
  user: SYSDBA
  password: masterkey
  charset: UTF8
  timezone: UTC
transaction:
  isolation: read_committed
  read_only: true
  lock_timeout: 5
  default_action: rollback
blobs:
  stream: [photo]
  threshold: 65536
log:
  level: debug
  format: json
`

const tomlConfig = `
[database]
path = "/data/app.fdb"
user = "SYSDBA"
charset = "UTF8"
dialect = 3

[transaction]
isolation = "consistency"
no_wait = true

[log]
level = "warn"
`

func TestLoadYAML(t *testing.T) {
	f, err := Load(write(t, "fbsql.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "/data/app.fdb", f.Database.Path)
	assert.Equal(t, []string{"photo"}, f.Blobs.Stream)

	cfg, err := f.DBConfig(slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "SYSDBA", cfg.User)
	assert.Equal(t, "masterkey", cfg.Password)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, dbapi.Rollback, cfg.DefaultAction)
	assert.True(t, cfg.BlobPolicy.Stream["PHOTO"])
	assert.Equal(t, int64(65536), cfg.BlobPolicy.Threshold)

	want, err := dbapi.TPB{ReadOnly: true, Isolation: dbapi.ReadCommitted, LockTimeout: 5}.Bytes()
	require.NoError(t, err)
	assert.Equal(t, want, cfg.TPB)
}

func TestLoadTOML(t *testing.T) {
	f, err := Load(write(t, "fbsql.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, "UTF8", f.Database.Charset)
	assert.Equal(t, 3, f.Database.Dialect)

	cfg, err := f.DBConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.Location)
	assert.Equal(t, dbapi.Commit, cfg.DefaultAction)
	want, err := dbapi.TPB{Isolation: dbapi.Consistency, NoWait: true}.Bytes()
	require.NoError(t, err)
	assert.Equal(t, want, cfg.TPB)

	level, err := f.level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(write(t, "bad.yaml", "database:\n  path: a.fdb\n  pasword: x\n"))
	assert.ErrorContains(t, err, "pasword")

	_, err = Load(write(t, "bad.toml", "[database]\npath = \"a.fdb\"\npasword = \"x\"\n"))
	assert.ErrorContains(t, err, "database.pasword")

	_, err = Load(write(t, "fbsql.json", "{}"))
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	valid := func() File {
		return File{Database: Database{Path: "a.fdb"}}
	}
	tests := []struct {
		name   string
		mutate func(f *File)
		want   string
	}{
		{"missing path", func(f *File) { f.Database.Path = "" }, "database.path is required"},
		{"bad dialect", func(f *File) { f.Database.Dialect = 2 }, "database.dialect"},
		{"bad charset", func(f *File) { f.Database.Charset = "KLINGON" }, "database.charset"},
		{"bad timezone", func(f *File) { f.Database.Timezone = "Mars/Olympus" }, "database.timezone"},
		{"bad isolation", func(f *File) { f.Transaction.Isolation = "dirty" }, "transaction.isolation"},
		{"negative lock timeout", func(f *File) { f.Transaction.LockTimeout = -1 }, "transaction.lock_timeout"},
		{"bad action", func(f *File) { f.Transaction.DefaultAction = "shrug" }, "transaction.default_action"},
		{"negative threshold", func(f *File) { f.Blobs.Threshold = -1 }, "blobs.threshold"},
		{"huge segment", func(f *File) { f.Blobs.MaxSegment = 1 << 20 }, "blobs.max_segment"},
		{"bad level", func(f *File) { f.Log.Level = "loud" }, "log.level"},
		{"bad format", func(f *File) { f.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(&f)
			assert.ErrorContains(t, f.Validate(), tt.want)
		})
	}
	f := valid()
	assert.NoError(t, f.Validate())
}

func TestLogger(t *testing.T) {
	f := File{Log: Log{Level: "debug", Format: "json"}}
	var buf bytes.Buffer
	logger, err := f.Logger(&buf)
	require.NoError(t, err)
	logger.Debug("Prepared statement", "component", "stmt")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Prepared statement", record["msg"])
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "stmt", record["component"])

	buf.Reset()
	logger = NewLogger(&buf, "", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
