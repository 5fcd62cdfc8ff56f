package docindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, defaultRecordCacheSize, cfg.RecordCacheSize)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("storage:\n  backend: bolt\n  path: /tmp/x.db\njournal:\n  dir: /tmp/changes\n  maxFileSize: 1024\nrecordCacheSize: 10\nverbose: true\n"))
	require.NoError(t, err)
	assert.Equal(t, Config{
		Storage:         StorageConfig{Backend: BackendBolt, Path: "/tmp/x.db"},
		Journal:         JournalConfig{Dir: "/tmp/changes", MaxFileSize: 1024},
		RecordCacheSize: 10,
		Verbose:         true,
	}, cfg)

	opt := cfg.Options(nil)
	assert.Equal(t, BackendBolt, opt.Backend)
	assert.Equal(t, "/tmp/x.db", opt.Path)
	assert.Equal(t, 10, opt.RecordCacheSize)
	assert.True(t, opt.Verbose)
	assert.Equal(t, "/tmp/changes", opt.JournalDir)
	assert.Equal(t, int64(1024), opt.JournalMaxFileSize)
	assert.False(t, opt.IsTesting)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		yaml string
		err  string
	}{
		{"storage:\n  backend: pebble\n", "docindex: config: storage.path is required for the pebble backend"},
		{"storage:\n  backend: sqlite\n", `docindex: config: unknown storage.backend "sqlite"`},
		{"journal:\n  maxFileSize: -1\n", "docindex: config: journal.maxFileSize must not be negative"},
	}
	for _, tt := range tests {
		_, err := ParseConfig([]byte(tt.yaml))
		assert.EqualError(t, err, tt.err)
	}

	_, err := ParseConfig([]byte("storage: [1, 2]"))
	assert.ErrorContains(t, err, "docindex: config:")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: pebble\n  path: "+filepath.Join(dir, "data")+"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	db, err := Open(testCat, cfg.Options(nil))
	require.NoError(t, err)
	defer db.Close()
	save(t, db, account(1, "a@example.com"))

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
