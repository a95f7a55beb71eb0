package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigging/internal/store"
)

// evalSymlinks resolves symlinks for path comparison (macOS /var -> /private/var).
func evalSymlinks(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}

// isolate runs the test from an empty directory with an empty home so no
// real config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := evalSymlinks(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)
	return dir
}

func TestFindRoot(t *testing.T) {
	tmpDir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, FileName), []byte("listen_addr: :9090\n"), 0644))

	subDir := filepath.Join(tmpDir, "sub", "deep")
	require.NoError(t, os.MkdirAll(subDir, 0755))
	t.Chdir(subDir)

	root, err := FindRoot()
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindRoot_NotFound(t *testing.T) {
	isolate(t)

	_, err := FindRoot()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "project root not found")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ".rigging", cfg.DataDir)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, filepath.Join(".rigging", "rigging.db"), cfg.Store.Path)
	assert.Equal(t, 10*time.Second, cfg.ComposeTimeout)
	assert.Equal(t, "default", cfg.DefaultNamespace)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.File)
}

func TestLoad_DiscoveredFile(t *testing.T) {
	dir := isolate(t)
	content := `listen_addr: 127.0.0.1:9090
compose_timeout: 2s
default_namespace: platform
store:
  driver: memory
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))

	sub := filepath.Join(dir, "charts")
	require.NoError(t, os.MkdirAll(sub, 0755))
	t.Chdir(sub)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), cfg.File)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.ComposeTimeout)
	assert.Equal(t, "platform", cfg.DefaultNamespace)
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, filepath.Join(dir, ".rigging"), cfg.DataDir)
}

func TestLoad_ExplicitFileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /var/lib/rigging\n"), 0644))

	t.Setenv("RIGGING_LISTEN_ADDR", ":7070")
	t.Setenv("RIGGING_STORE_PATH", "/tmp/other.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/rigging", cfg.DataDir)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	isolate(t)
	t.Setenv("RIGGING_STORE_DRIVER", "postgres")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store.driver")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ListenAddr:       ":8080",
			DataDir:          ".rigging",
			Store:            StoreConfig{Driver: store.DriverSQLite},
			ComposeTimeout:   time.Second,
			DefaultNamespace: "default",
			ReadTimeout:      time.Second,
			WriteTimeout:     time.Second,
			ShutdownTimeout:  time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "invalid store.driver"},
		{"no port", func(c *Config) { c.ListenAddr = "localhost" }, "invalid listen_addr"},
		{"port out of range", func(c *Config) { c.ListenAddr = ":70000" }, "port must be 0-65535"},
		{"zero timeout", func(c *Config) { c.ComposeTimeout = 0 }, "compose_timeout must be positive"},
		{"negative timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }, "shutdown_timeout must be positive"},
		{"empty namespace", func(c *Config) { c.DefaultNamespace = " " }, "default_namespace is required"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		DataDir: filepath.Join(dir, "data"),
		Store:   StoreConfig{Driver: store.DriverSQLite, Path: filepath.Join(dir, "data", "rigging.db")},
	}

	s, err := cfg.OpenStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = os.Stat(cfg.Store.Path)
	assert.NoError(t, err)

	cfg.Store.Driver = store.DriverMemory
	s, err = cfg.OpenStore()
	require.NoError(t, err)
	_, ok := s.(*store.Memory)
	assert.True(t, ok)
}
