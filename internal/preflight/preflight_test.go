package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigging/internal/config"
	"github.com/cameronsjo/rigging/internal/lock"
	"github.com/cameronsjo/rigging/internal/store"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ListenAddr:       ":8080",
		DataDir:          filepath.Join(dir, "data"),
		Store:            config.StoreConfig{Driver: driver},
		ComposeTimeout:   time.Second,
		DefaultNamespace: "default",
		ReadTimeout:      time.Second,
		WriteTimeout:     time.Second,
		ShutdownTimeout:  time.Second,
	}
	if driver == store.DriverSQLite {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "rigging.db")
	}
	return cfg
}

func names(checks []Check) []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = c.Name
	}
	return out
}

func resultFor(t *testing.T, results []Result, name string) Result {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result for %s", name)
	return Result{}
}

func TestChecks_Local(t *testing.T) {
	t.Run("sqlite includes lock check", func(t *testing.T) {
		checks := Checks(testConfig(t, store.DriverSQLite), "")
		assert.Equal(t, []string{"schemas", "data directory", "store", "lock", "kubectl"}, names(checks))
	})

	t.Run("memory has no lock check", func(t *testing.T) {
		checks := Checks(testConfig(t, store.DriverMemory), "")
		assert.Equal(t, []string{"schemas", "data directory", "store", "kubectl"}, names(checks))
	})

	t.Run("server replaces local checks", func(t *testing.T) {
		checks := Checks(testConfig(t, store.DriverSQLite), "http://localhost:1")
		assert.Equal(t, []string{"schemas", "server", "kubectl"}, names(checks))
	})
}

func TestRun_LocalStore(t *testing.T) {
	cfg := testConfig(t, store.DriverSQLite)

	results := Run(context.Background(), Checks(cfg, ""))
	for _, name := range []string{"schemas", "data directory", "store", "lock"} {
		r := resultFor(t, results, name)
		assert.True(t, r.OK(), "%s: %v", name, r.Err)
		assert.True(t, r.Required || name == "lock")
	}
	assert.Contains(t, resultFor(t, results, "store").Detail, "0 profile(s), 0 composite(s)")
	assert.Equal(t, "free", resultFor(t, results, "lock").Detail)
}

func TestRun_LockHeld(t *testing.T) {
	cfg := testConfig(t, store.DriverSQLite)
	lk := lock.New(cfg.DataDir, lock.StoreName)
	require.NoError(t, lk.Acquire())
	defer lk.Release()

	results := Run(context.Background(), Checks(cfg, ""))
	r := resultFor(t, results, "lock")
	assert.ErrorIs(t, r.Err, lock.ErrHeld)

	warnings, errs := Summarize(results)
	assert.Empty(t, errs)
	assert.Contains(t, warnings[0], "lock:")
}

func TestRun_Server(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	results := Run(context.Background(), Checks(testConfig(t, store.DriverMemory), ts.URL))
	r := resultFor(t, results, "server")
	require.True(t, r.OK(), "%v", r.Err)
	assert.Equal(t, ts.URL+" ok", r.Detail)
}

func TestRun_ServerDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	results := Run(context.Background(), Checks(testConfig(t, store.DriverMemory), url))
	_, errs := Summarize(results)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "server:")
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Name: "a", Required: true},
		{Name: "b", Required: true, Err: errors.New("broken")},
		{Name: "c", Err: errors.New("missing")},
	}

	warnings, errs := Summarize(results)
	assert.Equal(t, []string{"b: broken"}, errs)
	assert.Equal(t, []string{"c: missing"}, warnings)
}

func TestCheckWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	assert.NoError(t, checkWritable(dir))
	assert.DirExists(t, dir)
}
