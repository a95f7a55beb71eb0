package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	lock := New("/tmp/test", "rigging")
	assert.Equal(t, "/tmp/test/rigging.lock", lock.Path())
}

func TestLock_AcquireRelease(t *testing.T) {
	tmpDir := t.TempDir()
	lock := New(filepath.Join(tmpDir, "data"), "rigging")

	require.NoError(t, lock.Acquire())

	lockPath := filepath.Join(tmpDir, "data", "rigging.lock")
	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))

	require.NoError(t, lock.Release())

	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLock_DoubleAcquire(t *testing.T) {
	tmpDir := t.TempDir()
	lock1 := New(tmpDir, "rigging")
	lock2 := New(tmpDir, "rigging")

	require.NoError(t, lock1.Acquire())
	defer lock1.Release()

	err := lock2.Acquire()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHeld))
	assert.Contains(t, err.Error(), fmt.Sprintf("in use by pid %d", os.Getpid()))
}

func TestLock_ReacquireAfterRelease(t *testing.T) {
	tmpDir := t.TempDir()
	lock1 := New(tmpDir, "rigging")
	require.NoError(t, lock1.Acquire())
	require.NoError(t, lock1.Release())

	lock2 := New(tmpDir, "rigging")
	require.NoError(t, lock2.Acquire())
	require.NoError(t, lock2.Release())
}

func TestLock_ReleaseWithoutAcquire(t *testing.T) {
	lock := New(t.TempDir(), "rigging")
	assert.NoError(t, lock.Release())
}

func TestWithLock(t *testing.T) {
	tmpDir := t.TempDir()

	executed := false
	err := WithLock(tmpDir, "rigging", func() error {
		executed = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, executed)
}

func TestWithLock_Blocked(t *testing.T) {
	tmpDir := t.TempDir()
	lock := New(tmpDir, "rigging")
	require.NoError(t, lock.Acquire())
	defer lock.Release()

	executed := false
	err := WithLock(tmpDir, "rigging", func() error {
		executed = true
		return nil
	})
	assert.ErrorIs(t, err, ErrHeld)
	assert.False(t, executed)
}

func TestWithLock_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := WithLock(t.TempDir(), "rigging", func() error { return want })
	assert.ErrorIs(t, err, want)
}
