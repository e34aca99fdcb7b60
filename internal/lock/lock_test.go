package lock

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codemie-ai/codemie-code/pkg/process"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestAcquireExcludesSecondCaller(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 0, testLogger())

	ok, err := m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	require.True(t, ok)

	// The lock is held by this live process, so a second acquire skips.
	ok, err = m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 0, testLogger())

	ok, err := m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release("sess-1"))

	ok, err = m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), 0, testLogger())
	assert.NoError(t, m.Release("never-locked"))
}

func TestAcquireReclaimsDeadOwner(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 0, testLogger())

	writeLock(t, dir, "sess-1", Info{
		PID:       findDeadPID(),
		Timestamp: time.Now(),
		Agent:     "claude",
	})

	ok, err := m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := m.Read("sess-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestAcquireReclaimsExpiredLock(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute, testLogger())

	// Live PID but the lock outlived its TTL.
	writeLock(t, dir, "sess-1", Info{
		PID:       os.Getpid(),
		Timestamp: time.Now().Add(-2 * time.Minute),
		Agent:     "claude",
	})

	ok, err := m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireReclaimsCorruptLockFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 0, testLogger())

	path := filepath.Join(dir, "sess-1", FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	ok, err := m.Acquire("sess-1", "claude")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadMissingLock(t *testing.T) {
	m := NewManager(t.TempDir(), 0, testLogger())
	info, err := m.Read("sess-1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func writeLock(t *testing.T, dir, sessionID string, info Info) {
	t.Helper()
	path := filepath.Join(dir, sessionID, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// findDeadPID returns a PID that does not belong to a running process.
func findDeadPID() int {
	pid := 1 << 22
	for pid > 1<<21 && process.IsProcessAlive(pid) {
		pid--
	}
	return pid
}
