// Package lock serializes cross-process access to a session's sync state.
//
// The real-world race is a background sync timer and a process-exit hook
// targeting the same session from different processes. An advisory lock
// file stamped with PID and timestamp decides the winner; the loser skips
// its run rather than blocking.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codemie-ai/codemie-code/pkg/process"
	"github.com/sirupsen/logrus"
)

// FileName is the lock file inside a session directory.
const FileName = "sync.lock"

// DefaultTTL is the age after which a lock is considered abandoned even if
// its owner PID cannot be probed.
const DefaultTTL = 10 * time.Minute

// Info identifies the lock owner.
type Info struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname"`
	Agent     string    `json:"agent"`
}

// Manager acquires and releases per-session lock files.
type Manager struct {
	baseDir string
	ttl     time.Duration
	logger  *logrus.Entry
}

// NewManager creates a Manager over the sessions root directory.
// A ttl of 0 uses DefaultTTL.
func NewManager(baseDir string, ttl time.Duration, logger *logrus.Entry) *Manager {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{baseDir: baseDir, ttl: ttl, logger: logger}
}

func (m *Manager) path(sessionID string) string {
	return filepath.Join(m.baseDir, sessionID, FileName)
}

// Acquire attempts to take the sync lock for a session. It returns false
// when a live lock is held by another running process; callers should skip
// the run. A lock whose PID is dead or whose age exceeds the TTL is
// reclaimed.
func (m *Manager) Acquire(sessionID, agent string) (bool, error) {
	path := m.path(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create session directory: %w", err)
	}

	existing, err := m.Read(sessionID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		// A lock file that exists but did not parse is a corrupt leftover.
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(path)
		}
	} else {
		if m.isLive(existing) {
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{
					"session": sessionID,
					"pid":     existing.PID,
				}).Debug("Session locked by another process, skipping")
			}
			return false, nil
		}
		// Abandoned lock: owner is dead or the lock outlived its TTL.
		if m.logger != nil {
			m.logger.WithFields(logrus.Fields{
				"session": sessionID,
				"pid":     existing.PID,
				"age":     time.Since(existing.Timestamp).Round(time.Second),
			}).Warn("Reclaiming stale session lock")
		}
		_ = os.Remove(path)
	}

	hostname, _ := os.Hostname()
	info := Info{
		PID:       os.Getpid(),
		Timestamp: time.Now(),
		Hostname:  hostname,
		Agent:     agent,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("marshal lock info: %w", err)
	}

	// O_EXCL makes the create itself the arbiter: of two processes racing
	// past the staleness check, exactly one wins.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("write lock file: %w", err)
	}
	return true, nil
}

// Release removes the lock file. Releasing an already-released lock is not
// an error.
func (m *Manager) Release(sessionID string) error {
	err := os.Remove(m.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Read returns the current lock info, or nil if no lock exists.
func (m *Manager) Read(sessionID string) (*Info, error) {
	data, err := os.ReadFile(m.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		// An unreadable lock file is treated as absent; it will be
		// reclaimed on the next acquire.
		return nil, nil
	}
	return &info, nil
}

// isLive reports whether the lock still protects a running sync.
func (m *Manager) isLive(info *Info) bool {
	if time.Since(info.Timestamp) > m.ttl {
		return false
	}
	return process.IsProcessAlive(info.PID)
}
