package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *CodemieError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *CodemieError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *CodemieError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("sessionId", sessionID)
}

// SessionUnmatched creates an error for a session that has no correlated agent session
func SessionUnmatched(sessionID string) *CodemieError {
	return New(ErrCodeSessionUnmatched,
		fmt.Sprintf("session '%s' is not correlated with an agent session, skipping sync", sessionID)).
		WithDetail("sessionId", sessionID)
}

// LockHeld creates a lock contention error
func LockHeld(sessionID string, pid int) *CodemieError {
	return New(ErrCodeLockHeld,
		fmt.Sprintf("session '%s' is locked by PID %d", sessionID, pid)).
		WithDetail("sessionId", sessionID).
		WithDetail("pid", pid)
}

// RemoteStatus creates an error for an unexpected remote API status code
func RemoteStatus(endpoint string, status int) *CodemieError {
	return New(ErrCodeRemoteStatus,
		fmt.Sprintf("remote API returned status %d for %s", status, endpoint)).
		WithDetail("endpoint", endpoint).
		WithDetail("status", status)
}

// RemoteTimeout creates an error for a remote request that hit its deadline
func RemoteTimeout(endpoint string, err error) *CodemieError {
	return Wrap(err, ErrCodeRemoteTimeout, fmt.Sprintf("request to %s timed out", endpoint)).
		WithDetail("endpoint", endpoint)
}

// AtomicWrite creates an error for a failed atomic file write
func AtomicWrite(path string, err error) *CodemieError {
	return Wrap(err, ErrCodeAtomicWrite, fmt.Sprintf("atomic write failed: %s", path)).
		WithDetail("path", path)
}
