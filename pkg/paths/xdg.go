// Package paths provides XDG-compliant path resolution for codemie.
//
// Resolution order:
// 1. CODEMIE_HOME (portable root) → $CODEMIE_HOME/{config,state,cache}
// 2. XDG env vars → $XDG_*_HOME/codemie
// 3. Platform defaults → ~/.config/codemie, ~/.local/state/codemie, etc.
package paths

import (
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("CODEMIE_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("CODEMIE_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// getCacheHome returns the base cache home directory.
func getCacheHome() string {
	if home := os.Getenv("CODEMIE_HOME"); home != "" {
		return filepath.Join(home, "cache")
	}
	if xdgCacheHome := os.Getenv("XDG_CACHE_HOME"); xdgCacheHome != "" {
		return xdgCacheHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cache")
	}
	return ""
}

// ConfigDir returns the codemie configuration directory.
// Used for config files like codemie.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "codemie")
}

// StateDir returns the codemie state directory.
// Used for session state, sync logs, and lock files.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "codemie")
}

// CacheDir returns the codemie cache directory.
func CacheDir() string {
	base := getCacheHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "codemie")
}

// SessionsDir returns the directory holding per-session state directories.
// Each session owns one directory named after its session ID, containing
// metadata.json, deltas.jsonl, messages.jsonl, payloads.jsonl, and
// sync.lock.
func SessionsDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "sessions")
}

// LogsDir returns the directory for component log files.
func LogsDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// EnsureDirs creates all codemie directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		CacheDir(),
		SessionsDir(),
		LogsDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
