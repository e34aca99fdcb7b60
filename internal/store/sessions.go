package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codemie-ai/codemie-code/errors"
	"github.com/codemie-ai/codemie-code/internal/atomicfile"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
)

// MetadataFileName is the per-session metadata document.
const MetadataFileName = "metadata.json"

// SessionStore manages per-session state directories under the sessions
// root. Each session directory holds metadata.json, deltas.jsonl,
// messages.jsonl, payloads.jsonl, and sync.lock.
type SessionStore struct {
	baseDir string
	logger  *logrus.Entry
}

// NewSessionStore creates a SessionStore rooted at baseDir.
func NewSessionStore(baseDir string, logger *logrus.Entry) *SessionStore {
	return &SessionStore{baseDir: baseDir, logger: logger}
}

// Dir returns the state directory for a session.
func (s *SessionStore) Dir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Load reads the metadata document for a session.
func (s *SessionStore) Load(sessionID string) (*models.SessionMetadata, error) {
	path := filepath.Join(s.Dir(sessionID), MetadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.SessionNotFound(sessionID)
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}

	var meta models.SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreCorrupt, "failed to parse session metadata").
			WithDetail("path", path)
	}
	return &meta, nil
}

// Save persists the metadata document atomically. This is the only write
// path for session metadata; a failed save means progress was not durably
// recorded and the caller must treat the run as failed.
func (s *SessionStore) Save(meta *models.SessionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	path := filepath.Join(s.Dir(meta.SessionID), MetadataFileName)
	if err := atomicfile.WriteFile(path, data, 0644); err != nil {
		return errors.AtomicWrite(path, err)
	}
	return nil
}

// Deltas returns the delta store for a session.
func (s *SessionStore) Deltas(sessionID string) *DeltaStore {
	return NewDeltaStore(s.Dir(sessionID), s.logger)
}

// Payloads returns the payload log for a session.
func (s *SessionStore) Payloads(sessionID string) *PayloadLog {
	return NewPayloadLog(s.Dir(sessionID), s.logger)
}

// Messages returns the message log for a session.
func (s *SessionStore) Messages(sessionID string) *MessageLog {
	return NewMessageLog(s.Dir(sessionID), s.logger)
}

// List scans the sessions root and returns metadata for every session that
// has a readable metadata document. Directories without one are skipped.
func (s *SessionStore) List() ([]*models.SessionMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	var sessions []*models.SessionMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithField("session", entry.Name()).Debug("Skipping session without metadata")
			}
			continue
		}
		sessions = append(sessions, meta)
	}
	return sessions, nil
}
