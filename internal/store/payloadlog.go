package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codemie-ai/codemie-code/internal/atomicfile"
	"github.com/codemie-ai/codemie-code/internal/jsonl"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
)

// PayloadLogFileName is the per-session JSONL log of conversation payload
// attempts.
const PayloadLogFileName = "payloads.jsonl"

// PayloadLog is the append-only audit log of conversation sync attempts.
// A record is appended with status pending before the network call and
// updated in place afterwards; the last successful record defines the
// replayable chat history.
type PayloadLog struct {
	path   string
	logger *logrus.Entry
}

// NewPayloadLog creates a PayloadLog rooted in a session directory.
func NewPayloadLog(sessionDir string, logger *logrus.Entry) *PayloadLog {
	return &PayloadLog{
		path:   filepath.Join(sessionDir, PayloadLogFileName),
		logger: logger,
	}
}

// Path returns the payload log path.
func (l *PayloadLog) Path() string {
	return l.path
}

// Append writes a new record to the end of the log.
func (l *PayloadLog) Append(rec *models.ConversationPayloadRecord) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open payload log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal payload record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append payload record: %w", err)
	}
	return nil
}

// ReplaceLast overwrites the most recent record, used to transition the
// pending record appended before a send to its success/failed outcome. The
// whole log is rewritten atomically so a crash mid-update cannot corrupt
// earlier records.
func (l *PayloadLog) ReplaceLast(rec *models.ConversationPayloadRecord) error {
	records, err := l.ReadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("payload log is empty, nothing to replace")
	}
	records[len(records)-1] = rec

	data, err := marshalLines(records)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(l.path, data, 0644)
}

// ReadAll returns every payload record in log order.
func (l *PayloadLog) ReadAll() ([]*models.ConversationPayloadRecord, error) {
	raw, err := jsonl.ReadAll(l.path, 0, l.logger)
	if err != nil {
		return nil, fmt.Errorf("read payload log: %w", err)
	}

	records := make([]*models.ConversationPayloadRecord, 0, len(raw))
	for _, line := range raw {
		var rec models.ConversationPayloadRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			if l.logger != nil {
				l.logger.WithError(err).Warn("Skipping malformed payload record")
			}
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// LastSuccessful returns the most recent record with status success, or nil
// if none exists. Its payload history is the replayable conversation state.
func (l *PayloadLog) LastSuccessful() (*models.ConversationPayloadRecord, error) {
	records, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Status == models.PayloadSuccess {
			return records[i], nil
		}
	}
	return nil, nil
}
