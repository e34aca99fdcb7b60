package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codemie-ai/codemie-code/internal/jsonl"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
)

// MessageLogFileName is the per-session JSONL file of normalized agent
// messages.
const MessageLogFileName = "messages.jsonl"

// MessageLog persists the normalized conversation messages of one session.
// Transcript adapters append messages as they stream in; the conversations
// processor reads the full list back in catch-up mode, where no fresh
// messages are handed in. This is the conversations-side counterpart of the
// delta file: without it a failed upsert window could never be retried by a
// later run.
type MessageLog struct {
	path   string
	logger *logrus.Entry
}

// NewMessageLog creates a MessageLog rooted in a session directory.
func NewMessageLog(sessionDir string, logger *logrus.Entry) *MessageLog {
	return &MessageLog{
		path:   filepath.Join(sessionDir, MessageLogFileName),
		logger: logger,
	}
}

// Path returns the message log path.
func (l *MessageLog) Path() string {
	return l.path
}

// Append adds messages to the end of the log.
func (l *MessageLog) Append(msgs ...models.AgentMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	data, err := marshalLines(msgs)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// ReadAll returns every message in log order. Unparseable records are
// skipped, never fatal. A missing log yields an empty list: a session that
// has produced no conversation yet.
func (l *MessageLog) ReadAll() ([]models.AgentMessage, error) {
	raw, err := jsonl.ReadAll(l.path, 0, l.logger)
	if err != nil {
		return nil, fmt.Errorf("read message log: %w", err)
	}

	msgs := make([]models.AgentMessage, 0, len(raw))
	for _, line := range raw {
		var msg models.AgentMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			if l.logger != nil {
				l.logger.WithError(err).Warn("Skipping malformed message record")
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
