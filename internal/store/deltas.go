// Package store persists per-session sync state: metric deltas, the
// conversation payload log, and session metadata. All rewrites go through
// the atomic writer so readers outside the session lock only ever see
// complete generations.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codemie-ai/codemie-code/internal/atomicfile"
	"github.com/codemie-ai/codemie-code/internal/jsonl"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
)

// DeltaFileName is the per-session JSONL file of metric deltas.
const DeltaFileName = "deltas.jsonl"

// DeltaStore reads and rewrites the metric delta file of one session.
// Transcript adapters append deltas; the metrics processor rewrites the
// whole file atomically when flipping sync status.
type DeltaStore struct {
	path   string
	logger *logrus.Entry
}

// NewDeltaStore creates a DeltaStore rooted in a session directory.
func NewDeltaStore(sessionDir string, logger *logrus.Entry) *DeltaStore {
	return &DeltaStore{
		path:   filepath.Join(sessionDir, DeltaFileName),
		logger: logger,
	}
}

// Path returns the delta file path.
func (s *DeltaStore) Path() string {
	return s.path
}

// Load returns all deltas in file order. Unparseable records are skipped by
// the resilient reader, never fatal.
func (s *DeltaStore) Load() ([]*models.MetricDelta, error) {
	records, err := jsonl.ReadAll(s.path, 0, s.logger)
	if err != nil {
		return nil, fmt.Errorf("read delta file: %w", err)
	}

	deltas := make([]*models.MetricDelta, 0, len(records))
	for _, rec := range records {
		var d models.MetricDelta
		if err := json.Unmarshal(rec, &d); err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("Skipping malformed delta record")
			}
			continue
		}
		deltas = append(deltas, &d)
	}
	return deltas, nil
}

// Pending returns only deltas still awaiting submission.
func (s *DeltaStore) Pending() ([]*models.MetricDelta, error) {
	deltas, err := s.Load()
	if err != nil {
		return nil, err
	}
	pending := deltas[:0]
	for _, d := range deltas {
		if d.IsPending() {
			pending = append(pending, d)
		}
	}
	return pending, nil
}

// Append adds deltas to the end of the file. This is the adapter-side write
// path; it does not need the atomic writer because each delta is a single
// newline-terminated line.
func (s *DeltaStore) Append(deltas ...*models.MetricDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open delta file: %w", err)
	}
	defer f.Close()

	data, err := marshalLines(deltas)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append deltas: %w", err)
	}
	return nil
}

// Rewrite replaces the entire delta file atomically. Used by the metrics
// processor to flip sync status without risking a mixed generation.
func (s *DeltaStore) Rewrite(deltas []*models.MetricDelta) error {
	data, err := marshalLines(deltas)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.path, data, 0644)
}

// marshalLines serializes records to JSONL.
func marshalLines[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
