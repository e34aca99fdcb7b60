package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus marks whether a delta has been submitted.
// Once synced, a delta is never resubmitted.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// TokenUsage counts tokens for one agent interaction.
type TokenUsage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
}

// Add accumulates another usage into this one.
func (t *TokenUsage) Add(other TokenUsage) {
	t.Input += other.Input
	t.Output += other.Output
	t.CacheRead += other.CacheRead
	t.CacheWrite += other.CacheWrite
}

// ToolOutcome splits tool invocations into successes and failures, as
// correlated from tool-result records.
type ToolOutcome struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// FileOperation records one file edit attributed to an interaction.
type FileOperation struct {
	Type         string `json:"type"` // create|edit|delete
	Path         string `json:"path"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// MetricDelta is one unit of incremental usage data derived from a single
// agent interaction. Deltas are created by transcript adapters and mutated
// only by the metrics processor's atomic rewrite.
type MetricDelta struct {
	RecordID  string    `json:"record_id"`
	Timestamp time.Time `json:"timestamp"`

	// Branch is the source-control branch at the time of the interaction,
	// used as the aggregation key for metric payloads.
	Branch string `json:"branch,omitempty"`

	Tokens         TokenUsage             `json:"tokens"`
	Tools          map[string]int         `json:"tools,omitempty"`
	ToolStatus     map[string]ToolOutcome `json:"tool_status,omitempty"`
	FileOperations []FileOperation        `json:"file_operations,omitempty"`

	SyncStatus   SyncStatus `json:"sync_status"`
	SyncAttempts int        `json:"sync_attempts"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
}

// NewMetricDelta creates a pending delta with a fresh record ID.
func NewMetricDelta(branch string, tokens TokenUsage) *MetricDelta {
	return &MetricDelta{
		RecordID:   uuid.NewString(),
		Timestamp:  time.Now(),
		Branch:     branch,
		Tokens:     tokens,
		SyncStatus: SyncPending,
	}
}

// IsPending reports whether the delta still awaits submission.
func (d *MetricDelta) IsPending() bool {
	return d.SyncStatus == SyncPending
}
