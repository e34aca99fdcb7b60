package models

import (
	"time"
)

// SessionMetricAttributes is the per-branch aggregate submitted to the
// ingestion API. All sums cover the pending window only; already-synced
// deltas are never re-summed.
type SessionMetricAttributes struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name"`
	Branch    string `json:"branch"`

	TotalInputTokens      int64 `json:"total_input_tokens"`
	TotalOutputTokens     int64 `json:"total_output_tokens"`
	TotalCacheReadTokens  int64 `json:"total_cache_read_tokens"`
	TotalCacheWriteTokens int64 `json:"total_cache_write_tokens"`

	ToolCalls     int            `json:"tool_calls"`
	ToolSuccesses int            `json:"tool_successes"`
	ToolFailures  int            `json:"tool_failures"`
	ToolCounts    map[string]int `json:"tool_counts,omitempty"`

	FilesChanged int `json:"files_changed"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`

	DeltaCount int `json:"delta_count"`
}

// SessionMetricPayload is the wire shape for one per-branch session metric.
type SessionMetricPayload struct {
	MetricName string                  `json:"metric_name"`
	Attributes SessionMetricAttributes `json:"attributes"`
	Time       time.Time               `json:"time"`
}

// MetricNameSessionUsage is the metric name for incremental usage aggregates.
const MetricNameSessionUsage = "session_usage"

// ProcessingContext carries everything the engine needs from the auth and
// config layers. The engine never acquires credentials itself.
type ProcessingContext struct {
	APIBaseURL string
	APIKey     string
	Cookies    string
	ClientType string
	Version    string
	DryRun     bool
}
