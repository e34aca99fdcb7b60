package models

import (
	"time"
)

// CorrelationStatus tracks whether a wrapped CLI invocation has been matched
// to the agent's own native session.
type CorrelationStatus string

const (
	CorrelationUnmatched CorrelationStatus = "unmatched"
	CorrelationMatched   CorrelationStatus = "matched"
)

// SessionStatus is derived from session activity, never stored directly.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
	SessionEnded    SessionStatus = "ended"
	SessionFinal    SessionStatus = "final"
)

// Inactivity thresholds for status derivation.
const (
	InactiveAfter = 30 * time.Minute
	EndedAfter    = 24 * time.Hour
)

// SessionMetadata is the single JSON document describing one agent session.
// It is owned by the sync orchestrator: processors read it but report state
// patches instead of mutating it, so that the orchestrator can merge and
// persist all patches in one write.
type SessionMetadata struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name"`
	PID       int    `json:"pid,omitempty"`

	WorkingDirectory string `json:"working_directory,omitempty"`
	TranscriptPath   string `json:"transcript_path,omitempty"`

	Correlation Correlation `json:"correlation"`
	Sync        SyncState   `json:"sync"`

	StartedAt    time.Time  `json:"started_at"`
	LastActivity time.Time  `json:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	// FinalMetricSentAt is set once the terminal session metric has been
	// submitted. No further metrics are sent after this.
	FinalMetricSentAt *time.Time `json:"final_metric_sent_at,omitempty"`
}

// Correlation links a wrapped invocation to the agent's native session.
type Correlation struct {
	Status         CorrelationStatus `json:"status"`
	AgentSessionID string            `json:"agent_session_id,omitempty"`
}

// SyncState holds the per-concern sync cursors.
type SyncState struct {
	Metrics       MetricsCursor      `json:"metrics"`
	Conversations ConversationCursor `json:"conversations"`
}

// MetricsCursor is the durable progress marker for metric submission.
// Counters only increase; ProcessedRecordIDs is a dedup set.
type MetricsCursor struct {
	LastProcessedTimestamp time.Time `json:"last_processed_timestamp,omitempty"`
	ProcessedRecordIDs     []string  `json:"processed_record_ids,omitempty"`
	TotalDeltas            int       `json:"total_deltas"`
	TotalSynced            int       `json:"total_synced"`
	TotalFailed            int       `json:"total_failed"`
}

// ConversationCursor is the durable progress marker for conversation
// submission. LastSyncedHistoryIndex never decreases.
type ConversationCursor struct {
	LastSyncedMessageUUID  string    `json:"last_synced_message_uuid,omitempty"`
	LastSyncedHistoryIndex int       `json:"last_synced_history_index"`
	ConversationID         string    `json:"conversation_id,omitempty"`
	LastSyncAt             time.Time `json:"last_sync_at,omitempty"`
	TotalMessagesSynced    int       `json:"total_messages_synced"`
	TotalSyncs             int       `json:"total_syncs"`
}

// NewSessionMetadata creates metadata for a freshly started session.
// The conversation cursor starts at -1, meaning no history entry has been
// submitted yet.
func NewSessionMetadata(sessionID, agentName string) *SessionMetadata {
	now := time.Now()
	return &SessionMetadata{
		SessionID:    sessionID,
		AgentName:    agentName,
		Correlation:  Correlation{Status: CorrelationUnmatched},
		StartedAt:    now,
		LastActivity: now,
		Sync: SyncState{
			Conversations: ConversationCursor{LastSyncedHistoryIndex: -1},
		},
	}
}

// Status derives the session lifecycle state from activity timestamps.
func (m *SessionMetadata) Status(now time.Time) SessionStatus {
	if m.FinalMetricSentAt != nil {
		return SessionFinal
	}
	if m.EndedAt != nil {
		return SessionEnded
	}
	idle := now.Sub(m.LastActivity)
	switch {
	case idle < InactiveAfter:
		return SessionActive
	case idle < EndedAfter:
		return SessionInactive
	default:
		return SessionEnded
	}
}

// HasProcessedRecord reports whether a delta record ID is already in the
// dedup set.
func (c *MetricsCursor) HasProcessedRecord(recordID string) bool {
	for _, id := range c.ProcessedRecordIDs {
		if id == recordID {
			return true
		}
	}
	return false
}
