// Package syncer is the session synchronization engine: it turns locally
// accumulated deltas and conversation messages into remote payloads, at
// most once per logical event, under a per-session cross-process lock.
package syncer

import (
	"context"
	"time"

	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/pkg/models"
)

// Session is the unit of work handed to processors. A nil/empty Messages
// slice puts processors into catch-up mode: they read pending state from
// disk instead of transforming fresh messages. This single distinction
// lets the same processors serve both the live streaming path and the
// retry path.
type Session struct {
	Meta     *models.SessionMetadata
	Messages []models.AgentMessage
}

// MetricsPatch is the metrics processor's contribution to the session
// cursor. Counters are increments; the timestamp merges by max; record IDs
// union into the dedup set.
type MetricsPatch struct {
	LastProcessedTimestamp time.Time
	ProcessedRecordIDs     []string
	TotalDeltas            int
	TotalSynced            int
	TotalFailed            int
}

// ConversationsPatch is the conversations processor's contribution.
// LastSyncedHistoryIndex merges by max and never regresses.
type ConversationsPatch struct {
	LastSyncedMessageUUID  string
	LastSyncedHistoryIndex int
	ConversationID         string
	MessagesSynced         int
	Syncs                  int
	LastSyncAt             time.Time
}

// StatePatch aggregates everything a processor wants merged into session
// metadata. Processors never mutate metadata directly; the orchestrator
// merges all patches and persists once.
type StatePatch struct {
	Metrics         *MetricsPatch
	Conversations   *ConversationsPatch
	FinalMetricSent bool
}

// ProcessingResult reports one processor's outcome. A failure result is a
// normal, non-crashing outcome that does not stop sibling processors.
type ProcessingResult struct {
	Success bool
	Message string
	Count   int
	Patch   *StatePatch
}

// SessionProcessor is one stage of the sync chain. Processors are
// total-ordered by Priority (lower runs first) and run sequentially;
// ordering is load-bearing because conversations reference identity
// derived from metrics.
type SessionProcessor interface {
	Name() string
	Priority() int
	ShouldProcess(session *Session) bool
	Process(ctx context.Context, session *Session, sender *remote.Sender) (*ProcessingResult, error)
}
