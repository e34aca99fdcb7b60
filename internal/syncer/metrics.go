package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
)

// MetricNameSessionEnd is the terminal metric sent once when a session has
// ended. A session with this metric sent is final; no further metrics
// follow.
const MetricNameSessionEnd = "session_end"

// MetricsProcessor aggregates pending deltas per branch and submits one
// metric payload per branch.
//
// Delivery trade-off: all pending deltas are flipped to synced after the
// run regardless of per-branch send outcome. A send failure for one
// branch's aggregate must not cause retry-induced double counting on the
// next run; failed sends surface through the TotalFailed counter instead
// of leaving deltas pending forever.
type MetricsProcessor struct {
	store    *store.SessionStore
	registry AgentRegistry
	logger   *logrus.Entry
}

// NewMetricsProcessor creates the metrics stage of the chain.
func NewMetricsProcessor(st *store.SessionStore, registry AgentRegistry, logger *logrus.Entry) *MetricsProcessor {
	return &MetricsProcessor{store: st, registry: registry, logger: logger}
}

// Name implements SessionProcessor.
func (p *MetricsProcessor) Name() string { return "metrics" }

// Priority implements SessionProcessor. Metrics run before conversations
// because conversations reference the assistant identity metrics depend on.
func (p *MetricsProcessor) Priority() int { return 1 }

// ShouldProcess implements SessionProcessor.
func (p *MetricsProcessor) ShouldProcess(session *Session) bool {
	pending, err := p.store.Deltas(session.Meta.SessionID).Pending()
	if err != nil {
		// Let Process surface the error through the chain's failure policy.
		return true
	}
	if len(pending) > 0 {
		return true
	}
	// An ended session still owes its terminal metric.
	return session.Meta.Status(time.Now()) == models.SessionEnded
}

// Process implements SessionProcessor.
func (p *MetricsProcessor) Process(ctx context.Context, session *Session, sender *remote.Sender) (*ProcessingResult, error) {
	meta := session.Meta
	deltas := p.store.Deltas(meta.SessionID)

	all, err := deltas.Load()
	if err != nil {
		return nil, fmt.Errorf("load deltas: %w", err)
	}

	cfg := p.registry.MetricsConfig(meta.AgentName)

	// The cursor's record-id set is the second line of defense against
	// double counting: a delta that was sent but not yet flipped to synced
	// (crash between send and rewrite) is excluded here.
	var pending []*models.MetricDelta
	for _, d := range all {
		if d.IsPending() && !meta.Sync.Metrics.HasProcessedRecord(d.RecordID) {
			pending = append(pending, d)
		}
	}

	if len(pending) == 0 {
		return p.maybeSendFinal(ctx, session, sender, cfg)
	}

	branches := aggregateByBranch(meta, pending, cfg)
	now := time.Now()

	failedBranches := make(map[string]bool)
	for _, branch := range sortedBranches(branches) {
		attrs := branches[branch]
		payload := models.SessionMetricPayload{
			MetricName: metricName(cfg),
			Attributes: *attrs,
			Time:       now,
		}
		if err := sender.SendSessionMetric(ctx, payload); err != nil {
			// One branch's failure does not block the others.
			failedBranches[branch] = true
			p.logger.WithError(err).WithFields(logrus.Fields{
				"session": meta.SessionID,
				"branch":  branch,
			}).Warn("Failed to send session metric for branch")
		}
	}

	patch := &MetricsPatch{TotalDeltas: len(pending)}
	for _, d := range pending {
		d.SyncStatus = models.SyncSynced
		d.SyncAttempts++
		syncedAt := now
		d.SyncedAt = &syncedAt

		patch.ProcessedRecordIDs = append(patch.ProcessedRecordIDs, d.RecordID)
		if d.Timestamp.After(patch.LastProcessedTimestamp) {
			patch.LastProcessedTimestamp = d.Timestamp
		}
		if failedBranches[branchKey(d, cfg)] {
			patch.TotalFailed++
		} else {
			patch.TotalSynced++
		}
	}

	// Flip every pending delta regardless of send outcome; see the
	// delivery trade-off above.
	if err := deltas.Rewrite(all); err != nil {
		return nil, fmt.Errorf("rewrite deltas: %w", err)
	}

	msg := fmt.Sprintf("Synced %d metric deltas across %d branches", patch.TotalSynced, len(branches)-len(failedBranches))
	if len(failedBranches) > 0 {
		msg = fmt.Sprintf("%s (%d deltas in %d failed branches)", msg, patch.TotalFailed, len(failedBranches))
	}

	return &ProcessingResult{
		Success: len(failedBranches) == 0,
		Message: msg,
		Count:   patch.TotalSynced,
		Patch:   &StatePatch{Metrics: patch},
	}, nil
}

// maybeSendFinal sends the terminal session metric for an ended session.
func (p *MetricsProcessor) maybeSendFinal(ctx context.Context, session *Session, sender *remote.Sender, cfg MetricsConfig) (*ProcessingResult, error) {
	meta := session.Meta
	if meta.Status(time.Now()) != models.SessionEnded || meta.FinalMetricSentAt != nil {
		return &ProcessingResult{Success: true, Message: "No pending data to sync"}, nil
	}

	payload := models.SessionMetricPayload{
		MetricName: MetricNameSessionEnd,
		Attributes: models.SessionMetricAttributes{
			SessionID: meta.SessionID,
			AgentName: meta.AgentName,
			Branch:    cfg.DefaultBranch,
		},
		Time: time.Now(),
	}
	if err := sender.SendSessionMetric(ctx, payload); err != nil {
		return &ProcessingResult{
			Success: false,
			Message: fmt.Sprintf("Failed to send terminal session metric: %v", err),
		}, nil
	}

	return &ProcessingResult{
		Success: true,
		Message: "Sent terminal session metric",
		Patch:   &StatePatch{FinalMetricSent: true},
	}, nil
}

// aggregateByBranch sums the pending window into one attribute set per
// branch. Already-synced deltas are never re-summed.
func aggregateByBranch(meta *models.SessionMetadata, pending []*models.MetricDelta, cfg MetricsConfig) map[string]*models.SessionMetricAttributes {
	branches := make(map[string]*models.SessionMetricAttributes)
	for _, d := range pending {
		key := branchKey(d, cfg)
		attrs, ok := branches[key]
		if !ok {
			attrs = &models.SessionMetricAttributes{
				SessionID:  meta.SessionID,
				AgentName:  meta.AgentName,
				Branch:     key,
				ToolCounts: make(map[string]int),
			}
			branches[key] = attrs
		}

		attrs.TotalInputTokens += d.Tokens.Input
		attrs.TotalOutputTokens += d.Tokens.Output
		attrs.TotalCacheReadTokens += d.Tokens.CacheRead
		attrs.TotalCacheWriteTokens += d.Tokens.CacheWrite

		for tool, count := range d.Tools {
			attrs.ToolCalls += count
			attrs.ToolCounts[tool] += count
		}
		for _, outcome := range d.ToolStatus {
			attrs.ToolSuccesses += outcome.Success
			attrs.ToolFailures += outcome.Failure
		}

		for _, op := range d.FileOperations {
			attrs.FilesChanged++
			attrs.LinesAdded += op.LinesAdded
			attrs.LinesRemoved += op.LinesRemoved
		}

		attrs.DeltaCount++
	}
	return branches
}

func branchKey(d *models.MetricDelta, cfg MetricsConfig) string {
	if d.Branch != "" {
		return d.Branch
	}
	if cfg.DefaultBranch != "" {
		return cfg.DefaultBranch
	}
	return "unknown"
}

func metricName(cfg MetricsConfig) string {
	if cfg.MetricName != "" {
		return cfg.MetricName
	}
	return models.MetricNameSessionUsage
}

func sortedBranches(branches map[string]*models.SessionMetricAttributes) []string {
	keys := make([]string, 0, len(branches))
	for k := range branches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
