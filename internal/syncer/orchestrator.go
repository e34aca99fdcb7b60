package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codemie-ai/codemie-code/errors"
	"github.com/codemie-ai/codemie-code/internal/lock"
	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
)

// SessionSyncResult is the top-level outcome of one orchestrator run.
// Partial failure is a normal outcome, meant for diagnostics, never for
// crashing the host CLI.
type SessionSyncResult struct {
	Success          bool
	Message          string
	ProcessorResults map[string]*ProcessingResult
	FailedProcessors []string
}

// Orchestrator runs the processor chain for one session under the session
// lock, merges every resulting state patch, and persists the metadata
// exactly once per invocation.
type Orchestrator struct {
	store      *store.SessionStore
	locks      *lock.Manager
	processors []SessionProcessor
	logger     *logrus.Entry

	senderOpts []remote.Option

	// inFlight guards against re-entrant syncs of the same session from
	// overlapping timer ticks within this process. Cross-process races are
	// handled by the lock manager.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrchestrator creates an orchestrator over the given processors,
// sorted once by priority.
func NewOrchestrator(st *store.SessionStore, locks *lock.Manager, logger *logrus.Entry, processors ...SessionProcessor) *Orchestrator {
	sorted := make([]SessionProcessor, len(processors))
	copy(sorted, processors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Orchestrator{
		store:      st,
		locks:      locks,
		processors: sorted,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
}

// SetSenderOptions configures how remote senders are built per run.
func (o *Orchestrator) SetSenderOptions(opts ...remote.Option) {
	o.senderOpts = opts
}

// Sync runs the full chain for one session. The error return is reserved
// for state persistence failures; everything else is reported through the
// result.
func (o *Orchestrator) Sync(ctx context.Context, sessionID string, pctx models.ProcessingContext) (*SessionSyncResult, error) {
	if !o.markInFlight(sessionID) {
		return &SessionSyncResult{
			Success: false,
			Message: errors.New(errors.ErrCodeSessionInFlight, "sync already in progress for this session").Error(),
		}, nil
	}
	defer o.clearInFlight(sessionID)

	meta, err := o.store.Load(sessionID)
	if err != nil {
		return &SessionSyncResult{Success: false, Message: err.Error()}, nil
	}

	// Unmatched sessions are not synced: there is no agent session to
	// attribute the data to yet.
	if meta.Correlation.Status != models.CorrelationMatched {
		return &SessionSyncResult{
			Success: false,
			Message: errors.SessionUnmatched(sessionID).Error(),
		}, nil
	}

	acquired, err := o.locks.Acquire(sessionID, meta.AgentName)
	if err != nil {
		return &SessionSyncResult{Success: false, Message: err.Error()}, nil
	}
	if !acquired {
		// Lock contention is a normal "skip this run" outcome.
		var holderPID int
		if info, rerr := o.locks.Read(sessionID); rerr == nil && info != nil {
			holderPID = info.PID
		}
		return &SessionSyncResult{
			Success: false,
			Message: errors.LockHeld(sessionID, holderPID).Error(),
		}, nil
	}
	defer func() {
		if err := o.locks.Release(sessionID); err != nil {
			o.logger.WithError(err).WithField("session", sessionID).Warn("Failed to release session lock")
		}
	}()

	// Zero messages put processors into catch-up mode: pending state is
	// read from disk rather than transformed from fresh messages.
	session := &Session{Meta: meta}
	sender := remote.NewSender(pctx, o.logger, o.senderOpts...)

	results := make(map[string]*ProcessingResult)
	var failed []string
	var patches []*StatePatch

	for _, proc := range o.processors {
		if !proc.ShouldProcess(session) {
			continue
		}

		result := o.runProcessor(ctx, proc, session, sender)
		results[proc.Name()] = result
		if !result.Success {
			failed = append(failed, proc.Name())
		}
		if result.Patch != nil {
			patches = append(patches, result.Patch)
		}
	}

	// Single merge, single persist: every processor's patch is visible in
	// the final state even if a later processor failed, and the metadata
	// file is written at most once per invocation.
	if len(patches) > 0 {
		for _, patch := range patches {
			applyPatch(meta, patch)
		}
		if err := o.store.Save(meta); err != nil {
			// A failed persist means progress was not durably recorded;
			// the monotonic/dedup design makes the redo on the next run
			// safe.
			return &SessionSyncResult{
				Success:          false,
				Message:          fmt.Sprintf("Failed to persist session state: %v", err),
				ProcessorResults: results,
				FailedProcessors: failed,
			}, err
		}
	}

	return &SessionSyncResult{
		Success:          len(failed) == 0,
		Message:          summarize(results),
		ProcessorResults: results,
		FailedProcessors: failed,
	}, nil
}

// runProcessor isolates one processor: its error or panic becomes a failed
// result and does not stop the chain.
func (o *Orchestrator) runProcessor(ctx context.Context, proc SessionProcessor, session *Session, sender *remote.Sender) (result *ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithFields(logrus.Fields{
				"processor": proc.Name(),
				"panic":     r,
			}).Error("Processor panicked")
			result = &ProcessingResult{
				Success: false,
				Message: fmt.Sprintf("processor %s panicked: %v", proc.Name(), r),
			}
		}
	}()

	res, err := proc.Process(ctx, session, sender)
	if err != nil {
		o.logger.WithError(err).WithField("processor", proc.Name()).Warn("Processor failed")
		return &ProcessingResult{Success: false, Message: err.Error()}
	}
	return res
}

// applyPatch merges one state patch into session metadata with monotonic
// semantics: counters add, cursors take the max, record-id sets union.
func applyPatch(meta *models.SessionMetadata, patch *StatePatch) {
	if patch.Metrics != nil {
		c := &meta.Sync.Metrics
		m := patch.Metrics
		if m.LastProcessedTimestamp.After(c.LastProcessedTimestamp) {
			c.LastProcessedTimestamp = m.LastProcessedTimestamp
		}
		for _, id := range m.ProcessedRecordIDs {
			if !c.HasProcessedRecord(id) {
				c.ProcessedRecordIDs = append(c.ProcessedRecordIDs, id)
			}
		}
		c.TotalDeltas += m.TotalDeltas
		c.TotalSynced += m.TotalSynced
		c.TotalFailed += m.TotalFailed
	}

	if patch.Conversations != nil {
		c := &meta.Sync.Conversations
		p := patch.Conversations
		c.LastSyncedHistoryIndex = max(c.LastSyncedHistoryIndex, p.LastSyncedHistoryIndex)
		if p.LastSyncedMessageUUID != "" {
			c.LastSyncedMessageUUID = p.LastSyncedMessageUUID
		}
		if c.ConversationID == "" && p.ConversationID != "" {
			c.ConversationID = p.ConversationID
		}
		if p.LastSyncAt.After(c.LastSyncAt) {
			c.LastSyncAt = p.LastSyncAt
		}
		c.TotalMessagesSynced += p.MessagesSynced
		c.TotalSyncs += p.Syncs
	}

	if patch.FinalMetricSent && meta.FinalMetricSentAt == nil {
		now := time.Now()
		meta.FinalMetricSentAt = &now
	}
}

// summarize builds the human-readable run summary from processor results.
func summarize(results map[string]*ProcessingResult) string {
	noWork := true
	for _, r := range results {
		if !r.Success || r.Count > 0 || r.Patch != nil {
			noWork = false
			break
		}
	}
	if noWork {
		return "No pending data to sync"
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, results[name].Message))
	}
	return strings.Join(parts, "; ")
}

func (o *Orchestrator) markInFlight(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[sessionID]; ok {
		return false
	}
	o.inFlight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) clearInFlight(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sessionID)
}
