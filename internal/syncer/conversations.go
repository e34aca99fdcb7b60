package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConversationsProcessor ships new conversation turns to the remote upsert
// endpoint. It delegates all transformation to the agent's stateless
// transformer and only orchestrates: payload log discipline, the network
// call, and the cursor patch.
//
// Delivery trade-off, the mirror image of metrics: a failed send leaves
// the cursor untouched so the next run retries the same window. The remote
// API dedupes by history_index, so at-least-once redelivery is safe here
// where double counting would not be.
type ConversationsProcessor struct {
	store    *store.SessionStore
	registry AgentRegistry
	logger   *logrus.Entry
}

// NewConversationsProcessor creates the conversations stage of the chain.
func NewConversationsProcessor(st *store.SessionStore, registry AgentRegistry, logger *logrus.Entry) *ConversationsProcessor {
	return &ConversationsProcessor{store: st, registry: registry, logger: logger}
}

// Name implements SessionProcessor.
func (p *ConversationsProcessor) Name() string { return "conversations" }

// Priority implements SessionProcessor.
func (p *ConversationsProcessor) Priority() int { return 2 }

// ShouldProcess implements SessionProcessor. The transformer decides what
// is new, so the processor always offers it the chance.
func (p *ConversationsProcessor) ShouldProcess(session *Session) bool {
	_, ok := p.registry.Transformer(session.Meta.AgentName)
	return ok
}

// Process implements SessionProcessor.
func (p *ConversationsProcessor) Process(ctx context.Context, session *Session, sender *remote.Sender) (*ProcessingResult, error) {
	meta := session.Meta
	cursor := meta.Sync.Conversations

	transformer, ok := p.registry.Transformer(meta.AgentName)
	if !ok {
		return nil, fmt.Errorf("no conversation transformer for agent %q", meta.AgentName)
	}

	messages := session.Messages
	if len(messages) == 0 {
		// Catch-up mode: no fresh messages were handed in, so the window is
		// rebuilt from the session's message log. A previously failed upsert
		// left the cursor untouched, and this is where that window gets its
		// retry.
		logged, err := p.store.Messages(meta.SessionID).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("load message log: %w", err)
		}
		messages = logged
	}

	result, err := transformer.Transform(messages, cursor)
	if err != nil {
		return nil, fmt.Errorf("transform messages: %w", err)
	}

	if len(result.History) == 0 {
		// Skip-only update: the transformer may still have moved past
		// content-free records (tool results, system notices).
		if result.LastProcessedMessageUUID != "" && result.LastProcessedMessageUUID != cursor.LastSyncedMessageUUID {
			return &ProcessingResult{
				Success: true,
				Message: "Advanced cursor past content-free messages",
				Patch: &StatePatch{Conversations: &ConversationsPatch{
					LastSyncedMessageUUID:  result.LastProcessedMessageUUID,
					LastSyncedHistoryIndex: cursor.LastSyncedHistoryIndex,
					ConversationID:         cursor.ConversationID,
				}},
			}, nil
		}
		return &ProcessingResult{Success: true, Message: "No new messages to sync"}, nil
	}

	conversationID := cursor.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	payload := models.ConversationPayload{
		ConversationID: conversationID,
		History:        result.History,
	}

	indices := make([]int, len(result.History))
	for i, entry := range result.History {
		indices[i] = entry.HistoryIndex
	}

	record := &models.ConversationPayloadRecord{
		Timestamp:          time.Now(),
		IsTurnContinuation: result.IsTurnContinuation,
		HistoryIndices:     indices,
		MessageCount:       len(result.History),
		Payload:            payload,
		Status:             models.PayloadPending,
	}

	log := p.store.Payloads(meta.SessionID)

	// The pending record goes down before the network call; together with
	// the post-call update this ordering is the audit trail for partial
	// failures.
	if err := log.Append(record); err != nil {
		return nil, fmt.Errorf("append payload record: %w", err)
	}

	response, sendErr := sender.UpsertConversation(ctx, payload)
	if sendErr != nil {
		record.Status = models.PayloadFailed
		record.Error = sendErr.Error()
		if err := log.ReplaceLast(record); err != nil {
			p.logger.WithError(err).Warn("Failed to record payload failure")
		}
		// Cursor untouched: the next run retries the same window.
		return &ProcessingResult{
			Success: false,
			Message: fmt.Sprintf("Conversation upsert failed: %v", sendErr),
		}, nil
	}

	record.Status = models.PayloadSuccess
	record.Response = response
	if err := log.ReplaceLast(record); err != nil {
		p.logger.WithError(err).Warn("Failed to record payload success")
	}

	return &ProcessingResult{
		Success: true,
		Message: fmt.Sprintf("Synced %d conversation messages", len(result.History)),
		Count:   len(result.History),
		Patch: &StatePatch{Conversations: &ConversationsPatch{
			LastSyncedMessageUUID:  result.LastProcessedMessageUUID,
			LastSyncedHistoryIndex: result.CurrentHistoryIndex,
			ConversationID:         conversationID,
			MessagesSynced:         len(result.History),
			Syncs:                  1,
			LastSyncAt:             record.Timestamp,
		}},
	}, nil
}
