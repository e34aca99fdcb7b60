package models

import (
	"time"
)

// PayloadStatus tracks the outcome of one conversation sync attempt.
type PayloadStatus string

const (
	PayloadPending PayloadStatus = "pending"
	PayloadSuccess PayloadStatus = "success"
	PayloadFailed  PayloadStatus = "failed"
)

// AgentMessage is a normalized in-memory conversation message as emitted by
// a transcript adapter. The sync engine never parses raw agent dialects
// itself.
type AgentMessage struct {
	UUID      string    `json:"uuid"`
	Role      string    `json:"role"` // user|assistant|system|tool
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is one entry of the remote conversation history. The remote
// API dedupes on history_index, which is why conversation sync can afford
// at-least-once redelivery.
type HistoryEntry struct {
	HistoryIndex int    `json:"history_index"`
	Role         string `json:"role"`
	Message      string `json:"message"`
}

// ConversationPayload is the body of a conversation upsert request.
type ConversationPayload struct {
	ConversationID string         `json:"conversationId"`
	History        []HistoryEntry `json:"history"`
}

// ConversationPayloadRecord is one line of the append-only payload log,
// recording a sync attempt and its outcome. The record is written with
// status pending before the network call and updated afterwards; the
// ordering is the audit trail for partial failures.
type ConversationPayloadRecord struct {
	Timestamp          time.Time           `json:"timestamp"`
	IsTurnContinuation bool                `json:"is_turn_continuation"`
	HistoryIndices     []int               `json:"history_indices,omitempty"`
	MessageCount       int                 `json:"message_count"`
	Payload            ConversationPayload `json:"payload"`
	Status             PayloadStatus       `json:"status"`
	Error              string              `json:"error,omitempty"`
	Response           string              `json:"response,omitempty"`
}
