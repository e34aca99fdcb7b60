package syncer

import (
	"github.com/codemie-ai/codemie-code/pkg/models"
)

// TransformResult is what an agent transformer derives from the full
// message list relative to the conversation cursor. The transformer alone
// decides what is "new"; processors hold no transformation logic.
type TransformResult struct {
	History                  []models.HistoryEntry
	IsTurnContinuation       bool
	CurrentHistoryIndex      int
	LastProcessedMessageUUID string
}

// ConversationTransformer converts normalized agent messages into remote
// history entries. Implementations must be stateless: all progress lives
// in the cursor.
type ConversationTransformer interface {
	Transform(messages []models.AgentMessage, cursor models.ConversationCursor) (*TransformResult, error)
}

// MetricsConfig is the per-agent metric configuration.
type MetricsConfig struct {
	// MetricName overrides the default metric name for usage aggregates.
	MetricName string
	// DefaultBranch is the aggregation key for deltas without a branch.
	DefaultBranch string
}

// AgentRegistry resolves agent-specific behavior. It is passed explicitly
// into the processor chain constructor so no component needs runtime
// name-to-object lookups.
type AgentRegistry interface {
	Transformer(agentName string) (ConversationTransformer, bool)
	MetricsConfig(agentName string) MetricsConfig
}

// StaticRegistry is an AgentRegistry backed by maps populated at
// construction. Agents without an entry fall back to the generic
// transformer and default metrics config.
type StaticRegistry struct {
	transformers map[string]ConversationTransformer
	metrics      map[string]MetricsConfig
	fallback     ConversationTransformer
}

// NewStaticRegistry creates a registry with the generic transformer as
// fallback for unknown agents.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		transformers: make(map[string]ConversationTransformer),
		metrics:      make(map[string]MetricsConfig),
		fallback:     GenericTransformer{},
	}
}

// RegisterTransformer binds a transformer to an agent name.
func (r *StaticRegistry) RegisterTransformer(agentName string, t ConversationTransformer) {
	r.transformers[agentName] = t
}

// RegisterMetricsConfig binds a metrics config to an agent name.
func (r *StaticRegistry) RegisterMetricsConfig(agentName string, cfg MetricsConfig) {
	r.metrics[agentName] = cfg
}

// Transformer resolves the transformer for an agent.
func (r *StaticRegistry) Transformer(agentName string) (ConversationTransformer, bool) {
	if t, ok := r.transformers[agentName]; ok {
		return t, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// MetricsConfig resolves the metrics config for an agent.
func (r *StaticRegistry) MetricsConfig(agentName string) MetricsConfig {
	if cfg, ok := r.metrics[agentName]; ok {
		return cfg
	}
	return MetricsConfig{
		MetricName:    models.MetricNameSessionUsage,
		DefaultBranch: "unknown",
	}
}

// GenericTransformer derives new history entries by position: everything
// after the last synced message UUID is new, indexed monotonically from
// the cursor. Only user and assistant messages become history entries;
// tool and system records advance the UUID without producing content.
type GenericTransformer struct{}

// Transform implements ConversationTransformer.
func (GenericTransformer) Transform(messages []models.AgentMessage, cursor models.ConversationCursor) (*TransformResult, error) {
	start := 0
	if cursor.LastSyncedMessageUUID != "" {
		for i, msg := range messages {
			if msg.UUID == cursor.LastSyncedMessageUUID {
				start = i + 1
				break
			}
		}
	}

	result := &TransformResult{
		CurrentHistoryIndex:      cursor.LastSyncedHistoryIndex,
		LastProcessedMessageUUID: cursor.LastSyncedMessageUUID,
	}

	for _, msg := range messages[start:] {
		result.LastProcessedMessageUUID = msg.UUID
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		result.CurrentHistoryIndex++
		result.History = append(result.History, models.HistoryEntry{
			HistoryIndex: result.CurrentHistoryIndex,
			Role:         msg.Role,
			Message:      msg.Content,
		})
	}

	// A window opening with an assistant message extends the previous
	// logical exchange rather than starting a new one.
	if len(result.History) > 0 {
		result.IsTurnContinuation = result.History[0].Role == "assistant"
	}

	return result, nil
}
