package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codemie-ai/codemie-code/internal/lock"
	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(root string, st *store.SessionStore) *Orchestrator {
	locks := lock.NewManager(root, 0, testLogger())
	registry := NewStaticRegistry()
	o := NewOrchestrator(st, locks, testLogger(),
		NewMetricsProcessor(st, registry, testLogger()),
		NewConversationsProcessor(st, registry, testLogger()),
	)
	o.SetSenderOptions(remote.WithMaxRetries(0))
	return o
}

func TestOrchestratorFullRunThenNoWork(t *testing.T) {
	rec := &metricRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	meta, st := matchedSession(t, root)
	require.NoError(t, st.Deltas("sess-1").Append(
		models.NewMetricDelta("main", models.TokenUsage{Input: 10, Output: 5}),
		models.NewMetricDelta("main", models.TokenUsage{Output: 7}),
		models.NewMetricDelta("main", models.TokenUsage{Input: 3}),
	))
	_ = meta

	o := newOrchestrator(root, st)
	pctx := models.ProcessingContext{APIBaseURL: srv.URL}

	result, err := o.Sync(context.Background(), "sess-1", pctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Empty(t, result.FailedProcessors)

	payloads := rec.recorded()
	require.Len(t, payloads, 1)
	assert.Equal(t, int64(13), payloads[0].Attributes.TotalInputTokens)
	assert.Equal(t, int64(12), payloads[0].Attributes.TotalOutputTokens)

	// The merged patch was persisted exactly once.
	persisted, err := st.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, persisted.Sync.Metrics.TotalSynced)
	assert.Equal(t, 0, persisted.Sync.Metrics.TotalFailed)
	assert.Len(t, persisted.Sync.Metrics.ProcessedRecordIDs, 3)

	// The lock is released after the run.
	locks := lock.NewManager(root, 0, testLogger())
	info, err := locks.Read("sess-1")
	require.NoError(t, err)
	assert.Nil(t, info)

	// A second run finds nothing to do.
	result, err = o.Sync(context.Background(), "sess-1", pctx)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "No pending data to sync", result.Message)
	assert.Len(t, rec.recorded(), 1)
}

func TestOrchestratorSkipsUnmatchedSession(t *testing.T) {
	root := t.TempDir()
	st := store.NewSessionStore(root, testLogger())
	meta := models.NewSessionMetadata("sess-1", "claude")
	require.NoError(t, st.Save(meta))

	o := newOrchestrator(root, st)
	result, err := o.Sync(context.Background(), "sess-1", models.ProcessingContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "not correlated")
}

func TestOrchestratorUnknownSession(t *testing.T) {
	root := t.TempDir()
	st := store.NewSessionStore(root, testLogger())

	o := newOrchestrator(root, st)
	result, err := o.Sync(context.Background(), "missing", models.ProcessingContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestOrchestratorSkipsLockedSession(t *testing.T) {
	root := t.TempDir()
	_, st := matchedSession(t, root)

	// Another live process (simulated by this one) holds the lock.
	locks := lock.NewManager(root, 0, testLogger())
	ok, err := locks.Acquire("sess-1", "claude")
	require.NoError(t, err)
	require.True(t, ok)

	o := newOrchestrator(root, st)
	result, err := o.Sync(context.Background(), "sess-1", models.ProcessingContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "is locked by PID")
}

func TestOrchestratorRetriesConversationWindowFromMessageLog(t *testing.T) {
	rec := &conversationRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	_, st := matchedSession(t, root)
	require.NoError(t, st.Messages("sess-1").Append(
		models.AgentMessage{UUID: "u1", Role: "user", Content: "hello"},
		models.AgentMessage{UUID: "a1", Role: "assistant", Content: "hi"},
	))

	o := newOrchestrator(root, st)
	pctx := models.ProcessingContext{APIBaseURL: srv.URL}

	// First run: the upsert fails, so the persisted cursor must not move.
	result, err := o.Sync(context.Background(), "sess-1", pctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"conversations"}, result.FailedProcessors)

	persisted, err := st.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, -1, persisted.Sync.Conversations.LastSyncedHistoryIndex)

	// Second run: the same window comes back from the message log and
	// lands once the remote recovers.
	rec.status = 0
	result, err = o.Sync(context.Background(), "sess-1", pctx)
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, rec.payloads, 2)
	require.Len(t, rec.payloads[1].History, 2)
	assert.Equal(t, 0, rec.payloads[1].History[0].HistoryIndex)
	assert.Equal(t, 1, rec.payloads[1].History[1].HistoryIndex)

	persisted, err = st.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.Sync.Conversations.LastSyncedHistoryIndex)
	assert.Equal(t, "a1", persisted.Sync.Conversations.LastSyncedMessageUUID)
	assert.Equal(t, 2, persisted.Sync.Conversations.TotalMessagesSynced)
}

func TestOrchestratorRunsProcessorsInPriorityOrder(t *testing.T) {
	root := t.TempDir()
	meta, st := matchedSession(t, root)
	_ = meta

	var order []string
	first := &fakeProcessor{name: "metrics-like", priority: 1, record: &order}
	second := &fakeProcessor{name: "conversations-like", priority: 2, record: &order}

	locks := lock.NewManager(root, 0, testLogger())
	// Deliberately registered out of order.
	o := NewOrchestrator(st, locks, testLogger(), second, first)

	result, err := o.Sync(context.Background(), "sess-1", models.ProcessingContext{})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, []string{"metrics-like", "conversations-like"}, order)
}

func TestOrchestratorPanicBecomesFailedResult(t *testing.T) {
	root := t.TempDir()
	_, st := matchedSession(t, root)

	panicking := &fakeProcessor{name: "exploder", priority: 1, panics: true}
	healthy := &fakeProcessor{name: "healthy", priority: 2, patch: &StatePatch{
		Metrics: &MetricsPatch{TotalSynced: 1},
	}}

	locks := lock.NewManager(root, 0, testLogger())
	o := NewOrchestrator(st, locks, testLogger(), panicking, healthy)

	result, err := o.Sync(context.Background(), "sess-1", models.ProcessingContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"exploder"}, result.FailedProcessors)

	// The healthy processor's patch still landed.
	persisted, err := st.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.Sync.Metrics.TotalSynced)
}

func TestOrchestratorInFlightGuard(t *testing.T) {
	root := t.TempDir()
	_, st := matchedSession(t, root)

	release := make(chan struct{})
	slow := &fakeProcessor{name: "slow", priority: 1, block: release}

	locks := lock.NewManager(root, 0, testLogger())
	o := NewOrchestrator(st, locks, testLogger(), slow)

	done := make(chan *SessionSyncResult, 1)
	go func() {
		result, _ := o.Sync(context.Background(), "sess-1", models.ProcessingContext{})
		done <- result
	}()

	// Wait until the first run is inside the processor.
	require.Eventually(t, func() bool {
		return slow.started.Load()
	}, 2*time.Second, 10*time.Millisecond)

	result, err := o.Sync(context.Background(), "sess-1", models.ProcessingContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "already in progress")

	close(release)
	first := <-done
	assert.True(t, first.Success)
}

func TestApplyPatchIsMonotonic(t *testing.T) {
	meta := models.NewSessionMetadata("sess-1", "claude")
	meta.Sync.Conversations.LastSyncedHistoryIndex = 5
	meta.Sync.Conversations.ConversationID = "conv-1"
	meta.Sync.Metrics.ProcessedRecordIDs = []string{"r1"}
	meta.Sync.Metrics.TotalSynced = 2

	applyPatch(meta, &StatePatch{
		Metrics: &MetricsPatch{
			ProcessedRecordIDs: []string{"r1", "r2"},
			TotalSynced:        3,
		},
		Conversations: &ConversationsPatch{
			// A stale index must not move the cursor backwards.
			LastSyncedHistoryIndex: 3,
			ConversationID:         "conv-other",
			MessagesSynced:         2,
			Syncs:                  1,
		},
	})

	assert.Equal(t, []string{"r1", "r2"}, meta.Sync.Metrics.ProcessedRecordIDs)
	assert.Equal(t, 5, meta.Sync.Metrics.TotalSynced)
	assert.Equal(t, 5, meta.Sync.Conversations.LastSyncedHistoryIndex)
	assert.Equal(t, "conv-1", meta.Sync.Conversations.ConversationID)
	assert.Equal(t, 2, meta.Sync.Conversations.TotalMessagesSynced)
	assert.Equal(t, 1, meta.Sync.Conversations.TotalSyncs)
}

// fakeProcessor is a controllable SessionProcessor for orchestrator tests.
type fakeProcessor struct {
	name     string
	priority int
	panics   bool
	patch    *StatePatch
	record   *[]string
	block    chan struct{}
	started  atomic.Bool
}

func (f *fakeProcessor) Name() string                      { return f.name }
func (f *fakeProcessor) Priority() int                     { return f.priority }
func (f *fakeProcessor) ShouldProcess(session *Session) bool { return true }

func (f *fakeProcessor) Process(ctx context.Context, session *Session, sender *remote.Sender) (*ProcessingResult, error) {
	f.started.Store(true)
	if f.record != nil {
		*f.record = append(*f.record, f.name)
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("boom")
	}
	return &ProcessingResult{Success: true, Message: "ok", Patch: f.patch}, nil
}
