package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conversationRecorder captures conversation upserts to a fake API.
type conversationRecorder struct {
	mu       sync.Mutex
	payloads []models.ConversationPayload
	paths    []string
	status   int
}

func (r *conversationRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var p models.ConversationPayload
		_ = json.NewDecoder(req.Body).Decode(&p)
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.paths = append(r.paths, req.URL.Path)
		r.mu.Unlock()
		if r.status != 0 {
			w.WriteHeader(r.status)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}
}

func TestConversationsProcessorSyncsNewWindow(t *testing.T) {
	rec := &conversationRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	meta, st := matchedSession(t, root)

	session := &Session{
		Meta: meta,
		Messages: []models.AgentMessage{
			{UUID: "u1", Role: "user", Content: "hello"},
			{UUID: "a1", Role: "assistant", Content: "hi"},
		},
	}

	p := NewConversationsProcessor(st, NewStaticRegistry(), testLogger())
	require.True(t, p.ShouldProcess(session))

	result, err := p.Process(context.Background(), session, newTestSender(t, srv.URL))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.Count)

	require.Len(t, rec.payloads, 1)
	payload := rec.payloads[0]
	assert.NotEmpty(t, payload.ConversationID)
	assert.True(t, strings.HasSuffix(rec.paths[0], payload.ConversationID))
	require.Len(t, payload.History, 2)
	assert.Equal(t, 0, payload.History[0].HistoryIndex)
	assert.Equal(t, 1, payload.History[1].HistoryIndex)

	// Payload log ends in a success record with the server response.
	records, err := st.Payloads("sess-1").ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.PayloadSuccess, records[0].Status)
	assert.Equal(t, `{"ok":true}`, records[0].Response)
	assert.Equal(t, []int{0, 1}, records[0].HistoryIndices)

	require.NotNil(t, result.Patch)
	require.NotNil(t, result.Patch.Conversations)
	cp := result.Patch.Conversations
	assert.Equal(t, "a1", cp.LastSyncedMessageUUID)
	assert.Equal(t, 1, cp.LastSyncedHistoryIndex)
	assert.Equal(t, payload.ConversationID, cp.ConversationID)
	assert.Equal(t, 2, cp.MessagesSynced)
	assert.Equal(t, 1, cp.Syncs)
}

func TestConversationsProcessorFailureLeavesCursorUntouched(t *testing.T) {
	rec := &conversationRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	meta, st := matchedSession(t, root)

	session := &Session{
		Meta: meta,
		Messages: []models.AgentMessage{
			{UUID: "u1", Role: "user", Content: "hello"},
		},
	}

	p := NewConversationsProcessor(st, NewStaticRegistry(), testLogger())
	result, err := p.Process(context.Background(), session, newTestSender(t, srv.URL))
	require.NoError(t, err)
	assert.False(t, result.Success)

	// No patch: the next run retries the same window, and the remote API
	// dedupes by history index.
	assert.Nil(t, result.Patch)

	records, err := st.Payloads("sess-1").ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.PayloadFailed, records[0].Status)
	assert.NotEmpty(t, records[0].Error)
}

func TestConversationsProcessorCatchUpReadsMessageLog(t *testing.T) {
	rec := &conversationRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	meta, st := matchedSession(t, root)

	msgs := []models.AgentMessage{
		{UUID: "u1", Role: "user", Content: "hello"},
		{UUID: "a1", Role: "assistant", Content: "hi"},
	}
	require.NoError(t, st.Messages("sess-1").Append(msgs...))

	p := NewConversationsProcessor(st, NewStaticRegistry(), testLogger())

	// A live run fails at the remote; the cursor stays put.
	result, err := p.Process(context.Background(), &Session{Meta: meta, Messages: msgs}, newTestSender(t, srv.URL))
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Nil(t, result.Patch)

	// A later run with no fresh messages, the way background syncs start,
	// rebuilds the same window from the message log.
	rec.status = 0
	result, err = p.Process(context.Background(), &Session{Meta: meta}, newTestSender(t, srv.URL))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.Count)

	require.Len(t, rec.payloads, 2)
	retried := rec.payloads[1]
	require.Len(t, retried.History, 2)
	assert.Equal(t, 0, retried.History[0].HistoryIndex)
	assert.Equal(t, 1, retried.History[1].HistoryIndex)

	require.NotNil(t, result.Patch)
	require.NotNil(t, result.Patch.Conversations)
	assert.Equal(t, 1, result.Patch.Conversations.LastSyncedHistoryIndex)
	assert.Equal(t, "a1", result.Patch.Conversations.LastSyncedMessageUUID)
}

func TestConversationsProcessorReusesConversationID(t *testing.T) {
	rec := &conversationRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	meta, st := matchedSession(t, root)
	meta.Sync.Conversations.ConversationID = "conv-existing"
	meta.Sync.Conversations.LastSyncedMessageUUID = "u1"
	meta.Sync.Conversations.LastSyncedHistoryIndex = 0

	session := &Session{
		Meta: meta,
		Messages: []models.AgentMessage{
			{UUID: "u1", Role: "user", Content: "hello"},
			{UUID: "a1", Role: "assistant", Content: "hi"},
		},
	}

	p := NewConversationsProcessor(st, NewStaticRegistry(), testLogger())
	result, err := p.Process(context.Background(), session, newTestSender(t, srv.URL))
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, rec.payloads, 1)
	assert.Equal(t, "conv-existing", rec.payloads[0].ConversationID)
	require.Len(t, rec.payloads[0].History, 1)
	assert.Equal(t, 1, rec.payloads[0].History[0].HistoryIndex)
}

func TestConversationsProcessorContentFreeWindow(t *testing.T) {
	root := t.TempDir()
	meta, st := matchedSession(t, root)
	meta.Sync.Conversations.LastSyncedMessageUUID = "u1"
	meta.Sync.Conversations.LastSyncedHistoryIndex = 0

	session := &Session{
		Meta: meta,
		Messages: []models.AgentMessage{
			{UUID: "u1", Role: "user", Content: "hello"},
			{UUID: "t1", Role: "tool", Content: "output"},
		},
	}

	p := NewConversationsProcessor(st, NewStaticRegistry(), testLogger())
	result, err := p.Process(context.Background(), session, newTestSender(t, "http://unreachable.invalid"))
	require.NoError(t, err)
	require.True(t, result.Success)

	// The cursor advances past content-free records without any network
	// call or payload log entry.
	require.NotNil(t, result.Patch)
	require.NotNil(t, result.Patch.Conversations)
	assert.Equal(t, "t1", result.Patch.Conversations.LastSyncedMessageUUID)
	assert.Equal(t, 0, result.Patch.Conversations.LastSyncedHistoryIndex)
	assert.Equal(t, 0, result.Patch.Conversations.MessagesSynced)

	records, err := st.Payloads("sess-1").ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// fixedTransformer returns a canned transform result regardless of input.
type fixedTransformer struct {
	result *TransformResult
}

func (f fixedTransformer) Transform(messages []models.AgentMessage, cursor models.ConversationCursor) (*TransformResult, error) {
	return f.result, nil
}

func TestConversationsProcessorAdvancesCursorFromTransformer(t *testing.T) {
	rec := &conversationRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	root := t.TempDir()
	meta, st := matchedSession(t, root)
	require.Equal(t, -1, meta.Sync.Conversations.LastSyncedHistoryIndex)

	registry := NewStaticRegistry()
	registry.RegisterTransformer("claude", fixedTransformer{result: &TransformResult{
		History: []models.HistoryEntry{
			{HistoryIndex: 3, Role: "user", Message: "q"},
			{HistoryIndex: 4, Role: "assistant", Message: "a"},
		},
		CurrentHistoryIndex:      4,
		LastProcessedMessageUUID: "a9",
	}})

	p := NewConversationsProcessor(st, registry, testLogger())
	result, err := p.Process(context.Background(), &Session{Meta: meta}, newTestSender(t, srv.URL))
	require.NoError(t, err)
	require.True(t, result.Success)

	records, err := st.Payloads("sess-1").ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.PayloadSuccess, records[0].Status)
	assert.False(t, records[0].IsTurnContinuation)

	require.NotNil(t, result.Patch.Conversations)
	assert.Equal(t, 4, result.Patch.Conversations.LastSyncedHistoryIndex)
	assert.Equal(t, "a9", result.Patch.Conversations.LastSyncedMessageUUID)
}

func TestConversationsProcessorNoNewMessages(t *testing.T) {
	root := t.TempDir()
	meta, st := matchedSession(t, root)

	p := NewConversationsProcessor(st, NewStaticRegistry(), testLogger())
	result, err := p.Process(context.Background(), &Session{Meta: meta}, newTestSender(t, "http://unreachable.invalid"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "No new messages to sync", result.Message)
	assert.Nil(t, result.Patch)
}
