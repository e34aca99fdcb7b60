package watch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/codemie-ai/codemie-code/internal/lock"
	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/internal/syncer"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/codemie-ai/codemie-code/testutil"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestWatcher(t *testing.T, root, baseURL string) (*Watcher, *store.SessionStore) {
	t.Helper()
	st := store.NewSessionStore(root, testLogger())
	registry := syncer.NewStaticRegistry()
	orch := syncer.NewOrchestrator(st, lock.NewManager(root, 0, testLogger()), testLogger(),
		syncer.NewMetricsProcessor(st, registry, testLogger()),
		syncer.NewConversationsProcessor(st, registry, testLogger()),
	)
	orch.SetSenderOptions(remote.WithMaxRetries(0))

	pctx := models.ProcessingContext{APIBaseURL: baseURL}
	return New(root, orch, st, pctx, time.Hour, testLogger()), st
}

func TestSyncDirtyHonorsDebounce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	root := testutil.NewSessionsRoot(t)
	meta := testutil.NewMatchedSession("claude")
	testutil.WriteSession(t, root, meta)
	testutil.WriteDeltas(t, root, meta.SessionID, testutil.TokenDelta("main", 10, 5))

	w, st := newTestWatcher(t, root, srv.URL)

	// Fresh write: still inside the debounce window, nothing happens.
	w.dirty[meta.SessionID] = time.Now()
	w.syncDirty(context.Background())
	pending, err := st.Deltas(meta.SessionID).Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Quiet long enough: the session syncs and leaves the dirty set.
	w.dirty[meta.SessionID] = time.Now().Add(-2 * dirtyDebounce)
	w.syncDirty(context.Background())

	pending, err = st.Deltas(meta.SessionID).Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, w.dirty)
}

func TestSyncAllSkipsUnmatchedSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	root := testutil.NewSessionsRoot(t)

	matched := testutil.NewMatchedSession("claude")
	testutil.WriteSession(t, root, matched)
	testutil.WriteDeltas(t, root, matched.SessionID, testutil.TokenDelta("main", 1, 0))

	unmatched := models.NewSessionMetadata("sess-unmatched", "claude")
	testutil.WriteSession(t, root, unmatched)
	testutil.WriteDeltas(t, root, unmatched.SessionID, testutil.TokenDelta("main", 2, 0))

	w, st := newTestWatcher(t, root, srv.URL)
	w.syncAll(context.Background())

	pending, err := st.Deltas(matched.SessionID).Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = st.Deltas(unmatched.SessionID).Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestHandleEventMarksOnlyAgentWrites(t *testing.T) {
	root := testutil.NewSessionsRoot(t)
	meta := testutil.NewMatchedSession("claude")
	dir := testutil.WriteSession(t, root, meta)

	w, _ := newTestWatcher(t, root, "http://unreachable.invalid")
	fw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fw.Close()

	// Engine-produced writes must not feed back into the dirty set.
	w.handleEvent(fw, fsnotify.Event{
		Name: filepath.Join(dir, store.MetadataFileName),
		Op:   fsnotify.Write,
	})
	assert.Empty(t, w.dirty)

	w.handleEvent(fw, fsnotify.Event{
		Name: filepath.Join(dir, store.DeltaFileName),
		Op:   fsnotify.Write,
	})
	assert.Contains(t, w.dirty, meta.SessionID)

	// New conversation messages wake the watcher too.
	w.dirty = map[string]time.Time{}
	w.handleEvent(fw, fsnotify.Event{
		Name: filepath.Join(dir, store.MessageLogFileName),
		Op:   fsnotify.Write,
	})
	assert.Contains(t, w.dirty, meta.SessionID)

	// Events outside the sessions root are ignored.
	w.dirty = map[string]time.Time{}
	w.handleEvent(fw, fsnotify.Event{
		Name: filepath.Join(t.TempDir(), store.DeltaFileName),
		Op:   fsnotify.Write,
	})
	assert.Empty(t, w.dirty)
}
