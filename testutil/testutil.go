// Package testutil provides fixtures for session sync tests.
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/stretchr/testify/require"
)

// RandomString generates a random hex string of the specified length
func RandomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)[:length]
}

// NewSessionsRoot creates a temporary sessions root directory
func NewSessionsRoot(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// NewMatchedSession creates session metadata already correlated with an
// agent session, which is the state the sync engine acts on.
func NewMatchedSession(agentName string) *models.SessionMetadata {
	meta := models.NewSessionMetadata("sess-"+RandomString(8), agentName)
	meta.Correlation.Status = models.CorrelationMatched
	meta.Correlation.AgentSessionID = "agent-" + RandomString(8)
	return meta
}

// WriteSession persists metadata into the sessions root and returns the
// session directory.
func WriteSession(t *testing.T, root string, meta *models.SessionMetadata) string {
	t.Helper()
	st := store.NewSessionStore(root, nil)
	require.NoError(t, st.Save(meta))
	return st.Dir(meta.SessionID)
}

// WriteDeltas appends metric deltas to a session's delta store.
func WriteDeltas(t *testing.T, root, sessionID string, deltas ...*models.MetricDelta) {
	t.Helper()
	st := store.NewSessionStore(root, nil)
	require.NoError(t, st.Deltas(sessionID).Append(deltas...))
}

// TokenDelta creates a pending metric delta with the given token counts
// on a branch.
func TokenDelta(branch string, input, output int64) *models.MetricDelta {
	return models.NewMetricDelta(branch, models.TokenUsage{Input: input, Output: output})
}

// Messages builds a normalized agent message list with sequential UUIDs
// from alternating role/content pairs.
func Messages(pairs ...string) []models.AgentMessage {
	if len(pairs)%2 != 0 {
		panic("testutil.Messages requires role/content pairs")
	}
	msgs := make([]models.AgentMessage, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		msgs = append(msgs, models.AgentMessage{
			UUID:      "msg-" + RandomString(8),
			Role:      pairs[i],
			Content:   pairs[i+1],
			Timestamp: time.Now(),
		})
	}
	return msgs
}

// WriteFile writes a file under dir, creating parents as needed.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}
