package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestDeltaStoreAppendAndLoad(t *testing.T) {
	ds := NewDeltaStore(t.TempDir(), testLogger())

	d1 := models.NewMetricDelta("main", models.TokenUsage{Input: 10, Output: 5})
	d2 := models.NewMetricDelta("main", models.TokenUsage{Input: 3})
	require.NoError(t, ds.Append(d1, d2))

	loaded, err := ds.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, d1.RecordID, loaded[0].RecordID)
	assert.Equal(t, int64(10), loaded[0].Tokens.Input)
	assert.True(t, loaded[1].IsPending())
}

func TestDeltaStorePendingFiltersSynced(t *testing.T) {
	ds := NewDeltaStore(t.TempDir(), testLogger())

	synced := models.NewMetricDelta("main", models.TokenUsage{Input: 1})
	synced.SyncStatus = models.SyncSynced
	pending := models.NewMetricDelta("main", models.TokenUsage{Input: 2})
	require.NoError(t, ds.Append(synced, pending))

	got, err := ds.Pending()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.RecordID, got[0].RecordID)
}

func TestDeltaStoreRewriteReplacesFile(t *testing.T) {
	ds := NewDeltaStore(t.TempDir(), testLogger())

	d := models.NewMetricDelta("main", models.TokenUsage{Input: 1})
	require.NoError(t, ds.Append(d))

	d.SyncStatus = models.SyncSynced
	now := time.Now()
	d.SyncedAt = &now
	require.NoError(t, ds.Rewrite([]*models.MetricDelta{d}))

	loaded, err := ds.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.SyncSynced, loaded[0].SyncStatus)
	assert.NotNil(t, loaded[0].SyncedAt)
}

func TestDeltaStoreSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	ds := NewDeltaStore(dir, testLogger())

	d := models.NewMetricDelta("main", models.TokenUsage{Input: 1})
	require.NoError(t, ds.Append(d))

	f, err := os.OpenFile(filepath.Join(dir, DeltaFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	d2 := models.NewMetricDelta("main", models.TokenUsage{Input: 2})
	require.NoError(t, ds.Append(d2))

	loaded, err := ds.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, d.RecordID, loaded[0].RecordID)
	assert.Equal(t, d2.RecordID, loaded[1].RecordID)
}

func TestDeltaStoreLoadMissingFile(t *testing.T) {
	ds := NewDeltaStore(filepath.Join(t.TempDir(), "nope"), testLogger())
	loaded, err := ds.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
