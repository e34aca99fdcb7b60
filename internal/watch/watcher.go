// Package watch runs the background sync loop: filesystem events on the
// sessions root mark sessions dirty, and a periodic ticker sweeps
// everything else. Both paths funnel into the orchestrator, which
// serializes against exit hooks through the session lock.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/internal/syncer"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// dirtyDebounce is how long a session must be quiet after a delta or
// message write before the watcher syncs it.
const dirtyDebounce = 2 * time.Second

// sweepCheck is how often dirty sessions are checked against the debounce.
const sweepCheck = 1 * time.Second

// Watcher drives background syncs for all sessions under a sessions root.
type Watcher struct {
	sessionsDir string
	orch        *syncer.Orchestrator
	store       *store.SessionStore
	pctx        models.ProcessingContext
	interval    time.Duration
	logger      *logrus.Entry

	mu    sync.Mutex
	dirty map[string]time.Time
}

// New creates a Watcher. interval is the full-sweep period for sessions
// that produce no filesystem events.
func New(sessionsDir string, orch *syncer.Orchestrator, st *store.SessionStore, pctx models.ProcessingContext, interval time.Duration, logger *logrus.Entry) *Watcher {
	return &Watcher{
		sessionsDir: sessionsDir,
		orch:        orch,
		store:       st,
		pctx:        pctx,
		interval:    interval,
		logger:      logger,
		dirty:       make(map[string]time.Time),
	}
}

// Run blocks until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.sessionsDir, 0755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.sessionsDir); err != nil {
		return err
	}
	// fsnotify watches are not recursive; watch existing session dirs and
	// pick up new ones from create events on the root.
	if entries, err := os.ReadDir(w.sessionsDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fw.Add(filepath.Join(w.sessionsDir, entry.Name()))
			}
		}
	}

	sweep := time.NewTicker(w.interval)
	defer sweep.Stop()
	check := time.NewTicker(sweepCheck)
	defer check.Stop()

	w.logger.WithField("dir", w.sessionsDir).Info("Watching sessions for sync")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Filesystem watcher error")

		case <-check.C:
			w.syncDirty(ctx)

		case <-sweep.C:
			w.syncAll(ctx)
		}
	}
}

// handleEvent marks sessions dirty on delta and message log writes and
// registers watches for newly created session directories. Writes produced
// by the engine itself (metadata, locks, payload log, temp files) are
// ignored to avoid feedback loops.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(w.sessionsDir, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = fw.Add(event.Name)
			return
		}
	}

	base := filepath.Base(event.Name)
	if base != store.DeltaFileName && base != store.MessageLogFileName {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}

	sessionID := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	w.mu.Lock()
	w.dirty[sessionID] = time.Now()
	w.mu.Unlock()
}

// syncDirty syncs sessions whose last agent write is older than the
// debounce window.
func (w *Watcher) syncDirty(ctx context.Context) {
	now := time.Now()

	w.mu.Lock()
	var due []string
	for sessionID, at := range w.dirty {
		if now.Sub(at) >= dirtyDebounce {
			due = append(due, sessionID)
			delete(w.dirty, sessionID)
		}
	}
	w.mu.Unlock()

	for _, sessionID := range due {
		w.syncOne(ctx, sessionID)
	}
}

// syncAll sweeps every known matched session.
func (w *Watcher) syncAll(ctx context.Context) {
	sessions, err := w.store.List()
	if err != nil {
		w.logger.WithError(err).Warn("Failed to list sessions for sweep")
		return
	}
	for _, meta := range sessions {
		if meta.Correlation.Status != models.CorrelationMatched {
			continue
		}
		if meta.Status(time.Now()) == models.SessionFinal {
			continue
		}
		w.syncOne(ctx, meta.SessionID)
	}
}

func (w *Watcher) syncOne(ctx context.Context, sessionID string) {
	result, err := w.orch.Sync(ctx, sessionID, w.pctx)
	if err != nil {
		w.logger.WithError(err).WithField("session", sessionID).Error("Sync failed to persist state")
		return
	}
	w.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"success": result.Success,
	}).Debug(result.Message)
}
