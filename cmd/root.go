// Package cmd implements the codemie CLI commands.
package cmd

import (
	"os"
	"time"

	"github.com/codemie-ai/codemie-code/cli"
	"github.com/codemie-ai/codemie-code/config"
	"github.com/codemie-ai/codemie-code/internal/lock"
	"github.com/codemie-ai/codemie-code/internal/remote"
	"github.com/codemie-ai/codemie-code/internal/store"
	"github.com/codemie-ai/codemie-code/internal/syncer"
	"github.com/codemie-ai/codemie-code/pkg/models"
	"github.com/codemie-ai/codemie-code/pkg/paths"
	"github.com/codemie-ai/codemie-code/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// engine bundles the components every sync-facing command needs.
type engine struct {
	cfg    *config.Config
	store  *store.SessionStore
	orch   *syncer.Orchestrator
	pctx   models.ProcessingContext
	logger *logrus.Entry
}

// buildEngine assembles the sync engine from config, flags, and the
// environment. Credentials come from the environment only; they are never
// read from or written to config files.
func buildEngine(cmd *cobra.Command) (*engine, error) {
	logger := cli.GetLogger(cmd)
	opts := cli.GetOptions(cmd)

	var cfg *config.Config
	var err error
	if opts.ConfigFile != "" {
		cfg, err = config.Load(opts.ConfigFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	sessionsDir := paths.SessionsDir()
	st := store.NewSessionStore(sessionsDir, logger)
	locks := lock.NewManager(sessionsDir, cfg.Sync.LockTTL(), logger)

	registry := syncer.NewStaticRegistry()
	orch := syncer.NewOrchestrator(st, locks, logger,
		syncer.NewMetricsProcessor(st, registry, logger),
		syncer.NewConversationsProcessor(st, registry, logger),
	)
	orch.SetSenderOptions(
		remote.WithTimeout(cfg.Sync.RequestTimeout()),
		remote.WithMaxRetries(cfg.Sync.MaxRetries),
	)

	pctx := models.ProcessingContext{
		APIBaseURL: cfg.Sync.APIBaseURL,
		APIKey:     os.Getenv("CODEMIE_API_KEY"),
		Cookies:    os.Getenv("CODEMIE_COOKIES"),
		ClientType: "codemie-cli",
		Version:    version.GetInfo().Version,
		DryRun:     cfg.Sync.DryRun || dryRun,
	}

	return &engine{
		cfg:    cfg,
		store:  st,
		orch:   orch,
		pctx:   pctx,
		logger: logger,
	}, nil
}

// syncableSessions filters the session list down to those the orchestrator
// would act on: correlated and not yet final.
func syncableSessions(sessions []*models.SessionMetadata) []*models.SessionMetadata {
	now := time.Now()
	var out []*models.SessionMetadata
	for _, meta := range sessions {
		if meta.Correlation.Status != models.CorrelationMatched {
			continue
		}
		if meta.Status(now) == models.SessionFinal {
			continue
		}
		out = append(out, meta)
	}
	return out
}
