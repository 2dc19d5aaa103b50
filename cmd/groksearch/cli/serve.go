package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gudastudio/groksearch/internal/backoff"
	"github.com/gudastudio/groksearch/internal/config"
	"github.com/gudastudio/groksearch/internal/engine"
	"github.com/gudastudio/groksearch/internal/extract"
	"github.com/gudastudio/groksearch/internal/observe"
	"github.com/gudastudio/groksearch/internal/provider"
	"github.com/gudastudio/groksearch/internal/server"
	"github.com/gudastudio/groksearch/internal/session"
	"github.com/gudastudio/groksearch/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server over stdio",
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func serve() error {
	// stdout is the MCP transport; all logging goes to stderr.
	var obs *observe.Observer
	if jsonLogs {
		obs = observe.NewJSON(os.Stderr, verbose)
	} else {
		obs = observe.New(os.Stderr, verbose)
	}
	defer obs.Close()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		obs.Log().Error().Str("path", path).Err(err).Msg("config load failed")
		return err
	}
	if cfg.APIKey == "" {
		obs.Log().Warn().Msg("GROK_API_KEY is not set, search tools will report config_error")
	}

	// The settings database is optional: if it cannot be opened the server
	// runs without persistence and audit.
	var db *store.Store
	db, err = store.Open(filepath.Join(config.DataDir(), "groksearch.db"))
	if err != nil {
		obs.Log().Warn().Err(err).Msg("settings database unavailable, continuing without persistence")
		db = nil
	} else {
		defer db.Close()
	}

	modelName := cfg.Model
	if db != nil {
		if saved, err := db.GetSetting("model"); err == nil && saved != "" {
			modelName = saved
		}
	}
	model := config.NewModelCell(modelName)

	policy := backoff.New(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMultiplier, cfg.RetryMaxWait)

	var chat engine.ChatProvider
	if cfg.APIKey != "" {
		grok, err := provider.NewGrok(cfg.APIURL, cfg.APIKey, model.Current(), policy)
		if err != nil {
			obs.Log().Error().Err(err).Msg("chat provider init failed")
			return err
		}
		chat = grok
	}
	tavily := provider.NewTavily(cfg.TavilyAPIURL, cfg.TavilyAPIKey)
	fire := provider.NewFirecrawl(cfg.FirecrawlAPIURL, cfg.FirecrawlAPIKey)
	chain := extract.NewChain(
		&extract.Tavily{Client: tavily},
		&extract.Firecrawl{Client: fire},
		policy, cfg.MinExtractChars, cfg.SecondaryRetries,
	)

	sessions := session.New(session.Config{
		ConversationTTL:  cfg.SessionTTL,
		MaxConversations: cfg.MaxSessions,
		MaxTurns:         cfg.MaxSearchesPerSess,
		SourceTTL:        cfg.SessionTTL,
		MaxSourceSets:    cfg.SourceCacheSize,
		PlanTTL:          cfg.SessionTTL,
		MaxPlans:         cfg.MaxSessions,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = server.WatchParent(ctx, obs, 0)

	sessions.StartSweeper(ctx, cfg.SweepInterval)

	eng := engine.New(cfg, model, obs, sessions, chat, tavily, fire, chain, db)
	srv := server.New(eng, obs, "groksearch", Version)

	obs.Log().Info().Str("version", Version).Str("model", model.Current()).Msg("serving MCP over stdio")

	// Run blocks on stdin; a dead parent may never close the pipe, so the
	// watchdog context also ends the process.
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, os.Stdin, os.Stdout) }()
	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			obs.Log().Error().Err(err).Msg("server stopped")
			return err
		}
	case <-ctx.Done():
		obs.Log().Info().Msg("shutting down")
	}
	return nil
}
