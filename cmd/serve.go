package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmhub/internal/chat"
	"llmhub/internal/config"
	"llmhub/internal/history"
	"llmhub/internal/imagegen"
	"llmhub/internal/search"
	"llmhub/internal/server"
	"llmhub/internal/skills"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat backend HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	settings := config.NewSettings(cfg)

	var store history.Store
	if cfg.History.Enabled {
		dbPath := cfg.History.Path
		if dbPath == "" {
			dbPath, err = history.DefaultDBPath()
			if err != nil {
				return err
			}
		}
		sqlStore, err := history.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer sqlStore.Close()
		store = sqlStore
		logger.Info("conversation history enabled", "path", dbPath)
	} else {
		logger.Info("conversation history disabled")
	}

	var searcher search.Searcher
	if cfg.Search.APIKey != "" {
		searcher = search.NewBraveSearcher(cfg.Search.APIKey)
	} else {
		logger.Warn("no search api key configured, web search disabled")
	}

	generator := imagegen.NewGenerator(cfg.Image.OutputDir, cfg.Image.PublicURL, logger)
	dispatcher := skills.NewDispatcher(generator)

	client := chat.NewClient(chat.DefaultUpstreamTimeout)
	orch := chat.NewOrchestrator(client, searcher, logger)

	srv := server.New(cfg, settings, store, orch, client, dispatcher, logger)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat backend listening", "addr", cfg.Server.Addr, "provider", settings.Provider())
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	srv.Shutdown()
	return nil
}
