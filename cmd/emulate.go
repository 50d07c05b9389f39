package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmhub/internal/emulator"
)

var emulateConfigPath string

func init() {
	emulateCmd.Flags().StringVar(&emulateConfigPath, "config", "emulator.yaml", "Path to the emulator config file")
	rootCmd.AddCommand(emulateCmd)
}

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run the OpenRouter-shaped adapter in front of a local inference server",
	Long: `emulate exposes a local OpenAI-compatible inference server under the
OpenRouter API surface, so the backend can switch providers without
changing its client code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEmulate()
	},
}

func runEmulate() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := emulator.LoadConfig(emulateConfigPath)
	if err != nil {
		return err
	}

	srv := emulator.NewServer(cfg, logger)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("emulator listening", "addr", cfg.ListenAddr, "local_backend", cfg.LocalBaseURL)
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
