package cli

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

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/checkrun"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/gitmaterial"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/runstore"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/secretenv"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/shellexec"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/app"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/config"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/server"
)

var (
	serveAddr  string
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Serve loads the pipeline declaration and exposes it over HTTP: trigger
runs, inspect run history, and release a held lock.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveStore, "store", "pipeline-sentry.db", "sqlite run history database path")
}

func runServe(cmd *cobra.Command, _ []string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := runstore.Open(serveStore)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close run store", "error", err)
		}
	}()

	opts := app.Options{
		Executor: shellexec.New(),
		Secrets:  secretenv.New(),
		Store:    store,
		Logger:   slog.Default(),
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		opts.Materials = gitmaterial.New(checkrun.NewTokenClient(token))
	}

	engine, err := app.NewEngine(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           server.New(engine, store, &doc.Pipeline, slog.Default()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", serveAddr, "pipeline", doc.Pipeline.Name)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
