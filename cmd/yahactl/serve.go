package main

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
	"golang.org/x/sync/errgroup"

	"yaha-bot/handler"
	"yaha-bot/internal/app"
	"yaha-bot/internal/domain"
	"yaha-bot/internal/extraction"
	"yaha-bot/internal/server"
)

var (
	serveAddr  string
	serveMedia string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the message and trace API over HTTP",
	Long: `Starts an HTTP server with POST /messages, GET /traces/{id} and /healthz,
and abandons expired negotiation sessions in the background.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveMedia, "media-dir", "", "directory plain-text file attachments are read from")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []app.Option
	if serveMedia != "" {
		opts = append(opts, app.WithAdapter(domain.KindFile, extraction.TextFile(serveMedia)))
	}
	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	defer a.Close()

	h, err := handler.NewHandler(a.Service)
	if err != nil {
		return fmt.Errorf("creating handler: %w", err)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(h, a.Traces),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("yahactl serving", "addr", cfg.Server.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		server.RunExpiry(gctx, a.Service, cfg.Server.ExpireEvery)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
