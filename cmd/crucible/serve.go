package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openquant/crucible/internal/api"
	"github.com/openquant/crucible/internal/app"
	"github.com/openquant/crucible/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the async job API. Runs are submitted over HTTP, executed by
background workers and queried from the results store.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App, cfg *config.Config, log *zap.Logger) error {
		server := api.NewServer(cfg, a, a.Results(), a.Metrics(), log)

		go func() {
			if err := server.Start(); err != nil {
				log.Error("server error", zap.Error(err))
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("server stopped")
		return nil
	})
}
