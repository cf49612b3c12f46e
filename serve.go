package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"library-service/library"
	"library-service/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long:  "Start the library HTTP API. Migrations are applied on startup.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, mgr, cleanup := openManager()
	defer cleanup()

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if removed, err := mgr.CleanupExpiredSessions(ctx); err != nil {
		logger.Warn("expired session sweep failed", "err", err)
	} else if removed > 0 {
		logger.Info("removed expired sessions", "count", removed)
	}

	checkAdmins(ctx, mgr, logger)

	srv := server.New(cfg, mgr, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		cleanup()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// checkAdmins warns when nobody could administer the service.
func checkAdmins(ctx context.Context, mgr *library.LibraryManager, logger *slog.Logger) {
	admins, err := mgr.Database().CountActiveAdmins(ctx)
	if err != nil {
		logger.Warn("failed to count administrators", "err", err)
		return
	}
	if admins == 0 {
		logger.Warn("no active administrator; create one with: library-service user create --role admin")
	}
}
