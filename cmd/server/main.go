package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/server"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve research runs over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			serve(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configFile string) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Run logs need the workflow_logs table next to the runs.
	var logs server.LogStore
	if a.RunsInPostgres {
		logs = a.DB
	} else {
		logger.Info("Run logs are kept in memory", "store", cfg.StoreBackend)
		logs = server.NewMemoryLogStore()
	}

	svc := server.NewService(a.Runner, a.Store, logs, logger)
	if a.DB != nil {
		svc.Checks = map[string]func(context.Context) error{"database": a.DB.Ping}
	}
	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.NewHandler(svc))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "error", err)
		}
	}()

	logger.Info("Server starting", "port", cfg.Port, "store", cfg.StoreBackend, "search", cfg.SearchProvider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	// Let resumed runs reach their next save point.
	svc.Wait()
}
