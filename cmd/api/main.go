package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanledger/pkg/amortization"
	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/logger"
	"github.com/mcclellann/loanledger/pkg/query"
	"github.com/mcclellann/loanledger/pkg/service"
	"github.com/mcclellann/loanledger/pkg/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Server.ServiceName, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func serviceOptions(cfg *config.AppConfig) (service.Options, error) {
	method, err := amortization.ParseMethod(cfg.Schedule.Method)
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		Pagination: query.Defaults{Page: cfg.Pagination.DefaultPage, PerPage: cfg.Pagination.DefaultPerPage},
		Method:     method,
		Policy:     amortization.Policy{InterestOnlyCountsAsPeriod: cfg.Schedule.InterestOnlyCountsAsPeriod},
	}, nil
}

func run(cfg *config.AppConfig, zlog *zap.Logger) error {
	opts, err := serviceOptions(cfg)
	if err != nil {
		return err
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, zlog, opts)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
