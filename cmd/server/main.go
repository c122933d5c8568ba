package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leca/dt-image-store/internal/config"
	"github.com/leca/dt-image-store/internal/database"
	"github.com/leca/dt-image-store/internal/imageproc"
	"github.com/leca/dt-image-store/internal/imagestore"
	"github.com/leca/dt-image-store/internal/router"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A .env file is optional.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	fit, err := imageproc.ParseFit(cfg.ResizeFit)
	if err != nil {
		slog.Error("invalid resize fit", "error", err)
		os.Exit(1)
	}

	opts := imagestore.Options{
		PermanentDir:     cfg.PermanentDir,
		CacheDir:         cfg.CacheDir,
		TotalDiskBytes:   cfg.DiskBudget,
		MaxFileSize:      cfg.MaxFileSize,
		MaxFieldNameSize: cfg.MaxNameSize,
		MaxInputPixels:   cfg.MaxInputPixels,
		Resizer:          imageproc.NewResizer(fit, cfg.MaxInputPixels),
	}

	var db *database.SQLiteDB
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			slog.Error("failed to create database directory", "error", err)
			os.Exit(1)
		}
		db, err = database.NewSQLiteDB(cfg.DBPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		opts.Journal = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := imagestore.New(ctx, opts)
	if err != nil {
		slog.Error("failed to initialise image store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.New(store, cfg).Router,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", cfg.ListenAddr,
		"permanent_dir", cfg.PermanentDir,
		"cache_dir", cfg.CacheDir,
		"stats", store.GetStats())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
