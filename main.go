package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	quota := NewConnQuota(maxConnsPerIPPerRoom)
	docs := NewDocumentRegistry(logger)
	hub := NewHub(cfg, logger, docs, quota)
	srv := NewServer(cfg, logger, hub, quota, docs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down")
		// If the orderly sequence stalls, the process still goes down.
		time.AfterFunc(shutdownTimeout, func() {
			logger.Error("shutdown deadline exceeded, forcing exit")
			os.Exit(1)
		})
		cancel()
		hub.Shutdown()
		srv.Shutdown()
	}()

	logger.Info("relay starting",
		zap.String("addr", cfg.Addr()),
		zap.String("env", cfg.Env),
		zap.Bool("codeEditorFeatures", cfg.CodeEditorFeatures))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
