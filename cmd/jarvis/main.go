package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/ent0n29/jarvis/internal/app"
	"github.com/ent0n29/jarvis/internal/config"
	"github.com/ent0n29/jarvis/internal/logging"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides APP_LOG_LEVEL)")
	addr := cli.StringP("addr", "a", "", "Bind address (overrides APP_BIND_ADDR)")
	cli.Parse()

	boot := logging.New(os.Stderr, "info")
	if err := config.LoadEnvFile(*envFile); err != nil {
		boot.Error("env file", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error("config error", "err", err)
		os.Exit(1)
	}
	if v := strings.TrimSpace(*logLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.BindAddr = v
	}
	if err := cfg.Validate(); err != nil {
		boot.Error("config error", "err", err)
		os.Exit(1)
	}

	log := logging.New(os.Stderr, cfg.LogLevel)
	log.Info("Booting up")

	built, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Warn("cleanup failed", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, 5*time.Second)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		log.Error("listen error", "err", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}

	log.Info("shutdown complete")
}
