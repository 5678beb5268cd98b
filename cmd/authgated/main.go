package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authgate/authgate/internal/api"
	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/logger"
	"github.com/authgate/authgate/internal/manager"
	"github.com/authgate/authgate/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authgated start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	log.Infow("authgated starting", "management_addr", cfg.ManagementAddr)
	if !cfg.ManagementLoopback() {
		log.Warnw("management API bound to a non-loopback address, anyone who can reach it controls the proxy",
			"addr", cfg.ManagementAddr)
	}

	st, err := store.New(cfg.StorageType, cfg.BBoltPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := manager.New(cfg, st, log)
	if err := m.Restore(); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	descriptors, err := config.LoadServiceFiles(cfg.ServiceLookupDirs)
	if err != nil {
		return fmt.Errorf("load service descriptors: %w", err)
	}
	if err := m.Preload(descriptors); err != nil {
		return fmt.Errorf("preload services: %w", err)
	}

	srv := api.New(m, log, stop)
	if err := srv.Start(cfg.ManagementAddr); err != nil {
		return fmt.Errorf("start management API: %w", err)
	}

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Errorw("stop management API", "err", err)
	}
	if err := m.Stop(shutdownCtx); err != nil {
		log.Errorw("stop proxies", "err", err)
	}
	return nil
}
