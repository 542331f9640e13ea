package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"swapyard/config"
	"swapyard/core/state"
	"swapyard/journal"
	"swapyard/native/escrow"
	"swapyard/observability/logging"
	"swapyard/rpc"
	"swapyard/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	logger := logging.Setup("swapyardd", os.Getenv("SWAPYARD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	admin, err := parseAdminAddress(cfg.AdminAddress)
	if err != nil {
		logger.Error("parse admin address", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Error("open event journal", "err", err)
		os.Exit(1)
	}
	defer jrnl.Close()
	jrnl.SetErrorFunc(func(err error) {
		logger.Warn("journal append failed", "err", err)
	})

	engine := escrow.NewEngine()
	engine.SetState(state.NewManager(db))
	engine.SetEmitter(jrnl)

	adminCap, err := engine.CapabilityFor(admin)
	if errors.Is(err, escrow.ErrNotBootstrapped) {
		adminCap, err = engine.Bootstrap(admin)
		if err == nil {
			logger.Info("hub bootstrapped", "admin", cfg.AdminAddress)
		}
	}
	if err != nil {
		logger.Error("initialise hub", "err", err)
		os.Exit(1)
	}

	server := rpc.NewServer(engine, adminCap, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("stopped")
}

func parseAdminAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid admin address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}
