package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"askd/config"
	"askd/server"
	"askd/session"
	"askd/storage"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	questions, err := storage.NewQuestionStore(cfg.DataDir())
	if err != nil {
		fmt.Printf("Failed to initialize question storage: %v\n", err)
		os.Exit(1)
	}
	defer questions.Close()

	manager := session.NewManager(cfg, questions)
	defer manager.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.RunCleanup(ctx, session.DefaultCleanupInterval)

	srv := server.NewServer(cfg, manager)

	errCh := make(chan error, 1)
	go func() {
		if config.DebugLog != nil {
			config.DebugLog.Printf("askd %s listening on %s", Version, cfg.ListenAddr)
		}
		errCh <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Printf("Server error: %v\n", err)
		os.Exit(1)
	case sig := <-sigCh:
		if config.DebugLog != nil {
			config.DebugLog.Printf("received %v, shutting down", sig)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}
}
