package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/shipctl/internal/audit"
	"github.com/fentz26/shipctl/internal/config"
	"github.com/fentz26/shipctl/internal/controlplane"
	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/events"
	"github.com/fentz26/shipctl/internal/store"
)

var listenAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the shipctl daemon",
	Long: `Starts the shipctl daemon: the refresh loop that reconciles workflow runs and
health probes every 30 seconds, and the HTTP API used by the CLI and the TUI.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides api.listen)")
}

// journalSink is a journal backend that can be pinged and closed.
type journalSink interface {
	audit.Sink
	controlplane.Pinger
	Close() error
}

// openJournal opens the journal backend selected by cfg. It returns nil
// when the journal is disabled.
func openJournal(ctx context.Context, cfg config.JournalConfig) (journalSink, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		path := cfg.Path
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("getting home dir: %w", err)
			}
			path = filepath.Join(home, config.DefaultConfigDir, config.DefaultJournalFile)
		}
		s, err := store.New(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting shipctl daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.API.Listen = listenAddr
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel.level}))
	slog.SetDefault(logger)

	if !cfg.HasCredentials() {
		log.Println("Warning: GitHub credentials incomplete; set SHIPCTL_GITHUB_TOKEN or use 'shipctl credentials'")
	}

	// Initialize journal
	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sink, err := openJournal(openCtx, cfg.Journal)
	openCancel()
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	var (
		journal *audit.Journal
		pinger  controlplane.Pinger
	)
	if sink != nil {
		journal = audit.NewJournal(sink)
		pinger = sink
	} else {
		journal = audit.NewJournal(nil)
	}

	// Create engine
	eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}

	// Wire status-change events
	if cfg.Events.NATSURL != "" {
		nc, err := events.Connect(cfg.Events.NATSURL)
		if err != nil {
			log.Printf("Warning: %v (status events disabled)", err)
		} else {
			defer nc.Drain()
			notifier := events.NewNotifier(nc, cfg.Events.Subject, logger)
			eng.Subscribe(func(snap engine.Snapshot) {
				notifier.Observe(snap)
			})
			log.Printf("Publishing status changes to %s.*", cfg.Events.Subject)
		}
	}

	// Create service and server
	service := controlplane.NewService(eng, journal, pinger)
	server := controlplane.NewServer(service, cfg.API.Listen)

	eng.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			eng.Stop()
			if sink != nil {
				sink.Close()
			}
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping refresh loop...")
	eng.Stop()

	if sink != nil {
		log.Println("Closing journal...")
		if err := sink.Close(); err != nil {
			log.Printf("Journal close error: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}
