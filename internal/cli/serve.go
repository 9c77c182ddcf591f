package cli

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/worldconnect/commentsync/internal/channel"
	"github.com/worldconnect/commentsync/internal/config"
	"github.com/worldconnect/commentsync/internal/connectivity"
	"github.com/worldconnect/commentsync/internal/remote"
	"github.com/worldconnect/commentsync/internal/syncqueue"
)

// Version is stamped at build time.
var Version = "dev"

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := syncqueue.BuildQueueStoreFromDSN(cfg.Queue.DSN)
	if err != nil {
		return err
	}

	client, err := remote.NewClient(remote.Options{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Remote.APIKey,
		Timeout: cfg.Remote.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	hub := channel.NewHub(channel.HubOptions{
		Version: Version,
		Logger:  logger,
	})

	engine, err := syncqueue.NewEngine(syncqueue.Options{
		Store:          store,
		Remote:         client,
		Reporter:       hub,
		Validator:      syncqueue.DefaultPayloadValidator(),
		MaxAttempts:    cfg.Queue.MaxAttempts,
		RetryInterval:  cfg.Queue.RetryInterval.Std(),
		RequestTimeout: cfg.Remote.Timeout.Std(),
		Capacity:       cfg.Queue.Capacity,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()
	hub.AttachEngine(engine)

	if cfg.Connectivity.ProbeURL != "" || cfg.Connectivity.PauseFile != "" {
		monitor, err := connectivity.NewMonitor(connectivity.Options{
			ProbeURL:      cfg.Connectivity.ProbeURL,
			ProbeInterval: cfg.Connectivity.ProbeInterval.Std(),
			PauseFile:     cfg.Connectivity.PauseFile,
			Logger:        logger,
			OnOnline:      engine.ForceDrain,
		})
		if err != nil {
			return err
		}
		if err := monitor.Start(); err != nil {
			return err
		}
		defer monitor.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/sync", hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: cfg.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("commentsync listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stop:
		log.Printf("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return nil
}
