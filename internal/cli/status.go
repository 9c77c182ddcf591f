package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/worldconnect/commentsync/internal/channel"
	"github.com/worldconnect/commentsync/internal/config"
)

func workerURL(cfg config.Config) string {
	return "ws://" + cfg.Addr + "/sync"
}

func dialWorker(ctx context.Context, handlers channel.Handlers) (*channel.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return channel.Dial(ctx, workerURL(cfg), handlers, logger)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the worker's queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			client, err := dialWorker(ctx, channel.Handlers{})
			if err != nil {
				return err
			}
			defer client.Close()

			snap, err := client.QueueSnapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("queued operations: %d\n", len(snap.Operations))
			fmt.Printf("draining: %v\n", snap.Draining)
			for _, op := range snap.Operations {
				fmt.Printf("  %s  %-16s attempts=%d/%d article=%s\n",
					op.ID, op.Kind, op.Attempts, op.MaxAttempts, op.Payload.ArticleID)
			}
			return nil
		},
	}
}

func newDrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Ask the worker to drain its queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			client, err := dialWorker(ctx, channel.Handlers{})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.ForceDrain(ctx); err != nil {
				return err
			}
			fmt.Println("drain requested")
			return nil
		},
	}
}
