package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/worldconnect/commentsync/internal/channel"
	"github.com/worldconnect/commentsync/internal/optimistic"
	"github.com/worldconnect/commentsync/internal/syncqueue"
)

type submitFlags struct {
	articleID string
	userID    string
	authToken string
	wait      time.Duration
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.articleID, "article", "", "article id")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id")
	cmd.Flags().StringVar(&f.authToken, "token", os.Getenv("COMMENTSYNC_AUTH_TOKEN"), "bearer token for the remote")
	cmd.Flags().DurationVar(&f.wait, "wait", 0, "how long to wait for the terminal outcome (0 returns immediately)")
	cmd.MarkFlagRequired("article")
}

// submitSession connects a controller to the worker for one command run.
type submitSession struct {
	client     *channel.Client
	controller *optimistic.Controller
}

func newSubmitSession(ctx context.Context, f submitFlags) (*submitSession, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := &submitSession{}

	ready := make(chan struct{})
	client, err := dialWorker(ctx, channel.Handlers{
		OnSucceeded: func(op syncqueue.QueuedOperation, result []byte) {
			<-ready
			s.controller.HandleSucceeded(op, result)
		},
		OnExhausted: func(op syncqueue.QueuedOperation, errMsg string) {
			<-ready
			s.controller.HandleExhausted(op, errMsg)
		},
	})
	if err != nil {
		return nil, err
	}
	controller, err := optimistic.NewController(optimistic.Options{
		Submitter: client,
		AuthToken: f.authToken,
		Logger:    logger,
		Notifier: optimistic.NotifierFunc(func(op syncqueue.QueuedOperation, lastErr string) {
			fmt.Fprintf(os.Stderr, "operation %s (%s) was abandoned: %s\n", op.ID, op.Kind, lastErr)
		}),
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	s.client = client
	s.controller = controller
	close(ready)
	return s, nil
}

func (s *submitSession) Close() { s.client.Close() }

// finish optionally blocks until the operation resolves.
func (s *submitSession) finish(ctx context.Context, correlationID string, wait time.Duration) error {
	if wait <= 0 {
		fmt.Println("queued")
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := s.controller.AwaitResolution(waitCtx, correlationID); err != nil {
		return fmt.Errorf("still pending after %s", wait)
	}
	fmt.Println("resolved")
	return nil
}

func newCommentCommand() *cobra.Command {
	var flags submitFlags
	var content string
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Queue a new comment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if content == "" {
				return fmt.Errorf("--content is required")
			}
			session, err := newSubmitSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer session.Close()
			id, err := session.controller.AddCommentOptimistic(cmd.Context(), flags.articleID, flags.userID, content)
			if err != nil {
				return err
			}
			return session.finish(cmd.Context(), id, flags.wait)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&content, "content", "", "comment body")
	return cmd
}

func newUncommentCommand() *cobra.Command {
	var flags submitFlags
	var commentID string
	cmd := &cobra.Command{
		Use:   "uncomment",
		Short: "Queue a comment deletion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commentID == "" {
				return fmt.Errorf("--comment is required")
			}
			session, err := newSubmitSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer session.Close()
			id, err := session.controller.DeleteCommentOptimistic(cmd.Context(), flags.articleID, commentID)
			if err != nil {
				return err
			}
			return session.finish(cmd.Context(), id, flags.wait)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&commentID, "comment", "", "comment id to delete")
	return cmd
}

func newReactCommand() *cobra.Command {
	var flags submitFlags
	var kind string
	cmd := &cobra.Command{
		Use:   "react",
		Short: "Queue a reaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSubmitSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer session.Close()
			id, err := session.controller.AddReactionOptimistic(cmd.Context(), flags.articleID, flags.userID, kind)
			if err != nil {
				return err
			}
			return session.finish(cmd.Context(), id, flags.wait)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&kind, "type", "like", "reaction type")
	return cmd
}

func newUnreactCommand() *cobra.Command {
	var flags submitFlags
	var kind string
	var reactionID string
	cmd := &cobra.Command{
		Use:   "unreact",
		Short: "Queue a reaction removal",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSubmitSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer session.Close()
			if reactionID != "" {
				session.controller.SeedReaction(flags.articleID, flags.userID, kind, optimistic.ReactionState{
					Count:      1,
					Active:     true,
					ReactionID: reactionID,
				})
			}
			id, err := session.controller.RemoveReactionOptimistic(cmd.Context(), flags.articleID, flags.userID, kind)
			if err != nil {
				return err
			}
			return session.finish(cmd.Context(), id, flags.wait)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&kind, "type", "like", "reaction type")
	cmd.Flags().StringVar(&reactionID, "reaction", "", "remote reaction id to remove")
	return cmd
}
