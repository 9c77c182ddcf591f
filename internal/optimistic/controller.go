// Package optimistic keeps a local view of article comments and reactions in
// sync with the durable write queue. Mutations apply to the view immediately,
// a correlation id links each speculative change to its queued operation, and
// the terminal report either confirms the change or restores the recorded
// prior state.
package optimistic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

// Submitter hands an operation to the durable queue. The channel client
// satisfies this.
type Submitter interface {
	EnqueueOperation(ctx context.Context, kind syncqueue.OperationKind, payload syncqueue.OperationPayload) error
}

// Notifier is told exactly once when an operation has been given up on.
type Notifier interface {
	Notify(op syncqueue.QueuedOperation, lastErr string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(op syncqueue.QueuedOperation, lastErr string)

func (f NotifierFunc) Notify(op syncqueue.QueuedOperation, lastErr string) { f(op, lastErr) }

// CommentView is one comment as the page shows it.
type CommentView struct {
	ID        string
	ArticleID string
	UserID    string
	Content   string
	CreatedAt time.Time
	Pending   bool
	Dimmed    bool
}

// ReactionState is the per-article, per-user reaction view.
type ReactionState struct {
	Count      int
	Active     bool
	ReactionID string
	Pending    bool
}

type reactionKey struct {
	articleID string
	userID    string
	kind      string
}

// revertRecord holds the exact state to restore when the linked operation is
// exhausted. Only the fields matching the operation kind are meaningful.
type revertRecord struct {
	kind syncqueue.OperationKind

	reaction    reactionKey
	priorState  ReactionState
	hadReaction bool

	commentID    string
	priorComment CommentView
	hadComment   bool
}

// Controller owns the speculative view. All methods are safe for concurrent
// use.
type Controller struct {
	submitter Submitter
	notifier  Notifier
	logger    *slog.Logger
	authToken string

	mu        sync.Mutex
	comments  map[string][]CommentView // articleID -> ordered comments
	reactions map[reactionKey]ReactionState
	reverts   map[string]revertRecord // correlation id -> prior state
	resolved  map[string]chan struct{}
}

// Options configures a Controller.
type Options struct {
	Submitter Submitter
	Notifier  Notifier
	AuthToken string
	Logger    *slog.Logger
}

func NewController(opts Options) (*Controller, error) {
	if opts.Submitter == nil {
		return nil, fmt.Errorf("optimistic: submitter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(op syncqueue.QueuedOperation, lastErr string) {
			logger.Warn("operation abandoned", "op_id", op.ID, "kind", op.Kind, "error", lastErr)
		})
	}
	return &Controller{
		submitter: opts.Submitter,
		notifier:  notifier,
		logger:    logger,
		authToken: opts.AuthToken,
		comments:  map[string][]CommentView{},
		reactions: map[reactionKey]ReactionState{},
		reverts:   map[string]revertRecord{},
		resolved:  map[string]chan struct{}{},
	}, nil
}

// SeedReaction installs the authoritative reaction state for an article, as
// loaded before any speculative changes.
func (c *Controller) SeedReaction(articleID, userID, kind string, state ReactionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions[reactionKey{articleID, userID, kind}] = state
}

// SeedComments installs the authoritative comment list for an article.
func (c *Controller) SeedComments(articleID string, comments []CommentView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments[articleID] = append([]CommentView(nil), comments...)
}

// Reaction returns the current view of one reaction.
func (c *Controller) Reaction(articleID, userID, kind string) ReactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reactions[reactionKey{articleID, userID, kind}]
}

// Comments returns the current view of an article's comments.
func (c *Controller) Comments(articleID string) []CommentView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CommentView(nil), c.comments[articleID]...)
}

// AddReactionOptimistic bumps the count and marks the reaction active, then
// enqueues the durable write. An immediate enqueue failure reverts the view
// and notifies.
func (c *Controller) AddReactionOptimistic(ctx context.Context, articleID, userID, kind string) (string, error) {
	key := reactionKey{articleID, userID, kind}
	correlationID := uuid.NewString()

	c.mu.Lock()
	prior, had := c.reactions[key]
	next := prior
	next.Count++
	next.Active = true
	next.Pending = true
	c.reactions[key] = next
	c.reverts[correlationID] = revertRecord{
		kind:        syncqueue.KindAddReaction,
		reaction:    key,
		priorState:  prior,
		hadReaction: had,
	}
	c.mu.Unlock()

	err := c.submitter.EnqueueOperation(ctx, syncqueue.KindAddReaction, syncqueue.OperationPayload{
		ArticleID:     articleID,
		UserID:        userID,
		ReactionType:  kind,
		CorrelationID: correlationID,
		AuthToken:     c.authToken,
	})
	if err != nil {
		c.failImmediately(correlationID, syncqueue.KindAddReaction, err)
		return "", err
	}
	return correlationID, nil
}

// RemoveReactionOptimistic clears the active flag and decrements the count.
func (c *Controller) RemoveReactionOptimistic(ctx context.Context, articleID, userID, kind string) (string, error) {
	key := reactionKey{articleID, userID, kind}
	correlationID := uuid.NewString()

	c.mu.Lock()
	prior, had := c.reactions[key]
	reactionID := prior.ReactionID
	next := prior
	if next.Count > 0 {
		next.Count--
	}
	next.Active = false
	next.ReactionID = ""
	next.Pending = true
	c.reactions[key] = next
	c.reverts[correlationID] = revertRecord{
		kind:        syncqueue.KindRemoveReaction,
		reaction:    key,
		priorState:  prior,
		hadReaction: had,
	}
	c.mu.Unlock()

	err := c.submitter.EnqueueOperation(ctx, syncqueue.KindRemoveReaction, syncqueue.OperationPayload{
		ArticleID:     articleID,
		UserID:        userID,
		ReactionType:  kind,
		ReactionID:    reactionID,
		CorrelationID: correlationID,
		AuthToken:     c.authToken,
	})
	if err != nil {
		c.failImmediately(correlationID, syncqueue.KindRemoveReaction, err)
		return "", err
	}
	return correlationID, nil
}

// AddCommentOptimistic appends a pending comment at the tail of the list.
func (c *Controller) AddCommentOptimistic(ctx context.Context, articleID, userID, content string) (string, error) {
	correlationID := uuid.NewString()
	entry := CommentView{
		ID:        "pending_" + correlationID,
		ArticleID: articleID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now(),
		Pending:   true,
	}

	c.mu.Lock()
	c.comments[articleID] = append(c.comments[articleID], entry)
	c.reverts[correlationID] = revertRecord{
		kind:      syncqueue.KindAddComment,
		commentID: entry.ID,
	}
	c.mu.Unlock()

	err := c.submitter.EnqueueOperation(ctx, syncqueue.KindAddComment, syncqueue.OperationPayload{
		ArticleID:     articleID,
		UserID:        userID,
		Content:       content,
		CorrelationID: correlationID,
		AuthToken:     c.authToken,
	})
	if err != nil {
		c.failImmediately(correlationID, syncqueue.KindAddComment, err)
		return "", err
	}
	return correlationID, nil
}

// DeleteCommentOptimistic dims the comment rather than removing it; the row
// disappears only once the remote delete is confirmed.
func (c *Controller) DeleteCommentOptimistic(ctx context.Context, articleID, commentID string) (string, error) {
	correlationID := uuid.NewString()

	c.mu.Lock()
	prior, had := c.findComment(articleID, commentID)
	if had {
		c.mutateComment(articleID, commentID, func(v *CommentView) { v.Dimmed = true })
	}
	c.reverts[correlationID] = revertRecord{
		kind:         syncqueue.KindDeleteComment,
		commentID:    commentID,
		priorComment: prior,
		hadComment:   had,
	}
	c.mu.Unlock()

	err := c.submitter.EnqueueOperation(ctx, syncqueue.KindDeleteComment, syncqueue.OperationPayload{
		ArticleID:     articleID,
		CommentID:     commentID,
		CorrelationID: correlationID,
		AuthToken:     c.authToken,
	})
	if err != nil {
		c.failImmediately(correlationID, syncqueue.KindDeleteComment, err)
		return "", err
	}
	return correlationID, nil
}

// HandleSucceeded adopts the authoritative result for a confirmed operation.
// Reports for unknown correlation ids are ignored; a restarted worker may
// replay operations whose pages are long gone.
func (c *Controller) HandleSucceeded(op syncqueue.QueuedOperation, result []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	correlationID := op.Payload.CorrelationID
	rec, ok := c.reverts[correlationID]
	if !ok {
		return
	}
	delete(c.reverts, correlationID)

	switch rec.kind {
	case syncqueue.KindAddReaction:
		state := c.reactions[rec.reaction]
		state.Pending = false
		if id := extractResultID(result, "reaction_id"); id != "" {
			state.ReactionID = id
		}
		c.reactions[rec.reaction] = state
	case syncqueue.KindRemoveReaction:
		state := c.reactions[rec.reaction]
		state.Pending = false
		c.reactions[rec.reaction] = state
	case syncqueue.KindAddComment:
		c.mutateComment(op.Payload.ArticleID, rec.commentID, func(v *CommentView) {
			v.Pending = false
			if id := extractResultID(result, "commentaire_id"); id != "" {
				v.ID = id
			}
		})
	case syncqueue.KindDeleteComment:
		c.removeComment(op.Payload.ArticleID, rec.commentID)
	}
	c.markResolved(correlationID)
}

// HandleExhausted restores the recorded prior state and notifies exactly
// once. A missing view target is a no-op apart from the notification.
func (c *Controller) HandleExhausted(op syncqueue.QueuedOperation, lastErr string) {
	c.mu.Lock()
	correlationID := op.Payload.CorrelationID
	rec, ok := c.reverts[correlationID]
	if ok {
		delete(c.reverts, correlationID)
		c.applyRevert(rec)
		c.markResolved(correlationID)
	}
	c.mu.Unlock()

	if ok {
		c.notifier.Notify(op, lastErr)
	}
}

// AwaitResolution blocks until the operation behind correlationID reaches a
// terminal report or ctx expires.
func (c *Controller) AwaitResolution(ctx context.Context, correlationID string) error {
	c.mu.Lock()
	if _, pending := c.reverts[correlationID]; !pending {
		c.mu.Unlock()
		return nil
	}
	ch, ok := c.resolved[correlationID]
	if !ok {
		ch = make(chan struct{})
		c.resolved[correlationID] = ch
	}
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) failImmediately(correlationID string, kind syncqueue.OperationKind, err error) {
	c.mu.Lock()
	rec, ok := c.reverts[correlationID]
	if ok {
		delete(c.reverts, correlationID)
		c.applyRevert(rec)
		c.markResolved(correlationID)
	}
	c.mu.Unlock()

	if ok {
		c.notifier.Notify(syncqueue.QueuedOperation{
			Kind:    kind,
			Payload: syncqueue.OperationPayload{CorrelationID: correlationID},
		}, err.Error())
	}
}

// applyRevert runs under c.mu.
func (c *Controller) applyRevert(rec revertRecord) {
	switch rec.kind {
	case syncqueue.KindAddReaction, syncqueue.KindRemoveReaction:
		if rec.hadReaction {
			c.reactions[rec.reaction] = rec.priorState
		} else {
			delete(c.reactions, rec.reaction)
		}
	case syncqueue.KindAddComment:
		for articleID := range c.comments {
			c.removeComment(articleID, rec.commentID)
		}
	case syncqueue.KindDeleteComment:
		if rec.hadComment {
			c.mutateComment(rec.priorComment.ArticleID, rec.commentID, func(v *CommentView) {
				*v = rec.priorComment
			})
		}
	}
}

// markResolved runs under c.mu.
func (c *Controller) markResolved(correlationID string) {
	if ch, ok := c.resolved[correlationID]; ok {
		close(ch)
		delete(c.resolved, correlationID)
	}
}

// findComment runs under c.mu.
func (c *Controller) findComment(articleID, commentID string) (CommentView, bool) {
	for _, v := range c.comments[articleID] {
		if v.ID == commentID {
			return v, true
		}
	}
	return CommentView{}, false
}

// mutateComment runs under c.mu.
func (c *Controller) mutateComment(articleID, commentID string, fn func(*CommentView)) {
	list := c.comments[articleID]
	for i := range list {
		if list[i].ID == commentID {
			fn(&list[i])
			return
		}
	}
}

// removeComment runs under c.mu.
func (c *Controller) removeComment(articleID, commentID string) {
	list := c.comments[articleID]
	for i := range list {
		if list[i].ID == commentID {
			c.comments[articleID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// extractResultID pulls an id column out of a write result, which arrives
// either as a bare object or a single-element array depending on the remote.
func extractResultID(result []byte, column string) string {
	if len(result) == 0 {
		return ""
	}
	var row map[string]json.RawMessage
	if err := json.Unmarshal(result, &row); err != nil {
		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(result, &rows); err != nil || len(rows) == 0 {
			return ""
		}
		row = rows[0]
	}
	raw, ok := row[column]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
