package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrQueueFull    = errors.New("queue full")
	ErrClosed       = errors.New("engine closed")
	ErrUnknownKind  = errors.New("unknown operation kind")
)

// OperationKind identifies which remote write a queued operation performs.
type OperationKind string

const (
	KindAddReaction    OperationKind = "add_reaction"
	KindRemoveReaction OperationKind = "remove_reaction"
	KindAddComment     OperationKind = "add_comment"
	KindDeleteComment  OperationKind = "delete_comment"
	KindUpdateArticle  OperationKind = "update_article"
)

// Kinds lists every supported operation kind.
func Kinds() []OperationKind {
	return []OperationKind{
		KindAddReaction,
		KindRemoveReaction,
		KindAddComment,
		KindDeleteComment,
		KindUpdateArticle,
	}
}

func ValidKind(kind OperationKind) bool {
	switch kind {
	case KindAddReaction, KindRemoveReaction, KindAddComment, KindDeleteComment, KindUpdateArticle:
		return true
	default:
		return false
	}
}

// OperationPayload carries the kind-specific data for a queued operation.
// Which fields are required depends on the kind; payloads are checked against
// the per-kind schemas before an operation is accepted.
type OperationPayload struct {
	ArticleID     string         `json:"articleId,omitempty" msgpack:"articleId,omitempty"`
	UserID        string         `json:"userId,omitempty" msgpack:"userId,omitempty"`
	ReactionType  string         `json:"reactionType,omitempty" msgpack:"reactionType,omitempty"`
	ReactionID    string         `json:"reactionId,omitempty" msgpack:"reactionId,omitempty"`
	CommentID     string         `json:"commentId,omitempty" msgpack:"commentId,omitempty"`
	Content       string         `json:"content,omitempty" msgpack:"content,omitempty"`
	Updates       map[string]any `json:"updates,omitempty" msgpack:"updates,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty" msgpack:"correlationId,omitempty"`

	// AuthToken is the ephemeral bearer credential attached to the remote
	// write. It is supplied at enqueue time and never outlives the operation.
	AuthToken string `json:"authToken,omitempty" msgpack:"authToken,omitempty"`
}

// QueuedOperation is a single pending remote write. It is owned exclusively
// by the Engine from the moment it is accepted until it reaches a terminal
// state (remote success or exhausted retries).
type QueuedOperation struct {
	ID          string           `json:"id" msgpack:"id"`
	Kind        OperationKind    `json:"kind" msgpack:"kind"`
	Payload     OperationPayload `json:"payload" msgpack:"payload"`
	EnqueuedAt  time.Time        `json:"enqueuedAt" msgpack:"enqueuedAt"`
	Attempts    int              `json:"attempts" msgpack:"attempts"`
	MaxAttempts int              `json:"maxAttempts" msgpack:"maxAttempts"`
}

// NewOperationID returns a queue-unique identifier. IDs sort roughly by
// enqueue time, with a random suffix to break ties.
func NewOperationID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("sync_%d_%s", time.Now().UnixMilli(), suffix)
}

// Executor performs one remote write attempt for an operation. It must not
// retry internally; retry policy lives in the Engine. The returned body is
// the remote row representation, if any.
type Executor interface {
	Execute(ctx context.Context, op QueuedOperation) (json.RawMessage, error)
}

// Reporter receives exactly one terminal report per operation.
type Reporter interface {
	OperationSucceeded(op QueuedOperation, result json.RawMessage)
	OperationExhausted(op QueuedOperation, lastErr error)
}

// QueueStore is the durable snapshot store behind the Engine's in-memory
// queue. SaveAll replaces the persisted sequence wholesale; the in-memory
// queue remains the source of truth while the process lives, so a failed save
// degrades only crash recovery.
type QueueStore interface {
	SaveAll(ops []QueuedOperation) error
	LoadAll() ([]QueuedOperation, error)
	Close() error
}

// Snapshot is a read-only view of the queue, safe to retain.
type Snapshot struct {
	Operations []QueuedOperation `json:"operations" msgpack:"operations"`
	Draining   bool              `json:"draining" msgpack:"draining"`
}

func cloneOperations(ops []QueuedOperation) []QueuedOperation {
	out := make([]QueuedOperation, len(ops))
	copy(out, ops)
	return out
}
