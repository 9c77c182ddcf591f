package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

// ErrSnapshotUnavailable means no snapshot reply arrived in time. The queue
// state is unknown, not empty; callers must not treat this as "no pending
// operations".
var ErrSnapshotUnavailable = errors.New("queue snapshot unavailable")

// Handlers are the page-side callbacks for worker broadcasts. Each handler is
// invoked from the client's read goroutine, in the order the worker emitted
// the messages. Nil handlers are skipped.
type Handlers struct {
	OnSucceeded func(op syncqueue.QueuedOperation, result []byte)
	OnExhausted func(op syncqueue.QueuedOperation, errMsg string)
	OnActivated func(version string, queueDepth int)
}

// Client is the page-side end of the channel.
type Client struct {
	ws       *websocket.Conn
	handlers Handlers
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Message
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the worker's channel endpoint and starts receiving
// broadcasts.
func Dial(ctx context.Context, workerURL string, handlers Handlers, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ws, _, err := websocket.Dial(ctx, workerURL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, err
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:       ws,
		handlers: handlers,
		logger:   logger,
		pending:  map[string]chan Message{},
		ctx:      readCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// EnqueueOperation hands a durable operation to the worker. There is no
// synchronous acknowledgement; the outcome arrives later as a broadcast. The
// payload is validated here first, because the worker drops invalid enqueues
// without replying.
func (c *Client) EnqueueOperation(ctx context.Context, kind syncqueue.OperationKind, payload syncqueue.OperationPayload) error {
	if err := syncqueue.DefaultPayloadValidator().Validate(kind, payload); err != nil {
		return err
	}
	return c.write(ctx, Message{
		Type:    MsgEnqueueOperation,
		Kind:    kind,
		Payload: &payload,
	})
}

// ForceDrain asks the worker to start draining now if it is idle.
func (c *Client) ForceDrain(ctx context.Context) error {
	return c.write(ctx, Message{Type: MsgForceDrain})
}

// QueueSnapshot requests the worker's queue state and waits for the reply.
// When ctx expires first, the state is unknown and ErrSnapshotUnavailable is
// returned.
func (c *Client) QueueSnapshot(ctx context.Context) (syncqueue.Snapshot, error) {
	requestID := uuid.NewString()
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return syncqueue.Snapshot{}, syncqueue.ErrClosed
	}
	c.pending[requestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, Message{Type: MsgQueueSnapshotRequest, RequestID: requestID}); err != nil {
		return syncqueue.Snapshot{}, err
	}
	select {
	case msg := <-reply:
		return syncqueue.Snapshot{Operations: msg.Queue, Draining: msg.Draining}, nil
	case <-ctx.Done():
		return syncqueue.Snapshot{}, ErrSnapshotUnavailable
	case <-c.done:
		return syncqueue.Snapshot{}, ErrSnapshotUnavailable
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) write(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageBinary, data)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable worker message", "error", err)
			continue
		}
		switch msg.Type {
		case MsgQueueSnapshot:
			c.mu.Lock()
			reply, ok := c.pending[msg.RequestID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- msg:
				default:
				}
			}
		case MsgOperationSucceeded:
			if c.handlers.OnSucceeded != nil && msg.Operation != nil {
				c.handlers.OnSucceeded(*msg.Operation, msg.Result)
			}
		case MsgOperationExhausted:
			if c.handlers.OnExhausted != nil && msg.Operation != nil {
				c.handlers.OnExhausted(*msg.Operation, msg.Error)
			}
		case MsgWorkerActivated:
			if c.handlers.OnActivated != nil {
				c.handlers.OnActivated(msg.Version, msg.QueueDepth)
			}
		default:
			c.logger.Warn("ignoring unexpected message type", "type", msg.Type)
		}
	}
}
