package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

const connSendBuffer = 32

// Hub is the worker-side end of the channel. It accepts page connections,
// feeds their requests to the engine, and broadcasts terminal operation
// reports to every connected page. It implements syncqueue.Reporter.
//
// Delivery to pages is best-effort: a page that is gone, or too slow to keep
// up, simply misses the broadcast.
type Hub struct {
	version string
	logger  *slog.Logger

	engine *syncqueue.Engine

	mu    sync.Mutex
	conns map[*hubConn]struct{}
}

type hubConn struct {
	ws   *websocket.Conn
	send chan []byte
}

type HubOptions struct {
	Version string
	Logger  *slog.Logger
}

func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		version: opts.Version,
		logger:  logger,
		conns:   map[*hubConn]struct{}{},
	}
}

// AttachEngine wires the engine the hub dispatches into. Must be called
// before serving; the hub and engine reference each other (the engine reports
// through the hub), so construction happens in two steps.
func (h *Hub) AttachEngine(engine *syncqueue.Engine) {
	h.engine = engine
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	conn := &hubConn{ws: ws, send: make(chan []byte, connSendBuffer)}
	h.register(conn)
	defer h.unregister(conn)

	ctx := r.Context()
	go conn.writeLoop(ctx)

	h.sendActivated(conn)
	h.readLoop(ctx, conn)
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) register(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
	}
}

func (h *Hub) sendActivated(conn *hubConn) {
	depth := 0
	if h.engine != nil {
		depth = h.engine.Depth()
	}
	h.sendTo(conn, Message{
		Type:       MsgWorkerActivated,
		Version:    h.version,
		QueueDepth: depth,
	})
}

func (h *Hub) readLoop(ctx context.Context, conn *hubConn) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			h.logger.Warn("dropping undecodable page message", "error", err)
			continue
		}
		h.dispatch(conn, msg)
	}
}

func (h *Hub) dispatch(conn *hubConn, msg Message) {
	switch msg.Type {
	case MsgEnqueueOperation:
		if h.engine == nil || msg.Payload == nil {
			return
		}
		if _, err := h.engine.Enqueue(msg.Kind, *msg.Payload); err != nil {
			h.logger.Warn("enqueue rejected", "kind", msg.Kind, "error", err)
		}
	case MsgQueueSnapshotRequest:
		if h.engine == nil {
			return
		}
		snap := h.engine.Peek()
		h.sendTo(conn, Message{
			Type:      MsgQueueSnapshot,
			RequestID: msg.RequestID,
			Queue:     snap.Operations,
			Draining:  snap.Draining,
		})
	case MsgForceDrain:
		if h.engine != nil {
			h.engine.ForceDrain()
		}
	case MsgQueueSnapshot, MsgOperationSucceeded, MsgOperationExhausted, MsgWorkerActivated:
		// Worker-to-page types have no business arriving here.
		h.logger.Warn("ignoring worker-bound message from page", "type", msg.Type)
	default:
		h.logger.Warn("ignoring unknown message type", "type", msg.Type)
	}
}

// OperationSucceeded broadcasts a success report to every open page.
func (h *Hub) OperationSucceeded(op syncqueue.QueuedOperation, result json.RawMessage) {
	h.broadcast(Message{
		Type:      MsgOperationSucceeded,
		Operation: &op,
		Result:    result,
	})
}

// OperationExhausted broadcasts a terminal-failure report to every open page.
func (h *Hub) OperationExhausted(op syncqueue.QueuedOperation, lastErr error) {
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	h.broadcast(Message{
		Type:      MsgOperationExhausted,
		Operation: &op,
		Error:     errMsg,
	})
}

func (h *Hub) broadcast(msg Message) {
	data, err := Encode(msg)
	if err != nil {
		h.logger.Warn("broadcast encode failed", "type", msg.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		select {
		case conn.send <- data:
		default:
			h.logger.Warn("page connection lagging, message dropped", "type", msg.Type)
		}
	}
}

func (h *Hub) sendTo(conn *hubConn, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		h.logger.Warn("send encode failed", "type", msg.Type, "error", err)
		return
	}
	select {
	case conn.send <- data:
	default:
		h.logger.Warn("page connection lagging, message dropped", "type", msg.Type)
	}
}

func (c *hubConn) writeLoop(ctx context.Context) {
	for data := range c.send {
		if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
			return
		}
	}
}
