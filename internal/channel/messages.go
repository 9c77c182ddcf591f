// Package channel is the message-passing boundary between the sync worker
// and its pages. The two sides never share memory; everything crosses as a
// tagged, msgpack-encoded Message over a websocket.
package channel

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

// Subprotocol negotiated on the websocket handshake.
const Subprotocol = "commentsync.v1"

type MessageType string

// The full, closed message set. Anything else on the wire is rejected.
const (
	// page -> worker
	MsgEnqueueOperation     MessageType = "enqueue_operation"
	MsgQueueSnapshotRequest MessageType = "queue_snapshot_request"
	MsgForceDrain           MessageType = "force_drain"

	// worker -> page
	MsgQueueSnapshot      MessageType = "queue_snapshot"
	MsgOperationSucceeded MessageType = "operation_succeeded"
	MsgOperationExhausted MessageType = "operation_exhausted"
	MsgWorkerActivated    MessageType = "worker_activated"
)

// Message is the wire envelope. Only the fields relevant to Type are set.
type Message struct {
	Type MessageType `msgpack:"type"`

	// enqueue_operation
	Kind    syncqueue.OperationKind     `msgpack:"kind,omitempty"`
	Payload *syncqueue.OperationPayload `msgpack:"payload,omitempty"`

	// queue_snapshot_request / queue_snapshot correlation
	RequestID string `msgpack:"requestId,omitempty"`

	// queue_snapshot
	Queue    []syncqueue.QueuedOperation `msgpack:"queue,omitempty"`
	Draining bool                        `msgpack:"draining,omitempty"`

	// operation_succeeded / operation_exhausted
	Operation *syncqueue.QueuedOperation `msgpack:"operation,omitempty"`
	Result    []byte                     `msgpack:"result,omitempty"`
	Error     string                     `msgpack:"error,omitempty"`

	// worker_activated
	Version    string `msgpack:"version,omitempty"`
	QueueDepth int    `msgpack:"queueDepth,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode channel message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("channel message missing type")
	}
	return msg, nil
}
