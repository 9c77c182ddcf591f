package channel

import (
	"testing"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

func TestMessageRoundTripKeepsPayload(t *testing.T) {
	payload := syncqueue.OperationPayload{
		ArticleID:     "article_1",
		UserID:        "user_1",
		Content:       "encoded",
		CorrelationID: "corr_1",
		AuthToken:     "token_1",
	}
	data, err := Encode(Message{
		Type:    MsgEnqueueOperation,
		Kind:    syncqueue.KindAddComment,
		Payload: &payload,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MsgEnqueueOperation || msg.Kind != syncqueue.KindAddComment {
		t.Fatalf("envelope mismatch: %+v", msg)
	}
	if msg.Payload == nil || msg.Payload.Content != "encoded" || msg.Payload.CorrelationID != "corr_1" {
		t.Fatalf("payload mismatch: %+v", msg.Payload)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	data, err := Encode(Message{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not msgpack at all")); err == nil {
		t.Fatalf("expected decode error")
	}
}
