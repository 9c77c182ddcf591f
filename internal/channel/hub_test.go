package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

type fakeRemote struct {
	mu       sync.Mutex
	failures int
	executed chan syncqueue.QueuedOperation
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{executed: make(chan syncqueue.QueuedOperation, 16)}
}

func (f *fakeRemote) Execute(ctx context.Context, op syncqueue.QueuedOperation) (json.RawMessage, error) {
	f.mu.Lock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		f.mu.Unlock()
		return nil, fmt.Errorf("remote unavailable")
	}
	f.mu.Unlock()
	f.executed <- op
	return json.RawMessage(`[{"commentaire_id":"c_1"}]`), nil
}

type hubFixture struct {
	engine *syncqueue.Engine
	hub    *Hub
	url    string
}

func newHubFixture(t *testing.T, remote *fakeRemote, opts syncqueue.Options) *hubFixture {
	t.Helper()
	hub := NewHub(HubOptions{Version: "test"})
	opts.Remote = remote
	opts.Reporter = hub
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	engine, err := syncqueue.NewEngine(opts)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(engine.Close)
	hub.AttachEngine(engine)

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return &hubFixture{
		engine: engine,
		hub:    hub,
		url:    strings.Replace(server.URL, "http", "ws", 1) + "/sync",
	}
}

func commentPayload(content string) syncqueue.OperationPayload {
	return syncqueue.OperationPayload{
		ArticleID:     "article_1",
		UserID:        "user_1",
		Content:       content,
		CorrelationID: "corr_1",
		AuthToken:     "token_1",
	}
}

func TestEnqueueOverChannelReportsSuccess(t *testing.T) {
	remote := newFakeRemote()
	fixture := newHubFixture(t, remote, syncqueue.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	succeeded := make(chan syncqueue.QueuedOperation, 1)
	activated := make(chan string, 1)
	client, err := Dial(ctx, fixture.url, Handlers{
		OnSucceeded: func(op syncqueue.QueuedOperation, result []byte) { succeeded <- op },
		OnActivated: func(version string, depth int) { activated <- version },
	}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	select {
	case version := <-activated:
		if version != "test" {
			t.Fatalf("unexpected version: %s", version)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no activation message")
	}

	if err := client.EnqueueOperation(ctx, syncqueue.KindAddComment, commentPayload("over the wire")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case op := <-remote.executed:
		if op.Payload.Content != "over the wire" {
			t.Fatalf("unexpected payload: %+v", op.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("operation never reached the remote")
	}
	select {
	case op := <-succeeded:
		if op.Kind != syncqueue.KindAddComment || op.Payload.CorrelationID != "corr_1" {
			t.Fatalf("unexpected success report: %+v", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no success report")
	}
}

func TestEnqueueValidatesBeforeSending(t *testing.T) {
	remote := newFakeRemote()
	fixture := newHubFixture(t, remote, syncqueue.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, fixture.url, Handlers{}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	err = client.EnqueueOperation(ctx, syncqueue.KindAddComment, syncqueue.OperationPayload{ArticleID: "article_1"})
	if !errors.Is(err, syncqueue.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if fixture.engine.Depth() != 0 {
		t.Fatalf("invalid payload reached the queue")
	}
}

func TestQueueSnapshotRequestReply(t *testing.T) {
	remote := newFakeRemote()
	fixture := newHubFixture(t, remote, syncqueue.Options{DisableDrain: true})

	queued, err := fixture.engine.Enqueue(syncqueue.KindAddComment, commentPayload("parked"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, fixture.url, Handlers{}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	snap, err := client.QueueSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Operations) != 1 || snap.Operations[0].ID != queued.ID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Draining {
		t.Fatalf("idle queue reported as draining")
	}
}

func TestQueueSnapshotTimesOutAsUnknown(t *testing.T) {
	// A worker that accepts the socket but never answers.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, strings.Replace(server.URL, "http", "ws", 1), Handlers{}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	snapCtx, snapCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer snapCancel()
	_, err = client.QueueSnapshot(snapCtx)
	if !errors.Is(err, ErrSnapshotUnavailable) {
		t.Fatalf("expected ErrSnapshotUnavailable, got %v", err)
	}
}

func TestReportsBroadcastToAllPages(t *testing.T) {
	remote := newFakeRemote()
	fixture := newHubFixture(t, remote, syncqueue.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var clients []*Client
	reports := make(chan string, 4)
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("page_%d", i)
		client, err := Dial(ctx, fixture.url, Handlers{
			OnSucceeded: func(op syncqueue.QueuedOperation, result []byte) { reports <- name },
		}, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", name, err)
		}
		defer client.Close()
		clients = append(clients, client)
	}

	if err := clients[0].EnqueueOperation(ctx, syncqueue.KindAddComment, commentPayload("seen by both")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-reports:
			got[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 pages saw the report", len(got))
		}
	}
	if !got["page_0"] || !got["page_1"] {
		t.Fatalf("missing page in broadcast: %v", got)
	}
}

func TestExhaustedReportBroadcast(t *testing.T) {
	remote := newFakeRemote()
	remote.failures = -1
	fixture := newHubFixture(t, remote, syncqueue.Options{MaxAttempts: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exhausted := make(chan syncqueue.QueuedOperation, 1)
	client, err := Dial(ctx, fixture.url, Handlers{
		OnExhausted: func(op syncqueue.QueuedOperation, errMsg string) {
			if errMsg == "" {
				t.Errorf("exhausted report missing error")
			}
			exhausted <- op
		},
	}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.EnqueueOperation(ctx, syncqueue.KindAddComment, commentPayload("doomed")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case op := <-exhausted:
		if op.Attempts != 2 {
			t.Fatalf("expected 2 attempts, got %d", op.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no exhausted report")
	}
}
