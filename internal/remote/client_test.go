package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

type capturedRequest struct {
	method  string
	path    string
	query   string
	headers http.Header
	body    string
}

func newCaptureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		captured.headers = r.Header.Clone()
		captured.body = string(body)
		w.WriteHeader(status)
		if response != "" {
			w.Write([]byte(response))
		}
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Options{BaseURL: baseURL, APIKey: "anon_key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestExecuteAddReaction(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusCreated, `[{"reaction_id":"r_1"}]`)
	client := newTestClient(t, server.URL)

	result, err := client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindAddReaction,
		Payload: syncqueue.OperationPayload{
			ArticleID:    "article_1",
			UserID:       "user_1",
			ReactionType: "like",
			AuthToken:    "user_token",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if captured.method != http.MethodPost || captured.path != "/rest/v1/article_reactions" {
		t.Fatalf("unexpected request: %s %s", captured.method, captured.path)
	}
	if captured.headers.Get("apikey") != "anon_key" {
		t.Fatalf("missing apikey header")
	}
	if captured.headers.Get("Authorization") != "Bearer user_token" {
		t.Fatalf("unexpected authorization: %s", captured.headers.Get("Authorization"))
	}
	if captured.headers.Get("Prefer") != "return=representation" {
		t.Fatalf("missing Prefer header")
	}
	if captured.headers.Get("Content-Type") != "application/json" {
		t.Fatalf("missing content type")
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(captured.body), &sent); err != nil {
		t.Fatalf("body did not parse: %v", err)
	}
	if sent["article_id"] != "article_1" || sent["user_id"] != "user_1" || sent["reaction_type"] != "like" {
		t.Fatalf("unexpected body: %s", captured.body)
	}
	if string(result) != `[{"reaction_id":"r_1"}]` {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestExecuteRemoveReaction(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusNoContent, "")
	client := newTestClient(t, server.URL)

	result, err := client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindRemoveReaction,
		Payload: syncqueue.OperationPayload{
			ReactionID: "r 1",
			AuthToken:  "user_token",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for delete, got %s", result)
	}
	if captured.method != http.MethodDelete || captured.path != "/rest/v1/article_reactions" {
		t.Fatalf("unexpected request: %s %s", captured.method, captured.path)
	}
	if captured.query != "reaction_id=eq.r+1" {
		t.Fatalf("unexpected filter: %s", captured.query)
	}
	if captured.headers.Get("Prefer") != "" {
		t.Fatalf("deletes must not ask for representation")
	}
}

func TestExecuteAddComment(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusCreated, `[{"commentaire_id":"c_1"}]`)
	client := newTestClient(t, server.URL)

	_, err := client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindAddComment,
		Payload: syncqueue.OperationPayload{
			ArticleID: "article_1",
			UserID:    "user_1",
			Content:   "bonjour",
			AuthToken: "user_token",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if captured.path != "/rest/v1/sessions_commentaires" {
		t.Fatalf("unexpected path: %s", captured.path)
	}
	var sent map[string]string
	if err := json.Unmarshal([]byte(captured.body), &sent); err != nil {
		t.Fatalf("body did not parse: %v", err)
	}
	if sent["commentaire"] != "bonjour" {
		t.Fatalf("comment body column missing: %s", captured.body)
	}
}

func TestExecuteDeleteComment(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusNoContent, "")
	client := newTestClient(t, server.URL)

	_, err := client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindDeleteComment,
		Payload: syncqueue.OperationPayload{
			CommentID: "c_1",
			AuthToken: "user_token",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if captured.method != http.MethodDelete || captured.path != "/rest/v1/sessions_commentaires" {
		t.Fatalf("unexpected request: %s %s", captured.method, captured.path)
	}
	if captured.query != "commentaire_id=eq.c_1" {
		t.Fatalf("unexpected filter: %s", captured.query)
	}
}

func TestExecuteUpdateArticle(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK, `[{"article_id":"article_1"}]`)
	client := newTestClient(t, server.URL)

	_, err := client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindUpdateArticle,
		Payload: syncqueue.OperationPayload{
			ArticleID: "article_1",
			Updates:   map[string]any{"statut": "archive"},
			AuthToken: "user_token",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if captured.method != http.MethodPatch || captured.path != "/rest/v1/articles" {
		t.Fatalf("unexpected request: %s %s", captured.method, captured.path)
	}
	if captured.query != "article_id=eq.article_1" {
		t.Fatalf("unexpected filter: %s", captured.query)
	}
	if captured.headers.Get("Prefer") != "return=representation" {
		t.Fatalf("missing Prefer header on patch")
	}
}

func TestExecuteRejectionCarriesStatusAndMessage(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusUnauthorized, `{"message":"JWT expired"}`)
	client := newTestClient(t, server.URL)

	_, err := client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindAddComment,
		Payload: syncqueue.OperationPayload{
			ArticleID: "article_1",
			UserID:    "user_1",
			Content:   "rejected",
			AuthToken: "stale_token",
		},
	})
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected *WriteError, got %v", err)
	}
	if writeErr.Status != http.StatusUnauthorized || writeErr.Message != "JWT expired" {
		t.Fatalf("unexpected write error: %+v", writeErr)
	}
}

func TestExecuteTimeoutIsAFailedAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Options{BaseURL: server.URL, APIKey: "anon_key", Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Execute(context.Background(), syncqueue.QueuedOperation{
		Kind: syncqueue.KindDeleteComment,
		Payload: syncqueue.OperationPayload{
			CommentID: "c_1",
			AuthToken: "user_token",
		},
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var writeErr *WriteError
	if errors.As(err, &writeErr) {
		t.Fatalf("timeout must not look like a remote rejection: %v", err)
	}
}

func TestExecuteUnknownKind(t *testing.T) {
	client := newTestClient(t, "https://example.test")
	_, err := client.Execute(context.Background(), syncqueue.QueuedOperation{Kind: syncqueue.OperationKind("set_mood")})
	if !errors.Is(err, syncqueue.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
