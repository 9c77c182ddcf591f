// Package remote maps queued operations onto the hosted store's REST write
// surface. Each operation becomes exactly one HTTP request; retry policy
// belongs to the queue engine, never to this client.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/worldconnect/commentsync/internal/syncqueue"
)

const (
	reactionsResource = "article_reactions"
	commentsResource  = "sessions_commentaires"
	articlesResource  = "articles"

	reactionIDColumn = "reaction_id"
	commentIDColumn  = "commentaire_id"
	articleIDColumn  = "article_id"

	// Column name for comment bodies in the hosted schema.
	commentBodyColumn = "commentaire"
)

// WriteError is a rejected remote write. Any non-2xx status produces one;
// the engine treats it like any other failure.
type WriteError struct {
	Status  int
	Message string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote write failed: status=%d message=%s", e.Status, e.Message)
}

type Options struct {
	// BaseURL is the hosted store root, e.g. https://project.supabase.co.
	BaseURL string
	// APIKey is sent as the apikey header on every request.
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, syncqueue.ErrInvalidInput
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = syncqueue.DefaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}, nil
}

// Execute performs the single write an operation stands for. The returned
// body is the created/updated row representation (inserts and patches ask
// for it via Prefer), or nil for deletes.
func (c *Client) Execute(ctx context.Context, op syncqueue.QueuedOperation) (json.RawMessage, error) {
	p := op.Payload
	switch op.Kind {
	case syncqueue.KindAddReaction:
		return c.doWrite(ctx, http.MethodPost, reactionsResource, "", p.AuthToken, map[string]any{
			"article_id":    p.ArticleID,
			"user_id":       p.UserID,
			"reaction_type": p.ReactionType,
		})
	case syncqueue.KindRemoveReaction:
		return c.doWrite(ctx, http.MethodDelete, reactionsResource, eqFilter(reactionIDColumn, p.ReactionID), p.AuthToken, nil)
	case syncqueue.KindAddComment:
		return c.doWrite(ctx, http.MethodPost, commentsResource, "", p.AuthToken, map[string]any{
			"article_id":      p.ArticleID,
			"user_id":         p.UserID,
			commentBodyColumn: p.Content,
		})
	case syncqueue.KindDeleteComment:
		return c.doWrite(ctx, http.MethodDelete, commentsResource, eqFilter(commentIDColumn, p.CommentID), p.AuthToken, nil)
	case syncqueue.KindUpdateArticle:
		return c.doWrite(ctx, http.MethodPatch, articlesResource, eqFilter(articleIDColumn, p.ArticleID), p.AuthToken, p.Updates)
	default:
		return nil, syncqueue.ErrUnknownKind
	}
}

func (c *Client) doWrite(ctx context.Context, method, resource, filter, token string, body any) (json.RawMessage, error) {
	endpoint := c.baseURL + "/rest/v1/" + resource
	if filter != "" {
		endpoint += "?" + filter
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, DNS failures, and the backend being unreachable all look
		// the same to the engine: one failed attempt.
		return nil, fmt.Errorf("remote write request: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("remote write read response: %w", readErr)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if len(respBody) == 0 {
			return nil, nil
		}
		return json.RawMessage(respBody), nil
	}

	message := strings.TrimSpace(string(respBody))
	var parsed map[string]any
	if json.Unmarshal(respBody, &parsed) == nil {
		if m, ok := parsed["message"].(string); ok && strings.TrimSpace(m) != "" {
			message = m
		}
	}
	return nil, &WriteError{Status: resp.StatusCode, Message: message}
}

func eqFilter(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}
