// Package client provides a typed HTTP client for the fixhow gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/fixhow/fixhow/internal/server"
	"github.com/fixhow/fixhow/internal/service"
)

// Client talks to a running fixhow gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a gateway client. If endpoint is empty, uses the
// FIXHOW_SERVER_URL env var or defaults to localhost:8080. Timeout can
// be configured via FIXHOW_CLIENT_TIMEOUT (default 10m, ingestion can
// be slow).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("FIXHOW_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("FIXHOW_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health fetches service readiness.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var out server.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initialize builds the knowledge base for a device on the server.
func (c *Client) Initialize(ctx context.Context, device string, maxGuides int) (*service.IngestResult, error) {
	var out service.IngestResult
	req := server.InitializeRequest{DeviceName: device, MaxGuides: maxGuides}
	if err := c.do(ctx, http.MethodPost, "/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query asks a one-shot or session-bound question.
func (c *Client) Query(ctx context.Context, question, sessionID string, topK int) (*server.AnswerResponse, error) {
	var out server.AnswerResponse
	req := server.QueryRequest{Question: question, SessionID: sessionID, TopK: topK}
	if err := c.do(ctx, http.MethodPost, "/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends a conversational message; an empty sessionID starts a new
// session, returned in the response.
func (c *Client) Chat(ctx context.Context, message, sessionID string) (*server.AnswerResponse, error) {
	var out server.AnswerResponse
	req := server.ChatRequest{Message: message, SessionID: sessionID}
	if err := c.do(ctx, http.MethodPost, "/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches a session's turns.
func (c *Client) History(ctx context.Context, sessionID string, maxTurns int) (*server.HistoryResponse, error) {
	path := "/sessions/" + url.PathEscape(sessionID) + "/history"
	if maxTurns > 0 {
		path += fmt.Sprintf("?max_turns=%d", maxTurns)
	}
	var out server.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Stats fetches the metrics snapshot as raw JSON for display.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reset clears a session when sessionID is set, otherwise the whole
// knowledge base.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/reset", server.ResetRequest{SessionID: sessionID}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr server.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, raw)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
