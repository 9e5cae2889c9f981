// Package ifixit fetches repair guides from the iFixit public API.
package ifixit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the iFixit public API.
const DefaultBaseURL = "https://www.ifixit.com/api/2.0"

// Client calls the iFixit API. Requests are rate limited to stay well
// inside the API's fair-use policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates an iFixit API client. The API key is optional; the
// public endpoints work anonymously at a lower rate limit.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchResult is one hit from the search endpoint.
type SearchResult struct {
	GuideID int    `json:"guideid"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Type    string `json:"dataType"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Guide is the subset of a guide document the chatbot consumes.
type Guide struct {
	GuideID      int     `json:"guideid"`
	Title        string  `json:"title"`
	Device       string  `json:"device"`
	Type         string  `json:"type"`
	Difficulty   string  `json:"difficulty"`
	Introduction string  `json:"introduction_rendered"`
	URL          string  `json:"url"`
	Tools        []Tool  `json:"tools"`
	Steps        []Step  `json:"steps"`
}

// Tool is a required tool reference within a guide.
type Tool struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

// Step is one repair step with its instruction lines.
type Step struct {
	Title string `json:"title"`
	Lines []Line `json:"lines"`
}

// Line is a single instruction line.
type Line struct {
	Text string `json:"text_rendered"`
}

// Search queries the iFixit search endpoint for a device or topic.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var resp searchResponse
	if err := c.get(ctx, "/search/"+url.PathEscape(query), &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return resp.Results, nil
}

// GetGuide fetches the full guide document by id.
func (c *Client) GetGuide(ctx context.Context, guideID int) (*Guide, error) {
	var guide Guide
	if err := c.get(ctx, fmt.Sprintf("/guides/%d", guideID), &guide); err != nil {
		return nil, fmt.Errorf("get guide %d: %w", guideID, err)
	}
	return &guide, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
