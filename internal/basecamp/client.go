// Package basecamp is the upstream resource wrapper: a thin typed client for
// the Basecamp 3 API. It performs no credential management — the dispatcher
// hands it an access token that is already validated.
package basecamp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Basecamp 3 API root; the account id is appended.
const DefaultBaseURL = "https://3.basecampapi.com"

const requestTimeout = 15 * time.Second

// APIError is a non-2xx answer from the Basecamp API, carrying what the
// dispatcher needs to classify the failure.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the header was absent
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("basecamp api: %d %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client issues requests against one account with one access token. It is
// cheap to construct per dispatch.
type Client struct {
	baseURL     string
	accountID   string
	userAgent   string
	accessToken string
	httpClient  *http.Client
}

// Option adjusts a Client at construction.
type Option func(*Client)

// WithBaseURL points the client at a non-production API root (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient substitutes the transport (tests, custom timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(accountID, userAgent, accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		accountID:   accountID,
		userAgent:   userAgent,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, c.accountID, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(data),
		}
	}
	if len(data) == 0 {
		data = []byte(`{}`)
	}
	return json.RawMessage(data), nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// dockEntry is one tool slot on a project's dock.
type dockEntry struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	Enabled bool        `json:"enabled"`
}

// dockID finds the project dock entry with the given name (todoset,
// kanban_board, chat, ...). Basecamp 3 has one of each per project.
func (c *Client) dockID(ctx context.Context, projectID, name string) (string, error) {
	raw, err := c.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	var project struct {
		Dock []dockEntry `json:"dock"`
	}
	if err := json.Unmarshal(raw, &project); err != nil {
		return "", fmt.Errorf("decoding project dock: %w", err)
	}
	for _, d := range project.Dock {
		if d.Name == name {
			return d.ID.String(), nil
		}
	}
	return "", fmt.Errorf("project %s has no %s", projectID, name)
}
