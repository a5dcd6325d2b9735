// Package api is the client for the remote reading-progress REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	defaultRPS     = 2.0
	defaultBurst   = 4

	setProgressPath  = "/books/set-progress"
	addTimeSpentPath = "/books/add-time-spent"

	maxErrorBody = 512
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Response is the body shared by the progress endpoints.
type Response struct {
	Message  string          `json:"message"`
	UserBook json.RawMessage `json:"userBook,omitempty"`
}

type setProgressRequest struct {
	BookID   string  `json:"bookId"`
	Progress float64 `json:"progress"`
}

type addTimeSpentRequest struct {
	BookID    string `json:"bookId"`
	TimeSpent int    `json:"timeSpent"`
}

// Client is a rate-limited client for the progress API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a client. Zero config values take defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		logger:  logger,
	}
}

// SetProgress reports the reading fraction of a book, clamped to [0,1].
func (c *Client) SetProgress(ctx context.Context, bookID string, fraction float64) (*Response, error) {
	fraction = min(max(fraction, 0), 1)
	resp, err := c.post(ctx, setProgressPath, setProgressRequest{BookID: bookID, Progress: fraction})
	if err != nil {
		return nil, &Error{Op: "set-progress", BookID: bookID, Err: err}
	}
	return resp, nil
}

// AddTimeSpent reports seconds of reading time.
func (c *Client) AddTimeSpent(ctx context.Context, bookID string, seconds int) (*Response, error) {
	resp, err := c.post(ctx, addTimeSpentPath, addTimeSpentRequest{BookID: bookID, TimeSpent: seconds})
	if err != nil {
		return nil, &Error{Op: "add-time-spent", BookID: bookID, Err: err}
	}
	return resp, nil
}

// post executes a JSON POST with rate limiting.
func (c *Client) post(ctx context.Context, path string, payload any) (*Response, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("api request", "path", path, "request_id", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, ErrServer
	default:
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out Response
	if len(bytes.TrimSpace(data)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}
