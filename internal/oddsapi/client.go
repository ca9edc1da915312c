package oddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultMaxRetries     = 4
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// APIError is a terminal non-2xx vendor response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable reports whether the failure is transient. Rate limiting and
// server-side errors are retried; any other 4xx is fatal for the request.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the vendor events API.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	logger         *slog.Logger
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry overrides the retry policy.
func WithRetry(maxRetries uint64, initial, max time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// NewClient creates a vendor API client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		logger:         slog.Default(),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetEventsRequest filters a vendor events fetch. EventIDs, LeagueID and Live
// combine as the vendor's query parameters; Bookmakers narrows the odds
// payload to the given books.
type GetEventsRequest struct {
	EventIDs     []string
	LeagueID     string
	Live         bool
	StartsAfter  time.Time
	StartsBefore time.Time
	Bookmakers   []string
	Limit        int
}

type eventsEnvelope struct {
	Success bool    `json:"success"`
	Data    []Event `json:"data"`
	Message string  `json:"message,omitempty"`
}

// GetEvents fetches a batch of events. Retryable failures (HTTP 429, 5xx,
// network errors) are retried with exponential backoff and jitter up to the
// configured attempt cap; other 4xx surface immediately as *APIError.
func (c *Client) GetEvents(ctx context.Context, req GetEventsRequest) ([]Event, error) {
	query := url.Values{}
	if len(req.EventIDs) > 0 {
		query.Set("eventIDs", strings.Join(req.EventIDs, ","))
	}
	if req.LeagueID != "" {
		query.Set("leagueID", req.LeagueID)
	}
	if req.Live {
		query.Set("live", "true")
	}
	if !req.StartsAfter.IsZero() {
		query.Set("startsAfter", req.StartsAfter.UTC().Format(time.RFC3339))
	}
	if !req.StartsBefore.IsZero() {
		query.Set("startsBefore", req.StartsBefore.UTC().Format(time.RFC3339))
	}
	if len(req.Bookmakers) > 0 {
		query.Set("bookmakerID", strings.Join(req.Bookmakers, ","))
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}

	body, err := c.getWithRetry(ctx, "/v2/events", query)
	if err != nil {
		return nil, err
	}

	var envelope eventsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal events response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("vendor rejected events request: %s", envelope.Message)
	}
	return envelope.Data, nil
}

// GetEvent fetches a single event by ID. Returns nil when the vendor does not
// know the event.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	events, err := c.GetEvents(ctx, GetEventsRequest{EventIDs: []string{eventID}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// getWithRetry performs a GET with the client's backoff policy.
func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var body []byte

	operation := func() error {
		var err error
		body, err = c.doGet(ctx, path, query)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     c.initialBackoff,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         c.maxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, c.maxRetries), ctx)

	notify := func(err error, next time.Duration) {
		c.logger.Warn("vendor request failed, retrying",
			"path", path,
			"backoff", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
