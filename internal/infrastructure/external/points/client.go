// Package points implements the client for the scoring service that owns
// challenge point totals. It is an alternative to reading the
// challenge_points table directly when the scoring service runs elsewhere.
package points

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

	"golang.org/x/time/rate"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the scoring service client.
type ClientConfig struct {
	// BaseURL is the scoring service base URL.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RequestsPerSecond and Burst bound outgoing traffic.
	RequestsPerSecond float64
	Burst             int

	// MaxAttempts bounds retries of 429 and 5xx responses.
	MaxAttempts int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultClientConfig returns default configuration for baseURL.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxAttempts:       3,
	}
}

// Client reads point totals over HTTP. It implements standings.PointsSource.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewClient creates a scoring service client.
func NewClient(config ClientConfig) *Client {
	defaults := DefaultClientConfig(config.BaseURL)
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	log := config.Logger.With("component", "points_client")
	return &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(200*time.Millisecond),
			retry.WithMaxDelay(2*time.Second),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("scoring service request failed, retrying",
					"attempt", attempt, "delay", delay.String(), "error", err)
			}),
		),
		logger: log,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// API
// ══════════════════════════════════════════════════════════════════════════════

// PointsDTO is one participant's total as reported by the scoring service.
type PointsDTO struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// PointsResponseDTO is the body of GET /challenges/{id}/points.
type PointsResponseDTO struct {
	ChallengeID int64       `json:"challenge_id"`
	Points      []PointsDTO `json:"points"`
}

// TotalPoints returns points per participant name. A challenge the scoring
// service does not know has no points yet. Any other failure is reported as
// shared.ErrServiceUnavailable.
func (c *Client) TotalPoints(ctx context.Context, challengeID int64) (map[string]float64, error) {
	path := "/challenges/" + url.PathEscape(strconv.FormatInt(challengeID, 10)) + "/points"

	var resp PointsResponseDTO
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.get(ctx, path, &resp)
	})
	if errors.Is(err, errNotFound) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, shared.WrapError("points", "TotalPoints", shared.ErrServiceUnavailable,
			fmt.Sprintf("challenge %d", challengeID), err)
	}

	out := make(map[string]float64, len(resp.Points))
	for _, p := range resp.Points {
		out[p.Name] += p.Points
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var errNotFound = errors.New("not found")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scoring service: status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(errNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable(&StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	case resp.StatusCode >= 400:
		return retry.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	if err := json.Unmarshal(body, result); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}
