// Package closeapi provides the Close CRM HTTP client used by all close-ops
// commands: JSON request helpers with rate limiting and retry-on-429,
// pagination over list and search endpoints, bounded concurrent batch
// mutation, and org schema resolution.
package closeapi

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

	"github.com/bariendo/close-ops/pkg/cache"
	"github.com/bariendo/close-ops/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Close REST API root.
const DefaultBaseURL = "https://api.close.com/api/v1"

// Prometheus metrics for Close API operations.
var (
	closeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeops_requests_total",
		Help: "Total Close API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	closeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "closeops_request_duration_seconds",
		Help:    "Close API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	closeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeops_errors_total",
		Help: "Total Close API errors by class",
	}, []string{"class"})
)

// Client is the Close API client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	schema      *cache.Manager
	config      Config
	baseURL     string
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is the Close API key (used as the basic-auth username).
	APIKey string

	// BaseURL overrides the API root, mainly for tests.
	BaseURL string

	// UserAgent identifies the tool in request logs.
	UserAgent string

	// Redis is optional. When set, rate limit state and schema lookups are
	// shared across concurrent script runs.
	Redis *redis.Client

	// MaxConcurrency bounds parallel requests in batch operations.
	MaxConcurrency int

	// SchemaCacheTTL is the lifetime of cached schema lookups.
	SchemaCacheTTL time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		BaseURL:        DefaultBaseURL,
		UserAgent:      "close-ops/1.0",
		MaxConcurrency: 10,
		SchemaCacheTTL: cache.DefaultTTL,
		Timeout:        30 * time.Second,
	}
}

// New creates a new Close API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "close-ops/1.0"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "close-api").Logger()

	var schemaCache *cache.Manager
	if cfg.Redis != nil {
		schemaCache = cache.NewManager(cfg.Redis, cfg.SchemaCacheTTL)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		schema:      schemaCache,
		config:      cfg,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		logger:      logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// MaxConcurrency returns the configured batch concurrency bound.
func (c *Client) MaxConcurrency() int {
	return c.config.MaxConcurrency
}

// endpointURL joins the API root with an endpoint like "lead" or
// "opportunity/oppo_123". Close expects a trailing slash.
func (c *Client) endpointURL(endpoint string, params url.Values) string {
	u := c.baseURL + "/" + strings.Trim(endpoint, "/") + "/"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// endpointLabel reduces an endpoint to its first path segment so metric
// cardinality stays bounded (object ids never become label values).
func endpointLabel(endpoint string) string {
	endpoint = strings.Trim(endpoint, "/")
	if i := strings.IndexByte(endpoint, '/'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// do performs an HTTP request with rate limit gating and retry logic. A
// fresh request is built per attempt so bodies can be resent safely.
// Non-retriable 4xx responses are returned to the caller undecoded.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body []byte) (*http.Response, error) {
	label := endpointLabel(endpoint)

	startTime := time.Now()
	defer func() {
		closeRequestDuration.WithLabelValues(label).Observe(time.Since(startTime).Seconds())
	}()

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, func() error {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Rate limit check failed")
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Msg("Request blocked by rate limiter")
			closeRequestsTotal.WithLabelValues(label, "rate_limited").Inc()
			return &APIError{
				StatusCode: http.StatusTooManyRequests,
				ErrorClass: ErrorClassRateLimit,
				Endpoint:   endpoint,
				Errors:     []string{"local rate limit budget critical"},
			}
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(endpoint, params), reqBody)
		if err != nil {
			return &APIError{ErrorClass: ErrorClassClient, Endpoint: endpoint, Err: err}
		}
		req.SetBasicAuth(c.config.APIKey, "")
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			closeErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			closeRequestsTotal.WithLabelValues(label, "network_error").Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Endpoint: endpoint, Err: err}
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		closeRequestsTotal.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 400 {
			return nil
		}

		errClass := classifyStatus(resp.StatusCode)
		closeErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Close API request error")

		if shouldRetry(errClass) {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Endpoint:   endpoint,
				RetryAfter: parseRetryAfter(resp.Header),
			}
			resp.Body.Close()
			return apiErr
		}

		// Non-retriable 4xx: hand the response back for error decoding.
		return nil
	}, func(err error) ErrorClass {
		return classifyError(err)
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyError maps an error produced inside the retry closure to its class.
func classifyError(err error) ErrorClass {
	if apiErr, ok := err.(*APIError); ok && apiErr.ErrorClass != "" {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

// parseRetryAfter extracts the server's wait hint from a 429 response.
// Retry-After is preferred; the ratelimit header's reset value is the
// fallback.
func parseRetryAfter(headers http.Header) time.Duration {
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if state, ok, err := ratelimit.ParseHeader(headers); err == nil && ok {
		return state.TimeUntilReset()
	}
	return 0
}

// decodeAPIError turns a non-2xx response into an *APIError, decoding the
// Close validation payload when present.
func (c *Client) decodeAPIError(resp *http.Response, endpoint string) error {
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Endpoint:   endpoint,
	}

	var payload struct {
		Error       string            `json:"error"`
		Errors      []string          `json:"errors"`
		FieldErrors map[string]string `json:"field-errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		apiErr.Errors = payload.Errors
		apiErr.FieldErrors = payload.FieldErrors
		if payload.Error != "" {
			apiErr.Errors = append(apiErr.Errors, payload.Error)
		}
	}

	return apiErr
}

// Get performs a GET request and decodes the JSON response into dest.
// dest may be nil to discard the body.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return c.decodeAPIError(resp, endpoint)
	}
	return decodeBody(resp, dest)
}

// Post performs a POST request with a JSON payload.
func (c *Client) Post(ctx context.Context, endpoint string, payload any, dest any) error {
	return c.send(ctx, http.MethodPost, endpoint, payload, dest)
}

// Put performs a PUT request with a JSON payload.
func (c *Client) Put(ctx context.Context, endpoint string, payload any, dest any) error {
	return c.send(ctx, http.MethodPut, endpoint, payload, dest)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string) error {
	resp, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return c.decodeAPIError(resp, endpoint)
	}
	return decodeBody(resp, nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, dest any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", endpoint, err)
		}
	}

	resp, err := c.do(ctx, method, endpoint, nil, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return c.decodeAPIError(resp, endpoint)
	}
	return decodeBody(resp, dest)
}

func decodeBody(resp *http.Response, dest any) error {
	defer resp.Body.Close()
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
