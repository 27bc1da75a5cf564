package closeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestServer starts a test server that is torn down with the test and
// returns its URL.
func newTestServer(t *testing.T, handler http.Handler) string {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

// newTestClient creates a client pointed at a test server with no Redis.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	client, err := New(Config{
		APIKey:  "test-key",
		BaseURL: newTestServer(t, handler),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() with empty API key should fail")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	client, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, DefaultBaseURL)
	}
	if client.MaxConcurrency() != 10 {
		t.Errorf("MaxConcurrency() = %d, want 10", client.MaxConcurrency())
	}
}

func TestClient_AuthAndHeaders(t *testing.T) {
	var gotUser, gotPass, gotAgent string
	var gotPath string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotAgent = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [], "has_more": false}`))
	}))

	if err := client.Get(context.Background(), "lead", nil, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotUser != "test-key" || gotPass != "" {
		t.Errorf("basic auth = %q/%q, want test-key/empty", gotUser, gotPass)
	}
	if gotAgent != "close-ops/1.0" {
		t.Errorf("User-Agent = %q, want close-ops/1.0", gotAgent)
	}
	if gotPath != "/lead/" {
		t.Errorf("path = %q, want trailing slash on /lead/", gotPath)
	}
}

func TestClient_RetryOn429HonorsRetryAfter(t *testing.T) {
	var requests atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.05")
			w.Header().Set("RateLimit", "limit=160, remaining=150, reset=8")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id": "lead_123"}`))
	}))

	start := time.Now()
	var lead struct {
		ID string `json:"id"`
	}
	if err := client.Get(context.Background(), "lead/lead_123", nil, &lead); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if lead.ID != "lead_123" {
		t.Errorf("lead.ID = %q, want lead_123", lead.ID)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 50ms (Retry-After hint)", elapsed)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var requests atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors": ["invalid request"], "field-errors": {"status_id": "unknown status"}}`))
	}))

	err := client.Get(context.Background(), "lead", nil, nil)
	if err == nil {
		t.Fatal("Get() should fail on 400")
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (no retry on 4xx)", got)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, ErrorClassClient)
	}
	if len(apiErr.Errors) != 1 || apiErr.Errors[0] != "invalid request" {
		t.Errorf("Errors = %v, want [invalid request]", apiErr.Errors)
	}
	if apiErr.FieldErrors["status_id"] != "unknown status" {
		t.Errorf("FieldErrors = %v, want status_id mapped", apiErr.FieldErrors)
	}
}

func TestClient_RetryExhausted(t *testing.T) {
	var requests atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Retry-After", "0.01")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.Get(context.Background(), "lead", nil, nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}

	want := RetryConfigForErrorClass(ErrorClassRateLimit).MaxAttempts
	if got := int(requests.Load()); got != want {
		t.Errorf("requests = %d, want %d", got, want)
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"lead", "lead"},
		{"lead/lead_123", "lead"},
		{"/opportunity/oppo_456/", "opportunity"},
		{"data/search", "data"},
	}

	for _, tt := range tests {
		if got := endpointLabel(tt.endpoint); got != tt.want {
			t.Errorf("endpointLabel(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{
			name:    "retry-after seconds",
			headers: map[string]string{"Retry-After": "3"},
			want:    3 * time.Second,
		},
		{
			name:    "retry-after fractional",
			headers: map[string]string{"Retry-After": "0.5"},
			want:    500 * time.Millisecond,
		},
		{
			name:    "no headers",
			headers: map[string]string{},
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}
			if got := parseRetryAfter(headers); got != tt.want {
				t.Errorf("parseRetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}
