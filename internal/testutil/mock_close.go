// Package testutil provides testing utilities for the close-ops commands.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock Close endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockClose is a configurable mock Close API server for testing.
type MockClose struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockClose creates a new mock Close server.
func NewMockClose() *MockClose {
	mock := &MockClose{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockClose) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockClose) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockClose) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path. Close endpoints
// carry a trailing slash, e.g. "/lead/".
func (m *MockClose) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockClose) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		// Default budget header first so callers can override it.
		w.Header().Set("RateLimit", "limit=160, remaining=150, reset=8")
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListResponse serves records through _skip/_limit offset pagination the
// way Close list endpoints do.
func (m *MockClose) SetListResponse(path string, records []json.RawMessage) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("_skip"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("_limit"))
		if limit <= 0 {
			limit = 100
		}

		end := skip + limit
		if end > len(records) {
			end = len(records)
		}
		var page []json.RawMessage
		if skip < len(records) {
			page = records[skip:end]
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("RateLimit", "limit=160, remaining=150, reset=8")
		json.NewEncoder(w).Encode(map[string]any{
			"data":     page,
			"has_more": end < len(records),
		})
	})
}

// SetSearchResponse serves records through cursor pagination on
// /data/search/, splitting them into pages of the requested _limit.
func (m *MockClose) SetSearchResponse(records []json.RawMessage) {
	m.SetHandler("/data/search/", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Cursor string  `json:"cursor"`
			Limit  float64 `json:"_limit"`
		}
		json.NewDecoder(r.Body).Decode(&payload)

		limit := int(payload.Limit)
		if limit <= 0 {
			limit = 100
		}

		skip := 0
		if payload.Cursor != "" {
			skip, _ = strconv.Atoi(payload.Cursor)
		}

		end := skip + limit
		if end > len(records) {
			end = len(records)
		}
		var page []json.RawMessage
		if skip < len(records) {
			page = records[skip:end]
		}

		cursor := ""
		if end < len(records) {
			cursor = strconv.Itoa(end)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("RateLimit", "limit=160, remaining=150, reset=8")
		json.NewEncoder(w).Encode(map[string]any{
			"data":   page,
			"cursor": cursor,
		})
	})
}

// SetRateLimited makes a path return count 429 responses before succeeding
// with the given body.
func (m *MockClose) SetRateLimited(path string, count int, body string) {
	var mu sync.Mutex
	remaining := count

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		limited := remaining > 0
		if limited {
			remaining--
		}
		mu.Unlock()

		if limited {
			w.Header().Set("Retry-After", "0.01")
			w.Header().Set("RateLimit", "limit=160, remaining=150, reset=0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("RateLimit", "limit=160, remaining=150, reset=8")
		w.Write([]byte(body))
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockClose) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler provides a Close-like empty list response.
func (m *MockClose) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("RateLimit", "limit=160, remaining=150, reset=8")
	fmt.Fprint(w, `{"data": [], "has_more": false}`)
}
