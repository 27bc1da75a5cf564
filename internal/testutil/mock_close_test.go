package testutil

import (
	"net/http"
	"testing"
)

func TestSetResponse_CallerRateLimitHeaderWins(t *testing.T) {
	mock := NewMockClose()
	defer mock.Close()

	mock.SetResponse("/me/", MockResponse{
		StatusCode: 200,
		Body:       `{"id": "user_001"}`,
		Headers:    map[string]string{"RateLimit": "limit=160, remaining=42, reset=8"},
	})

	resp, err := http.Get(mock.URL() + "/me/")
	if err != nil {
		t.Fatalf("GET /me/: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("RateLimit"); got != "limit=160, remaining=42, reset=8" {
		t.Errorf("RateLimit = %q, want the caller-provided remaining=42", got)
	}
}

func TestSetResponse_DefaultRateLimitHeader(t *testing.T) {
	mock := NewMockClose()
	defer mock.Close()

	mock.SetResponse("/me/", MockResponse{
		StatusCode: 200,
		Body:       `{"id": "user_001"}`,
	})

	resp, err := http.Get(mock.URL() + "/me/")
	if err != nil {
		t.Fatalf("GET /me/: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("RateLimit"); got != "limit=160, remaining=150, reset=8" {
		t.Errorf("RateLimit = %q, want the default budget header", got)
	}
}
