package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name          string
		header        string
		expectOK      bool
		expectErr     bool
		expectLimit   int
		expectRemain  int
		expectResetIn time.Duration
	}{
		{
			name:          "typical header",
			header:        "limit=160, remaining=159, reset=8",
			expectOK:      true,
			expectLimit:   160,
			expectRemain:  159,
			expectResetIn: 8 * time.Second,
		},
		{
			name:          "semicolon separated",
			header:        "limit=40; remaining=32; reset=8",
			expectOK:      true,
			expectLimit:   40,
			expectRemain:  32,
			expectResetIn: 8 * time.Second,
		},
		{
			name:          "fractional reset",
			header:        "limit=160, remaining=10, reset=2.5",
			expectOK:      true,
			expectLimit:   160,
			expectRemain:  10,
			expectResetIn: 2500 * time.Millisecond,
		},
		{
			name:     "absent header",
			header:   "",
			expectOK: false,
		},
		{
			name:      "garbage limit",
			header:    "limit=abc, remaining=1, reset=1",
			expectErr: true,
		},
		{
			name:      "no recognizable fields",
			header:    "whatever",
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("RateLimit", tt.header)
			}

			state, ok, err := ParseHeader(headers)

			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHeader() error: %v", err)
			}
			if ok != tt.expectOK {
				t.Fatalf("ok = %v, want %v", ok, tt.expectOK)
			}
			if !ok {
				return
			}

			if state.Limit != tt.expectLimit {
				t.Errorf("Limit = %d, want %d", state.Limit, tt.expectLimit)
			}
			if state.Remaining != tt.expectRemain {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.expectRemain)
			}

			resetIn := time.Until(state.ResetAt)
			if resetIn > tt.expectResetIn || resetIn < tt.expectResetIn-time.Second {
				t.Errorf("ResetAt in %v, want about %v", resetIn, tt.expectResetIn)
			}
		})
	}
}

func TestTracker_MemoryFallback(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()

	// No headers seen yet: default state allows requests.
	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error: %v", err)
	}
	if !allowed {
		t.Error("Expected request to be allowed with default state")
	}

	// Feed a healthy window.
	headers := http.Header{}
	headers.Set("RateLimit", "limit=160, remaining=150, reset=8")
	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error: %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error: %v", err)
	}
	if state.Remaining != 150 {
		t.Errorf("Remaining = %d, want 150", state.Remaining)
	}
	if !state.IsHealthy {
		t.Error("Expected healthy state")
	}
}

func TestTracker_BlocksOnCriticalBudget(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("RateLimit", "limit=160, remaining=2, reset=30")
	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error: %v", err)
	}

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error: %v", err)
	}
	if allowed {
		t.Error("Expected request to be blocked with critical budget")
	}
}

func TestTracker_IgnoresMissingHeader(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()

	// Responses without the header must not disturb existing state.
	headers := http.Header{}
	headers.Set("RateLimit", "limit=160, remaining=100, reset=8")
	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error: %v", err)
	}
	if err := tracker.UpdateFromHeaders(ctx, http.Header{}); err != nil {
		t.Fatalf("UpdateFromHeaders() with empty headers error: %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error: %v", err)
	}
	if state.Remaining != 100 {
		t.Errorf("Remaining = %d, want 100 (unchanged)", state.Remaining)
	}
}
