package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	closeRequestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "closeops_ratelimit_remaining",
		Help: "Requests remaining in the current Close rate limit window",
	})

	closeRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "closeops_ratelimit_blocks_total",
		Help: "Total number of requests blocked because the window budget was critical",
	})

	closeRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "closeops_ratelimit_throttles_total",
		Help: "Total number of requests throttled because the window budget was low",
	})
)

// Tracker monitors the Close rate limit window and gates requests.
// With a Redis client the state is shared across processes; without one the
// tracker keeps per-process state, which is enough for a single script run.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.RWMutex
	local *State
}

// NewTracker creates a new rate limit tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// defaultState is returned before any response headers have been seen.
func defaultState() *State {
	return &State{
		Limit:      0,
		Remaining:  0,
		ResetAt:    time.Now(),
		LastUpdate: time.Now(),
		IsHealthy:  true,
	}
}

// GetState retrieves the current rate limit state.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.local == nil {
			return defaultState(), nil
		}
		s := *t.local
		return &s, nil
	}

	data, err := t.redis.Get(ctx, RedisKeyState).Bytes()
	if err == redis.Nil {
		t.logger.Debug().Msg("No rate limit state in Redis, assuming fresh window")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse rate limit state: %w", err)
	}
	state.UpdateHealth()

	return &state, nil
}

// UpdateFromHeaders parses the Close `ratelimit` response header and stores
// the new window state.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := ParseHeader(headers)
	if err != nil {
		return err
	}
	if !ok {
		// Header absent; some endpoints and partner APIs omit it.
		return nil
	}

	if err := t.store(ctx, state); err != nil {
		return err
	}

	closeRequestsRemaining.Set(float64(state.Remaining))

	logEvent := t.logger.Debug().
		Int("limit", state.Limit).
		Int("remaining", state.Remaining).
		Time("reset_at", state.ResetAt)

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Msg("Close rate limit critical, requests will be blocked")
	} else if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Close rate limit low, requests will be throttled")
	} else {
		logEvent.Msg("Rate limit state updated")
	}

	return nil
}

// store persists the state to Redis or local memory.
func (t *Tracker) store(ctx context.Context, state *State) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}

	// Keep the key only until a little past the window reset; stale budgets
	// must not gate a fresh window.
	ttl := state.TimeUntilReset() + 10*time.Second
	if err := t.redis.Set(ctx, RedisKeyState, data, ttl).Err(); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	return nil
}

// ShouldAllowRequest checks whether a request may proceed. It returns false
// when the window budget is critical, and sleeps briefly when the budget is
// in the warning band.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait", state.TimeUntilReset()).
			Msg("Rate limit critical, blocking request")
		closeRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Rate limit low, throttling request")
		closeRateLimitThrottlesTotal.Inc()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	return true, nil
}

// ParseHeader parses a Close `ratelimit` header value such as
// "limit=160, remaining=159, reset=8". It returns ok=false when no header is
// present.
func ParseHeader(headers http.Header) (*State, bool, error) {
	value := headers.Get("RateLimit")
	if value == "" {
		return nil, false, nil
	}

	now := time.Now()
	state := &State{LastUpdate: now}

	for _, part := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';'
	}) {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "limit":
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, false, fmt.Errorf("parse ratelimit limit %q: %w", val, err)
			}
			state.Limit = n
		case "remaining":
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, false, fmt.Errorf("parse ratelimit remaining %q: %w", val, err)
			}
			state.Remaining = n
		case "reset":
			// Close sends fractional seconds here.
			secs, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, false, fmt.Errorf("parse ratelimit reset %q: %w", val, err)
			}
			state.ResetAt = now.Add(time.Duration(secs * float64(time.Second)))
		}
	}

	if state.Limit == 0 && state.ResetAt.IsZero() {
		return nil, false, fmt.Errorf("malformed ratelimit header %q", value)
	}
	if state.ResetAt.IsZero() {
		state.ResetAt = now
	}
	state.UpdateHealth()

	return state, true, nil
}
