package closeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var closeBatchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "closeops_batch_requests_total",
	Help: "Total batch-mutation requests by method and outcome",
}, []string{"method", "outcome"})

// Update pairs an endpoint with the payload to send to it.
type Update struct {
	Endpoint string
	Payload  any
}

// BatchFailure records a single failed request within a batch, keeping the
// originating request so callers can log or retry it.
type BatchFailure struct {
	Endpoint string
	Payload  any
	Err      error
}

// batchResult carries one worker outcome back to the collector.
type batchResult struct {
	index int
	data  json.RawMessage
	err   error
}

// PutAll issues the updates concurrently, bounded by the client's
// MaxConcurrency, and returns successes and failures separately. One failed
// update never aborts the rest of the batch.
func (c *Client) PutAll(ctx context.Context, updates []Update) ([]json.RawMessage, []BatchFailure) {
	return c.runBatch(ctx, http.MethodPut, updates)
}

// PostAll issues the creations concurrently; semantics match PutAll.
func (c *Client) PostAll(ctx context.Context, creates []Update) ([]json.RawMessage, []BatchFailure) {
	return c.runBatch(ctx, http.MethodPost, creates)
}

// DeleteAll deletes the endpoints concurrently and returns the endpoints that
// were deleted alongside the failures.
func (c *Client) DeleteAll(ctx context.Context, endpoints []string) ([]string, []BatchFailure) {
	items := make([]Update, len(endpoints))
	for i, endpoint := range endpoints {
		items[i] = Update{Endpoint: endpoint}
	}

	results, failures := c.runBatch(ctx, http.MethodDelete, items)

	// For deletes the response body is uninteresting; report the endpoints.
	deleted := make([]string, 0, len(results))
	for _, endpoint := range endpoints {
		failed := false
		for _, f := range failures {
			if f.Endpoint == endpoint {
				failed = true
				break
			}
		}
		if !failed {
			deleted = append(deleted, endpoint)
		}
	}
	return deleted, failures
}

// runBatch distributes items across a worker pool and collects per-item
// outcomes independently.
func (c *Client) runBatch(ctx context.Context, method string, items []Update) ([]json.RawMessage, []BatchFailure) {
	if len(items) == 0 {
		return []json.RawMessage{}, []BatchFailure{}
	}

	concurrency := c.config.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	batchID := uuid.NewString()
	start := time.Now()

	c.logger.Info().
		Str("batch_id", batchID).
		Str("method", method).
		Int("items", len(items)).
		Int("concurrency", concurrency).
		Msg("Starting batch mutation")

	queue := make(chan int, len(items))
	results := make(chan batchResult, len(items))

	for i := range items {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go c.batchWorker(ctx, method, items, queue, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	successes := make([]json.RawMessage, 0, len(items))
	failures := make([]BatchFailure, 0)
	processed := 0

	for result := range results {
		processed++
		if result.err != nil {
			closeBatchRequestsTotal.WithLabelValues(method, "failure").Inc()
			item := items[result.index]
			c.logger.Warn().
				Str("batch_id", batchID).
				Str("endpoint", item.Endpoint).
				Err(result.err).
				Msg("Batch request failed")
			failures = append(failures, BatchFailure{
				Endpoint: item.Endpoint,
				Payload:  item.Payload,
				Err:      result.err,
			})
			continue
		}

		closeBatchRequestsTotal.WithLabelValues(method, "success").Inc()
		successes = append(successes, result.data)

		if processed%50 == 0 {
			c.logger.Info().
				Str("batch_id", batchID).
				Int("processed", processed).
				Int("total", len(items)).
				Msg("Batch progress")
		}
	}

	c.logger.Info().
		Str("batch_id", batchID).
		Str("method", method).
		Int("succeeded", len(successes)).
		Int("failed", len(failures)).
		Dur("duration", time.Since(start)).
		Msg("Batch mutation complete")

	return successes, failures
}

// batchWorker processes queued items until the queue drains or the context
// is cancelled. Cancellation marks the remaining items as failed rather than
// dropping them silently.
func (c *Client) batchWorker(ctx context.Context, method string, items []Update, queue <-chan int, results chan<- batchResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for idx := range queue {
		if err := ctx.Err(); err != nil {
			results <- batchResult{index: idx, err: err}
			continue
		}

		item := items[idx]
		var data json.RawMessage
		var err error

		switch method {
		case http.MethodPut:
			err = c.Put(ctx, item.Endpoint, item.Payload, &data)
		case http.MethodPost:
			err = c.Post(ctx, item.Endpoint, item.Payload, &data)
		case http.MethodDelete:
			err = c.Delete(ctx, item.Endpoint)
		}

		results <- batchResult{index: idx, data: data, err: err}
	}
}
