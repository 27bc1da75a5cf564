package closeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultPageSize is the page size used for list and search pagination.
const DefaultPageSize = 100

// ListOptions controls offset pagination over Close list endpoints.
type ListOptions struct {
	// Params are extra query parameters (filters, _fields).
	Params url.Values

	// PageSize overrides the _limit per request (default 100).
	PageSize int

	// MaxResults stops fetching once this many records are collected.
	// Zero means unlimited.
	MaxResults int
}

// listPage is the envelope shape of Close list endpoints.
type listPage struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

// GetAll fetches every page of a list endpoint by advancing _skip until the
// server reports has_more=false or returns a short page. Pages are requested
// sequentially; Close has no page-count header to parallelize against.
func (c *Client) GetAll(ctx context.Context, endpoint string, opts ListOptions) ([]json.RawMessage, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	start := time.Now()
	var results []json.RawMessage

	for skip := 0; ; skip += pageSize {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("pagination aborted: %w", err)
		}

		params := url.Values{}
		for key, values := range opts.Params {
			params[key] = values
		}
		params.Set("_skip", strconv.Itoa(skip))
		params.Set("_limit", strconv.Itoa(pageSize))

		var page listPage
		if err := c.Get(ctx, endpoint, params, &page); err != nil {
			return results, fmt.Errorf("fetch page at offset %d: %w", skip, err)
		}

		results = append(results, page.Data...)

		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			results = results[:opts.MaxResults]
			break
		}
		if !page.HasMore || len(page.Data) < pageSize {
			break
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("records", len(results)).
		Dur("duration", time.Since(start)).
		Msg("List fetch complete")

	return results, nil
}

// SearchOptions controls cursor pagination over the /data/search/ endpoint.
type SearchOptions struct {
	// Fields selects per-object-type fields to return, e.g.
	// {"lead": ["id", "display_name", "opportunities"]}.
	Fields map[string][]string

	// Sort is the Close search sort specification.
	Sort []map[string]any

	// PageSize overrides the _limit per request (default 100).
	PageSize int

	// MaxResults stops fetching once this many records are collected.
	// Zero means unlimited.
	MaxResults int
}

// searchPage is the envelope shape of /data/search/ responses.
type searchPage struct {
	Data   []json.RawMessage `json:"data"`
	Cursor string            `json:"cursor"`
}

// Search runs a Close advanced-search query and follows the response cursor
// until it is exhausted.
func (c *Client) Search(ctx context.Context, query map[string]any, opts SearchOptions) ([]json.RawMessage, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if opts.MaxResults > 0 && opts.MaxResults < pageSize {
		pageSize = opts.MaxResults
	}

	payload := map[string]any{
		"query":  query,
		"_limit": pageSize,
	}
	if len(opts.Fields) > 0 {
		payload["_fields"] = opts.Fields
	}
	if len(opts.Sort) > 0 {
		payload["sort"] = opts.Sort
	}

	start := time.Now()
	var results []json.RawMessage
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("search aborted: %w", err)
		}

		if cursor != "" {
			payload["cursor"] = cursor
		} else {
			delete(payload, "cursor")
		}

		var page searchPage
		if err := c.Post(ctx, "data/search", payload, &page); err != nil {
			return results, fmt.Errorf("search page (cursor %q): %w", cursor, err)
		}

		results = append(results, page.Data...)

		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			results = results[:opts.MaxResults]
			break
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	c.logger.Debug().
		Int("records", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Search complete")

	return results, nil
}
