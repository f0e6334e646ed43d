// Package overpass fetches raw OSM XML tiles from an Overpass query
// endpoint.
package overpass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

// ErrFetchFailed is returned when the endpoint does not yield a usable
// tile. A failed tile is skipped by the caller, not fatal for the set.
var ErrFetchFailed = errors.New("tile fetch failed")

// queryTemplate selects highway ways (excluding areas and non-physical
// highway values) plus their nodes inside one tile's bounding box.
const queryTemplate = `[out:xml];
(
way["highway"]["area"!~"yes"]["highway"!~"abandoned|construction|no|planned|platform|proposed|raceway|razed"]
(%f, %f, %f, %f);
>;);
out;
`

// Client posts per-tile queries to an Overpass endpoint with a fixed
// courtesy delay between requests.
type Client struct {
	endpoint   string
	userAgent  string
	delay      time.Duration
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates an Overpass client. delay is the fixed pause applied
// before every request as rate-limiting courtesy to the shared endpoint.
func NewClient(endpoint, userAgent string, delay time.Duration) *Client {
	return &Client{
		endpoint:  endpoint,
		userAgent: userAgent,
		delay:     delay,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

// Query renders the tile query for a bounding box.
func Query(b config.BBox) string {
	return fmt.Sprintf(queryTemplate, b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// FetchTile fetches the raw OSM XML for one tile. Any non-success response
// after retries is reported as ErrFetchFailed.
func (c *Client) FetchTile(ctx context.Context, b config.BBox) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
	}

	resp, err := c.postWithRetry(ctx, Query(b))
	if err != nil {
		// A cancelled run must propagate as such, not as a per-tile
		// fetch failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	return data, nil
}

// postWithRetry performs an HTTP POST with retries on transport errors and
// server errors.
func (c *Client) postWithRetry(ctx context.Context, query string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(query))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Retry on server errors and the Overpass rate-limit response.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
