// Package geocode resolves place names into an OSM id and bounding box,
// backed by a persistent on-disk cache.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

// ErrNotFound is returned when the geocoding service has no result for a
// place name, or the result carries no OSM id.
var ErrNotFound = errors.New("location not found")

// Place is a resolved location.
type Place struct {
	ID   int64       `json:"osmid"`
	BBox config.BBox `json:"boundingbox"`
}

// Client queries a Nominatim-style search endpoint.
type Client struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

// NewClient creates a geocoding client for the given search endpoint.
func NewClient(endpoint, userAgent string) *Client {
	return &Client{
		endpoint:  endpoint,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// nominatimResult is the subset of a Nominatim search result we consume.
// The bounding box arrives as strings in minlat,maxlat,minlon,maxlon order.
type nominatimResult struct {
	OSMID       int64    `json:"osm_id"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"`
}

// Resolve looks up a place name and returns its OSM id and bounding box.
func (c *Client) Resolve(ctx context.Context, placeName string) (*Place, error) {
	query := url.Values{}
	query.Set("q", placeName)
	query.Set("format", "json")
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode lookup failed: unexpected status code %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geocode lookup failed: %w", err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, placeName)
	}
	result := results[0]
	if result.OSMID == 0 {
		return nil, fmt.Errorf("%w: no OSM id for %s", ErrNotFound, placeName)
	}
	if len(result.BoundingBox) != 4 {
		return nil, fmt.Errorf("geocode lookup failed: malformed bounding box for %s", placeName)
	}

	var coords [4]float64
	for i, s := range result.BoundingBox {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("geocode lookup failed: invalid bounding box value %q: %w", s, err)
		}
		coords[i] = v
	}

	return &Place{
		ID: result.OSMID,
		BBox: config.BBox{
			MinLat: coords[0],
			MaxLat: coords[1],
			MinLon: coords[2],
			MaxLon: coords[3],
		},
	}, nil
}
