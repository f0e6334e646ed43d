package geocode

import (
	"context"

	"go.uber.org/zap"

	"github.com/lukasbeuster/KerbSide/internal/logger"
)

// Resolver combines the geocoding client with the persistent cache.
type Resolver struct {
	client *Client
	cache  *Cache
}

// NewResolver creates a resolver around a client and a loaded cache.
func NewResolver(client *Client, cache *Cache) *Resolver {
	return &Resolver{client: client, cache: cache}
}

// Resolve returns the place for a name, preferring the cache. A fresh
// lookup result is persisted before it is returned; a cache write failure
// is logged but does not fail the resolution.
func (r *Resolver) Resolve(ctx context.Context, placeName string) (*Place, error) {
	log := logger.Get()

	if place, ok := r.cache.Get(placeName); ok {
		log.Info("Using cached location",
			zap.String("place", placeName),
			zap.Int64("osm_id", place.ID))
		return place, nil
	}

	log.Info("Querying geocoding service", zap.String("place", placeName))
	place, err := r.client.Resolve(ctx, placeName)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Put(placeName, place); err != nil {
		log.Warn("Failed to persist place cache", zap.Error(err))
	}

	return place, nil
}
