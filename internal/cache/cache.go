// Package cache serves computed artifacts keyed by a hashed request
// descriptor. Entries are append-only; a forced refresh writes a new entry
// and later lookups prefer it by creation time.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/logger"
	"github.com/rpattn/studyclips/internal/objectstore"
	"github.com/rpattn/studyclips/internal/repository"
)

// ComputeFunc produces the artifact bytes for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Result is the entry that answers a request. Hit is false when the artifact
// was computed for this call.
type Result struct {
	Entry domain.CacheEntry
	Hit   bool
}

// Cache pairs the entry index with the object store holding artifacts.
// Concurrent identical misses may both compute and insert; any in-use entry
// for a key is a valid answer.
type Cache struct {
	entries repository.CacheRepository
	objects objectstore.Store
	log     logger.Logger
	now     func() time.Time
}

// New builds a cache. A nil log is replaced by a no-op logger.
func New(entries repository.CacheRepository, objects objectstore.Store, log logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Cache{
		entries: entries,
		objects: objects,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCompute returns the most recent in-use entry for descriptor unless
// forceUpdate is set, otherwise it runs compute, stores the artifact and
// appends a new entry.
func (c *Cache) GetOrCompute(ctx context.Context, descriptor any, requester string, compute ComputeFunc, forceUpdate bool) (Result, error) {
	keyHash, canonical, err := Hash(descriptor)
	if err != nil {
		return Result{}, err
	}

	if !forceUpdate {
		entry, err := c.entries.LatestInUse(ctx, keyHash)
		switch {
		case err == nil:
			c.log.DebugWithContext(ctx, "cache hit", zap.String("keyHash", keyHash))
			return Result{Entry: entry, Hit: true}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return Result{}, fmt.Errorf("failed to look up cache entry: %w", err)
		}
	}

	artifact, err := compute(ctx)
	if err != nil {
		return Result{}, err
	}
	locator, err := c.objects.Put(ctx, artifact)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store cache artifact: %w", err)
	}

	entry, err := c.entries.Create(ctx, domain.CacheEntry{
		KeyHash:          keyHash,
		Keys:             canonical,
		ArtifactLocation: locator,
		Status:           domain.CacheStatusInUse,
		CreatedBy:        requester,
		CreatedAt:        c.now(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to record cache entry: %w", err)
	}
	c.log.DebugWithContext(ctx, "cache entry stored",
		zap.String("keyHash", keyHash),
		zap.String("uri", locator),
		zap.Bool("forced", forceUpdate),
	)
	return Result{Entry: entry}, nil
}

// Load opens the artifact an entry points at.
func (c *Cache) Load(ctx context.Context, entry domain.CacheEntry) (io.ReadCloser, error) {
	reader, err := c.objects.Get(ctx, entry.ArtifactLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache artifact: %w", err)
	}
	return reader, nil
}
