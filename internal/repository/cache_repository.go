package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/studyclips/internal/domain"
)

type cacheRepository struct {
	pool *pgxpool.Pool
}

// NewCacheRepository wires a repository backed by pgxpool.
func NewCacheRepository(pool *pgxpool.Pool) CacheRepository {
	return &cacheRepository{pool: pool}
}

func (r *cacheRepository) LatestInUse(ctx context.Context, keyHash string) (domain.CacheEntry, error) {
	if r.pool == nil {
		return domain.CacheEntry{}, fmt.Errorf("cache repository not initialized")
	}

	var (
		entry  domain.CacheEntry
		keys   []byte
		status string
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, key_hash, keys, uri, status, created_by, created_at
		 FROM cache_entries
		 WHERE key_hash = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		keyHash,
		string(domain.CacheStatusInUse),
	).Scan(
		&entry.ID,
		&entry.KeyHash,
		&keys,
		&entry.ArtifactLocation,
		&status,
		&entry.CreatedBy,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CacheEntry{}, fmt.Errorf("cache entry %s: %w", keyHash, ErrNotFound)
		}
		return domain.CacheEntry{}, fmt.Errorf("failed to get cache entry: %w", err)
	}
	entry.Keys = keys
	entry.Status = domain.CacheStatus(status)
	return entry, nil
}

func (r *cacheRepository) Create(ctx context.Context, entry domain.CacheEntry) (domain.CacheEntry, error) {
	if r.pool == nil {
		return domain.CacheEntry{}, fmt.Errorf("cache repository not initialized")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = domain.CacheStatusInUse
	}
	keys := []byte(entry.Keys)
	if len(keys) == 0 {
		keys = []byte("{}")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO cache_entries (id, key_hash, keys, uri, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.KeyHash,
		keys,
		entry.ArtifactLocation,
		string(entry.Status),
		entry.CreatedBy,
		entry.CreatedAt,
	)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("failed to create cache entry: %w", err)
	}
	return entry, nil
}
