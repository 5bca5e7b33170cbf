package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CacheStatus marks whether a cache entry may be served.
type CacheStatus string

const (
	CacheStatusInUse    CacheStatus = "IN_USE"
	CacheStatusOutdated CacheStatus = "OUTDATED"
)

// CacheEntry points at a stored artifact computed for a request descriptor.
type CacheEntry struct {
	ID               uuid.UUID       `json:"id"`
	KeyHash          string          `json:"keyHash"`
	Keys             json.RawMessage `json:"keys"`
	ArtifactLocation string          `json:"uri"`
	Status           CacheStatus     `json:"status"`
	CreatedBy        string          `json:"createdBy"`
	CreatedAt        time.Time       `json:"createdAt"`
}
