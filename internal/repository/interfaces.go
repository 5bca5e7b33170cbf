package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/permission"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// StudyRepository defines the interface for study operations
type StudyRepository interface {
	Create(ctx context.Context, study domain.Study) (domain.Study, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Study, error)
}

// FieldRepository defines the interface for field definition operations
type FieldRepository interface {
	Create(ctx context.Context, field domain.Field) (domain.Field, error)
	// ListByVersions returns every stored definition whose data version is in
	// versions; a nil entry selects unversioned definitions.
	ListByVersions(ctx context.Context, studyID uuid.UUID, versions []*string) ([]domain.Field, error)
}

// RoleRepository defines the interface for role operations
type RoleRepository interface {
	Create(ctx context.Context, role domain.Role) (domain.Role, error)
	ListByUser(ctx context.Context, studyID uuid.UUID, userID string) ([]domain.Role, error)
	// ListByUsers returns the live roles of each user in userIDs.
	ListByUsers(ctx context.Context, studyID uuid.UUID, userIDs []string) (map[string][]domain.Role, error)
}

// DataQuery selects data records readable through Roles.
type DataQuery struct {
	StudyID  uuid.UUID
	Versions []*string
	Fields   permission.FieldFilter
	Roles    []permission.Role
}

// DataRepository defines the interface for data clip operations
type DataRepository interface {
	// Fetch returns the records matching the query ordered by creation time.
	Fetch(ctx context.Context, query DataQuery) ([]domain.DataRecord, error)
	InsertBatch(ctx context.Context, records []domain.DataRecord) error
	Summary(ctx context.Context, studyID uuid.UUID) (domain.DataSummary, error)
}

// CacheRepository defines the interface for cache entry operations
type CacheRepository interface {
	// LatestInUse returns the most recent in-use entry for keyHash or
	// ErrNotFound.
	LatestInUse(ctx context.Context, keyHash string) (domain.CacheEntry, error)
	Create(ctx context.Context, entry domain.CacheEntry) (domain.CacheEntry, error)
}

// IngestionLogRepository persists rejected upload clips.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, studyID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
