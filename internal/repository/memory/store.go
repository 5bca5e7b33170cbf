// Package memory keeps every repository in process memory. It backs tests
// and the server's in-memory mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
)

// Store holds the tables shared by the repositories it hands out.
type Store struct {
	mu            sync.RWMutex
	studies       map[uuid.UUID]domain.Study
	fields        []domain.Field
	roles         []domain.Role
	data          []domain.DataRecord
	cacheEntries  []domain.CacheEntry
	ingestionLogs []domain.IngestionLogEntry
	now           func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		studies: make(map[uuid.UUID]domain.Study),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Studies returns the study repository view of the store.
func (s *Store) Studies() repository.StudyRepository { return studyRepository{s} }

// Fields returns the field repository view of the store.
func (s *Store) Fields() repository.FieldRepository { return fieldRepository{s} }

// Roles returns the role repository view of the store.
func (s *Store) Roles() repository.RoleRepository { return roleRepository{s} }

// Data returns the data repository view of the store.
func (s *Store) Data() repository.DataRepository { return dataRepository{s} }

// Cache returns the cache entry repository view of the store.
func (s *Store) Cache() repository.CacheRepository { return cacheRepository{s} }

// IngestionLogs returns the ingestion log repository view of the store.
func (s *Store) IngestionLogs() repository.IngestionLogRepository { return ingestionLogRepository{s} }

type studyRepository struct{ s *Store }

func (r studyRepository) Create(_ context.Context, study domain.Study) (domain.Study, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if study.ID == uuid.Nil {
		study.ID = uuid.New()
	}
	if study.CreatedAt.IsZero() {
		study.CreatedAt = r.s.now()
	}
	if study.DataVersions == nil {
		study.DataVersions = []domain.DataVersion{}
	}
	study.Config = study.Config.WithDefaults()
	r.s.studies[study.ID] = study
	return study, nil
}

func (r studyRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Study, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	study, ok := r.s.studies[id]
	if !ok || study.DeletedAt != nil {
		return domain.Study{}, fmt.Errorf("study %s: %w", id, repository.ErrNotFound)
	}
	return study, nil
}

type fieldRepository struct{ s *Store }

func (r fieldRepository) Create(_ context.Context, field domain.Field) (domain.Field, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	if field.Life.CreatedTime.IsZero() {
		field.Life.CreatedTime = r.s.now()
	}
	r.s.fields = append(r.s.fields, field)
	return field, nil
}

func (r fieldRepository) ListByVersions(_ context.Context, studyID uuid.UUID, versions []*string) ([]domain.Field, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Field{}
	for _, f := range r.s.fields {
		if f.StudyID == studyID && versionIn(f.DataVersion, versions) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Life.CreatedTime.Before(out[j].Life.CreatedTime) })
	return out, nil
}

type roleRepository struct{ s *Store }

func (r roleRepository) Create(_ context.Context, role domain.Role) (domain.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = r.s.now()
	}
	r.s.roles = append(r.s.roles, role)
	return role, nil
}

func (r roleRepository) ListByUser(ctx context.Context, studyID uuid.UUID, userID string) ([]domain.Role, error) {
	byUser, err := r.ListByUsers(ctx, studyID, []string{userID})
	if err != nil {
		return nil, err
	}
	return byUser[userID], nil
}

func (r roleRepository) ListByUsers(_ context.Context, studyID uuid.UUID, userIDs []string) (map[string][]domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	result := make(map[string][]domain.Role, len(userIDs))
	for _, role := range r.s.roles {
		if role.StudyID != studyID || role.DeletedAt != nil {
			continue
		}
		for _, user := range role.Users {
			if _, ok := wanted[user]; ok {
				result[user] = append(result[user], role)
			}
		}
	}
	return result, nil
}

type dataRepository struct{ s *Store }

// Fetch applies the same selection as the SQL query: study, version list,
// field filter and role readability.
func (r dataRepository) Fetch(_ context.Context, query repository.DataQuery) ([]domain.DataRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.DataRecord{}
	for _, rec := range r.s.data {
		if rec.StudyID != query.StudyID {
			continue
		}
		if !versionIn(rec.DataVersion, query.Versions) {
			continue
		}
		if !query.Fields.Matches(rec.FieldID) {
			continue
		}
		if !permission.ReadableByAny(query.Roles, rec) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Life.CreatedTime.Before(out[j].Life.CreatedTime) })
	return out, nil
}

func (r dataRepository) InsertBatch(_ context.Context, records []domain.DataRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		r.s.data = append(r.s.data, rec)
	}
	return nil
}

func (r dataRepository) Summary(_ context.Context, studyID uuid.UUID) (domain.DataSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var summary domain.DataSummary
	for _, rec := range r.s.data {
		if rec.StudyID != studyID {
			continue
		}
		if rec.DataVersion != nil {
			summary.VersionedCount++
			continue
		}
		summary.UnversionedCount++
		if rec.Life.Deleted() {
			summary.DeletedCount++
		} else {
			summary.AddedCount++
		}
	}
	return summary, nil
}

type cacheRepository struct{ s *Store }

func (r cacheRepository) LatestInUse(_ context.Context, keyHash string) (domain.CacheEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var (
		latest domain.CacheEntry
		found  bool
	)
	for _, entry := range r.s.cacheEntries {
		if entry.KeyHash != keyHash || entry.Status != domain.CacheStatusInUse {
			continue
		}
		if !found || !entry.CreatedAt.Before(latest.CreatedAt) {
			latest = entry
			found = true
		}
	}
	if !found {
		return domain.CacheEntry{}, fmt.Errorf("cache entry %s: %w", keyHash, repository.ErrNotFound)
	}
	return latest, nil
}

func (r cacheRepository) Create(_ context.Context, entry domain.CacheEntry) (domain.CacheEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.now()
	}
	if entry.Status == "" {
		entry.Status = domain.CacheStatusInUse
	}
	r.s.cacheEntries = append(r.s.cacheEntries, entry)
	return entry, nil
}

type ingestionLogRepository struct{ s *Store }

func (r ingestionLogRepository) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.now()
	}
	r.s.ingestionLogs = append(r.s.ingestionLogs, entry)
	return nil
}

func (r ingestionLogRepository) List(_ context.Context, studyID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	matched := []domain.IngestionLogEntry{}
	for i := len(r.s.ingestionLogs) - 1; i >= 0; i-- {
		if entry := r.s.ingestionLogs[i]; entry.StudyID == studyID {
			matched = append(matched, entry)
		}
	}
	if offset >= len(matched) {
		return []domain.IngestionLogEntry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func versionIn(version *string, versions []*string) bool {
	for _, v := range versions {
		switch {
		case v == nil && version == nil:
			return true
		case v != nil && version != nil && *v == *version:
			return true
		}
	}
	return false
}
