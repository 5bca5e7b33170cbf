package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
)

// Fetcher loads the raw data records a set of roles may read.
type Fetcher struct {
	data    repository.DataRepository
	checker *permission.Checker
}

func NewFetcher(data repository.DataRepository, checker *permission.Checker) *Fetcher {
	return &Fetcher{data: data, checker: checker}
}

// Fetch returns records of studyID whose version is in versions, whose field
// passes fieldIDs (exact ids, or ^...$ patterns) and which some role exposes.
// A nil or empty fieldIDs places no field restriction.
func (f *Fetcher) Fetch(ctx context.Context, roles []domain.Role, studyID uuid.UUID, versions []*string, fieldIDs []string) ([]domain.DataRecord, error) {
	compiled, err := f.checker.Compile(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to compile roles: %w", err)
	}
	return f.FetchCompiled(ctx, compiled, studyID, versions, fieldIDs)
}

// FetchCompiled is Fetch for roles that are already compiled.
func (f *Fetcher) FetchCompiled(ctx context.Context, roles []permission.Role, studyID uuid.UUID, versions []*string, fieldIDs []string) ([]domain.DataRecord, error) {
	fields, err := f.checker.FieldFilter(fieldIDs)
	if err != nil {
		return nil, fmt.Errorf("invalid field filter: %w", err)
	}
	records, err := f.data.Fetch(ctx, repository.DataQuery{
		StudyID:  studyID,
		Versions: versions,
		Fields:   fields,
		Roles:    roles,
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
