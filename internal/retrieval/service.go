// Package retrieval answers data queries: it resolves the requester's
// roles, fetches the records they may read, reduces them to the latest live
// state and runs the requested aggregation.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/studyclips/internal/cache"
	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/logger"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
	"github.com/rpattn/studyclips/internal/transformations"
)

var (
	// ErrNoPermission is returned when the requester holds no role in the
	// study.
	ErrNoPermission = permission.ErrNoPermission
	// ErrStudyNotFound is returned for unknown or deleted studies.
	ErrStudyNotFound = errors.New("study does not exist")
)

const getDataQuery = "getData"

// Service serves study fields, data and summaries.
type Service struct {
	studies repository.StudyRepository
	fields  repository.FieldRepository
	data    repository.DataRepository
	roles   permission.RoleSource
	checker *permission.Checker
	fetcher *Fetcher
	cache   *cache.Cache
	log     logger.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithCache enables cached responses for requests that ask for them.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithLogger replaces the default no-op logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService wires the retrieval service.
func NewService(
	studies repository.StudyRepository,
	fields repository.FieldRepository,
	data repository.DataRepository,
	roles permission.RoleSource,
	checker *permission.Checker,
	opts ...Option,
) *Service {
	s := &Service{
		studies: studies,
		fields:  fields,
		data:    data,
		roles:   roles,
		checker: checker,
		fetcher: NewFetcher(data, checker),
		log:     logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes a data query.
type Request struct {
	Requester string
	StudyID   uuid.UUID
	// FieldIDs restricts the fields returned; nil means every field the
	// requester may read in the selected versions.
	FieldIDs     []string
	DataVersions VersionSelector
	Aggregation  map[string][]transformations.Step
	UseCache     bool
	ForceUpdate  bool
}

// Response carries either the computed result or, for cached requests, the
// cache entry holding it.
type Response struct {
	Data  map[string]transformations.Data
	Cache *cache.Result
}

// GetData runs req. Without an aggregation the result is {"raw": latest
// live records}.
func (s *Service) GetData(ctx context.Context, req Request) (Response, error) {
	roles, study, err := s.authorize(ctx, req.Requester, req.StudyID)
	if err != nil {
		return Response{}, err
	}

	versions := req.DataVersions.Resolve(study)
	fieldIDs := req.FieldIDs
	if fieldIDs == nil {
		fields, err := s.visibleFields(ctx, roles, study.ID, versions, nil)
		if err != nil {
			return Response{}, err
		}
		fieldIDs = make([]string, len(fields))
		for i, f := range fields {
			fieldIDs[i] = f.FieldID
		}
		// An empty field filter means no restriction, so a requester who can
		// read no field must not reach the fetch.
		if len(fieldIDs) == 0 {
			return Response{Data: map[string]transformations.Data{
				transformations.RawResultKey: transformations.Flat(nil),
			}}, nil
		}
	}

	compute := func(ctx context.Context) (map[string]transformations.Data, error) {
		return s.compute(ctx, roles, study, versions, fieldIDs, req.Aggregation)
	}

	if !req.UseCache || s.cache == nil {
		result, err := compute(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Data: result}, nil
	}

	descriptor := map[string]any{
		"query":       getDataQuery,
		"requester":   req.Requester,
		"studyId":     study.ID.String(),
		"fieldIds":    fieldIDs,
		"aggregation": req.Aggregation,
	}
	if dv, ok := req.DataVersions.descriptor(); ok {
		descriptor["dataVersion"] = dv
	}

	cached, err := s.cache.GetOrCompute(ctx, descriptor, req.Requester, func(ctx context.Context) ([]byte, error) {
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		return payload, nil
	}, req.ForceUpdate)
	if err != nil {
		return Response{}, err
	}
	return Response{Cache: &cached}, nil
}

func (s *Service) compute(
	ctx context.Context,
	roles []domain.Role,
	study domain.Study,
	versions []*string,
	fieldIDs []string,
	aggregation map[string][]transformations.Step,
) (map[string]transformations.Data, error) {
	records, err := s.fetcher.Fetch(ctx, roles, study.ID, versions, fieldIDs)
	if err != nil {
		return nil, err
	}

	pipeline := transformations.VersioningPipeline(study.Config.DefaultVersioningKeys, domain.HasUnversioned(versions))
	versioned, err := transformations.Aggregate(domain.ToClips(records), map[string][]transformations.Step{
		transformations.RawResultKey: pipeline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply versioning: %w", err)
	}
	latest := versioned[transformations.RawResultKey]
	if latest.IsGrouped() {
		return nil, fmt.Errorf("versioning produced grouped data: %w", transformations.ErrShapeMismatch)
	}

	s.log.DebugWithContext(ctx, "data fetched",
		zap.String("studyId", study.ID.String()),
		zap.Strings("versions", domain.VersionIDs(versions)),
		zap.Bool("unversioned", domain.HasUnversioned(versions)),
		zap.Int("records", len(records)),
		zap.Int("latest", latest.Len()),
	)

	if len(aggregation) == 0 {
		return versioned, nil
	}
	return transformations.Aggregate(latest.Records(), aggregation)
}

// StudyFields returns the latest field definitions in the selected versions
// that the requester may read. selected, when non-nil, further limits the
// result to those exact field ids.
func (s *Service) StudyFields(ctx context.Context, requester string, studyID uuid.UUID, versions VersionSelector, selected []string) ([]domain.Field, error) {
	roles, study, err := s.authorize(ctx, requester, studyID)
	if err != nil {
		return nil, err
	}
	return s.visibleFields(ctx, roles, study.ID, versions.Resolve(study), selected)
}

func (s *Service) visibleFields(ctx context.Context, roles []domain.Role, studyID uuid.UUID, versions []*string, selected []string) ([]domain.Field, error) {
	compiled, err := s.checker.Compile(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to compile roles: %w", err)
	}
	stored, err := s.fields.ListByVersions(ctx, studyID, versions)
	if err != nil {
		return nil, err
	}

	var wanted map[string]struct{}
	if selected != nil {
		wanted = make(map[string]struct{}, len(selected))
		for _, id := range selected {
			wanted[id] = struct{}{}
		}
	}

	readable := make([]domain.Field, 0, len(stored))
	for _, f := range stored {
		if wanted != nil {
			if _, ok := wanted[f.FieldID]; !ok {
				continue
			}
		}
		if !permission.FieldAllowed(compiled, f.FieldID, domain.PermissionRead) {
			continue
		}
		readable = append(readable, f)
	}
	return domain.LatestFields(readable), nil
}

// Summary counts the stored data of a study.
func (s *Service) Summary(ctx context.Context, requester string, studyID uuid.UUID) (domain.DataSummary, error) {
	if _, _, err := s.authorize(ctx, requester, studyID); err != nil {
		return domain.DataSummary{}, err
	}
	return s.data.Summary(ctx, studyID)
}

func (s *Service) authorize(ctx context.Context, requester string, studyID uuid.UUID) ([]domain.Role, domain.Study, error) {
	if requester == "" {
		return nil, domain.Study{}, fmt.Errorf("requester is required: %w", ErrNoPermission)
	}
	roles, err := s.roles.ListByUser(ctx, studyID, requester)
	if err != nil {
		return nil, domain.Study{}, fmt.Errorf("failed to load roles: %w", err)
	}
	if len(roles) == 0 {
		return nil, domain.Study{}, ErrNoPermission
	}

	study, err := s.studies.GetByID(ctx, studyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Study{}, ErrStudyNotFound
		}
		return nil, domain.Study{}, fmt.Errorf("failed to load study: %w", err)
	}
	return roles, study, nil
}
