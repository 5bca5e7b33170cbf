// Package ingestion validates uploaded data clips against their field
// definitions and appends the accepted ones to the study's data log.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/studyclips/internal/clip"
	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/logger"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
	"github.com/rpattn/studyclips/internal/retrieval"
)

// Result codes reported per uploaded clip.
const (
	CodeNoPermission     = "NO_PERMISSION_ERROR"
	CodeNonExistentEntry = "CLIENT_ACTION_ON_NON_EXISTENT_ENTRY"
	CodeMalformedInput   = "CLIENT_MALFORMED_INPUT"
)

// DefaultBatchSize bounds how many records one insert carries.
const DefaultBatchSize = 1000

// FieldSource lists the field definitions a requester can see.
type FieldSource interface {
	StudyFields(ctx context.Context, requester string, studyID uuid.UUID, versions retrieval.VersionSelector, selected []string) ([]domain.Field, error)
}

// DataInput is one clip to upload.
type DataInput struct {
	FieldID    string         `json:"fieldId"`
	Value      any            `json:"value"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Result reports the outcome for the clip at Index.
type Result struct {
	Index       int    `json:"index"`
	Successful  bool   `json:"successful"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
}

// Service uploads and deletes data clips.
type Service struct {
	studies   repository.StudyRepository
	data      repository.DataRepository
	logRepo   repository.IngestionLogRepository
	roles     permission.RoleSource
	fields    FieldSource
	checker   *permission.Checker
	log       logger.Logger
	batchSize int
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
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

// NewService creates a new ingestion service.
func NewService(
	studies repository.StudyRepository,
	data repository.DataRepository,
	logRepo repository.IngestionLogRepository,
	roles permission.RoleSource,
	fields FieldSource,
	checker *permission.Checker,
	opts ...Option,
) *Service {
	s := &Service{
		studies:   studies,
		data:      data,
		logRepo:   logRepo,
		roles:     roles,
		fields:    fields,
		checker:   checker,
		log:       logger.NewNoopLogger(),
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadData validates every clip and appends the accepted ones as
// unversioned records. Each clip gets a Result in input order; rejected
// clips do not stop the upload. Accepted records are flushed in batches, so
// an insert failure leaves the earlier batches committed.
func (s *Service) UploadData(ctx context.Context, requester string, studyID uuid.UUID, inputs []DataInput) ([]Result, error) {
	if requester == "" {
		return nil, fmt.Errorf("requester is required: %w", retrieval.ErrNoPermission)
	}
	study, err := s.loadStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}

	available, err := s.fields.StudyFields(ctx, requester, studyID, retrieval.Versions(study.AvailableVersions(true)...), nil)
	if err != nil {
		return nil, err
	}
	fieldsByID := make(map[string]domain.Field, len(available))
	for _, f := range available {
		fieldsByID[f.FieldID] = f
	}

	roles, err := s.compiledRoles(ctx, studyID, requester)
	if err != nil {
		return nil, err
	}

	missing := study.Config.WithDefaults().DefaultRepresentationForMissingValue
	results := make([]Result, 0, len(inputs))
	batch := make([]domain.DataRecord, 0, min(len(inputs), s.batchSize))

	for index, input := range inputs {
		candidate := domain.DataRecord{FieldID: input.FieldID, Properties: input.Properties}
		if !permission.AllowedCompiled(roles, candidate, domain.PermissionWrite) {
			results = append(results, s.reject(ctx, study.ID, requester, index, input.FieldID, CodeNoPermission, CodeNoPermission))
			continue
		}

		field, ok := fieldsByID[input.FieldID]
		if !ok {
			results = append(results, s.reject(ctx, study.ID, requester, index, input.FieldID, CodeNonExistentEntry,
				fmt.Sprintf("field %s: field not found", input.FieldID)))
			continue
		}

		parsed, err := s.validate(field, input, missing)
		if err != nil {
			results = append(results, s.reject(ctx, study.ID, requester, index, input.FieldID, CodeMalformedInput, err.Error()))
			continue
		}

		results = append(results, Result{
			Index:       index,
			Successful:  true,
			Description: fmt.Sprintf("field %s value %s successfully uploaded", input.FieldID, clip.String(clip.Normalize(input.Value))),
		})
		batch = append(batch, domain.DataRecord{
			ID:         uuid.New(),
			StudyID:    study.ID,
			FieldID:    input.FieldID,
			Value:      parsed,
			Properties: input.Properties,
			Life:       domain.Life{CreatedTime: s.now(), CreatedUser: requester},
			Metadata:   map[string]any{},
		})

		if len(batch) >= s.batchSize {
			if err := s.data.InsertBatch(ctx, batch); err != nil {
				return results, fmt.Errorf("failed to insert data batch: %w", err)
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.data.InsertBatch(ctx, batch); err != nil {
			return results, fmt.Errorf("failed to insert data batch: %w", err)
		}
	}

	s.log.InfoWithContext(ctx, "data uploaded",
		zap.String("studyId", study.ID.String()),
		zap.Int("clips", len(inputs)),
		zap.Int("accepted", countSuccessful(results)),
	)
	return results, nil
}

// validate parses the value and runs the field and property verifiers. A
// value equal to the study's missing-value representation is stored as-is
// and skips every check.
func (s *Service) validate(field domain.Field, input DataInput, missing string) (any, error) {
	if text, err := rawText(input.Value); err == nil && text == missing {
		return missing, nil
	}

	parsed, err := parseValue(field, input.Value)
	if err != nil {
		return nil, err
	}

	ok, err := passesVerifier(parsed, field.Verifier)
	if err != nil {
		return nil, fmt.Errorf("field %s: invalid verifier: %w", field.FieldID, err)
	}
	if !ok {
		return nil, fmt.Errorf("field %s value %s: failed to pass the verifier", field.FieldID, clip.String(parsed))
	}

	for _, property := range field.Properties {
		if property.Required && missingProperty(input.Properties, property.Name) {
			return nil, fmt.Errorf("field %s: property %s is required", field.FieldID, property.Name)
		}
		value, present := input.Properties[property.Name]
		if !present || len(property.Verifier) == 0 {
			continue
		}
		ok, err := passesVerifier(value, property.Verifier)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid verifier for property %s: %w", field.FieldID, property.Name, err)
		}
		if !ok {
			return nil, fmt.Errorf("field %s value %s: property %s failed to pass the verifier",
				field.FieldID, clip.String(clip.Normalize(value)), property.Name)
		}
	}
	return parsed, nil
}

// DeleteData appends a tombstone for the clip identified by fieldID and
// properties. Earlier records are never modified; the versioning pipeline
// hides the clip once the tombstone is its latest record.
func (s *Service) DeleteData(ctx context.Context, requester string, studyID uuid.UUID, fieldID string, properties map[string]any) error {
	if requester == "" {
		return fmt.Errorf("requester is required: %w", retrieval.ErrNoPermission)
	}
	study, err := s.loadStudy(ctx, studyID)
	if err != nil {
		return err
	}
	roles, err := s.roles.ListByUser(ctx, studyID, requester)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}

	tombstone := domain.DataRecord{
		ID:         uuid.New(),
		StudyID:    study.ID,
		FieldID:    fieldID,
		Properties: properties,
		Metadata:   map[string]any{},
	}
	allowed, err := s.checker.Allowed(roles, tombstone, domain.PermissionDelete)
	if err != nil {
		return fmt.Errorf("failed to compile roles: %w", err)
	}
	if !allowed {
		return retrieval.ErrNoPermission
	}

	now := s.now()
	deletedBy := requester
	tombstone.Life = domain.Life{
		CreatedTime: now,
		CreatedUser: requester,
		DeletedTime: &now,
		DeletedUser: &deletedBy,
	}
	if err := s.data.InsertBatch(ctx, []domain.DataRecord{tombstone}); err != nil {
		return fmt.Errorf("failed to record deletion: %w", err)
	}
	s.log.InfoWithContext(ctx, "data deleted",
		zap.String("studyId", study.ID.String()),
		zap.String("fieldId", fieldID),
	)
	return nil
}

func (s *Service) loadStudy(ctx context.Context, studyID uuid.UUID) (domain.Study, error) {
	study, err := s.studies.GetByID(ctx, studyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Study{}, retrieval.ErrStudyNotFound
		}
		return domain.Study{}, fmt.Errorf("failed to load study: %w", err)
	}
	return study, nil
}

func (s *Service) compiledRoles(ctx context.Context, studyID uuid.UUID, requester string) ([]permission.Role, error) {
	roles, err := s.roles.ListByUser(ctx, studyID, requester)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	compiled, err := s.checker.Compile(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to compile roles: %w", err)
	}
	return compiled, nil
}

func (s *Service) reject(ctx context.Context, studyID uuid.UUID, requester string, index int, fieldID, code, description string) Result {
	if s.logRepo != nil {
		clipIndex := index
		entry := domain.IngestionLogEntry{
			StudyID:   studyID,
			Requester: requester,
			FieldID:   fieldID,
			ClipIndex: &clipIndex,
			Code:      code,
			Message:   description,
		}
		if err := s.logRepo.Record(ctx, entry); err != nil {
			s.log.WarnWithContext(ctx, "failed to record ingestion log", zap.Error(err))
		}
	}
	return Result{Index: index, Successful: false, Code: code, Description: description}
}

func countSuccessful(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Successful {
			n++
		}
	}
	return n
}
