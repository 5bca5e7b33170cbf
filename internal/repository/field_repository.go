package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/permission"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type fieldRepository struct {
	pool *pgxpool.Pool
}

// NewFieldRepository wires a repository backed by pgxpool.
func NewFieldRepository(pool *pgxpool.Pool) FieldRepository {
	return &fieldRepository{pool: pool}
}

func (r *fieldRepository) Create(ctx context.Context, field domain.Field) (domain.Field, error) {
	if r.pool == nil {
		return domain.Field{}, fmt.Errorf("field repository not initialized")
	}
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	if field.Life.CreatedTime.IsZero() {
		field.Life.CreatedTime = time.Now().UTC()
	}

	options, err := json.Marshal(nonNil(field.CategoricalOptions))
	if err != nil {
		return domain.Field{}, fmt.Errorf("failed to encode categorical options: %w", err)
	}
	verifier, err := json.Marshal(nonNil(field.Verifier))
	if err != nil {
		return domain.Field{}, fmt.Errorf("failed to encode field verifier: %w", err)
	}
	properties, err := json.Marshal(nonNil(field.Properties))
	if err != nil {
		return domain.Field{}, fmt.Errorf("failed to encode field properties: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO fields (id, study_id, field_id, field_name, data_type, categorical_options, unit, comments,
		                     verifier, properties, data_version, created_time, created_user, deleted_time, deleted_user)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		field.ID,
		field.StudyID,
		field.FieldID,
		field.FieldName,
		string(field.DataType),
		options,
		field.Unit,
		field.Comments,
		verifier,
		properties,
		field.DataVersion,
		field.Life.CreatedTime,
		field.Life.CreatedUser,
		field.Life.DeletedTime,
		field.Life.DeletedUser,
	)
	if err != nil {
		return domain.Field{}, fmt.Errorf("failed to create field: %w", err)
	}
	return field, nil
}

func (r *fieldRepository) ListByVersions(ctx context.Context, studyID uuid.UUID, versions []*string) ([]domain.Field, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("field repository not initialized")
	}
	versionPred, ok := permission.VersionPredicate(versions)
	if !ok {
		return []domain.Field{}, nil
	}

	query, args, err := psql.
		Select("id", "study_id", "field_id", "field_name", "data_type", "categorical_options", "unit", "comments",
			"verifier", "properties", "data_version", "created_time", "created_user", "deleted_time", "deleted_user").
		From("fields").
		Where(sq.And{sq.Eq{"study_id": studyID}, versionPred}).
		OrderBy("created_time ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build field query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	fields := []domain.Field{}
	for rows.Next() {
		var (
			field       domain.Field
			dataType    string
			options     []byte
			verifier    []byte
			properties  []byte
			dataVersion pgtype.Text
			deletedTime pgtype.Timestamptz
			deletedUser pgtype.Text
		)
		if scanErr := rows.Scan(
			&field.ID,
			&field.StudyID,
			&field.FieldID,
			&field.FieldName,
			&dataType,
			&options,
			&field.Unit,
			&field.Comments,
			&verifier,
			&properties,
			&dataVersion,
			&field.Life.CreatedTime,
			&field.Life.CreatedUser,
			&deletedTime,
			&deletedUser,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan field: %w", scanErr)
		}
		field.DataType = domain.DataType(dataType)
		if err := decodeJSONColumns(
			jsonColumn{"categorical_options", options, &field.CategoricalOptions},
			jsonColumn{"verifier", verifier, &field.Verifier},
			jsonColumn{"properties", properties, &field.Properties},
		); err != nil {
			return nil, err
		}
		field.DataVersion = textPtr(dataVersion)
		field.Life.DeletedTime = timePtr(deletedTime)
		field.Life.DeletedUser = textPtr(deletedUser)
		fields = append(fields, field)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate fields: %w", rowsErr)
	}
	return fields, nil
}

type jsonColumn struct {
	name   string
	raw    []byte
	target any
}

func decodeJSONColumns(columns ...jsonColumn) error {
	for _, c := range columns {
		if len(c.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(c.raw, c.target); err != nil {
			return fmt.Errorf("failed to decode %s: %w", c.name, err)
		}
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
