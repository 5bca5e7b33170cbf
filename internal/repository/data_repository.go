package repository

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/studyclips/internal/clip"
	"github.com/rpattn/studyclips/internal/db"
	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/logger"
	"github.com/rpattn/studyclips/internal/permission"
)

var dataColumns = []string{
	"id", "study_id", "field_id", "data_version", "value", "properties",
	"created_time", "created_user", "deleted_time", "deleted_user", "metadata",
}

type dataRepository struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewDataRepository wires a repository backed by pgxpool. log receives
// transaction failures; nil discards them.
func NewDataRepository(pool *pgxpool.Pool, log logger.Logger) DataRepository {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &dataRepository{pool: pool, log: log}
}

// BuildFetchQuery renders the SQL for query. ok is false when the query
// cannot match anything and should not be sent.
func BuildFetchQuery(query DataQuery) (sql string, args []any, ok bool, err error) {
	rolePred, ok := permission.Predicate(query.Roles)
	if !ok {
		return "", nil, false, nil
	}
	versionPred, ok := permission.VersionPredicate(query.Versions)
	if !ok {
		return "", nil, false, nil
	}

	where := sq.And{sq.Eq{"study_id": query.StudyID}, versionPred}
	if fieldPred := query.Fields.Predicate(); fieldPred != nil {
		where = append(where, fieldPred)
	}
	where = append(where, rolePred)

	sql, args, err = psql.
		Select(dataColumns...).
		From("data_records").
		Where(where).
		OrderBy("created_time ASC", "id ASC").
		ToSql()
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to build data query: %w", err)
	}
	return sql, args, true, nil
}

func (r *dataRepository) Fetch(ctx context.Context, query DataQuery) ([]domain.DataRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("data repository not initialized")
	}
	sql, args, ok, err := BuildFetchQuery(query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.DataRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanDataRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to scan data: %w", err)
	}
	return records, nil
}

func scanDataRecord(row pgx.CollectableRow) (domain.DataRecord, error) {
	var (
		record      domain.DataRecord
		dataVersion pgtype.Text
		value       []byte
		properties  []byte
		deletedTime pgtype.Timestamptz
		deletedUser pgtype.Text
		metadata    []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.StudyID,
		&record.FieldID,
		&dataVersion,
		&value,
		&properties,
		&record.Life.CreatedTime,
		&record.Life.CreatedUser,
		&deletedTime,
		&deletedUser,
		&metadata,
	); err != nil {
		return domain.DataRecord{}, err
	}
	record.DataVersion = textPtr(dataVersion)
	record.Life.DeletedTime = timePtr(deletedTime)
	record.Life.DeletedUser = textPtr(deletedUser)
	if len(value) > 0 {
		decoded, err := clip.DecodeValue(value)
		if err != nil {
			return domain.DataRecord{}, fmt.Errorf("failed to decode value: %w", err)
		}
		record.Value = decoded
	}
	if err := decodeJSONColumns(
		jsonColumn{"properties", properties, &record.Properties},
		jsonColumn{"metadata", metadata, &record.Metadata},
	); err != nil {
		return domain.DataRecord{}, err
	}
	return record, nil
}

func (r *dataRepository) InsertBatch(ctx context.Context, records []domain.DataRecord) error {
	if r.pool == nil {
		return fmt.Errorf("data repository not initialized")
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, record := range records {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		value, err := json.Marshal(clip.Normalize(record.Value))
		if err != nil {
			return fmt.Errorf("failed to encode value for field %s: %w", record.FieldID, err)
		}
		properties, err := json.Marshal(nonNilMap(record.Properties))
		if err != nil {
			return fmt.Errorf("failed to encode properties for field %s: %w", record.FieldID, err)
		}
		metadata, err := json.Marshal(nonNilMap(record.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode metadata for field %s: %w", record.FieldID, err)
		}
		batch.Queue(
			`INSERT INTO data_records (id, study_id, field_id, data_version, value, properties,
			                           created_time, created_user, deleted_time, deleted_user, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			record.ID,
			record.StudyID,
			record.FieldID,
			record.DataVersion,
			value,
			properties,
			record.Life.CreatedTime,
			record.Life.CreatedUser,
			record.Life.DeletedTime,
			record.Life.DeletedUser,
			metadata,
		)
	}

	return db.WithTx(ctx, r.pool, r.log, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert data record %d: %w", i, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to finish data batch: %w", err)
		}
		return nil
	})
}

func (r *dataRepository) Summary(ctx context.Context, studyID uuid.UUID) (domain.DataSummary, error) {
	if r.pool == nil {
		return domain.DataSummary{}, fmt.Errorf("data repository not initialized")
	}
	var summary domain.DataSummary
	err := r.pool.QueryRow(
		ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE data_version IS NOT NULL),
		   COUNT(*) FILTER (WHERE data_version IS NULL),
		   COUNT(*) FILTER (WHERE data_version IS NULL AND deleted_time IS NULL),
		   COUNT(*) FILTER (WHERE data_version IS NULL AND deleted_time IS NOT NULL)
		 FROM data_records
		 WHERE study_id = $1`,
		studyID,
	).Scan(&summary.VersionedCount, &summary.UnversionedCount, &summary.AddedCount, &summary.DeletedCount)
	if err != nil {
		return domain.DataSummary{}, fmt.Errorf("failed to summarise data: %w", err)
	}
	return summary, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
