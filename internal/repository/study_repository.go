package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/studyclips/internal/domain"
)

type studyRepository struct {
	pool *pgxpool.Pool
}

// NewStudyRepository wires a repository backed by pgxpool.
func NewStudyRepository(pool *pgxpool.Pool) StudyRepository {
	return &studyRepository{pool: pool}
}

func (r *studyRepository) Create(ctx context.Context, study domain.Study) (domain.Study, error) {
	if r.pool == nil {
		return domain.Study{}, fmt.Errorf("study repository not initialized")
	}
	if study.ID == uuid.Nil {
		study.ID = uuid.New()
	}
	if study.CreatedAt.IsZero() {
		study.CreatedAt = time.Now().UTC()
	}
	if study.DataVersions == nil {
		study.DataVersions = []domain.DataVersion{}
	}
	study.Config = study.Config.WithDefaults()

	versions, err := json.Marshal(study.DataVersions)
	if err != nil {
		return domain.Study{}, fmt.Errorf("failed to encode data versions: %w", err)
	}
	config, err := json.Marshal(study.Config)
	if err != nil {
		return domain.Study{}, fmt.Errorf("failed to encode study config: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO studies (id, name, description, data_versions, current_data_version, config, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		study.ID,
		study.Name,
		study.Description,
		versions,
		study.CurrentDataVersion,
		config,
		study.CreatedAt,
	)
	if err != nil {
		return domain.Study{}, fmt.Errorf("failed to create study: %w", err)
	}
	return study, nil
}

func (r *studyRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Study, error) {
	if r.pool == nil {
		return domain.Study{}, fmt.Errorf("study repository not initialized")
	}

	var (
		study     domain.Study
		versions  []byte
		config    []byte
		deletedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, name, description, data_versions, current_data_version, config, created_at, deleted_at
		 FROM studies
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(
		&study.ID,
		&study.Name,
		&study.Description,
		&versions,
		&study.CurrentDataVersion,
		&config,
		&study.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Study{}, fmt.Errorf("study %s: %w", id, ErrNotFound)
		}
		return domain.Study{}, fmt.Errorf("failed to get study: %w", err)
	}

	if len(versions) > 0 {
		if err := json.Unmarshal(versions, &study.DataVersions); err != nil {
			return domain.Study{}, fmt.Errorf("failed to decode data versions: %w", err)
		}
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &study.Config); err != nil {
			return domain.Study{}, fmt.Errorf("failed to decode study config: %w", err)
		}
	}
	study.Config = study.Config.WithDefaults()
	if deletedAt.Valid {
		t := deletedAt.Time
		study.DeletedAt = &t
	}
	return study, nil
}
