package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/studyclips/internal/domain"
)

type roleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository wires a repository backed by pgxpool.
func NewRoleRepository(pool *pgxpool.Pool) RoleRepository {
	return &roleRepository{pool: pool}
}

func (r *roleRepository) Create(ctx context.Context, role domain.Role) (domain.Role, error) {
	if r.pool == nil {
		return domain.Role{}, fmt.Errorf("role repository not initialized")
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	permissions, err := json.Marshal(nonNil(role.DataPermissions))
	if err != nil {
		return domain.Role{}, fmt.Errorf("failed to encode data permissions: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO roles (id, study_id, name, description, users, data_permissions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		role.ID,
		role.StudyID,
		role.Name,
		role.Description,
		nonNil(role.Users),
		permissions,
		role.CreatedAt,
	)
	if err != nil {
		return domain.Role{}, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

func (r *roleRepository) ListByUser(ctx context.Context, studyID uuid.UUID, userID string) ([]domain.Role, error) {
	byUser, err := r.ListByUsers(ctx, studyID, []string{userID})
	if err != nil {
		return nil, err
	}
	return byUser[userID], nil
}

func (r *roleRepository) ListByUsers(ctx context.Context, studyID uuid.UUID, userIDs []string) (map[string][]domain.Role, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("role repository not initialized")
	}
	result := make(map[string][]domain.Role, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, study_id, name, description, users, data_permissions, created_at
		 FROM roles
		 WHERE study_id = $1 AND users && $2 AND deleted_at IS NULL
		 ORDER BY created_at ASC`,
		studyID,
		userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	roles, err := pgx.CollectRows(rows, scanRole)
	if err != nil {
		return nil, fmt.Errorf("failed to scan roles: %w", err)
	}

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	for _, role := range roles {
		for _, user := range role.Users {
			if _, ok := wanted[user]; ok {
				result[user] = append(result[user], role)
			}
		}
	}
	return result, nil
}

func scanRole(row pgx.CollectableRow) (domain.Role, error) {
	var (
		role        domain.Role
		permissions []byte
	)
	if err := row.Scan(
		&role.ID,
		&role.StudyID,
		&role.Name,
		&role.Description,
		&role.Users,
		&permissions,
		&role.CreatedAt,
	); err != nil {
		return domain.Role{}, err
	}
	if err := decodeJSONColumns(jsonColumn{"data_permissions", permissions, &role.DataPermissions}); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}
