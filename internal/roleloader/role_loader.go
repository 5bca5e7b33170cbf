// Package roleloader batches role lookups so that concurrent permission
// checks within one request share a single repository round trip per study.
package roleloader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/studyclips/internal/domain"
	"github.com/rpattn/studyclips/internal/repository"
)

type ctxKey string

const roleLoaderKey ctxKey = "roleLoader"

// RoleLoader resolves the live roles of a user in a study.
type RoleLoader struct {
	Loader *dataloader.Loader
}

func key(studyID uuid.UUID, userID string) dataloader.Key {
	return dataloader.StringKey(studyID.String() + "/" + userID)
}

func splitKey(k dataloader.Key) (uuid.UUID, string, error) {
	studyRaw, userID, found := strings.Cut(k.String(), "/")
	if !found {
		return uuid.Nil, "", fmt.Errorf("malformed role key %q", k.String())
	}
	studyID, err := uuid.Parse(studyRaw)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid study UUID: %w", err)
	}
	return studyID, userID, nil
}

// NewRoleLoader returns a loader that groups the pending keys by study and
// issues one ListByUsers call per study.
func NewRoleLoader(repo repository.RoleRepository) *RoleLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		byStudy := make(map[uuid.UUID][]string)
		parsed := make([]struct {
			studyID uuid.UUID
			userID  string
		}, len(keys))
		for i, k := range keys {
			studyID, userID, err := splitKey(k)
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			parsed[i].studyID, parsed[i].userID = studyID, userID
			byStudy[studyID] = append(byStudy[studyID], userID)
		}

		found := make(map[uuid.UUID]map[string][]domain.Role, len(byStudy))
		failed := make(map[uuid.UUID]error)
		for studyID, users := range byStudy {
			roles, err := repo.ListByUsers(ctx, studyID, users)
			if err != nil {
				failed[studyID] = err
				continue
			}
			found[studyID] = roles
		}

		// Build results in the same order as keys
		for i := range keys {
			if results[i] != nil {
				continue
			}
			p := parsed[i]
			if err, ok := failed[p.studyID]; ok {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			roles := found[p.studyID][p.userID]
			if roles == nil {
				roles = []domain.Role{}
			}
			results[i] = &dataloader.Result{Data: roles}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &RoleLoader{Loader: loader}
}

// ListByUser blocks until the batch holding the lookup has run.
func (l *RoleLoader) ListByUser(ctx context.Context, studyID uuid.UUID, userID string) ([]domain.Role, error) {
	value, err := l.Loader.Load(ctx, key(studyID, userID))()
	if err != nil {
		return nil, err
	}
	roles, ok := value.([]domain.Role)
	if !ok {
		return nil, fmt.Errorf("unexpected role loader value %T", value)
	}
	return roles, nil
}

// Middleware attaches a fresh RoleLoader to every request context, so role
// lookups are cached for the lifetime of one request only.
func Middleware(repo repository.RoleRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLoader(r.Context(), NewRoleLoader(repo))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithLoader returns a context carrying loader.
func WithLoader(ctx context.Context, loader *RoleLoader) context.Context {
	return context.WithValue(ctx, roleLoaderKey, loader)
}

// FromContext retrieves the loader attached by Middleware.
func FromContext(ctx context.Context) *RoleLoader {
	if l, ok := ctx.Value(roleLoaderKey).(*RoleLoader); ok {
		return l
	}
	return nil
}

// Source serves role lookups through the request's loader when one is
// attached and straight from the repository otherwise.
type Source struct {
	repo repository.RoleRepository
}

// NewSource wraps repo.
func NewSource(repo repository.RoleRepository) *Source {
	return &Source{repo: repo}
}

// ListByUser implements permission.RoleSource.
func (s *Source) ListByUser(ctx context.Context, studyID uuid.UUID, userID string) ([]domain.Role, error) {
	if l := FromContext(ctx); l != nil {
		return l.ListByUser(ctx, studyID, userID)
	}
	return s.repo.ListByUser(ctx, studyID, userID)
}
