package domain

import (
	"time"

	"github.com/google/uuid"
)

// Permission bits carried by a data permission entry.
const (
	PermissionDelete = 1
	PermissionWrite  = 2
	PermissionRead   = 4
)

// DataPermission grants access to clips whose field id matches one of
// Fields and whose properties match DataProperties. All patterns are
// regular expressions.
type DataPermission struct {
	Fields []string `json:"fields"`
	// DataProperties maps a property name to the patterns its value may
	// match.
	DataProperties     map[string][]string `json:"dataProperties,omitempty"`
	IncludeUnversioned bool                `json:"includeUnVersioned"`
	Permission         int                 `json:"permission"`
}

// Grants reports whether the entry carries bit.
func (p DataPermission) Grants(bit int) bool {
	return p.Permission&bit == bit
}

// Role binds users to data permissions within a study.
type Role struct {
	ID              uuid.UUID        `json:"id"`
	StudyID         uuid.UUID        `json:"studyId"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Users           []string         `json:"users"`
	DataPermissions []DataPermission `json:"dataPermissions"`
	CreatedAt       time.Time        `json:"createdAt"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
}
