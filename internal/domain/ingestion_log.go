package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures a clip that was rejected during upload.
type IngestionLogEntry struct {
	ID        uuid.UUID `json:"id"`
	StudyID   uuid.UUID `json:"studyId"`
	Requester string    `json:"requester"`
	FieldID   string    `json:"fieldId"`
	ClipIndex *int      `json:"clipIndex,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
