package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobKindTryOn        = "tryon"
	JobKindRegeneration = "regeneration"
	JobKindVideo        = "video"
)

type Job struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	ProductImageID        uuid.UUID
	ModelPhotoID          uuid.UUID
	Kind                  string
	Status                string
	ResultURL             sql.NullString
	CreditsUsed           int
	ErrorMessage          sql.NullString
	ExternalHandle        sql.NullString
	SourceJobID           uuid.NullUUID
	ProductName           string
	ModelName             string
	ModelGender           string
	Metadata              json.RawMessage
	CreatedAt             time.Time
	ProcessingStartedAt   sql.NullTime
	ProcessingCompletedAt sql.NullTime
}

func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// VideoJob animates the result of a completed image job. It has its own
// lifecycle and never touches the parent row.
type VideoJob struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	ParentJobID           uuid.UUID
	Status                string
	VideoURL              sql.NullString
	ErrorMessage          sql.NullString
	CreditsUsed           int
	DurationSeconds       int
	AspectRatio           string
	Prompt                string
	ExternalHandle        sql.NullString
	CreatedAt             time.Time
	ProcessingStartedAt   sql.NullTime
	ProcessingCompletedAt sql.NullTime
}

func (v *VideoJob) IsTerminal() bool {
	return IsTerminalStatus(v.Status)
}

func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// ErrArtifactNotFound is returned when an input artifact does not exist or
// belongs to someone else.
var ErrArtifactNotFound = errors.New("artifact not found")

// ProductImage and ModelPhoto are owned by the upload side of the product;
// this service only reads them.
type ProductImage struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	ImageURL string    `json:"image_url"`
	Category string    `json:"category,omitempty"`
}

type ModelPhoto struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	Gender   string    `json:"gender"`
	ImageURL string    `json:"image_url"`
}
