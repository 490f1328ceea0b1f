package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Transition events accepted by the workflow engine.
const (
	EventCreate              = "create"
	EventAssign              = "assign"
	EventAccept              = "accept"
	EventEdit                = "edit"
	EventApprove             = "approve"
	EventReject              = "reject"
	EventRequestModification = "request_modification"
	EventSubmitRevision      = "submit_revision"
	EventResumeReview        = "resume_review"
	EventAuthorize           = "authorize"
	EventDispatch            = "dispatch"
	EventCancel              = "cancel"
)

// ContentDiff describes a change to one of the task's content fields.
type ContentDiff struct {
	Field        string `json:"field"`
	Unified      string `json:"unified"`
	BeforeLength int    `json:"before_length"`
	AfterLength  int    `json:"after_length"`
}

// ReviewLog is one immutable row per transition. Rows are written only by the
// workflow engine, inside the transaction that mutates the task.
type ReviewLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"task_id"`
	ActorID   string         `gorm:"type:varchar(64);not null;index" json:"actor_id"`
	Event     string         `gorm:"type:varchar(30);not null" json:"event"`
	OldStatus *TaskStatus    `gorm:"type:varchar(30)" json:"old_status"`
	NewStatus TaskStatus     `gorm:"type:varchar(30);not null" json:"new_status"`
	Comment   string         `gorm:"type:text" json:"comment,omitempty"`
	Diff      datatypes.JSON `gorm:"type:jsonb" json:"diff,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (l *ReviewLog) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate refuses any update through gorm; the log is append-only.
func (l *ReviewLog) BeforeUpdate(_ *gorm.DB) error {
	return ErrAuditImmutable
}

func (l *ReviewLog) BeforeDelete(_ *gorm.DB) error {
	return ErrAuditImmutable
}
