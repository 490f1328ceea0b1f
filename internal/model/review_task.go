package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskStatus enumerates the lifecycle states of a ReviewTask.
type TaskStatus string

const (
	StatusPending               TaskStatus = "pending"
	StatusInReview              TaskStatus = "in_review"
	StatusApproved              TaskStatus = "approved"
	StatusRejected              TaskStatus = "rejected"
	StatusModificationRequested TaskStatus = "modification_requested"
	StatusModified              TaskStatus = "modified"
	StatusAuthorized            TaskStatus = "authorized"
	StatusSent                  TaskStatus = "sent"
	StatusCancelled             TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order. Statistics use it to
// report zero counts.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusInReview,
	StatusModificationRequested,
	StatusModified,
	StatusApproved,
	StatusRejected,
	StatusAuthorized,
	StatusSent,
	StatusCancelled,
}

// IsTerminal reports whether no further transitions are permitted.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusCancelled
}

// HoldsReviewerSlot reports whether a task in this status counts against its
// reviewer's pending_reviews. Rejected tasks are closed and release the slot.
func (s TaskStatus) HoldsReviewerSlot() bool {
	return !s.IsTerminal() && s != StatusRejected
}

// HasFinalContent reports whether final_content must be set in this status.
func (s TaskStatus) HasFinalContent() bool {
	return s == StatusApproved || s == StatusAuthorized || s == StatusSent
}

// AIMetadata records which provider produced the draft and how.
type AIMetadata struct {
	Provider          string `json:"provider"`
	Model             string `json:"model,omitempty"`
	RefinedBy         string `json:"refined_by,omitempty"`
	UsedFallback      bool   `json:"used_fallback"`
	DegradeReason     string `json:"degrade_reason,omitempty"`
	PromptFingerprint string `json:"prompt_fingerprint"`
	Attempts          int    `json:"attempts"`
	DurationMs        int64  `json:"duration_ms"`
}

// ReviewTask is one document-drafting-and-review unit of work.
// Status and content fields are only ever written by the workflow engine.
type ReviewTask struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TaskNumber  string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"task_number"`
	WorkspaceID string    `gorm:"type:varchar(64);index" json:"workspace_id,omitempty"`
	CaseID      *string   `gorm:"type:varchar(64);index" json:"case_id,omitempty"`
	OrderID     *string   `gorm:"type:varchar(64);index" json:"order_id,omitempty"`

	DocumentType string         `gorm:"type:varchar(50);not null" json:"document_type"`
	Title        string         `gorm:"type:varchar(255)" json:"title"`
	Prompt       datatypes.JSON `gorm:"type:jsonb" json:"prompt"`

	OriginalContent string  `gorm:"type:text;not null" json:"original_content"`
	CurrentContent  string  `gorm:"type:text;not null" json:"current_content"`
	FinalContent    *string `gorm:"type:text" json:"final_content"`

	ReviewerID *string `gorm:"type:varchar(64);index" json:"reviewer_id"`
	CreatorID  string  `gorm:"type:varchar(64);not null;index" json:"creator_id"`

	Status   TaskStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	Priority int        `gorm:"not null;default:3;index" json:"priority"`
	Deadline time.Time  `gorm:"not null;index" json:"deadline"`
	Version  int        `gorm:"not null;default:1" json:"version"`

	AIMetadata datatypes.JSONType[AIMetadata] `gorm:"type:jsonb" json:"ai_metadata"`
	Metadata   datatypes.JSONMap              `gorm:"type:jsonb" json:"metadata,omitempty"`

	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (t *ReviewTask) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsOverdue reports a deadline breach. It is a read-only signal; it never
// triggers a transition.
func (t *ReviewTask) IsOverdue(now time.Time) bool {
	return !t.Status.IsTerminal() && t.Status != StatusRejected && now.After(t.Deadline)
}

// IsAssignedTo reports whether actorID is the task's reviewer.
func (t *ReviewTask) IsAssignedTo(actorID string) bool {
	return t.ReviewerID != nil && *t.ReviewerID == actorID
}
