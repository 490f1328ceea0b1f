package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	GenerationRolePrimary = "primary"
	GenerationRoleRefine  = "refine"

	GenerationOutcomeSuccess   = "success"
	GenerationOutcomeFailure   = "failure"
	GenerationOutcomeDiscarded = "discarded"
)

// GenerationRecord captures one provider attempt for cost and latency
// analysis. Rows are written asynchronously and never block generation.
type GenerationRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider          string    `gorm:"type:varchar(50);not null;index" json:"provider"`
	Model             string    `gorm:"type:varchar(100)" json:"model"`
	Role              string    `gorm:"type:varchar(20);not null" json:"role"`
	Attempt           int       `gorm:"not null" json:"attempt"`
	Outcome           string    `gorm:"type:varchar(20);not null;index" json:"outcome"`
	LatencyMs         int64     `gorm:"not null" json:"latency_ms"`
	PromptFingerprint string    `gorm:"type:varchar(64);index" json:"prompt_fingerprint"`
	OutputLength      int       `json:"output_length"`
	Error             string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt         time.Time `gorm:"not null" json:"started_at"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
}

func (r *GenerationRecord) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
