package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReviewerWorkload is the per-reviewer row owned by the workload registry.
// CurrentWorkloadScore is derived and recomputed on every assignment or
// completion; it is never edited directly.
type ReviewerWorkload struct {
	ReviewerID         string          `gorm:"type:varchar(64);primaryKey" json:"reviewer_id"`
	DisplayName        string          `gorm:"type:varchar(255)" json:"display_name"`
	ActiveCases        int             `gorm:"not null;default:0" json:"active_cases"`
	PendingReviews     int             `gorm:"not null;default:0" json:"pending_reviews"`
	DailyCapacity      int             `gorm:"not null;default:0" json:"daily_capacity"`
	MaxConcurrentTasks int             `gorm:"not null;default:0" json:"max_concurrent_tasks"`
	ApprovalRate       decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"approval_rate"`
	ClientSatisfaction decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"client_satisfaction"`
	IsAvailable        bool            `gorm:"not null;index" json:"is_available"`

	CurrentWorkloadScore decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0" json:"current_workload_score"`
	ScoreUpdatedAt       time.Time       `gorm:"index" json:"score_updated_at"`
	Version              int             `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapacity reports whether the reviewer can take one more task.
func (w *ReviewerWorkload) HasCapacity() bool {
	return w.IsAvailable && w.PendingReviews < w.MaxConcurrentTasks
}
