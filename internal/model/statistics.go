package model

import "time"

// StatisticsScope narrows GetStatistics. Empty fields mean "any".
type StatisticsScope struct {
	WorkspaceID string `form:"workspace_id" json:"workspace_id,omitempty"`
	ReviewerID  string `form:"reviewer_id" json:"reviewer_id,omitempty"`
	CreatorID   string `form:"creator_id" json:"creator_id,omitempty"`
}

// TaskStatistics aggregates task counts for a scope.
type TaskStatistics struct {
	Scope        StatisticsScope      `json:"scope"`
	ByStatus     map[TaskStatus]int64 `json:"by_status"`
	Total        int64                `json:"total"`
	CreatedToday int64                `json:"created_today"`
	Overdue      int64                `json:"overdue"`
	GeneratedAt  time.Time            `json:"generated_at"`
}
