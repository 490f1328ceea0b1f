package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskEvent is published to live dashboards after a transition commits.
type TaskEvent struct {
	Type       string      `json:"type"`
	TaskID     uuid.UUID   `json:"task_id"`
	TaskNumber string      `json:"task_number"`
	Event      string      `json:"event"`
	OldStatus  *TaskStatus `json:"old_status"`
	NewStatus  TaskStatus  `json:"new_status"`
	ReviewerID *string     `json:"reviewer_id"`
	ActorID    string      `json:"actor_id"`
	At         time.Time   `json:"at"`
}

const TaskEventType = "task_transition"
