package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"draftreview/internal/model"
	"draftreview/internal/repository"

	"github.com/google/uuid"
)

type ReviewLogResponse struct {
	ID        string             `json:"id"`
	TaskID    string             `json:"task_id"`
	ActorID   string             `json:"actor_id"`
	Event     string             `json:"event"`
	OldStatus *model.TaskStatus  `json:"old_status"`
	NewStatus model.TaskStatus   `json:"new_status"`
	Comment   string             `json:"comment,omitempty"`
	Diff      *model.ContentDiff `json:"diff,omitempty"`
	CreatedAt string             `json:"created_at"`
}

type AuditService interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]ReviewLogResponse, error)
	ListByActor(ctx context.Context, actorID string, page, limit int) ([]ReviewLogResponse, int64, error)
	ListByRange(ctx context.Context, from, to time.Time, page, limit int) ([]ReviewLogResponse, int64, error)
}

type auditService struct {
	logs repository.ReviewLogRepository
}

// NewAuditService creates the read side of the review log.
func NewAuditService(logs repository.ReviewLogRepository) AuditService {
	return &auditService{logs: logs}
}

func (s *auditService) ListByTask(ctx context.Context, taskID uuid.UUID) ([]ReviewLogResponse, error) {
	logs, err := s.logs.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return ToReviewLogResponses(logs), nil
}

func (s *auditService) ListByActor(ctx context.Context, actorID string, page, limit int) ([]ReviewLogResponse, int64, error) {
	if actorID == "" {
		return nil, 0, fmt.Errorf("actor_id is required: %w", model.ErrInvalidRequest)
	}
	logs, total, err := s.logs.ListByActor(ctx, actorID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	return ToReviewLogResponses(logs), total, nil
}

func (s *auditService) ListByRange(ctx context.Context, from, to time.Time, page, limit int) ([]ReviewLogResponse, int64, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, 0, fmt.Errorf("from must be before to: %w", model.ErrInvalidRequest)
	}
	logs, total, err := s.logs.ListByRange(ctx, from, to, page, limit)
	if err != nil {
		return nil, 0, err
	}
	return ToReviewLogResponses(logs), total, nil
}

// ToReviewLogResponses decodes stored diffs for presentation.
func ToReviewLogResponses(logs []model.ReviewLog) []ReviewLogResponse {
	res := make([]ReviewLogResponse, 0, len(logs))
	for _, l := range logs {
		item := ReviewLogResponse{
			ID:        l.ID.String(),
			TaskID:    l.TaskID.String(),
			ActorID:   l.ActorID,
			Event:     l.Event,
			OldStatus: l.OldStatus,
			NewStatus: l.NewStatus,
			Comment:   l.Comment,
			CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
		}
		if len(l.Diff) > 0 {
			var diff model.ContentDiff
			if err := json.Unmarshal(l.Diff, &diff); err == nil {
				item.Diff = &diff
			}
		}
		res = append(res, item)
	}
	return res
}
