package repository

import (
	"context"
	"fmt"
	"time"

	"draftreview/internal/model"

	"gorm.io/gorm"
)

type StatisticsRepository interface {
	CountByStatus(ctx context.Context, scope model.StatisticsScope) (map[model.TaskStatus]int64, error)
	CountCreatedSince(ctx context.Context, scope model.StatisticsScope, since time.Time) (int64, error)
	CountOverdue(ctx context.Context, scope model.StatisticsScope, now time.Time) (int64, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) CountByStatus(ctx context.Context, scope model.StatisticsScope) (map[model.TaskStatus]int64, error) {
	var rows []struct {
		Status model.TaskStatus
		Count  int64
	}
	if err := r.scoped(ctx, scope).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}

	counts := make(map[model.TaskStatus]int64, len(model.AllStatuses))
	for _, s := range model.AllStatuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *statisticsRepository) CountCreatedSince(ctx context.Context, scope model.StatisticsScope, since time.Time) (int64, error) {
	var n int64
	if err := r.scoped(ctx, scope).
		Where("created_at >= ?", since.UTC()).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count created tasks: %w", err)
	}
	return n, nil
}

// CountOverdue counts open tasks whose deadline has passed.
func (r *statisticsRepository) CountOverdue(ctx context.Context, scope model.StatisticsScope, now time.Time) (int64, error) {
	var n int64
	if err := r.scoped(ctx, scope).
		Where("status IN ? AND deadline < ?", openStatuses, now.UTC()).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count overdue tasks: %w", err)
	}
	return n, nil
}

func (r *statisticsRepository) scoped(ctx context.Context, scope model.StatisticsScope) *gorm.DB {
	q := GetDB(ctx, r.db).Model(&model.ReviewTask{})
	if scope.WorkspaceID != "" {
		q = q.Where("workspace_id = ?", scope.WorkspaceID)
	}
	if scope.ReviewerID != "" {
		q = q.Where("reviewer_id = ?", scope.ReviewerID)
	}
	if scope.CreatorID != "" {
		q = q.Where("creator_id = ?", scope.CreatorID)
	}
	return q
}
