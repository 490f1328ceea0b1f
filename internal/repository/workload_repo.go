package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"draftreview/internal/model"

	"gorm.io/gorm"
)

type WorkloadRepository interface {
	Create(ctx context.Context, w *model.ReviewerWorkload) error
	Find(ctx context.Context, reviewerID string) (*model.ReviewerWorkload, error)
	List(ctx context.Context) ([]model.ReviewerWorkload, error)
	ListCandidates(ctx context.Context) ([]model.ReviewerWorkload, error)
	CompareAndSwap(ctx context.Context, w *model.ReviewerWorkload, expectedVersion int, requireCapacity bool) error
}

type workloadRepository struct {
	db *gorm.DB
}

func NewWorkloadRepository(db *gorm.DB) WorkloadRepository {
	return &workloadRepository{db: db}
}

func (r *workloadRepository) Create(ctx context.Context, w *model.ReviewerWorkload) error {
	return GetDB(ctx, r.db).Create(w).Error
}

func (r *workloadRepository) Find(ctx context.Context, reviewerID string) (*model.ReviewerWorkload, error) {
	var w model.ReviewerWorkload
	if err := GetDB(ctx, r.db).First(&w, "reviewer_id = ?", reviewerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("reviewer %s: %w", reviewerID, model.ErrNotFound)
		}
		return nil, err
	}
	return &w, nil
}

func (r *workloadRepository) List(ctx context.Context) ([]model.ReviewerWorkload, error) {
	var rows []model.ReviewerWorkload
	err := GetDB(ctx, r.db).Order("reviewer_id ASC").Find(&rows).Error
	return rows, err
}

// ListCandidates returns available reviewers below their concurrency limit.
func (r *workloadRepository) ListCandidates(ctx context.Context) ([]model.ReviewerWorkload, error) {
	var rows []model.ReviewerWorkload
	err := GetDB(ctx, r.db).
		Where("is_available = ? AND pending_reviews < max_concurrent_tasks", true).
		Order("reviewer_id ASC").
		Find(&rows).Error
	return rows, err
}

// CompareAndSwap persists w if the stored row is still at expectedVersion.
// With requireCapacity the stored row must also be available and below its
// concurrency limit, so an increment never oversubscribes a reviewer.
func (r *workloadRepository) CompareAndSwap(ctx context.Context, w *model.ReviewerWorkload, expectedVersion int, requireCapacity bool) error {
	now := time.Now().UTC()
	q := GetDB(ctx, r.db).Model(&model.ReviewerWorkload{}).
		Where("reviewer_id = ? AND version = ?", w.ReviewerID, expectedVersion)
	if requireCapacity {
		q = q.Where("is_available = ? AND pending_reviews < max_concurrent_tasks", true)
	}

	res := q.Updates(map[string]interface{}{
		"display_name":           w.DisplayName,
		"active_cases":           w.ActiveCases,
		"pending_reviews":        w.PendingReviews,
		"daily_capacity":         w.DailyCapacity,
		"max_concurrent_tasks":   w.MaxConcurrentTasks,
		"approval_rate":          w.ApprovalRate,
		"client_satisfaction":    w.ClientSatisfaction,
		"is_available":           w.IsAvailable,
		"current_workload_score": w.CurrentWorkloadScore,
		"score_updated_at":       w.ScoreUpdatedAt,
		"version":                expectedVersion + 1,
		"updated_at":             now,
	})
	if res.Error != nil {
		return fmt.Errorf("update workload %s: %w", w.ReviewerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("workload %s changed since read (v%d): %w", w.ReviewerID, expectedVersion, model.ErrConcurrentModification)
	}
	w.Version = expectedVersion + 1
	w.UpdatedAt = now
	return nil
}
