package repository

import (
	"context"
	"time"

	"draftreview/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReviewLogRepository is append-only: there is no update or delete.
type ReviewLogRepository interface {
	Append(ctx context.Context, entry *model.ReviewLog) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]model.ReviewLog, error)
	ListByActor(ctx context.Context, actorID string, page, limit int) ([]model.ReviewLog, int64, error)
	ListByRange(ctx context.Context, from, to time.Time, page, limit int) ([]model.ReviewLog, int64, error)
}

type reviewLogRepository struct {
	db *gorm.DB
}

func NewReviewLogRepository(db *gorm.DB) ReviewLogRepository {
	return &reviewLogRepository{db: db}
}

func (r *reviewLogRepository) Append(ctx context.Context, entry *model.ReviewLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

// ListByTask returns the task's history oldest first.
func (r *reviewLogRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]model.ReviewLog, error) {
	var logs []model.ReviewLog
	err := GetDB(ctx, r.db).
		Where("task_id = ?", taskID).
		Order("created_at asc").Order("id asc").
		Find(&logs).Error
	return logs, err
}

func (r *reviewLogRepository) ListByActor(ctx context.Context, actorID string, page, limit int) ([]model.ReviewLog, int64, error) {
	return r.list(GetDB(ctx, r.db).Where("actor_id = ?", actorID), page, limit)
}

// ListByRange lists entries with from <= created_at < to. A zero bound is open.
func (r *reviewLogRepository) ListByRange(ctx context.Context, from, to time.Time, page, limit int) ([]model.ReviewLog, int64, error) {
	q := GetDB(ctx, r.db)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to.UTC())
	}
	return r.list(q, page, limit)
}

func (r *reviewLogRepository) list(q *gorm.DB, page, limit int) ([]model.ReviewLog, int64, error) {
	var logs []model.ReviewLog
	var total int64

	if err := q.Session(&gorm.Session{}).Model(&model.ReviewLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := q.Session(&gorm.Session{}).Order("created_at desc").Order("id desc").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
