package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"draftreview/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// openStatuses are the statuses that hold a reviewer slot.
var openStatuses = func() []model.TaskStatus {
	var out []model.TaskStatus
	for _, s := range model.AllStatuses {
		if s.HoldsReviewerSlot() {
			out = append(out, s)
		}
	}
	return out
}()

type TaskRepository interface {
	Create(ctx context.Context, task *model.ReviewTask) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ReviewTask, error)
	NextTaskNumber(ctx context.Context, now time.Time) (string, error)
	CompareAndSwap(ctx context.Context, task *model.ReviewTask, expectedStatus model.TaskStatus, expectedVersion int) error
	ListOpenForReviewer(ctx context.Context, reviewerID string, limit, offset int) ([]model.ReviewTask, error)
	ListUnassigned(ctx context.Context, limit int) ([]model.ReviewTask, error)
	CountOpenForReviewer(ctx context.Context, reviewerID string) (pending, active int64, err error)
}

type taskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *model.ReviewTask) error {
	return GetDB(ctx, r.db).Create(task).Error
}

func (r *taskRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ReviewTask, error) {
	var task model.ReviewTask
	if err := GetDB(ctx, r.db).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &task, nil
}

// NextTaskNumber returns the next LT-YYYYMMDD-NNNNN number for the day of now.
// Must run inside the transaction that inserts the task.
func (r *taskRepository) NextTaskNumber(ctx context.Context, now time.Time) (string, error) {
	db := GetDB(ctx, r.db)
	prefix := "LT-" + now.UTC().Format("20060102") + "-"

	// Use advisory lock to prevent concurrent duplicate task numbers
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix).Error; err != nil {
			return "", fmt.Errorf("lock task number sequence: %w", err)
		}
	}

	var count int64
	if err := db.Model(&model.ReviewTask{}).
		Where("task_number LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%05d", prefix, count+1), nil
}

// CompareAndSwap writes the task's mutable fields only if the stored row still
// has expectedStatus and expectedVersion. On success task.Version is advanced.
func (r *taskRepository) CompareAndSwap(ctx context.Context, task *model.ReviewTask, expectedStatus model.TaskStatus, expectedVersion int) error {
	now := time.Now().UTC()
	res := GetDB(ctx, r.db).Model(&model.ReviewTask{}).
		Where("id = ? AND status = ? AND version = ?", task.ID, expectedStatus, expectedVersion).
		Updates(map[string]interface{}{
			"status":          task.Status,
			"current_content": task.CurrentContent,
			"final_content":   task.FinalContent,
			"reviewer_id":     task.ReviewerID,
			"version":         expectedVersion + 1,
			"assigned_at":     task.AssignedAt,
			"accepted_at":     task.AcceptedAt,
			"approved_at":     task.ApprovedAt,
			"authorized_at":   task.AuthorizedAt,
			"sent_at":         task.SentAt,
			"cancelled_at":    task.CancelledAt,
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("update task %s: %w", task.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s changed since read (expected %s v%d): %w", task.ID, expectedStatus, expectedVersion, model.ErrConcurrentModification)
	}
	task.Version = expectedVersion + 1
	task.UpdatedAt = now
	return nil
}

// ListOpenForReviewer returns the reviewer's open tasks, highest priority
// first, then earliest deadline. The id tie-break keeps pages stable.
func (r *taskRepository) ListOpenForReviewer(ctx context.Context, reviewerID string, limit, offset int) ([]model.ReviewTask, error) {
	var tasks []model.ReviewTask
	err := GetDB(ctx, r.db).
		Where("reviewer_id = ? AND status IN ?", reviewerID, openStatuses).
		Order("priority DESC").Order("deadline ASC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepository) ListUnassigned(ctx context.Context, limit int) ([]model.ReviewTask, error) {
	var tasks []model.ReviewTask
	err := GetDB(ctx, r.db).
		Where("reviewer_id IS NULL AND status = ?", model.StatusPending).
		Order("priority DESC").Order("deadline ASC").Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepository) CountOpenForReviewer(ctx context.Context, reviewerID string) (int64, int64, error) {
	db := GetDB(ctx, r.db)
	var pending, active int64
	if err := db.Model(&model.ReviewTask{}).
		Where("reviewer_id = ? AND status IN ?", reviewerID, openStatuses).
		Count(&pending).Error; err != nil {
		return 0, 0, err
	}
	if err := db.Model(&model.ReviewTask{}).
		Where("reviewer_id = ? AND status IN ? AND status <> ?", reviewerID, openStatuses, model.StatusPending).
		Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return pending, active, nil
}
