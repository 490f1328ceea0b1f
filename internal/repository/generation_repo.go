package repository

import (
	"context"
	"time"

	"draftreview/internal/model"

	"gorm.io/gorm"
)

type GenerationRecordRepository interface {
	Create(ctx context.Context, rec *model.GenerationRecord) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]model.GenerationRecord, error)
}

type generationRecordRepository struct {
	db *gorm.DB
}

func NewGenerationRecordRepository(db *gorm.DB) GenerationRecordRepository {
	return &generationRecordRepository{db: db}
}

func (r *generationRecordRepository) Create(ctx context.Context, rec *model.GenerationRecord) error {
	return GetDB(ctx, r.db).Create(rec).Error
}

func (r *generationRecordRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]model.GenerationRecord, error) {
	var recs []model.GenerationRecord
	err := GetDB(ctx, r.db).
		Where("started_at >= ?", since.UTC()).
		Order("started_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
