package service

import (
	"context"
	"time"

	"draftreview/internal/model"
	"draftreview/internal/repository"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, scope model.StatisticsScope) (model.TaskStatistics, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
	now  func() time.Time
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// GetStatistics counts tasks by status, tasks created since UTC midnight and
// open tasks past their deadline.
func (s *statisticsService) GetStatistics(ctx context.Context, scope model.StatisticsScope) (model.TaskStatistics, error) {
	now := s.now()
	res := model.TaskStatistics{Scope: scope, GeneratedAt: now}

	byStatus, err := s.repo.CountByStatus(ctx, scope)
	if err != nil {
		return res, err
	}
	res.ByStatus = byStatus
	for _, n := range byStatus {
		res.Total += n
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if res.CreatedToday, err = s.repo.CountCreatedSince(ctx, scope, midnight); err != nil {
		return res, err
	}
	if res.Overdue, err = s.repo.CountOverdue(ctx, scope, now); err != nil {
		return res, err
	}
	return res, nil
}
