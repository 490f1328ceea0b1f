package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"draftreview/internal/metrics"
	"draftreview/internal/model"
	"draftreview/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

type RegisterReviewerDTO struct {
	DisplayName        string `json:"display_name"`
	DailyCapacity      int    `json:"daily_capacity" binding:"min=0"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks" binding:"required,min=1"`
	IsAvailable        *bool  `json:"is_available"`
}

type QualitySignalsDTO struct {
	ApprovalRate       decimal.Decimal `json:"approval_rate"`
	ClientSatisfaction decimal.Decimal `json:"client_satisfaction"`
}

// --- Score ---

var (
	hundred = decimal.NewFromInt(100)
	twenty  = decimal.NewFromInt(20)
)

// Score ranks a reviewer for assignment; lower is more eligible.
//
//	(pending / max) * 100 - (approval + satisfaction) / 20, floored at 0
//
// A reviewer with no concurrency limit configured scores as fully loaded.
func Score(w model.ReviewerWorkload) decimal.Decimal {
	load := hundred
	if w.MaxConcurrentTasks > 0 {
		load = decimal.NewFromInt(int64(w.PendingReviews)).
			Div(decimal.NewFromInt(int64(w.MaxConcurrentTasks))).
			Mul(hundred)
	}
	quality := w.ApprovalRate.Add(w.ClientSatisfaction).Div(twenty)

	score := load.Sub(quality)
	if score.IsNegative() {
		return decimal.Zero
	}
	return score.Round(2)
}

// SelectReviewer picks the lowest-scoring eligible candidate. Ties go to the
// reviewer whose score was updated longest ago, then to the lowest id, so the
// choice is a pure function of the snapshot.
func SelectReviewer(candidates []model.ReviewerWorkload) (model.ReviewerWorkload, bool) {
	eligible := make([]model.ReviewerWorkload, 0, len(candidates))
	for _, c := range candidates {
		if c.HasCapacity() {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return model.ReviewerWorkload{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := Score(eligible[i]), Score(eligible[j])
		if !si.Equal(sj) {
			return si.LessThan(sj)
		}
		if !eligible[i].ScoreUpdatedAt.Equal(eligible[j].ScoreUpdatedAt) {
			return eligible[i].ScoreUpdatedAt.Before(eligible[j].ScoreUpdatedAt)
		}
		return eligible[i].ReviewerID < eligible[j].ReviewerID
	})
	return eligible[0], true
}

// --- Interface ---

// WorkloadRegistry owns ReviewerWorkload rows. Assign, Activate and Release
// must run inside the caller's transaction so the counter change commits or
// rolls back with the task change that caused it.
type WorkloadRegistry interface {
	Assign(ctx context.Context) (string, error)
	Activate(ctx context.Context, reviewerID string) error
	Release(ctx context.Context, reviewerID string, wasActive bool) error
	HasCandidates(ctx context.Context) (bool, error)

	RegisterReviewer(ctx context.Context, reviewerID string, req RegisterReviewerDTO) (*model.ReviewerWorkload, error)
	SetAvailability(ctx context.Context, actor model.Actor, reviewerID string, available bool) (*model.ReviewerWorkload, error)
	UpdateQualitySignals(ctx context.Context, reviewerID string, req QualitySignalsDTO) (*model.ReviewerWorkload, error)
	GetWorkload(ctx context.Context, reviewerID string) (*model.ReviewerWorkload, error)
	ListWorkloads(ctx context.Context) ([]model.ReviewerWorkload, error)
	Reconcile(ctx context.Context, reviewerID string) (*model.ReviewerWorkload, error)
	ReconcileAll(ctx context.Context) (int, error)
}

type workloadRegistry struct {
	workloads   repository.WorkloadRepository
	tasks       repository.TaskRepository
	txManager   repository.TransactionManager
	maxAttempts int
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

func NewWorkloadRegistry(
	workloads repository.WorkloadRepository,
	tasks repository.TaskRepository,
	txManager repository.TransactionManager,
	maxAttempts int,
	m *metrics.Metrics,
	log *zap.Logger,
) WorkloadRegistry {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &workloadRegistry{
		workloads:   workloads,
		tasks:       tasks,
		txManager:   txManager,
		maxAttempts: maxAttempts,
		metrics:     m,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// --- Assignment ---

// Assign selects a reviewer and takes one of their slots. The increment only
// lands if the row is unchanged since it was read and still has capacity; a
// lost race re-reads the candidates.
func (r *workloadRegistry) Assign(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		candidates, err := r.workloads.ListCandidates(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list candidates: %w", err)
		}

		chosen, ok := SelectReviewer(candidates)
		if !ok {
			r.metrics.AssignmentsTotal.WithLabelValues("no_reviewer").Inc()
			return "", model.ErrNoEligibleReviewer
		}

		expected := chosen.Version
		chosen.PendingReviews++
		chosen.CurrentWorkloadScore = Score(chosen)
		chosen.ScoreUpdatedAt = r.now()

		err = r.workloads.CompareAndSwap(ctx, &chosen, expected, true)
		if err == nil {
			r.metrics.AssignmentsTotal.WithLabelValues("assigned").Inc()
			return chosen.ReviewerID, nil
		}
		if !errors.Is(err, model.ErrConcurrentModification) {
			return "", err
		}
		r.log.Debug("assignment lost race, retrying",
			zap.String("reviewer_id", chosen.ReviewerID),
			zap.Int("attempt", attempt),
		)
	}

	r.metrics.AssignmentsTotal.WithLabelValues("contention").Inc()
	return "", fmt.Errorf("assignment gave up after %d attempts: %w", r.maxAttempts, model.ErrConcurrentModification)
}

func (r *workloadRegistry) HasCandidates(ctx context.Context) (bool, error) {
	candidates, err := r.workloads.ListCandidates(ctx)
	if err != nil {
		return false, err
	}
	_, ok := SelectReviewer(candidates)
	return ok, nil
}

// Activate records that the reviewer started work on one of their tasks.
func (r *workloadRegistry) Activate(ctx context.Context, reviewerID string) error {
	_, err := r.mutate(ctx, reviewerID, func(w *model.ReviewerWorkload) error {
		w.ActiveCases++
		return nil
	})
	return err
}

// Release returns a slot when a task closes.
func (r *workloadRegistry) Release(ctx context.Context, reviewerID string, wasActive bool) error {
	_, err := r.mutate(ctx, reviewerID, func(w *model.ReviewerWorkload) error {
		if w.PendingReviews > 0 {
			w.PendingReviews--
		}
		if wasActive && w.ActiveCases > 0 {
			w.ActiveCases--
		}
		w.CurrentWorkloadScore = Score(*w)
		w.ScoreUpdatedAt = r.now()
		return nil
	})
	return err
}

// mutate applies fn to the current row and writes it back, re-reading on a
// version conflict.
func (r *workloadRegistry) mutate(ctx context.Context, reviewerID string, fn func(w *model.ReviewerWorkload) error) (*model.ReviewerWorkload, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		w, err := r.workloads.Find(ctx, reviewerID)
		if err != nil {
			return nil, err
		}
		expected := w.Version
		if err := fn(w); err != nil {
			return nil, err
		}

		err = r.workloads.CompareAndSwap(ctx, w, expected, false)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, model.ErrConcurrentModification) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("workload %s: gave up after %d attempts: %w", reviewerID, r.maxAttempts, model.ErrConcurrentModification)
}

// --- Administration ---

// RegisterReviewer creates the reviewer's row or updates its configured
// ceilings. Counters are left untouched on update.
func (r *workloadRegistry) RegisterReviewer(ctx context.Context, reviewerID string, req RegisterReviewerDTO) (*model.ReviewerWorkload, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewer id is required: %w", model.ErrInvalidRequest)
	}
	if req.MaxConcurrentTasks < 1 || req.DailyCapacity < 0 {
		return nil, fmt.Errorf("max_concurrent_tasks must be positive and daily_capacity not negative: %w", model.ErrInvalidRequest)
	}

	_, err := r.workloads.Find(ctx, reviewerID)
	if errors.Is(err, model.ErrNotFound) {
		w := &model.ReviewerWorkload{
			ReviewerID:         reviewerID,
			DisplayName:        req.DisplayName,
			DailyCapacity:      req.DailyCapacity,
			MaxConcurrentTasks: req.MaxConcurrentTasks,
			ApprovalRate:       decimal.Zero,
			ClientSatisfaction: decimal.Zero,
			IsAvailable:        req.IsAvailable == nil || *req.IsAvailable,
			Version:            1,
		}
		w.CurrentWorkloadScore = Score(*w)
		if err := r.workloads.Create(ctx, w); err != nil {
			return nil, fmt.Errorf("failed to register reviewer: %w", err)
		}
		r.log.Info("reviewer registered", zap.String("reviewer_id", reviewerID), zap.Int("max_concurrent_tasks", w.MaxConcurrentTasks))
		return w, nil
	}
	if err != nil {
		return nil, err
	}

	return r.mutate(ctx, reviewerID, func(w *model.ReviewerWorkload) error {
		if req.DisplayName != "" {
			w.DisplayName = req.DisplayName
		}
		w.DailyCapacity = req.DailyCapacity
		w.MaxConcurrentTasks = req.MaxConcurrentTasks
		if req.IsAvailable != nil {
			w.IsAvailable = *req.IsAvailable
		}
		w.CurrentWorkloadScore = Score(*w)
		return nil
	})
}

// SetAvailability toggles the reviewer's opt-out. Only the reviewer or an
// administrator may change it.
func (r *workloadRegistry) SetAvailability(ctx context.Context, actor model.Actor, reviewerID string, available bool) (*model.ReviewerWorkload, error) {
	if actor.ID != reviewerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("availability of %s: %w", reviewerID, model.ErrForbidden)
	}
	return r.mutate(ctx, reviewerID, func(w *model.ReviewerWorkload) error {
		w.IsAvailable = available
		return nil
	})
}

// UpdateQualitySignals stores externally computed quality signals, clamped to
// 0-100, and recomputes the score.
func (r *workloadRegistry) UpdateQualitySignals(ctx context.Context, reviewerID string, req QualitySignalsDTO) (*model.ReviewerWorkload, error) {
	return r.mutate(ctx, reviewerID, func(w *model.ReviewerWorkload) error {
		w.ApprovalRate = clampPercent(req.ApprovalRate)
		w.ClientSatisfaction = clampPercent(req.ClientSatisfaction)
		w.CurrentWorkloadScore = Score(*w)
		return nil
	})
}

func (r *workloadRegistry) GetWorkload(ctx context.Context, reviewerID string) (*model.ReviewerWorkload, error) {
	return r.workloads.Find(ctx, reviewerID)
}

func (r *workloadRegistry) ListWorkloads(ctx context.Context) ([]model.ReviewerWorkload, error) {
	return r.workloads.List(ctx)
}

// Reconcile recomputes the reviewer's counters from the task table. The
// tasks are recounted on every attempt so a concurrent assignment that bumps
// the row version is not overwritten with a stale count.
func (r *workloadRegistry) Reconcile(ctx context.Context, reviewerID string) (*model.ReviewerWorkload, error) {
	var out *model.ReviewerWorkload
	err := r.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		out, err = r.mutate(txCtx, reviewerID, func(w *model.ReviewerWorkload) error {
			pending, active, err := r.tasks.CountOpenForReviewer(txCtx, reviewerID)
			if err != nil {
				return fmt.Errorf("failed to count open tasks: %w", err)
			}
			if w.PendingReviews != int(pending) || w.ActiveCases != int(active) {
				r.log.Warn("workload counters drifted",
					zap.String("reviewer_id", reviewerID),
					zap.Int("pending_reviews", w.PendingReviews),
					zap.Int64("pending_actual", pending),
					zap.Int("active_cases", w.ActiveCases),
					zap.Int64("active_actual", active),
				)
			}
			w.PendingReviews = int(pending)
			w.ActiveCases = int(active)
			w.CurrentWorkloadScore = Score(*w)
			return nil
		})
		return err
	})
	return out, err
}

// ReconcileAll reconciles every registered reviewer and returns how many rows
// were processed.
func (r *workloadRegistry) ReconcileAll(ctx context.Context) (int, error) {
	rows, err := r.workloads.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, w := range rows {
		if _, err := r.Reconcile(ctx, w.ReviewerID); err != nil {
			return i, fmt.Errorf("reconcile %s: %w", w.ReviewerID, err)
		}
	}
	return len(rows), nil
}

func clampPercent(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}
