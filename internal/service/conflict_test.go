package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftreview/internal/config"
	"draftreview/internal/database/dbtest"
	"draftreview/internal/model"
	"draftreview/internal/repository"
	"draftreview/internal/service"
)

// racingWorkloads commits a competing assignment for the reviewer right
// before the first compare-and-swap, so that write loses on version.
type racingWorkloads struct {
	repository.WorkloadRepository
	tasks repository.TaskRepository
	fired bool
}

func (r *racingWorkloads) CompareAndSwap(ctx context.Context, w *model.ReviewerWorkload, expectedVersion int, requireCapacity bool) error {
	if !r.fired {
		r.fired = true
		reviewerID := w.ReviewerID
		task := &model.ReviewTask{
			TaskNumber:      "LT-20260101-00099",
			DocumentType:    "nda",
			OriginalContent: draftText,
			CurrentContent:  draftText,
			CreatorID:       creator.ID,
			ReviewerID:      &reviewerID,
			Status:          model.StatusPending,
			Priority:        3,
			Deadline:        time.Now().Add(time.Hour),
			Version:         1,
		}
		if err := r.tasks.Create(ctx, task); err != nil {
			return err
		}
		current, err := r.WorkloadRepository.Find(ctx, reviewerID)
		if err != nil {
			return err
		}
		current.PendingReviews++
		current.CurrentWorkloadScore = service.Score(*current)
		if err := r.WorkloadRepository.CompareAndSwap(ctx, current, current.Version, true); err != nil {
			return err
		}
	}
	return r.WorkloadRepository.CompareAndSwap(ctx, w, expectedVersion, requireCapacity)
}

func TestWorkloadRegistry_reconcileRecountsAfterConflict(t *testing.T) {
	db := dbtest.Open(t)
	tasks := repository.NewTaskRepository(db)
	racing := &racingWorkloads{WorkloadRepository: repository.NewWorkloadRepository(db), tasks: tasks}
	registry := service.NewWorkloadRegistry(racing, tasks, repository.NewTransactionManager(db), 3, nil, nil)
	ctx := context.Background()

	_, err := registry.RegisterReviewer(ctx, "r1", service.RegisterReviewerDTO{MaxConcurrentTasks: 2})
	require.NoError(t, err)

	w, err := registry.Reconcile(ctx, "r1")
	require.NoError(t, err)
	require.True(t, racing.fired)

	pending, _, err := tasks.CountOpenForReviewer(ctx, "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
	assert.Equal(t, 1, w.PendingReviews)

	stored, err := registry.GetWorkload(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PendingReviews)
}

// conflictingTasks loses every compare-and-swap, as if another writer
// always got there first.
type conflictingTasks struct {
	repository.TaskRepository
}

func (c *conflictingTasks) CompareAndSwap(_ context.Context, task *model.ReviewTask, expectedStatus model.TaskStatus, expectedVersion int) error {
	return fmt.Errorf("task %s moved from %s v%d: %w", task.ID, expectedStatus, expectedVersion, model.ErrConcurrentModification)
}

func TestTransition_lostSwapReportsCurrentStatus(t *testing.T) {
	e := newEnv(t, config.PolicyReject)
	e.register(t, "r1", 3)
	ctx := context.Background()
	task := e.create(t)

	losing := service.NewReviewService(service.ReviewServiceDeps{
		Tasks:     &conflictingTasks{TaskRepository: e.tasks},
		Logs:      e.logs,
		TxManager: repository.NewTransactionManager(e.db),
		Workloads: e.workloads,
		Generator: e.gen,
		Publisher: e.pub,
	})
	published := len(e.pub.Events())

	_, err := losing.Transition(ctx, task.ID, model.EventAccept, reviewerActor("r1"), service.TransitionPayload{})
	require.ErrorIs(t, err, model.ErrConcurrentModification)
	status, ok := model.CurrentStatusOf(err)
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, status)

	got, err := e.svc.GetTask(ctx, task.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, e.history(t, task.ID), 1)
	assert.Equal(t, 0, e.workload(t, "r1").ActiveCases)
	assert.Len(t, e.pub.Events(), published)
	assertPendingMatchesTasks(t, e)
}

// tickingClock advances one second per reading.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestHistory_compoundStepsKeepOrder(t *testing.T) {
	e := newEnv(t, config.PolicyReject)
	e.register(t, "r1", 3)
	ctx := context.Background()
	clock := &tickingClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	svc := service.NewReviewService(service.ReviewServiceDeps{
		Tasks:     e.tasks,
		Logs:      e.logs,
		TxManager: repository.NewTransactionManager(e.db),
		Workloads: e.workloads,
		Generator: e.gen,
		Now:       clock.Now,
	})
	rev := reviewerActor("r1")

	task, err := svc.CreateTask(ctx, creator, createReq(3))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, task.ID, model.EventAccept, rev, service.TransitionPayload{})
	require.NoError(t, err)

	want := []string{model.EventCreate, model.EventAccept}
	for i := 0; i < 3; i++ {
		_, err = svc.Transition(ctx, task.ID, model.EventRequestModification, rev, service.TransitionPayload{})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, task.ID, model.EventSubmitRevision, creator, service.TransitionPayload{})
		require.NoError(t, err)
		want = append(want, model.EventRequestModification, model.EventSubmitRevision, model.EventResumeReview)
	}

	logs := e.history(t, task.ID)
	got := make([]string, 0, len(logs))
	for _, l := range logs {
		got = append(got, l.Event)
	}
	assert.Equal(t, want, got)
}
