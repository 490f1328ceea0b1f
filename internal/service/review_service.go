package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"draftreview/internal/config"
	"draftreview/internal/generation"
	"draftreview/internal/logger"
	"draftreview/internal/metrics"
	"draftreview/internal/model"
	"draftreview/internal/repository"
	"draftreview/internal/workflow"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// --- DTOs ---

type CreateTaskDTO struct {
	Prompt       generation.Prompt      `json:"prompt"`
	DocumentType string                 `json:"document_type"`
	Title        string                 `json:"title"`
	Priority     int                    `json:"priority" binding:"omitempty,min=1,max=5"`
	Deadline     time.Time              `json:"deadline" binding:"required"`
	WorkspaceID  string                 `json:"workspace_id"`
	CaseID       *string                `json:"case_id"`
	OrderID      *string                `json:"order_id"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// TransitionPayload carries the optional inputs of a transition. A non-zero
// ExpectedVersion makes the call fail unless the task is still at that version.
type TransitionPayload struct {
	Content         *string `json:"content"`
	Comment         string  `json:"comment"`
	ExpectedVersion int     `json:"expected_version"`
}

type RequeueResult struct {
	Scanned  int `json:"scanned"`
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
}

const defaultPriority = 3

// --- Interface ---

// Generator drafts document content.
type Generator interface {
	Generate(ctx context.Context, p generation.Prompt) (generation.Result, error)
}

// EventPublisher receives committed transitions. Publish must not block.
type EventPublisher interface {
	Publish(evt model.TaskEvent)
}

// ReviewService is the workflow engine and the only writer of task status,
// task content and review log rows.
type ReviewService interface {
	CreateTask(ctx context.Context, actor model.Actor, req CreateTaskDTO) (*model.ReviewTask, error)
	Transition(ctx context.Context, taskID uuid.UUID, event string, actor model.Actor, payload TransitionPayload) (*model.ReviewTask, error)
	GetTask(ctx context.Context, taskID uuid.UUID, requester model.Actor) (*model.ReviewTask, error)
	History(ctx context.Context, taskID uuid.UUID, requester model.Actor) ([]model.ReviewLog, error)
	ListPendingTasks(ctx context.Context, reviewerID string, limit, offset int) ([]model.ReviewTask, error)
	AssignPending(ctx context.Context, taskID uuid.UUID, actor model.Actor) (*model.ReviewTask, error)
	RequeueUnassigned(ctx context.Context, limit int) (RequeueResult, error)
}

type reviewService struct {
	tasks     repository.TaskRepository
	logs      repository.ReviewLogRepository
	txManager repository.TransactionManager
	workloads WorkloadRegistry
	generator Generator
	publisher EventPublisher
	policy    string
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

type ReviewServiceDeps struct {
	Tasks     repository.TaskRepository
	Logs      repository.ReviewLogRepository
	TxManager repository.TransactionManager
	Workloads WorkloadRegistry
	Generator Generator
	Publisher EventPublisher // optional
	Policy    string         // config.PolicyReject or config.PolicyHold
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time // optional, defaults to UTC wall clock
}

func NewReviewService(d ReviewServiceDeps) ReviewService {
	s := &reviewService{
		tasks:     d.Tasks,
		logs:      d.Logs,
		txManager: d.TxManager,
		workloads: d.Workloads,
		generator: d.Generator,
		publisher: d.Publisher,
		policy:    d.Policy,
		metrics:   d.Metrics,
		log:       d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.policy == "" {
		s.policy = config.PolicyReject
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if d.Now != nil {
		s.now = d.Now
	}
	return s
}

// --- Creation ---

// CreateTask drafts the document, then creates the task and assigns a
// reviewer in one transaction. Generation runs before the transaction opens;
// when it fails nothing is persisted.
func (s *reviewService) CreateTask(ctx context.Context, actor model.Actor, req CreateTaskDTO) (*model.ReviewTask, error) {
	log := logger.From(ctx, s.log).With(zap.String("actor_id", actor.ID))

	if req.DocumentType == "" {
		req.DocumentType = req.Prompt.DocumentType
	}
	if req.Prompt.DocumentType == "" {
		req.Prompt.DocumentType = req.DocumentType
	}
	if req.Priority == 0 {
		req.Priority = defaultPriority
	}
	switch {
	case actor.ID == "":
		return nil, fmt.Errorf("creator is required: %w", model.ErrInvalidRequest)
	case req.DocumentType == "":
		return nil, fmt.Errorf("document_type is required: %w", model.ErrInvalidRequest)
	case req.Priority < 1 || req.Priority > 5:
		return nil, fmt.Errorf("priority must be between 1 and 5: %w", model.ErrInvalidRequest)
	case req.Deadline.IsZero():
		return nil, fmt.Errorf("deadline is required: %w", model.ErrInvalidRequest)
	}
	if err := req.Prompt.Validate(); err != nil {
		return nil, err
	}

	// Skip the provider call when the task could not be placed anyway.
	if s.policy == config.PolicyReject {
		ok, err := s.workloads.HasCandidates(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check reviewer capacity: %w", err)
		}
		if !ok {
			log.Warn("task creation refused, no eligible reviewer", zap.String("document_type", req.DocumentType))
			s.metrics.AssignmentsTotal.WithLabelValues("no_reviewer").Inc()
			return nil, model.ErrNoEligibleReviewer
		}
	}

	draft, err := s.generator.Generate(ctx, req.Prompt)
	if err != nil {
		log.Error("draft generation failed", zap.String("document_type", req.DocumentType), zap.Error(err))
		return nil, err
	}

	promptJSON, err := json.Marshal(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt: %w", err)
	}

	now := s.now()
	task := &model.ReviewTask{
		WorkspaceID:     req.WorkspaceID,
		CaseID:          req.CaseID,
		OrderID:         req.OrderID,
		DocumentType:    req.DocumentType,
		Title:           req.Title,
		Prompt:          datatypes.JSON(promptJSON),
		OriginalContent: draft.Content,
		CurrentContent:  draft.Content,
		CreatorID:       actor.ID,
		Status:          model.StatusPending,
		Priority:        req.Priority,
		Deadline:        req.Deadline.UTC(),
		Version:         1,
		AIMetadata:      datatypes.NewJSONType(draft.Metadata),
		Metadata:        datatypes.JSONMap(req.Metadata),
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		number, err := s.tasks.NextTaskNumber(txCtx, now)
		if err != nil {
			return fmt.Errorf("failed to allocate task number: %w", err)
		}
		task.TaskNumber = number

		comment := "awaiting reviewer"
		reviewerID, err := s.workloads.Assign(txCtx)
		switch {
		case err == nil:
			task.ReviewerID = &reviewerID
			task.AssignedAt = &now
			comment = "assigned to " + reviewerID
		case errors.Is(err, model.ErrNoEligibleReviewer) && s.policy == config.PolicyHold:
			log.Warn("no eligible reviewer, holding task unassigned", zap.String("task_number", number))
		default:
			return err
		}

		if err := s.tasks.Create(txCtx, task); err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return s.logs.Append(txCtx, &model.ReviewLog{
			TaskID:    task.ID,
			ActorID:   actor.ID,
			Event:     model.EventCreate,
			NewStatus: model.StatusPending,
			Comment:   comment,
			CreatedAt: now,
		})
	})
	if err != nil {
		log.Warn("task creation failed", zap.Error(err))
		s.metrics.TransitionsTotal.WithLabelValues(model.EventCreate, resultLabel(err)).Inc()
		return nil, err
	}

	s.metrics.TransitionsTotal.WithLabelValues(model.EventCreate, resultLabel(nil)).Inc()
	log.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.String("task_number", task.TaskNumber),
		zap.Stringp("reviewer_id", task.ReviewerID),
		zap.Bool("used_fallback", draft.UsedFallback),
	)
	s.publish(task, model.EventCreate, nil, actor)
	return task, nil
}

// --- Transitions ---

// Transition validates event against the transition table and applies it
// atomically: the task update, workload counters and review log rows commit
// together or not at all.
func (s *reviewService) Transition(ctx context.Context, taskID uuid.UUID, event string, actor model.Actor, payload TransitionPayload) (*model.ReviewTask, error) {
	var (
		task *model.ReviewTask
		from model.TaskStatus
	)
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		task, err = s.tasks.FindByID(txCtx, taskID)
		if err != nil {
			return err
		}
		from = task.Status

		if payload.ExpectedVersion != 0 && payload.ExpectedVersion != task.Version {
			return &model.TransitionError{
				Err:           model.ErrConcurrentModification,
				TaskID:        taskID.String(),
				Event:         event,
				ActorID:       actor.ID,
				CurrentStatus: task.Status,
				Reason:        fmt.Sprintf("expected version %d, found %d", payload.ExpectedVersion, task.Version),
			}
		}

		steps, err := workflow.Plan(task, event, actor)
		if err != nil {
			return err
		}
		return s.apply(txCtx, task, steps, actor, payload)
	})
	if err != nil {
		err = s.transitionFailed(ctx, taskID, event, actor, err)
		return nil, err
	}

	s.metrics.TransitionsTotal.WithLabelValues(event, resultLabel(nil)).Inc()
	logger.From(ctx, s.log).Info("task transitioned",
		zap.String("task_id", taskID.String()),
		zap.String("actor_id", actor.ID),
		zap.String("event", event),
		zap.String("old_status", string(from)),
		zap.String("new_status", string(task.Status)),
	)
	s.publish(task, event, &from, actor)
	return task, nil
}

// apply mutates task through steps, persists it with a compare-and-swap on
// its prior status and version, then adjusts workload and appends one log
// row per step.
func (s *reviewService) apply(ctx context.Context, task *model.ReviewTask, steps []workflow.Rule, actor model.Actor, payload TransitionPayload) error {
	now := s.now()
	prior := *task
	entries := make([]*model.ReviewLog, 0, len(steps))

	for i, step := range steps {
		from := step.From
		entry := &model.ReviewLog{
			TaskID:    task.ID,
			ActorID:   actor.ID,
			Event:     step.Event,
			OldStatus: &from,
			NewStatus: step.To,
			// Steps of one compound transition are a microsecond apart so
			// history keeps their order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
		if i == 0 {
			entry.Comment = payload.Comment
		}

		switch step.Event {
		case model.EventAssign:
			reviewerID, err := s.workloads.Assign(ctx)
			if err != nil {
				return err
			}
			task.ReviewerID = &reviewerID
			task.AssignedAt = &now
			if entry.Comment == "" {
				entry.Comment = "assigned to " + reviewerID
			}
		case model.EventAccept:
			task.AcceptedAt = &now
		case model.EventEdit:
			if payload.Content == nil {
				return fmt.Errorf("edit requires content: %w", model.ErrInvalidRequest)
			}
			diff, changed, err := replaceContent(task, *payload.Content)
			if err != nil {
				return err
			}
			if !changed {
				return fmt.Errorf("edit does not change the content: %w", model.ErrInvalidRequest)
			}
			entry.Diff = diff
		case model.EventApprove:
			if payload.Content != nil && strings.TrimSpace(*payload.Content) != "" {
				diff, _, err := replaceContent(task, *payload.Content)
				if err != nil {
					return err
				}
				entry.Diff = diff
			}
			final := task.CurrentContent
			task.FinalContent = &final
			task.ApprovedAt = &now
		case model.EventSubmitRevision:
			if payload.Content != nil {
				diff, _, err := replaceContent(task, *payload.Content)
				if err != nil {
					return err
				}
				entry.Diff = diff
			}
		case model.EventAuthorize:
			task.AuthorizedAt = &now
		case model.EventDispatch:
			task.SentAt = &now
		case model.EventCancel:
			task.CancelledAt = &now
		}

		task.Status = step.To
		entries = append(entries, entry)
	}

	if err := s.tasks.CompareAndSwap(ctx, task, prior.Status, prior.Version); err != nil {
		return err
	}

	if prior.ReviewerID != nil {
		switch {
		case closes(steps):
			if err := s.workloads.Release(ctx, *prior.ReviewerID, prior.Status != model.StatusPending); err != nil {
				return fmt.Errorf("failed to release reviewer slot: %w", err)
			}
		case steps[0].Event == model.EventAccept:
			if err := s.workloads.Activate(ctx, *prior.ReviewerID); err != nil {
				return fmt.Errorf("failed to activate reviewer case: %w", err)
			}
		}
	}

	for _, entry := range entries {
		if err := s.logs.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to write review log: %w", err)
		}
	}
	return nil
}

// transitionFailed logs the refusal and, for a lost race, attaches the task's
// now-current status so the caller can reconcile.
func (s *reviewService) transitionFailed(ctx context.Context, taskID uuid.UUID, event string, actor model.Actor, err error) error {
	var te *model.TransitionError
	if errors.Is(err, model.ErrConcurrentModification) && !errors.As(err, &te) {
		if current, findErr := s.tasks.FindByID(ctx, taskID); findErr == nil {
			err = &model.TransitionError{
				Err:           model.ErrConcurrentModification,
				TaskID:        taskID.String(),
				Event:         event,
				ActorID:       actor.ID,
				CurrentStatus: current.Status,
				Reason:        err.Error(),
			}
		}
	}

	fields := []zap.Field{
		zap.String("task_id", taskID.String()),
		zap.String("actor_id", actor.ID),
		zap.String("event", event),
		zap.Error(err),
	}
	if status, ok := model.CurrentStatusOf(err); ok {
		fields = append(fields, zap.String("current_status", string(status)))
	}
	logger.From(ctx, s.log).Warn("transition refused", fields...)
	s.metrics.TransitionsTotal.WithLabelValues(event, resultLabel(err)).Inc()
	return err
}

// --- Queries ---

// GetTask returns the task if requester is its reviewer, its creator or an
// administrator.
func (s *reviewService) GetTask(ctx context.Context, taskID uuid.UUID, requester model.Actor) (*model.ReviewTask, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsAssignedTo(requester.ID) && task.CreatorID != requester.ID && !requester.IsAdmin() {
		return nil, fmt.Errorf("task %s: %w", taskID, model.ErrForbidden)
	}
	return task, nil
}

func (s *reviewService) History(ctx context.Context, taskID uuid.UUID, requester model.Actor) ([]model.ReviewLog, error) {
	if _, err := s.GetTask(ctx, taskID, requester); err != nil {
		return nil, err
	}
	return s.logs.ListByTask(ctx, taskID)
}

// ListPendingTasks returns the reviewer's open queue, highest priority first
// and then earliest deadline.
func (s *reviewService) ListPendingTasks(ctx context.Context, reviewerID string, limit, offset int) ([]model.ReviewTask, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	tasks, err := s.tasks.ListOpenForReviewer(ctx, reviewerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	return tasks, nil
}

// --- Scheduler entry points ---

// AssignPending assigns a held task through the assign transition.
func (s *reviewService) AssignPending(ctx context.Context, taskID uuid.UUID, actor model.Actor) (*model.ReviewTask, error) {
	return s.Transition(ctx, taskID, model.EventAssign, actor, TransitionPayload{})
}

// RequeueUnassigned assigns up to limit held tasks, highest priority first.
// It stops at the first NoEligibleReviewer since later tasks would fail too.
func (s *reviewService) RequeueUnassigned(ctx context.Context, limit int) (RequeueResult, error) {
	var res RequeueResult
	if limit <= 0 {
		limit = 100
	}

	held, err := s.tasks.ListUnassigned(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list unassigned tasks: %w", err)
	}
	res.Scanned = len(held)

	for _, task := range held {
		_, err := s.AssignPending(ctx, task.ID, model.SystemActor)
		switch {
		case err == nil:
			res.Assigned++
		case errors.Is(err, model.ErrNoEligibleReviewer):
			res.Skipped += res.Scanned - res.Assigned - res.Skipped
			return res, nil
		case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConcurrentModification):
			res.Skipped++
		default:
			return res, err
		}
	}
	return res, nil
}

// --- Helpers ---

func (s *reviewService) publish(task *model.ReviewTask, event string, from *model.TaskStatus, actor model.Actor) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.TaskEvent{
		Type:       model.TaskEventType,
		TaskID:     task.ID,
		TaskNumber: task.TaskNumber,
		Event:      event,
		OldStatus:  from,
		NewStatus:  task.Status,
		ReviewerID: task.ReviewerID,
		ActorID:    actor.ID,
		At:         s.now(),
	})
	s.metrics.EventsBroadcastTotal.Inc()
}

func closes(steps []workflow.Rule) bool {
	for _, s := range steps {
		if s.Closes {
			return true
		}
	}
	return false
}

// replaceContent swaps current_content and returns the diff as JSON.
func replaceContent(task *model.ReviewTask, content string) (datatypes.JSON, bool, error) {
	if strings.TrimSpace(content) == "" {
		return nil, false, fmt.Errorf("content must not be empty: %w", model.ErrInvalidRequest)
	}
	before := task.CurrentContent
	if before == content {
		return nil, false, nil
	}
	task.CurrentContent = content

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(content),
		FromFile: "current_content",
		ToFile:   "current_content",
		Context:  2,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to diff content: %w", err)
	}

	raw, err := json.Marshal(model.ContentDiff{
		Field:        "current_content",
		Unified:      unified,
		BeforeLength: len(before),
		AfterLength:  len(content),
	})
	if err != nil {
		return nil, false, err
	}
	return datatypes.JSON(raw), true, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, model.ErrNoEligibleReviewer):
		return "no_reviewer"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}
