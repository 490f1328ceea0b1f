package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"draftreview/internal/config"
	"draftreview/internal/metrics"
	"draftreview/internal/model"
	"draftreview/internal/repository"
)

// Degrade reasons recorded when the refined draft is not used.
const (
	DegradeRefineFailed   = "refine_failed"
	DegradeRefineEmpty    = "refine_empty"
	DegradeRefineTooShort = "refine_too_short"
)

var errEmptyDraft = errors.New("provider returned an empty draft")

// ErrInTransaction is returned when a generation is started while ctx carries
// an open database transaction.
var ErrInTransaction = errors.New("generation must not run inside a database transaction")

// ProviderOrder is the ordered provider list for one generation. Secondary
// may be nil, in which case the primary draft is returned unrefined.
type ProviderOrder struct {
	Primary   Provider
	Secondary Provider
}

// Result is a usable draft. UsedFallback is set when refinement was attempted
// but the primary's raw output had to be used instead.
type Result struct {
	Content      string
	UsedFallback bool
	Metadata     model.AIMetadata
}

// Recorder receives one record per provider attempt. Implementations must not
// block.
type Recorder interface {
	Record(rec model.GenerationRecord)
}

type Gateway struct {
	order          ProviderOrder
	attemptTimeout time.Duration
	retries        int
	backoffInitial time.Duration
	refine         bool
	recorder       Recorder
	metrics        *metrics.Metrics
	log            *zap.Logger
}

// NewGateway builds a gateway over the given providers. recorder may be nil.
func NewGateway(order ProviderOrder, cfg config.GenerationConfig, recorder Recorder, m *metrics.Metrics, log *zap.Logger) (*Gateway, error) {
	if order.Primary == nil {
		return nil, errors.New("generation: primary provider is required")
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		order:          order,
		attemptTimeout: cfg.AttemptTimeout,
		retries:        cfg.Retries,
		backoffInitial: cfg.BackoffInitial,
		refine:         cfg.RefineEnabled,
		recorder:       recorder,
		metrics:        m,
		log:            log,
	}, nil
}

// Generate drafts a document with the configured provider order.
func (g *Gateway) Generate(ctx context.Context, p Prompt) (Result, error) {
	return g.GenerateWith(ctx, p, g.order)
}

// GenerateWith drafts a document with an explicit provider order. The call is
// bounded by the per-attempt timeout and is not cancelled by ctx.
func (g *Gateway) GenerateWith(ctx context.Context, p Prompt, order ProviderOrder) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if repository.InTx(ctx) {
		return Result{}, ErrInTransaction
	}
	if order.Primary == nil {
		return Result{}, fmt.Errorf("no primary provider: %w", model.ErrGenerationFailed)
	}

	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	fingerprint := p.Fingerprint()

	draft, attempts, err := g.draft(ctx, order.Primary, p, fingerprint)
	meta := model.AIMetadata{
		Provider:          order.Primary.Name(),
		Model:             order.Primary.Model(),
		PromptFingerprint: fingerprint,
		Attempts:          attempts,
	}
	if err != nil {
		meta.DurationMs = time.Since(started).Milliseconds()
		g.log.Error("generation failed",
			zap.String("provider", meta.Provider),
			zap.Int("attempts", attempts),
			zap.Int64("duration_ms", meta.DurationMs),
			zap.Error(err),
		)
		return Result{Metadata: meta}, fmt.Errorf("%s after %d attempt(s): %v: %w", meta.Provider, attempts, err, model.ErrGenerationFailed)
	}

	res := Result{Content: draft}
	if g.refine && order.Secondary != nil {
		refined, reason := g.refineDraft(ctx, order.Secondary, p, draft, fingerprint)
		if reason == "" {
			res.Content = refined
			meta.RefinedBy = order.Secondary.Name()
		} else {
			res.UsedFallback = true
			meta.UsedFallback = true
			meta.DegradeReason = reason
			g.metrics.GenerationDegradedTotal.WithLabelValues(reason).Inc()
			g.log.Warn("refinement discarded, using primary draft",
				zap.String("provider", order.Secondary.Name()),
				zap.String("reason", reason),
			)
		}
	}

	meta.DurationMs = time.Since(started).Milliseconds()
	res.Metadata = meta
	return res, nil
}

// draft calls the primary provider, retrying any failure with exponential
// backoff up to the configured retry count.
func (g *Gateway) draft(ctx context.Context, provider Provider, p Prompt, fingerprint string) (string, int, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.backoffInitial
	eb.MaxElapsedTime = 0
	var policy backoff.BackOff = backoff.WithMaxRetries(eb, uint64(g.retries))
	policy = backoff.WithContext(policy, ctx)

	req := Request{System: draftSystemPrompt, Prompt: p.Render()}
	var content string
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++
		out, rec, err := g.call(ctx, provider, req, model.GenerationRolePrimary, attempt, fingerprint)
		g.record(rec)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptyDraft
		}
		if err != nil {
			g.log.Warn("primary provider attempt failed",
				zap.String("provider", provider.Name()),
				zap.Int("attempt", attempt),
				zap.Bool("retryable", IsRetryable(err)),
				zap.Error(err),
			)
			return err
		}
		content = out
		return nil
	}, policy)

	return content, attempt, err
}

// refineDraft returns the refined draft, or a non-empty degrade reason when
// the primary draft must be kept. A refined draft under a tenth of the
// primary's length is discarded.
func (g *Gateway) refineDraft(ctx context.Context, provider Provider, p Prompt, draft, fingerprint string) (string, string) {
	req := Request{System: refineSystemPrompt, Prompt: refineMessage(p, draft)}
	out, rec, err := g.call(ctx, provider, req, model.GenerationRoleRefine, 1, fingerprint)

	var reason string
	switch {
	case err != nil:
		reason = DegradeRefineFailed
	case strings.TrimSpace(out) == "":
		reason = DegradeRefineEmpty
	case utf8.RuneCountInString(out)*10 < utf8.RuneCountInString(draft):
		reason = DegradeRefineTooShort
	}
	if reason != "" && err == nil {
		rec.Outcome = model.GenerationOutcomeDiscarded
	}
	g.record(rec)
	return out, reason
}

// call runs one provider attempt under the per-attempt timeout.
func (g *Gateway) call(ctx context.Context, provider Provider, req Request, role string, attempt int, fingerprint string) (string, model.GenerationRecord, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	started := time.Now()
	out, err := provider.Complete(attemptCtx, req)
	elapsed := time.Since(started)
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
	}

	outcome := model.GenerationOutcomeSuccess
	if err != nil {
		outcome = model.GenerationOutcomeFailure
	}
	g.metrics.GenerationDuration.WithLabelValues(provider.Name(), outcome).Observe(elapsed.Seconds())

	rec := model.GenerationRecord{
		Provider:          provider.Name(),
		Model:             provider.Model(),
		Role:              role,
		Attempt:           attempt,
		Outcome:           outcome,
		LatencyMs:         elapsed.Milliseconds(),
		PromptFingerprint: fingerprint,
		OutputLength:      utf8.RuneCountInString(out),
		StartedAt:         started.UTC(),
	}
	if err != nil {
		rec.Error = truncate(err.Error(), 1024)
	}
	return out, rec, err
}

func (g *Gateway) record(rec model.GenerationRecord) {
	if g.recorder != nil {
		g.recorder.Record(rec)
	}
}
