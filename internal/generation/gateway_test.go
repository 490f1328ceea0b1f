package generation_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftreview/internal/config"
	"draftreview/internal/database/dbtest"
	"draftreview/internal/generation"
	"draftreview/internal/model"
	"draftreview/internal/repository"
)

type stubResponse struct {
	out string
	err error
}

type stubProvider struct {
	name      string
	delay     time.Duration
	responses []stubResponse

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Model() string { return s.name + "-model" }

func (s *stubProvider) Complete(ctx context.Context, _ generation.Request) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i].out, s.responses[i].err
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []model.GenerationRecord
}

func (c *captureRecorder) Record(rec model.GenerationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureRecorder) Records() []model.GenerationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.GenerationRecord(nil), c.recs...)
}

func testConfig() config.GenerationConfig {
	return config.GenerationConfig{
		AttemptTimeout: time.Second,
		Retries:        1,
		BackoffInitial: time.Millisecond,
		RefineEnabled:  true,
	}
}

var prompt = generation.Prompt{
	DocumentType: "nda",
	Instructions: "Draft a mutual non-disclosure agreement.",
	CaseFacts:    "Acme Corp and Globex are exploring a joint venture.",
}

var primaryDraft = strings.Repeat("Primary draft clause. ", 20)

func ok(s string) stubResponse { return stubResponse{out: s} }

func fail(code int) stubResponse {
	return stubResponse{err: &generation.StatusError{Provider: "stub", Code: code}}
}

func newGateway(t *testing.T, primary, secondary generation.Provider, rec generation.Recorder) *generation.Gateway {
	t.Helper()
	gw, err := generation.NewGateway(generation.ProviderOrder{Primary: primary, Secondary: secondary}, testConfig(), rec, nil, nil)
	require.NoError(t, err)
	return gw
}

func TestGenerate_invalidPromptMakesNoCall(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{ok(primaryDraft)}}
	gw := newGateway(t, primary, nil, nil)

	for _, p := range []generation.Prompt{
		{},
		{DocumentType: "nda", Instructions: "   \n\t", CaseFacts: " "},
	} {
		_, err := gw.Generate(context.Background(), p)
		assert.ErrorIs(t, err, model.ErrInvalidPrompt)
	}
	assert.Equal(t, 0, primary.Calls())
}

func TestGenerate_refusesOpenTransaction(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{ok(primaryDraft)}}
	gw := newGateway(t, primary, nil, nil)
	txManager := repository.NewTransactionManager(dbtest.Open(t))

	err := txManager.RunInTx(context.Background(), func(txCtx context.Context) error {
		_, err := gw.Generate(txCtx, prompt)
		return err
	})
	assert.ErrorIs(t, err, generation.ErrInTransaction)
	assert.Equal(t, 0, primary.Calls())
}

func TestGenerate_refinedDraft(t *testing.T) {
	refined := primaryDraft + " Refined."
	primary := &stubProvider{name: "p", responses: []stubResponse{ok(primaryDraft)}}
	secondary := &stubProvider{name: "s", responses: []stubResponse{ok(refined)}}
	rec := &captureRecorder{}

	res, err := newGateway(t, primary, secondary, rec).Generate(context.Background(), prompt)
	require.NoError(t, err)

	assert.Equal(t, refined, res.Content)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "p", res.Metadata.Provider)
	assert.Equal(t, "s", res.Metadata.RefinedBy)
	assert.Equal(t, prompt.Fingerprint(), res.Metadata.PromptFingerprint)
	assert.Equal(t, 1, res.Metadata.Attempts)

	recs := rec.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, model.GenerationRolePrimary, recs[0].Role)
	assert.Equal(t, model.GenerationRoleRefine, recs[1].Role)
	assert.Equal(t, model.GenerationOutcomeSuccess, recs[1].Outcome)
}

func TestGenerate_shortRefinementIsDiscarded(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{ok(primaryDraft)}}
	secondary := &stubProvider{name: "s", responses: []stubResponse{ok("Too short.")}}
	rec := &captureRecorder{}

	res, err := newGateway(t, primary, secondary, rec).Generate(context.Background(), prompt)
	require.NoError(t, err)

	assert.Equal(t, primaryDraft, res.Content)
	assert.True(t, res.UsedFallback)
	assert.True(t, res.Metadata.UsedFallback)
	assert.Equal(t, generation.DegradeRefineTooShort, res.Metadata.DegradeReason)
	assert.Empty(t, res.Metadata.RefinedBy)

	recs := rec.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, model.GenerationOutcomeDiscarded, recs[1].Outcome)
}

func TestGenerate_refinementFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		resp   stubResponse
		reason string
	}{
		{"failure", fail(http.StatusBadGateway), generation.DegradeRefineFailed},
		{"empty", ok("  \n "), generation.DegradeRefineEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubProvider{name: "p", responses: []stubResponse{ok(primaryDraft)}}
			secondary := &stubProvider{name: "s", responses: []stubResponse{tt.resp}}

			res, err := newGateway(t, primary, secondary, nil).Generate(context.Background(), prompt)
			require.NoError(t, err)
			assert.Equal(t, primaryDraft, res.Content)
			assert.True(t, res.UsedFallback)
			assert.Equal(t, tt.reason, res.Metadata.DegradeReason)
			assert.Equal(t, 1, secondary.Calls())
		})
	}
}

func TestGenerate_noSecondary(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{ok(primaryDraft)}}

	res, err := newGateway(t, primary, nil, nil).Generate(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, primaryDraft, res.Content)
	assert.False(t, res.UsedFallback)
}

func TestGenerate_primaryRetriesOnce(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{fail(http.StatusServiceUnavailable), ok(primaryDraft)}}
	rec := &captureRecorder{}

	res, err := newGateway(t, primary, nil, rec).Generate(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, primaryDraft, res.Content)
	assert.Equal(t, 2, res.Metadata.Attempts)
	assert.Equal(t, 2, primary.Calls())

	recs := rec.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, model.GenerationOutcomeFailure, recs[0].Outcome)
	assert.Equal(t, 2, recs[1].Attempt)
}

func TestGenerate_primaryFailsTwice(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{fail(http.StatusServiceUnavailable)}}
	secondary := &stubProvider{name: "s", responses: []stubResponse{ok(primaryDraft)}}

	_, err := newGateway(t, primary, secondary, nil).Generate(context.Background(), prompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGenerationFailed)
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 0, secondary.Calls())
}

func TestGenerate_clientErrorIsRetriedOnce(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{fail(http.StatusBadRequest)}}

	_, err := newGateway(t, primary, nil, nil).Generate(context.Background(), prompt)
	assert.ErrorIs(t, err, model.ErrGenerationFailed)
	assert.Equal(t, 2, primary.Calls())
}

func TestGenerate_clientErrorThenSuccess(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{fail(http.StatusUnauthorized), ok(primaryDraft)}}

	res, err := newGateway(t, primary, nil, nil).Generate(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, primaryDraft, res.Content)
	assert.Equal(t, 2, res.Metadata.Attempts)
}

func TestGenerate_emptyPrimaryDraftIsRetried(t *testing.T) {
	primary := &stubProvider{name: "p", responses: []stubResponse{ok(""), ok(primaryDraft)}}

	res, err := newGateway(t, primary, nil, nil).Generate(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, primaryDraft, res.Content)
	assert.Equal(t, 2, primary.Calls())
}

func TestGenerate_attemptTimeout(t *testing.T) {
	primary := &stubProvider{name: "p", delay: 500 * time.Millisecond, responses: []stubResponse{ok(primaryDraft)}}
	cfg := testConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond

	gw, err := generation.NewGateway(generation.ProviderOrder{Primary: primary}, cfg, nil, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = gw.Generate(context.Background(), prompt)
	assert.ErrorIs(t, err, model.ErrGenerationFailed)
	assert.Equal(t, 2, primary.Calls())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestGenerate_callerCancellationDoesNotAbort(t *testing.T) {
	primary := &stubProvider{name: "p", delay: 10 * time.Millisecond, responses: []stubResponse{ok(primaryDraft)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newGateway(t, primary, nil, nil).Generate(ctx, prompt)
	require.NoError(t, err)
	assert.Equal(t, primaryDraft, res.Content)
}

func TestNewGateway_requiresPrimary(t *testing.T) {
	_, err := generation.NewGateway(generation.ProviderOrder{}, testConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestPrompt_Fingerprint(t *testing.T) {
	other := prompt
	other.Tone = "formal"

	assert.Equal(t, prompt.Fingerprint(), prompt.Fingerprint())
	assert.NotEqual(t, prompt.Fingerprint(), other.Fingerprint())
	assert.Len(t, prompt.Fingerprint(), 64)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, generation.IsRetryable(errors.New("connection reset")))
	assert.True(t, generation.IsRetryable(&generation.StatusError{Code: http.StatusTooManyRequests}))
	assert.True(t, generation.IsRetryable(&generation.StatusError{Code: http.StatusInternalServerError}))
	assert.False(t, generation.IsRetryable(&generation.StatusError{Code: http.StatusUnauthorized}))
	assert.False(t, generation.IsRetryable(nil))
}
