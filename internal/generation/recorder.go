package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"draftreview/internal/metrics"
	"draftreview/internal/model"
)

// RecordStore persists usage records.
type RecordStore interface {
	Create(ctx context.Context, rec *model.GenerationRecord) error
}

// AsyncRecorder writes usage records on a bounded worker pool. When every
// worker is busy the record is dropped and counted rather than queued.
type AsyncRecorder struct {
	pool    *ants.Pool
	store   RecordStore
	metrics *metrics.Metrics
	log     *zap.Logger
	timeout time.Duration
}

func NewAsyncRecorder(size int, store RecordStore, m *metrics.Metrics, log *zap.Logger) (*AsyncRecorder, error) {
	if size < 1 {
		size = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Error("generation recorder panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create recorder pool: %w", err)
	}

	return &AsyncRecorder{pool: pool, store: store, metrics: m, log: log, timeout: 5 * time.Second}, nil
}

func (r *AsyncRecorder) Record(rec model.GenerationRecord) {
	err := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.Create(ctx, &rec); err != nil {
			r.log.Warn("failed to store generation record",
				zap.String("provider", rec.Provider),
				zap.String("outcome", rec.Outcome),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		r.metrics.GenerationRecordsDropped.Inc()
		r.log.Debug("generation record dropped", zap.String("provider", rec.Provider), zap.Error(err))
	}
}

// Close waits up to timeout for in-flight writes.
func (r *AsyncRecorder) Close(timeout time.Duration) error {
	return r.pool.ReleaseTimeout(timeout)
}
