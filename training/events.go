package training

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// EpochEvent summarizes one completed epoch for observers: metric sinks,
// monitors and run history stores.
type EpochEvent struct {
	RunID        string        `json:"run_id"`
	Epoch        int           `json:"epoch"`
	Train        EpochMetrics  `json:"train"`
	Val          EpochMetrics  `json:"val"`
	LearningRate float64       `json:"learning_rate"`
	BestMetric   float64       `json:"best_metric"`
	Improved     bool          `json:"improved"`
	Duration     time.Duration `json:"duration_ns"`
}

// TestEvent carries the final held-out evaluation after training completes.
type TestEvent struct {
	RunID   string       `json:"run_id"`
	Metrics EpochMetrics `json:"metrics"`
}

// MetricSink receives training events. Implementations must be safe to call
// from the training goroutine and should return quickly; slow transports
// belong behind their own buffering.
type MetricSink interface {
	OnEpoch(ctx context.Context, event EpochEvent) error
	OnTest(ctx context.Context, event TestEvent) error
}

// emitter fans events out to all sinks. Sink failures are retried a few
// times, then logged and dropped: observability never aborts a run.
type emitter struct {
	sinks  []MetricSink
	logger *zap.Logger
}

func newEmitter(sinks []MetricSink, logger *zap.Logger) *emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &emitter{sinks: sinks, logger: logger}
}

func (e *emitter) emitEpoch(ctx context.Context, event EpochEvent) {
	for _, sink := range e.sinks {
		sink := sink
		err := retry.Do(
			func() error { return sink.OnEpoch(ctx, event) },
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			e.logger.Warn("metric sink dropped epoch event",
				zap.String("run_id", event.RunID),
				zap.Int("epoch", event.Epoch),
				zap.Error(err))
		}
	}
}

func (e *emitter) emitTest(ctx context.Context, event TestEvent) {
	for _, sink := range e.sinks {
		sink := sink
		err := retry.Do(
			func() error { return sink.OnTest(ctx, event) },
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			e.logger.Warn("metric sink dropped test event",
				zap.String("run_id", event.RunID),
				zap.Error(err))
		}
	}
}
