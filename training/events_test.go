package training

import (
	"context"
	"errors"
	"testing"
)

// flakySink fails the first failures calls, then succeeds.
type flakySink struct {
	failures int
	calls    int
	received []EpochEvent
}

func (f *flakySink) OnEpoch(ctx context.Context, e EpochEvent) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient failure")
	}
	f.received = append(f.received, e)
	return nil
}

func (f *flakySink) OnTest(ctx context.Context, e TestEvent) error {
	return nil
}

func TestEmitterRetriesTransientFailures(t *testing.T) {
	sink := &flakySink{failures: 2}
	e := newEmitter([]MetricSink{sink}, nil)

	e.emitEpoch(context.Background(), EpochEvent{RunID: "r", Epoch: 1})

	if len(sink.received) != 1 {
		t.Errorf("sink received %d events, expected 1 after retries", len(sink.received))
	}
	if sink.calls != 3 {
		t.Errorf("sink called %d times, expected 3", sink.calls)
	}
}

func TestEmitterDropsAfterExhaustedRetries(t *testing.T) {
	failing := &flakySink{failures: 100}
	healthy := &flakySink{}
	e := newEmitter([]MetricSink{failing, healthy}, nil)

	// A permanently failing sink must not prevent delivery to the rest.
	e.emitEpoch(context.Background(), EpochEvent{RunID: "r", Epoch: 1})

	if len(healthy.received) != 1 {
		t.Errorf("healthy sink received %d events, expected 1", len(healthy.received))
	}
}

func TestEmitterNoSinks(t *testing.T) {
	e := newEmitter(nil, nil)
	e.emitEpoch(context.Background(), EpochEvent{})
	e.emitTest(context.Background(), TestEvent{})
}
