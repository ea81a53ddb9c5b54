package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"medtrain/tensor"
)

// Batch holds one step's worth of inputs [batch, features] and class labels.
type Batch struct {
	Inputs *tensor.Tensor
	Labels []int32
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// BatchSource produces a finite, ordered sequence of batches and can be
// re-iterated from the start on the next epoch.
type BatchSource interface {
	Reset()
	Next() (*Batch, error) // returns (nil, nil) at end of epoch
	Len() int              // number of batches per epoch
}

// Loader batches a Dataset with optional per-epoch shuffling.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewLoader creates a loader over ds. The seed makes shuffle order
// reproducible across runs.
func NewLoader(ds Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	return &Loader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Reset rewinds the loader and reshuffles when enabled.
func (l *Loader) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// Next returns the next batch or (nil, nil) once the epoch is complete.
func (l *Loader) Next() (*Batch, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.position >= len(l.indices) {
		return nil, nil
	}

	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	batchIndices := l.indices[l.position:end]
	l.position = end

	return l.loadBatch(batchIndices)
}

func (l *Loader) loadBatch(indices []int) (*Batch, error) {
	first, _, err := l.dataset.Sample(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}
	dim := len(first)
	if dim == 0 {
		return nil, fmt.Errorf("sample %d has no features", indices[0])
	}

	inputs, err := tensor.Zeros([]int{len(indices), dim})
	if err != nil {
		return nil, err
	}
	labels := make([]int32, len(indices))

	for i, idx := range indices {
		features, label, err := l.dataset.Sample(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(features) != dim {
			return nil, fmt.Errorf("sample %d has %d features, batch expects %d", idx, len(features), dim)
		}
		copy(inputs.Data[i*dim:(i+1)*dim], features)
		labels[i] = label
	}

	return &Batch{Inputs: inputs, Labels: labels}, nil
}

type prefetchResult struct {
	batch *Batch
	err   error
}

// PrefetchLoader decouples batch production from the training loop with a
// background goroutine and a bounded channel. The loop still consumes
// batches sequentially; only production is asynchronous.
type PrefetchLoader struct {
	source BatchSource
	depth  int

	ctx     context.Context
	results chan prefetchResult
	cancel  context.CancelFunc
}

// NewPrefetchLoader wraps source with depth batches of lookahead. The
// context cancels the producer goroutine between epochs and on shutdown.
func NewPrefetchLoader(ctx context.Context, source BatchSource, depth int) *PrefetchLoader {
	if depth <= 0 {
		depth = 2
	}
	return &PrefetchLoader{source: source, depth: depth, ctx: ctx}
}

// Len returns the number of batches in an epoch.
func (p *PrefetchLoader) Len() int {
	return p.source.Len()
}

// Reset stops any in-flight producer, rewinds the source, and starts
// prefetching the new epoch.
func (p *PrefetchLoader) Reset() {
	if p.cancel != nil {
		p.cancel()
		// Drain so the producer can observe cancellation and exit.
		for range p.results {
		}
	}

	p.source.Reset()

	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	p.results = make(chan prefetchResult, p.depth)

	go func(out chan<- prefetchResult) {
		defer close(out)
		for {
			batch, err := p.source.Next()
			select {
			case out <- prefetchResult{batch: batch, err: err}:
			case <-ctx.Done():
				return
			}
			if batch == nil || err != nil {
				return
			}
		}
	}(p.results)
}

// Next returns the next prefetched batch or (nil, nil) at end of epoch.
func (p *PrefetchLoader) Next() (*Batch, error) {
	if p.results == nil {
		return nil, fmt.Errorf("prefetch loader used before Reset")
	}
	res, ok := <-p.results
	if !ok {
		return nil, nil
	}
	return res.batch, res.err
}
