package dataset

import (
	"fmt"
	"math/rand"
)

// Dataset is a finite, indexable source of (feature vector, class label)
// samples. Image decoding happens upstream; samples arrive as already
// decoded float vectors.
type Dataset interface {
	Len() int
	Sample(idx int) (features []float32, label int32, err error)
}

// SliceDataset is an in-memory dataset backed by plain slices.
type SliceDataset struct {
	features [][]float32
	labels   []int32
}

// NewSliceDataset creates a dataset from parallel feature and label slices.
// All feature vectors must share one dimension.
func NewSliceDataset(features [][]float32, labels []int32) (*SliceDataset, error) {
	if len(features) != len(labels) {
		return nil, fmt.Errorf("features and labels must have the same length: got %d and %d", len(features), len(labels))
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	dim := len(features[0])
	for i, f := range features {
		if len(f) != dim {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(f), dim)
		}
	}
	return &SliceDataset{features: features, labels: labels}, nil
}

// Len returns the number of samples in the dataset.
func (ds *SliceDataset) Len() int {
	return len(ds.features)
}

// Sample returns the sample at the given index.
func (ds *SliceDataset) Sample(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(ds.features) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.features))
	}
	return ds.features[idx], ds.labels[idx], nil
}

// FeatureDim returns the feature vector dimension.
func (ds *SliceDataset) FeatureDim() int {
	return len(ds.features[0])
}

// Subset exposes a subset of another dataset through an index list.
type Subset struct {
	dataset Dataset
	indices []int
}

// NewSubset creates a view over ds restricted to the given indices.
func NewSubset(ds Dataset, indices []int) (*Subset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= ds.Len() {
			return nil, fmt.Errorf("subset index %d out of range [0, %d)", idx, ds.Len())
		}
	}
	return &Subset{dataset: ds, indices: indices}, nil
}

// Len returns the number of samples in the subset.
func (s *Subset) Len() int {
	return len(s.indices)
}

// Sample returns the sample at the given subset position.
func (s *Subset) Sample(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(s.indices) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(s.indices))
	}
	return s.dataset.Sample(s.indices[idx])
}

// Split partitions a dataset into train/validation/test subsets after a
// seeded shuffle. Fractions apply to the full dataset; the remainder goes
// to the training split.
func Split(ds Dataset, valFraction, testFraction float64, seed int64) (train, val, test *Subset, err error) {
	if valFraction < 0 || testFraction < 0 || valFraction+testFraction >= 1 {
		return nil, nil, nil, fmt.Errorf("invalid split fractions val=%v test=%v", valFraction, testFraction)
	}

	n := ds.Len()
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	numTest := int(float64(n) * testFraction)
	numVal := int(float64(n) * valFraction)
	numTrain := n - numVal - numTest
	if numTrain <= 0 {
		return nil, nil, nil, fmt.Errorf("split leaves no training samples (n=%d val=%d test=%d)", n, numVal, numTest)
	}

	train, err = NewSubset(ds, indices[:numTrain])
	if err != nil {
		return nil, nil, nil, err
	}
	val, err = NewSubset(ds, indices[numTrain:numTrain+numVal])
	if err != nil {
		return nil, nil, nil, err
	}
	test, err = NewSubset(ds, indices[numTrain+numVal:])
	if err != nil {
		return nil, nil, nil, err
	}
	return train, val, test, nil
}

// LabelCounts returns the number of samples per class.
func LabelCounts(ds Dataset, numClasses int) ([]int, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	counts := make([]int, numClasses)
	for i := 0; i < ds.Len(); i++ {
		_, label, err := ds.Sample(i)
		if err != nil {
			return nil, err
		}
		if int(label) < 0 || int(label) >= numClasses {
			return nil, fmt.Errorf("sample %d has label %d outside [0, %d)", i, label, numClasses)
		}
		counts[label]++
	}
	return counts, nil
}

// ClassWeights computes normalized inverse-frequency weights for imbalanced
// datasets. Classes absent from the dataset get weight zero.
func ClassWeights(ds Dataset, numClasses int) ([]float32, error) {
	counts, err := LabelCounts(ds, numClasses)
	if err != nil {
		return nil, err
	}

	weights := make([]float32, numClasses)
	var sum float64
	for c, count := range counts {
		if count > 0 {
			w := 1.0 / float64(count)
			weights[c] = float32(w)
			sum += w
		}
	}
	if sum == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	for c := range weights {
		weights[c] = float32(float64(weights[c]) / sum)
	}
	return weights, nil
}

// RandomDataset generates deterministic synthetic data for testing and
// demos. Each class is drawn around its own center so a classifier has
// signal to learn.
type RandomDataset struct {
	features [][]float32
	labels   []int32
}

// NewRandomDataset creates a synthetic dataset with the given size, feature
// dimension and class count.
func NewRandomDataset(size, featureDim, numClasses int, seed int64) (*RandomDataset, error) {
	if size <= 0 || featureDim <= 0 || numClasses < 2 {
		return nil, fmt.Errorf("invalid synthetic dataset parameters size=%d dim=%d classes=%d", size, featureDim, numClasses)
	}

	rng := rand.New(rand.NewSource(seed))
	features := make([][]float32, size)
	labels := make([]int32, size)
	for i := range features {
		class := rng.Intn(numClasses)
		center := float64(class) * 2.0
		vec := make([]float32, featureDim)
		for j := range vec {
			vec[j] = float32(center + rng.NormFloat64()*0.5)
		}
		features[i] = vec
		labels[i] = int32(class)
	}
	return &RandomDataset{features: features, labels: labels}, nil
}

// Len returns the number of samples in the dataset.
func (ds *RandomDataset) Len() int {
	return len(ds.features)
}

// Sample returns the sample at the given index.
func (ds *RandomDataset) Sample(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(ds.features) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.features))
	}
	return ds.features[idx], ds.labels[idx], nil
}
