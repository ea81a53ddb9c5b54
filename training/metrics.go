package training

import (
	"fmt"
	"sort"
)

// Metric names produced by the aggregator. Loss and uncertainty are
// appended by the epoch runner, not computed here.
const (
	MetricAccuracy    = "accuracy"
	MetricPrecision   = "precision"
	MetricRecall      = "recall"
	MetricSpecificity = "specificity"
	MetricAUROC       = "auroc"
	MetricLoss        = "loss"
	MetricUncertainty = "uncertainty"
)

// DefaultMetricNames returns the classification metrics computed per epoch.
func DefaultMetricNames() []string {
	return []string{MetricAccuracy, MetricPrecision, MetricRecall, MetricSpecificity, MetricAUROC}
}

// EpochMetrics maps metric names to scalar values for one epoch. Produced
// fresh each epoch and treated as immutable once returned.
type EpochMetrics map[string]float64

// Clone returns a copy of the metric map.
func (m EpochMetrics) Clone() EpochMetrics {
	out := make(EpochMetrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Compute calculates the named metrics from an epoch's buffered predictions
// and labels. Scores holds per-sample class probabilities and is required
// only when AUROC is among the names; passing nil scores in that case
// returns ErrMissingScores. The function is pure: no state is carried
// across calls.
func Compute(preds, labels []int, scores [][]float32, numClasses int, names []string) (EpochMetrics, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	if len(preds) != len(labels) {
		return nil, fmt.Errorf("prediction count %d does not match label count %d", len(preds), len(labels))
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("no samples to compute metrics over")
	}

	matrix, err := confusionCounts(preds, labels, numClasses)
	if err != nil {
		return nil, err
	}

	out := make(EpochMetrics, len(names))
	for _, name := range names {
		switch name {
		case MetricAccuracy:
			out[name] = accuracyFrom(matrix, len(labels))
		case MetricPrecision:
			out[name] = macroPrecision(matrix)
		case MetricRecall:
			out[name] = macroRecall(matrix)
		case MetricSpecificity:
			out[name] = macroSpecificity(matrix, len(labels))
		case MetricAUROC:
			auc, err := AUROC(scores, labels, numClasses)
			if err != nil {
				return nil, err
			}
			out[name] = auc
		default:
			return nil, fmt.Errorf("unknown metric %q", name)
		}
	}
	return out, nil
}

// confusionCounts builds a [true class][predicted class] count matrix.
func confusionCounts(preds, labels []int, numClasses int) ([][]int, error) {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	for i := range preds {
		if labels[i] < 0 || labels[i] >= numClasses {
			return nil, fmt.Errorf("label %d at sample %d outside [0, %d)", labels[i], i, numClasses)
		}
		if preds[i] < 0 || preds[i] >= numClasses {
			return nil, fmt.Errorf("prediction %d at sample %d outside [0, %d)", preds[i], i, numClasses)
		}
		matrix[labels[i]][preds[i]]++
	}
	return matrix, nil
}

func accuracyFrom(matrix [][]int, total int) float64 {
	correct := 0
	for c := range matrix {
		correct += matrix[c][c]
	}
	return float64(correct) / float64(total)
}

// macroPrecision averages per-class precision, skipping classes that were
// never predicted (zero-support classes are excluded from the denominator).
func macroPrecision(matrix [][]int) float64 {
	sum := 0.0
	validClasses := 0

	for class := range matrix {
		tp := float64(matrix[class][class])
		fp := 0.0
		for other := range matrix {
			if other != class {
				fp += float64(matrix[other][class])
			}
		}
		if tp+fp > 0 {
			sum += tp / (tp + fp)
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

// macroRecall averages per-class recall, skipping classes with no actual
// samples.
func macroRecall(matrix [][]int) float64 {
	sum := 0.0
	validClasses := 0

	for class := range matrix {
		tp := float64(matrix[class][class])
		fn := 0.0
		for other := range matrix {
			if other != class {
				fn += float64(matrix[class][other])
			}
		}
		if tp+fn > 0 {
			sum += tp / (tp + fn)
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

// macroSpecificity averages per-class true negative rate in the
// one-vs-rest scheme, skipping classes with no negatives.
func macroSpecificity(matrix [][]int, total int) float64 {
	sum := 0.0
	validClasses := 0

	for class := range matrix {
		support := 0
		predicted := 0
		for other := range matrix {
			support += matrix[class][other]
			predicted += matrix[other][class]
		}
		negatives := total - support
		if negatives <= 0 {
			continue
		}
		fp := predicted - matrix[class][class]
		tn := negatives - fp
		sum += float64(tn) / float64(negatives)
		validClasses++
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

// AUROC computes the macro-averaged one-vs-rest area under the ROC curve
// from class probability scores. Classes lacking either positives or
// negatives are excluded from the average. Returns ErrMissingScores when
// scores were not captured.
func AUROC(scores [][]float32, labels []int, numClasses int) (float64, error) {
	if scores == nil {
		return 0, ErrMissingScores
	}
	if len(scores) != len(labels) {
		return 0, fmt.Errorf("score count %d does not match label count %d", len(scores), len(labels))
	}

	sum := 0.0
	validClasses := 0
	for class := 0; class < numClasses; class++ {
		classScores := make([]float32, len(labels))
		binary := make([]int, len(labels))
		positives := 0
		for i, row := range scores {
			if len(row) != numClasses {
				return 0, fmt.Errorf("sample %d has %d scores, expected %d", i, len(row), numClasses)
			}
			classScores[i] = row[class]
			if labels[i] == class {
				binary[i] = 1
				positives++
			}
		}
		if positives == 0 || positives == len(labels) {
			continue
		}
		sum += binaryAUROC(classScores, binary)
		validClasses++
	}
	if validClasses == 0 {
		return 0.0, nil
	}
	return sum / float64(validClasses), nil
}

// binaryAUROC computes the area under the ROC curve with the trapezoidal
// rule over score-sorted samples.
func binaryAUROC(scores []float32, labels []int) float64 {
	type pair struct {
		score float32
		label int
	}
	pairs := make([]pair, len(scores))
	totalPos := 0
	totalNeg := 0
	for i := range scores {
		pairs[i] = pair{score: scores[i], label: labels[i]}
		if labels[i] == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return 0.0
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	// Tied scores advance the curve as one group, so sample order within
	// a tie cannot change the area.
	auc := 0.0
	tp, fp := 0, 0
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			if pairs[j].label == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		i = j

		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2.0
		prevTPR = tpr
		prevFPR = fpr
	}
	return auc
}
