package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// LoadCSV reads a dataset from a CSV file where every row holds the feature
// vector followed by an integer class label in the last column. A header
// row is skipped when its first field is not numeric.
func LoadCSV(path string) (*SliceDataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset file %s is empty", path)
	}

	start := 0
	if _, err := strconv.ParseFloat(records[0][0], 64); err != nil {
		start = 1
	}
	if start >= len(records) {
		return nil, fmt.Errorf("dataset file %s has no data rows", path)
	}

	var features [][]float32
	var labels []int32
	for line, record := range records[start:] {
		if len(record) < 2 {
			return nil, fmt.Errorf("row %d: need at least one feature and a label", line+start+1)
		}
		vec := make([]float32, len(record)-1)
		for i, field := range record[:len(record)-1] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", line+start+1, i+1, err)
			}
			vec[i] = float32(v)
		}
		label, err := strconv.ParseInt(record[len(record)-1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid label: %w", line+start+1, err)
		}
		if label < 0 {
			return nil, fmt.Errorf("row %d: negative label %d", line+start+1, label)
		}
		features = append(features, vec)
		labels = append(labels, int32(label))
	}

	return NewSliceDataset(features, labels)
}
