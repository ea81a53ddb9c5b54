package checkpoints

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"medtrain/tensor"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		Epoch:      7,
		BestMetric: 0.8432,
		Weights: []WeightTensor{
			{Name: "param_0", Shape: []int{2, 2}, Data: []float32{0.1, -0.2, 0.3, -0.4}},
			{Name: "param_1", Shape: []int{2}, Data: []float32{0.5, 0.6}},
		},
		OptimizerState: &OptimizerState{
			Type:       "AdamW",
			Step:       123,
			Parameters: map[string]float64{"lr": 0.001},
			Slots: []StateTensor{
				{Name: "m_0", Shape: []int{2, 2}, Data: []float32{0, 0, 0, 0}},
			},
		},
		SchedulerState: map[string]float64{"scale": 0.5},
		Metadata:       Metadata{RunID: "run-1"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "best.json")
	store := NewStore()

	original := sampleCheckpoint()
	if err := store.Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Epoch != 7 || loaded.BestMetric != 0.8432 {
		t.Errorf("epoch/best = %d/%v, expected 7/0.8432", loaded.Epoch, loaded.BestMetric)
	}
	if loaded.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, expected %d", loaded.SchemaVersion, SchemaVersion)
	}
	if len(loaded.Weights) != 2 {
		t.Fatalf("weight count = %d, expected 2", len(loaded.Weights))
	}
	for i, w := range loaded.Weights {
		for j, v := range w.Data {
			if v != original.Weights[i].Data[j] {
				t.Errorf("weight %d[%d] = %v, expected %v", i, j, v, original.Weights[i].Data[j])
			}
		}
	}
	if loaded.OptimizerState == nil || loaded.OptimizerState.Step != 123 {
		t.Errorf("optimizer state not preserved: %+v", loaded.OptimizerState)
	}
	if loaded.SchedulerState["scale"] != 0.5 {
		t.Errorf("scheduler state not preserved: %v", loaded.SchedulerState)
	}
	if loaded.Metadata.Framework == "" || loaded.Metadata.CreatedAt.IsZero() {
		t.Errorf("metadata not filled on save: %+v", loaded.Metadata)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.json")
	store := NewStore()

	first := sampleCheckpoint()
	if err := store.Save(path, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := sampleCheckpoint()
	second.Epoch = 8
	if err := store.Save(path, second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Epoch != 8 {
		t.Errorf("epoch = %d, expected the newer 8", loaded.Epoch)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	store := NewStore()
	_, err := store.Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrMissingFile) {
		t.Errorf("expected ErrMissingFile, got %v", err)
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "not json at all"},
		{"missing epoch", `{"schema_version":1,"best_metric":0.5,"weights":[]}`},
		{"missing weights", `{"schema_version":1,"epoch":1,"best_metric":0.5}`},
		{"wrong schema version", `{"schema_version":99,"epoch":1,"best_metric":0.5,"weights":[]}`},
		{"negative epoch", `{"schema_version":1,"epoch":-3,"best_metric":0.5,"weights":[]}`},
		{"wrong field type", `{"schema_version":1,"epoch":"one","best_metric":0.5,"weights":[]}`},
	}

	store := NewStore()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := store.Load(path)
			if !errors.Is(err, ErrCorruptCheckpoint) {
				t.Errorf("expected ErrCorruptCheckpoint, got %v", err)
			}
		})
	}
}

func TestLoadWithoutSchedulerState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.json")
	store := NewStore()

	cp := sampleCheckpoint()
	cp.SchedulerState = nil
	if err := store.Save(path, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SchedulerState != nil {
		t.Errorf("scheduler state = %v, expected nil", loaded.SchedulerState)
	}
}

func TestExtractLoadWeights(t *testing.T) {
	a, _ := tensor.New([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := tensor.New([]int{2}, []float32{5, 6})
	weights := ExtractWeights([]*tensor.Tensor{a, b})

	// Extraction copies; mutating the source must not leak in.
	a.Data[0] = 99
	if weights[0].Data[0] != 1 {
		t.Error("extracted weights alias the parameter data")
	}

	c, _ := tensor.Zeros([]int{2, 2})
	d, _ := tensor.Zeros([]int{2})
	if err := LoadWeights(weights, []*tensor.Tensor{c, d}); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if c.Data[3] != 4 || d.Data[1] != 6 {
		t.Errorf("weights not restored: %v %v", c.Data, d.Data)
	}
}

func TestLoadWeightsShapeMismatch(t *testing.T) {
	a, _ := tensor.New([]int{2, 2}, []float32{1, 2, 3, 4})
	weights := ExtractWeights([]*tensor.Tensor{a})

	wrongRank, _ := tensor.Zeros([]int{4})
	if err := LoadWeights(weights, []*tensor.Tensor{wrongRank}); err == nil {
		t.Error("expected error for rank mismatch")
	}

	wrongDim, _ := tensor.Zeros([]int{2, 3})
	if err := LoadWeights(weights, []*tensor.Tensor{wrongDim}); err == nil {
		t.Error("expected error for dimension mismatch")
	}

	if err := LoadWeights(weights, nil); err == nil {
		t.Error("expected error for count mismatch")
	}
}
