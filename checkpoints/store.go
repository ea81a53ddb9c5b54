package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrMissingFile is returned by Load when no checkpoint exists at the path.
// Callers may fall back to fresh initialization, but should surface the
// condition to the operator.
var ErrMissingFile = errors.New("checkpoint file does not exist")

// ErrCorruptCheckpoint is returned by Load when the stored data cannot be
// decoded or does not match the expected schema.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// Store reads and writes checkpoint files. Saves are all-or-nothing: the
// checkpoint is written to a temporary file in the target directory and
// atomically renamed into place, so a crash mid-save never clobbers the
// previous valid checkpoint.
type Store struct{}

// NewStore creates a checkpoint store.
func NewStore() *Store {
	return &Store{}
}

// Save writes the checkpoint to path atomically.
func (s *Store) Save(path string, cp *Checkpoint) error {
	cp.SchemaVersion = SchemaVersion
	if cp.Metadata.Framework == "" {
		cp.Metadata.Framework = "medtrain"
	}
	if cp.Metadata.CreatedAt.IsZero() {
		cp.Metadata.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint file: %v", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set checkpoint permissions: %v", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint: %v", err)
	}
	return nil
}

var requiredFields = []string{"schema_version", "epoch", "best_metric", "weights"}

// Load reads and validates a checkpoint from path. It returns
// ErrMissingFile when the path does not exist and ErrCorruptCheckpoint when
// the contents do not decode to the expected field set. A checkpoint
// without scheduler state loads fine; the caller keeps its scheduler
// defaults.
func (s *Store) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrCorruptCheckpoint, field)
		}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if cp.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, expected %d", ErrCorruptCheckpoint, cp.SchemaVersion, SchemaVersion)
	}
	if cp.Epoch < 0 {
		return nil, fmt.Errorf("%w: negative epoch %d", ErrCorruptCheckpoint, cp.Epoch)
	}
	return &cp, nil
}
