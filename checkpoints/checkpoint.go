// Package checkpoints persists model state as JSON files and implements the
// saving policy: periodic epoch snapshots plus a single distinguished
// best-on-validation checkpoint.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Filenames follow the fixed pattern the loaders parse. The best checkpoint
// uses one distinguished name and is overwritten in place, so at most one
// best file exists at a time.
const (
	BestCheckpointFile  = "net_best_on_validation_set.json"
	epochFilePrefix     = "net_epoch_"
	epochFileSuffix     = ".json"
	checkpointVersion   = "1.0.0"
	checkpointFramework = "confidentseg"
)

// Weight is one named parameter tensor.
type Weight struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the training progress stored with the weights.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestDice     float64 `json:"best_dice"`
}

// Metadata contains checkpoint bookkeeping fields.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete persisted model state.
type Checkpoint struct {
	Weights  []Weight      `json:"weights"`
	State    TrainingState `json:"training_state"`
	Metadata Metadata      `json:"metadata"`
}

// EpochCheckpointFile returns the periodic snapshot filename for an epoch.
func EpochCheckpointFile(epoch int) string {
	return fmt.Sprintf("%s%d%s", epochFilePrefix, epoch, epochFileSuffix)
}

// ParseEpoch extracts the epoch index from a periodic snapshot filename.
func ParseEpoch(filename string) (int, bool) {
	if !strings.HasPrefix(filename, epochFilePrefix) || !strings.HasSuffix(filename, epochFileSuffix) {
		return 0, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(filename, epochFilePrefix), epochFileSuffix)
	epoch, err := strconv.Atoi(middle)
	if err != nil || epoch < 0 {
		return 0, false
	}
	return epoch, true
}

// Save writes a checkpoint as indented JSON, overwriting any existing file.
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = checkpointFramework
		checkpoint.Metadata.Version = checkpointVersion
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file %s", path)
	}

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode checkpoint %s", path)
	}
	return f.Close()
}

// Load reads a checkpoint from disk.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %s", path)
	}
	defer f.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(f).Decode(&checkpoint); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return &checkpoint, nil
}

// LatestEpoch scans dir for periodic snapshots and returns the highest
// epoch index present. Missing directories or directories without a single
// parsable snapshot are errors; there is no silent fallback.
func LatestEpoch(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read checkpoint dir %s", dir)
	}

	latest := -1
	for _, entry := range entries {
		if epoch, ok := ParseEpoch(entry.Name()); ok && epoch > latest {
			latest = epoch
		}
	}
	if latest < 0 {
		return 0, errors.Errorf("no epoch checkpoints found in %s", dir)
	}
	return latest, nil
}

// Select resolves a checkpoint path: a non-negative epoch selects that
// periodic snapshot, -1 selects the distinguished best checkpoint. The
// file must exist.
func Select(dir string, epoch int) (string, error) {
	var path string
	if epoch >= 0 {
		path = filepath.Join(dir, EpochCheckpointFile(epoch))
	} else {
		path = filepath.Join(dir, BestCheckpointFile)
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "checkpoint %s not available", path)
	}
	return path, nil
}
