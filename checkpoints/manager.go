package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Config configures checkpoint saving behavior.
type Config struct {
	Dir        string // Directory holding all checkpoint files
	SaveEpochs int    // Save a periodic snapshot every N epochs, epoch 0 included
}

// DefaultConfig returns the saving defaults used by the training drivers.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		SaveEpochs: 10,
	}
}

// Manager applies the two checkpoint triggers at the end of each epoch:
// periodic snapshots on a fixed schedule and the best-on-validation file
// whenever the epoch matched or beat the running maximum. The triggers are
// independent and may both fire for one epoch.
type Manager struct {
	config Config
}

// NewManager creates a checkpoint manager, ensuring the directory exists.
func NewManager(config Config) (*Manager, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint dir %s", config.Dir)
	}
	return &Manager{config: config}, nil
}

// Dir returns the managed checkpoint directory.
func (m *Manager) Dir() string {
	return m.config.Dir
}

// OnEpochEnd persists the model state per the policy and reports which
// triggers fired. isBest must come from the validation history's running
// maximum for this epoch.
func (m *Manager) OnEpochEnd(epoch int, state TrainingState, weights []Weight, isBest bool) (periodic, best bool, err error) {
	if m.config.SaveEpochs > 0 && epoch%m.config.SaveEpochs == 0 {
		checkpoint := &Checkpoint{
			Weights: weights,
			State:   state,
			Metadata: Metadata{
				Description: fmt.Sprintf("periodic snapshot, epoch %d", epoch),
			},
		}
		path := filepath.Join(m.config.Dir, EpochCheckpointFile(epoch))
		if err := Save(checkpoint, path); err != nil {
			return false, false, err
		}
		periodic = true
	}

	if isBest {
		checkpoint := &Checkpoint{
			Weights: weights,
			State:   state,
			Metadata: Metadata{
				Description: fmt.Sprintf("best on validation set, epoch %d, dice %.4f", epoch, state.BestDice),
			},
		}
		// Single distinguished file, overwritten in place: stale best
		// checkpoints never accumulate.
		path := filepath.Join(m.config.Dir, BestCheckpointFile)
		if err := Save(checkpoint, path); err != nil {
			return periodic, false, err
		}
		best = true
	}

	return periodic, best, nil
}
