package training

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanhuhaifeng/confidentseg/checkpoints"
	"github.com/shanhuhaifeng/confidentseg/cleanlab"
)

type countingOptimizer struct {
	zeroed  int
	stepped int
	lr      float64
}

func (o *countingOptimizer) ZeroGrad() { o.zeroed++ }

func (o *countingOptimizer) Step() error {
	o.stepped++
	return nil
}

func (o *countingOptimizer) SetLearningRate(lr float64) { o.lr = lr }

func (o *countingOptimizer) LearningRate() float64 { return o.lr }

type failingPlotSink struct {
	calls int
}

func (s *failingPlotSink) Publish(CurvePoint) error {
	s.calls++
	return fmt.Errorf("plot backend unreachable")
}

func newTestTrainer(t *testing.T, optimizer Optimizer) *Trainer {
	t.Helper()
	model, err := NewLinearPixelModel(2)
	require.NoError(t, err)
	trainer, err := NewTrainer(VNet2d{Model: model}, CrossEntropy{}, optimizer,
		NewSegmentationMetrics(2), TrainerConfig{
			NumEpochs:  2,
			BaseLR:     0.01,
			LRStepSize: 30,
			LRGamma:    0.1,
		})
	require.NoError(t, err)
	return trainer
}

func TestRunEpochTrainStepsOncePerBatch(t *testing.T) {
	optimizer := &countingOptimizer{}
	trainer := newTestTrainer(t, optimizer)
	loader := NewDataLoader(&memDataset{size: 4}, 2, false, nil)

	metrics, err := trainer.RunEpoch(true, 0, loader)
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.Batches)
	assert.Equal(t, 2, optimizer.stepped)
	assert.Equal(t, 2, optimizer.zeroed)
	assert.True(t, metrics.Training)
	assert.Equal(t, 0, trainer.History().Len(), "training epochs do not touch validation history")
}

func TestRunEpochEvalNeverSteps(t *testing.T) {
	optimizer := &countingOptimizer{}
	trainer := newTestTrainer(t, optimizer)
	loader := NewDataLoader(&memDataset{size: 4}, 2, false, nil)

	metrics, err := trainer.RunEpoch(false, 0, loader)
	require.NoError(t, err)

	assert.Equal(t, 0, optimizer.stepped)
	assert.Equal(t, 0, optimizer.zeroed)
	assert.Equal(t, 1, trainer.History().Len())
	assert.True(t, metrics.IsBest, "first evaluation epoch is always the best so far")
}

func TestRunEpochEvalPreservesParameters(t *testing.T) {
	model, err := NewLinearPixelModel(2)
	require.NoError(t, err)
	params, grads := model.Parameters(), model.Gradients()
	sgd, err := NewSGD(params, grads, 0.5)
	require.NoError(t, err)

	trainer, err := NewTrainer(VNet2d{Model: model}, CrossEntropy{}, sgd,
		NewSegmentationMetrics(2), TrainerConfig{NumEpochs: 1, BaseLR: 0.5, LRStepSize: 30, LRGamma: 0.1})
	require.NoError(t, err)

	before := snapshotParams(t, trainer.network)
	_, err = trainer.RunEpoch(false, 0, NewDataLoader(&memDataset{size: 4}, 2, false, nil))
	require.NoError(t, err)
	assert.Equal(t, before, snapshotParams(t, trainer.network))

	_, err = trainer.RunEpoch(true, 0, NewDataLoader(&memDataset{size: 4}, 2, false, nil))
	require.NoError(t, err)
	assert.NotEqual(t, before, snapshotParams(t, trainer.network))
}

func snapshotParams(t *testing.T, n Network) [][]float32 {
	t.Helper()
	var snapshot [][]float32
	for _, w := range ExtractWeights(n) {
		snapshot = append(snapshot, append([]float32(nil), w.Data...))
	}
	return snapshot
}

func TestRunEpochSurvivesPlotSinkFailure(t *testing.T) {
	sink := &failingPlotSink{}
	trainer := newTestTrainer(t, &countingOptimizer{})
	trainer.SetPlotSink(sink)

	_, err := trainer.RunEpoch(true, 0, NewDataLoader(&memDataset{size: 2}, 2, false, nil))
	require.NoError(t, err)
	assert.Greater(t, sink.calls, 0)
}

func TestFitWritesCheckpoints(t *testing.T) {
	dir := t.TempDir()
	manager, err := checkpoints.NewManager(checkpoints.Config{Dir: dir, SaveEpochs: 1})
	require.NoError(t, err)

	trainer := newTestTrainer(t, &countingOptimizer{})
	trainLoader := NewDataLoader(&memDataset{size: 4}, 2, true, nil)
	validLoader := NewDataLoader(&memDataset{size: 2}, 2, false, nil)

	require.NoError(t, trainer.Fit(trainLoader, validLoader, manager))

	for epoch := 0; epoch < 2; epoch++ {
		_, err := os.Stat(filepath.Join(dir, checkpoints.EpochCheckpointFile(epoch)))
		assert.NoError(t, err, "periodic checkpoint for epoch %d", epoch)
	}
	_, err = os.Stat(filepath.Join(dir, checkpoints.BestCheckpointFile))
	assert.NoError(t, err, "best checkpoint")

	best, err := checkpoints.Load(filepath.Join(dir, checkpoints.BestCheckpointFile))
	require.NoError(t, err)
	assert.Equal(t, trainer.History().Max(), best.State.BestDice)
}

func TestNewTrainerRejectsWeightedLossWithPlainNetwork(t *testing.T) {
	model, err := NewLinearPixelModel(2)
	require.NoError(t, err)

	_, err = NewTrainer(VNet2d{Model: model}, WeightedCrossEntropy{}, &countingOptimizer{},
		NewSegmentationMetrics(2), TrainerConfig{NumEpochs: 1, BaseLR: 0.01})
	var confErr *cleanlab.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestWeightsRoundTrip(t *testing.T) {
	source, err := NewLinearPixelModel(2)
	require.NoError(t, err)
	target, err := NewLinearPixelModel(2)
	require.NoError(t, err)

	weights := ExtractWeights(VNet2d{Model: source})
	require.NoError(t, RestoreWeights(VNet2d{Model: target}, weights))

	assert.Equal(t, snapshotParams(t, VNet2d{Model: source}), snapshotParams(t, VNet2d{Model: target}))
}
