package training

import (
	"strconv"
	"time"

	"github.com/shanhuhaifeng/confidentseg/checkpoints"
	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/log"
	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// TrainerConfig holds configuration for a training run.
type TrainerConfig struct {
	NumEpochs  int
	BaseLR     float64
	LRStepSize int     // Epochs between learning rate reductions
	LRGamma    float64 // Learning rate decay factor
}

// EpochMetrics holds the aggregated results of one epoch.
type EpochMetrics struct {
	Epoch        int
	Training     bool
	Loss         float64
	DicePerClass []float64
	TotalDice    float64
	IsBest       bool // eval epochs only: matched or beat the running max
	Duration     time.Duration
	Batches      int
}

// Trainer drives repeated train/eval passes over a network and loss,
// aggregates batch metrics into epoch scalars, and feeds the checkpoint
// policy. Evaluation epochs never touch model parameters.
type Trainer struct {
	network   Network
	criterion Criterion
	optimizer Optimizer
	metrics   *SegmentationMetrics
	scheduler LRScheduler
	sink      PlotSink
	logger    log.Logger
	history   *ValidationHistory
	config    TrainerConfig
}

// NewTrainer creates a Trainer and validates the network/criterion pairing.
func NewTrainer(network Network, criterion Criterion, optimizer Optimizer, metrics *SegmentationMetrics, config TrainerConfig) (*Trainer, error) {
	switch network.(type) {
	case VNet2d, PickAndLearn:
	default:
		return nil, cleanlab.Configurationf("unknown network variant %T", network)
	}
	switch criterion.(type) {
	case CrossEntropy, SLSR, WeightedCrossEntropy:
	default:
		return nil, cleanlab.Configurationf("unknown loss criterion %T", criterion)
	}
	if _, ok := criterion.(WeightedCrossEntropy); ok {
		if _, ok := network.(PickAndLearn); !ok {
			return nil, cleanlab.Configurationf("WeightedCrossEntropy requires a pick_and_learn network")
		}
	}

	return &Trainer{
		network:   network,
		criterion: criterion,
		optimizer: optimizer,
		metrics:   metrics,
		scheduler: NewStepLRScheduler(config.LRStepSize, config.LRGamma),
		sink:      NopPlotSink{},
		logger:    log.Default,
		history:   NewValidationHistory(),
		config:    config,
	}, nil
}

// SetPlotSink replaces the plotting sink. Sink errors are logged, never
// propagated.
func (t *Trainer) SetPlotSink(sink PlotSink) {
	t.sink = sink
}

// SetLogger replaces the run logger.
func (t *Trainer) SetLogger(logger log.Logger) {
	t.logger = logger
}

// History returns the validation history owned by this trainer.
func (t *Trainer) History() *ValidationHistory {
	return t.history
}

// RunEpoch iterates one full pass over the loader. In training mode each
// batch propagates gradients and applies one optimizer step; in evaluation
// mode parameters are never mutated and the epoch's total Dice is appended
// to the validation history.
func (t *Trainer) RunEpoch(training bool, epoch int, loader *DataLoader) (EpochMetrics, error) {
	mode := "evaluating"
	if training {
		mode = "training"
	}
	t.logger.Infof("start %s epoch: %d", mode, epoch)
	start := time.Now()

	var batchLosses []float64
	var batchDice [][]float64

	loader.Reset()
	batchIdx := 0
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return EpochMetrics{}, err
		}
		if batch == nil {
			break
		}
		batchStart := time.Now()

		preds, weights, err := t.forward(batch)
		if err != nil {
			return EpochMetrics{}, err
		}

		loss, err := computeLoss(t.criterion, lossInput{
			preds:   preds,
			labels:  batch.Labels,
			conf:    batch.ConfMaps,
			weights: weights,
		})
		if err != nil {
			return EpochMetrics{}, err
		}
		batchLosses = append(batchLosses, loss)

		if training {
			t.optimizer.ZeroGrad()
			if gc, ok := gradComputer(t.network); ok {
				if err := gc.AccumulateGrads(preds, batch.Labels); err != nil {
					return EpochMetrics{}, err
				}
			}
			if err := t.optimizer.Step(); err != nil {
				return EpochMetrics{}, err
			}
		}

		_, dice, err := t.metrics.ScoreBatch(preds, batch.Labels)
		if err != nil {
			return EpochMetrics{}, err
		}
		batchDice = append(batchDice, dice)

		t.logger.Debugf("epoch: %d, batch: %d, loss: %.4f, consuming time: %.4fs",
			epoch, batchIdx, loss, time.Since(batchStart).Seconds())
		batchIdx++
	}

	loss, err := EpochLoss(batchLosses)
	if err != nil {
		return EpochMetrics{}, err
	}
	dicePerClass, totalDice, err := EpochDice(batchDice)
	if err != nil {
		return EpochMetrics{}, err
	}

	metrics := EpochMetrics{
		Epoch:        epoch,
		Training:     training,
		Loss:         loss,
		DicePerClass: dicePerClass,
		TotalDice:    totalDice,
		Duration:     time.Since(start),
		Batches:      batchIdx,
	}
	if !training {
		metrics.IsBest = t.history.Append(totalDice)
	}

	t.logger.Infof("%s of epoch %d finished, loss: %.4f, total dice: %.4f, consuming time: %.4fs",
		mode, epoch, loss, totalDice, metrics.Duration.Seconds())
	t.publishCurves(metrics)

	return metrics, nil
}

// Fit runs the configured number of {train, eval} epoch pairs with a
// learning rate decay step after each pair, persisting checkpoints through
// the manager when one is supplied.
func (t *Trainer) Fit(trainLoader, validLoader *DataLoader, manager *checkpoints.Manager) error {
	for epoch := 0; epoch < t.config.NumEpochs; epoch++ {
		if _, err := t.RunEpoch(true, epoch, trainLoader); err != nil {
			return err
		}
		evalMetrics, err := t.RunEpoch(false, epoch, validLoader)
		if err != nil {
			return err
		}

		lr := t.scheduler.GetLR(epoch+1, t.config.BaseLR)
		t.optimizer.SetLearningRate(lr)

		if manager != nil {
			state := checkpoints.TrainingState{
				Epoch:        epoch,
				LearningRate: lr,
				BestDice:     t.history.Max(),
			}
			if _, _, err := manager.OnEpochEnd(epoch, state, ExtractWeights(t.network), evalMetrics.IsBest); err != nil {
				return err
			}
		}
	}

	t.logger.Infof("the best dice on validation set is %.4f", t.history.Max())
	return nil
}

// forward dispatches on the network variant. The attention variant receives
// the labels and returns auxiliary weights; the plain variant returns nil
// weights.
func (t *Trainer) forward(batch *Batch) (preds, weights *tensor.Tensor, err error) {
	switch net := t.network.(type) {
	case VNet2d:
		preds, err = net.Model.Forward(batch.Images)
		return preds, nil, err
	case PickAndLearn:
		return net.Model.Forward(batch.Images, batch.Labels)
	default:
		return nil, nil, cleanlab.Configurationf("unknown network variant %T", t.network)
	}
}

func gradComputer(n Network) (GradComputer, bool) {
	switch net := n.(type) {
	case VNet2d:
		gc, ok := net.Model.(GradComputer)
		return gc, ok
	case PickAndLearn:
		gc, ok := net.Model.(GradComputer)
		return gc, ok
	default:
		return nil, false
	}
}

// publishCurves emits the epoch's loss and Dice curves. Sink failures are
// reported and discarded so a flaky backend cannot abort training.
func (t *Trainer) publishCurves(m EpochMetrics) {
	series := "validation"
	if m.Training {
		series = "training"
	}

	points := []CurvePoint{
		{Window: "loss", Series: series + "_loss", Epoch: m.Epoch, Value: m.Loss},
		{Window: "metrics_total_dice", Series: series, Epoch: m.Epoch, Value: m.TotalDice},
	}
	for classIdx, dice := range m.DicePerClass {
		points = append(points, CurvePoint{
			Window: "metrics_dice_class_" + strconv.Itoa(classIdx),
			Series: series,
			Epoch:  m.Epoch,
			Value:  dice,
		})
	}

	for _, point := range points {
		if err := t.sink.Publish(point); err != nil {
			t.logger.Warnf("plot sink error: %v", err)
		}
	}
}

// ExtractWeights snapshots a network's parameters as named checkpoint
// weights.
func ExtractWeights(n Network) []checkpoints.Weight {
	params := networkParameters(n)
	weights := make([]checkpoints.Weight, 0, len(params))
	for i, param := range params {
		data, err := param.Float32Data()
		if err != nil {
			continue
		}
		weights = append(weights, checkpoints.Weight{
			Name:  "param_" + strconv.Itoa(i),
			Shape: append([]int(nil), param.Shape...),
			Data:  append([]float32(nil), data...),
		})
	}
	return weights
}

// RestoreWeights loads checkpoint weights back into a network's parameters.
func RestoreWeights(n Network, weights []checkpoints.Weight) error {
	params := networkParameters(n)
	if len(weights) != len(params) {
		return cleanlab.DataShapef("weight count mismatch: checkpoint has %d, network has %d",
			len(weights), len(params))
	}
	for i, weight := range weights {
		data, err := params[i].Float32Data()
		if err != nil {
			return err
		}
		if len(weight.Data) != len(data) {
			return cleanlab.DataShapef("weight %s has %d elements, parameter expects %d",
				weight.Name, len(weight.Data), len(data))
		}
		copy(data, weight.Data)
	}
	return nil
}
