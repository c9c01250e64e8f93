package training

import (
	"github.com/montanaflynn/stats"

	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// SegmentationMetrics scores batches with a per-class Dice coefficient.
type SegmentationMetrics struct {
	NumClasses int
}

// NewSegmentationMetrics creates a Dice scorer for the given class count.
func NewSegmentationMetrics(numClasses int) *SegmentationMetrics {
	return &SegmentationMetrics{NumClasses: numClasses}
}

// ScoreBatch post-processes predictions to per-pixel class assignments and
// returns them alongside the batch's per-class Dice vector. Classes absent
// from both prediction and reference score a Dice of 1.
func (m *SegmentationMetrics) ScoreBatch(preds, labels *tensor.Tensor) (*tensor.Tensor, []float64, error) {
	if len(preds.Shape) != 4 {
		return nil, nil, cleanlab.DataShapef("expected 4D prediction tensor, got shape %v", preds.Shape)
	}
	if preds.Shape[1] != m.NumClasses {
		return nil, nil, cleanlab.DataShapef("prediction channels %d do not match %d classes",
			preds.Shape[1], m.NumClasses)
	}

	predData, err := preds.Float32Data()
	if err != nil {
		return nil, nil, err
	}
	labelData, err := labels.Int32Data()
	if err != nil {
		return nil, nil, err
	}

	batch, classes := preds.Shape[0], preds.Shape[1]
	height, width := preds.Shape[2], preds.Shape[3]
	plane := height * width
	if labels.NumElems != batch*plane {
		return nil, nil, cleanlab.DataShapef("label count %d does not match prediction grid %d",
			labels.NumElems, batch*plane)
	}

	assigned, err := tensor.Zeros([]int{batch, height, width}, tensor.Int32)
	if err != nil {
		return nil, nil, err
	}
	assignedData, _ := assigned.Int32Data()

	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			best := predData[(n*classes)*plane+p]
			target := int32(0)
			for k := 1; k < classes; k++ {
				if v := predData[(n*classes+k)*plane+p]; v > best {
					best = v
					target = int32(k)
				}
			}
			assignedData[n*plane+p] = target
		}
	}

	intersect := make([]float64, classes)
	predCount := make([]float64, classes)
	labelCount := make([]float64, classes)
	for i := 0; i < batch*plane; i++ {
		p := assignedData[i]
		l := labelData[i]
		predCount[p]++
		labelCount[l]++
		if p == l {
			intersect[p]++
		}
	}

	dice := make([]float64, classes)
	for k := 0; k < classes; k++ {
		denom := predCount[k] + labelCount[k]
		if denom == 0 {
			dice[k] = 1.0
			continue
		}
		dice[k] = 2 * intersect[k] / denom
	}

	return assigned, dice, nil
}

// EpochLoss reduces per-batch losses to the epoch scalar (arithmetic mean).
func EpochLoss(batchLosses []float64) (float64, error) {
	mean, err := stats.Mean(batchLosses)
	if err != nil {
		return 0, cleanlab.DataShapef("cannot aggregate %d batch losses: %v", len(batchLosses), err)
	}
	return mean, nil
}

// EpochDice reduces per-batch Dice vectors to the epoch per-class vector
// (elementwise mean over batches) and the total scalar (mean over classes).
func EpochDice(batchDice [][]float64) ([]float64, float64, error) {
	if len(batchDice) == 0 {
		return nil, 0, cleanlab.DataShapef("no batch Dice vectors to aggregate")
	}
	classes := len(batchDice[0])

	perClass := make([]float64, classes)
	for k := 0; k < classes; k++ {
		column := make([]float64, len(batchDice))
		for b, vec := range batchDice {
			if len(vec) != classes {
				return nil, 0, cleanlab.DataShapef("batch %d Dice vector has %d classes, expected %d",
					b, len(vec), classes)
			}
			column[b] = vec[k]
		}
		mean, err := stats.Mean(column)
		if err != nil {
			return nil, 0, cleanlab.DataShapef("cannot aggregate Dice for class %d: %v", k, err)
		}
		perClass[k] = mean
	}

	total, err := stats.Mean(perClass)
	if err != nil {
		return nil, 0, cleanlab.DataShapef("cannot aggregate total Dice: %v", err)
	}
	return perClass, total, nil
}
