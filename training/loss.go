package training

import (
	"math"

	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// Criterion is the closed set of supported loss kinds. Each variant carries
// the extra inputs its calling convention needs; the trainer matches
// exhaustively and passes confident maps or attention weights accordingly.
type Criterion interface {
	isCriterion()
}

// CrossEntropy is plain per-pixel softmax cross entropy.
type CrossEntropy struct{}

func (CrossEntropy) isCriterion() {}

// SLSR is cross entropy with selective label smoothing: pixels flagged as
// noisy by a confidence map have their one-hot target softened by Epsilon.
type SLSR struct {
	Epsilon float64
}

func (SLSR) isCriterion() {}

// WeightedCrossEntropy scales each pixel's cross entropy by an auxiliary
// weight map produced by an attention network.
type WeightedCrossEntropy struct{}

func (WeightedCrossEntropy) isCriterion() {}

// SoftmaxChannels applies a numerically stable softmax across the class
// dimension of a (B, K, H, W) score tensor.
func SoftmaxChannels(preds *tensor.Tensor) (*tensor.Tensor, error) {
	if len(preds.Shape) != 4 {
		return nil, cleanlab.DataShapef("expected 4D prediction tensor, got shape %v", preds.Shape)
	}
	in, err := preds.Float32Data()
	if err != nil {
		return nil, err
	}

	batch, classes := preds.Shape[0], preds.Shape[1]
	plane := preds.Shape[2] * preds.Shape[3]

	out, err := tensor.Zeros(preds.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	outData, _ := out.Float32Data()

	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			max := float32(math.Inf(-1))
			for k := 0; k < classes; k++ {
				if v := in[(n*classes+k)*plane+p]; v > max {
					max = v
				}
			}
			sum := float32(0)
			for k := 0; k < classes; k++ {
				e := float32(math.Exp(float64(in[(n*classes+k)*plane+p] - max)))
				outData[(n*classes+k)*plane+p] = e
				sum += e
			}
			for k := 0; k < classes; k++ {
				outData[(n*classes+k)*plane+p] /= sum
			}
		}
	}
	return out, nil
}

// lossInput bundles the tensors a criterion variant may consume.
type lossInput struct {
	preds   *tensor.Tensor // (B, K, H, W) raw scores
	labels  *tensor.Tensor // (B, H, W) class indices
	conf    *tensor.Tensor // (B, H, W) noise flags, nil when maps are not loaded
	weights *tensor.Tensor // (B, H, W) attention weights, nil for plain networks
}

// computeLoss evaluates a criterion variant over one batch, returning the
// scalar loss (mean over pixels).
func computeLoss(c Criterion, in lossInput) (float64, error) {
	logProbs, err := logSoftmaxChannels(in.preds)
	if err != nil {
		return 0, err
	}
	labelData, err := in.labels.Int32Data()
	if err != nil {
		return 0, err
	}

	batch, classes := in.preds.Shape[0], in.preds.Shape[1]
	plane := in.preds.Shape[2] * in.preds.Shape[3]
	if in.labels.NumElems != batch*plane {
		return 0, cleanlab.DataShapef("label count %d does not match prediction grid %d",
			in.labels.NumElems, batch*plane)
	}

	switch crit := c.(type) {
	case CrossEntropy:
		total := 0.0
		for n := 0; n < batch; n++ {
			for p := 0; p < plane; p++ {
				label := labelData[n*plane+p]
				total -= float64(logProbs[(n*classes+int(label))*plane+p])
			}
		}
		return total / float64(batch*plane), nil

	case SLSR:
		var confData []float32
		if in.conf != nil {
			confData, err = in.conf.Float32Data()
			if err != nil {
				return 0, err
			}
		}
		eps := crit.Epsilon
		total := 0.0
		for n := 0; n < batch; n++ {
			for p := 0; p < plane; p++ {
				label := labelData[n*plane+p]
				if confData == nil || confData[n*plane+p] == 0 {
					total -= float64(logProbs[(n*classes+int(label))*plane+p])
					continue
				}
				// Flagged pixel: soften the one-hot target.
				off := eps / float64(classes-1)
				for k := 0; k < classes; k++ {
					target := off
					if int32(k) == label {
						target = 1 - eps
					}
					total -= target * float64(logProbs[(n*classes+k)*plane+p])
				}
			}
		}
		return total / float64(batch*plane), nil

	case WeightedCrossEntropy:
		if in.weights == nil {
			return 0, cleanlab.Configurationf("WeightedCrossEntropy requires an attention network providing weights")
		}
		weightData, err := in.weights.Float32Data()
		if err != nil {
			return 0, err
		}
		total := 0.0
		weightSum := 0.0
		for n := 0; n < batch; n++ {
			for p := 0; p < plane; p++ {
				label := labelData[n*plane+p]
				w := float64(weightData[n*plane+p])
				total -= w * float64(logProbs[(n*classes+int(label))*plane+p])
				weightSum += w
			}
		}
		if weightSum == 0 {
			return 0, nil
		}
		return total / weightSum, nil

	default:
		return 0, cleanlab.Configurationf("unknown loss criterion %T", c)
	}
}

func logSoftmaxChannels(preds *tensor.Tensor) ([]float32, error) {
	if len(preds.Shape) != 4 {
		return nil, cleanlab.DataShapef("expected 4D prediction tensor, got shape %v", preds.Shape)
	}
	in, err := preds.Float32Data()
	if err != nil {
		return nil, err
	}

	batch, classes := preds.Shape[0], preds.Shape[1]
	plane := preds.Shape[2] * preds.Shape[3]

	out := make([]float32, len(in))
	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			max := float32(math.Inf(-1))
			for k := 0; k < classes; k++ {
				if v := in[(n*classes+k)*plane+p]; v > max {
					max = v
				}
			}
			sum := 0.0
			for k := 0; k < classes; k++ {
				sum += math.Exp(float64(in[(n*classes+k)*plane+p] - max))
			}
			logSum := float32(math.Log(sum))
			for k := 0; k < classes; k++ {
				idx := (n*classes+k)*plane + p
				out[idx] = in[idx] - max - logSum
			}
		}
	}
	return out, nil
}
