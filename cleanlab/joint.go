// Package cleanlab estimates which pixel labels in a segmentation dataset are
// likely mislabeled, given the per-pixel class probabilities predicted by a
// model trained on those same noisy labels. The estimate is built from a
// confident joint: a KxK count matrix between observed labels and the latent
// labels the model is confident about.
package cleanlab

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ClassThresholds returns, for each class k, the mean predicted probability
// of class k over all pixels whose observed label is k. A class with no
// observed pixels gets +Inf: it can never be confidently assigned.
func ClassThresholds(labels []int32, probs *mat.Dense) ([]float64, error) {
	if err := checkShapes(labels, probs); err != nil {
		return nil, err
	}
	_, numClasses := probs.Dims()

	sums := make([]float64, numClasses)
	counts := make([]int, numClasses)
	for p, label := range labels {
		sums[label] += probs.At(p, int(label))
		counts[label]++
	}

	thresholds := make([]float64, numClasses)
	for k := range thresholds {
		if counts[k] == 0 {
			thresholds[k] = math.Inf(1)
			continue
		}
		thresholds[k] = sums[k] / float64(counts[k])
	}
	return thresholds, nil
}

// ConfidentJoint estimates the calibrated joint count matrix C[i][j] between
// observed label i and latent label j. A pixel contributes to C[i][j*] where
// j* is the highest-probability class whose probability clears that class's
// own threshold; pixels clearing no threshold are excluded from the joint.
func ConfidentJoint(labels []int32, probs *mat.Dense) (*mat.Dense, error) {
	thresholds, err := ClassThresholds(labels, probs)
	if err != nil {
		return nil, err
	}
	_, numClasses := probs.Dims()

	counts := mat.NewDense(numClasses, numClasses, nil)
	for p, label := range labels {
		target := -1
		best := math.Inf(-1)
		for j := 0; j < numClasses; j++ {
			v := probs.At(p, j)
			if v < thresholds[j] {
				continue
			}
			// Ties break toward the lower class index.
			if v > best {
				best = v
				target = j
			}
		}
		if target < 0 {
			continue
		}
		counts.Set(int(label), target, counts.At(int(label), target)+1)
	}

	return CalibrateJoint(counts, labels), nil
}

// ArgmaxJoint builds the hard-assignment flavour of the joint: each pixel is
// assigned to its arg-max class with no per-class thresholding. Shares the
// calibration step with ConfidentJoint.
func ArgmaxJoint(labels []int32, probs *mat.Dense) (*mat.Dense, error) {
	if err := checkShapes(labels, probs); err != nil {
		return nil, err
	}
	_, numClasses := probs.Dims()

	counts := mat.NewDense(numClasses, numClasses, nil)
	for p, label := range labels {
		target := 0
		best := probs.At(p, 0)
		for j := 1; j < numClasses; j++ {
			if v := probs.At(p, j); v > best {
				best = v
				target = j
			}
		}
		counts.Set(int(label), target, counts.At(int(label), target)+1)
	}

	return CalibrateJoint(counts, labels), nil
}

// CalibrateJoint rescales a raw joint count matrix so its marginals are
// consistent with the observed data: two passes of iterative proportional
// fitting (rows to the observed per-class counts, columns to the estimated
// latent prior, rows again), leaving total mass equal to the number of
// observed pixels. Rows for absent classes stay zero.
func CalibrateJoint(counts *mat.Dense, labels []int32) *mat.Dense {
	numClasses, _ := counts.Dims()

	observed := make([]float64, numClasses)
	for _, label := range labels {
		observed[label]++
	}

	calibrated := mat.DenseCopyOf(counts)
	scaleRows(calibrated, observed)

	// Column targets: the latent prior estimated from the row-consistent
	// matrix, carrying total mass N.
	colTargets := make([]float64, numClasses)
	for j := 0; j < numClasses; j++ {
		colTargets[j] = floats.Sum(mat.Col(nil, j, calibrated))
	}
	scaleCols(calibrated, colTargets)
	scaleRows(calibrated, observed)

	return calibrated
}

func scaleRows(m *mat.Dense, targets []float64) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		sum := floats.Sum(row)
		if sum <= 0 || targets[i] <= 0 {
			for j := range row {
				row[j] = 0
			}
			continue
		}
		floats.Scale(targets[i]/sum, row)
	}
}

func scaleCols(m *mat.Dense, targets []float64) {
	rows, cols := m.Dims()
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		if sum <= 0 {
			continue
		}
		scale := targets[j] / sum
		for i := 0; i < rows; i++ {
			m.Set(i, j, m.At(i, j)*scale)
		}
	}
}

func checkShapes(labels []int32, probs *mat.Dense) error {
	numPixels, numClasses := probs.Dims()
	if len(labels) == 0 {
		return DataShapef("empty label array")
	}
	if numPixels != len(labels) {
		return DataShapef("label/probability length mismatch: %d labels, %d probability rows",
			len(labels), numPixels)
	}
	for p, label := range labels {
		if label < 0 || int(label) >= numClasses {
			return DataShapef("label %d at pixel %d out of range [0, %d)", label, p, numClasses)
		}
	}
	return nil
}
