package cleanlab

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Supported pruning methods. Qij variants work on the softmax probability
// matrix, the Cij variant on the raw (pre-softmax) score matrix with the
// hard-assignment joint; intersection and union combine the two.
const (
	MethodPruneByClass     = "prune_by_class"
	MethodPruneByNoiseRate = "prune_by_noise_rate"
	MethodBoth             = "both"
	MethodQij              = "Qij"
	MethodCij              = "Cij"
	MethodIntersection     = "intersection"
	MethodUnion            = "union"
)

// Methods lists every supported pruning method name.
func Methods() []string {
	return []string{
		MethodPruneByClass, MethodPruneByNoiseRate, MethodBoth,
		MethodQij, MethodCij, MethodIntersection, MethodUnion,
	}
}

// Prune decides, per pixel, whether its observed label is likely noise.
// probsQ holds softmax probabilities, probsC raw network scores; both are
// N x K in the same accumulation order as labels. The returned mask has one
// entry per pixel and is deterministic for identical inputs.
func Prune(labels []int32, probsQ, probsC *mat.Dense, method string) ([]bool, error) {
	if err := checkShapes(labels, probsQ); err != nil {
		return nil, err
	}
	if err := checkShapes(labels, probsC); err != nil {
		return nil, err
	}
	_, kq := probsQ.Dims()
	_, kc := probsC.Dims()
	if kq != kc {
		return nil, DataShapef("probability width mismatch: Qij %d classes, Cij %d classes", kq, kc)
	}

	switch method {
	case MethodPruneByClass, MethodPruneByNoiseRate:
		joint, err := ConfidentJoint(labels, probsQ)
		if err != nil {
			return nil, err
		}
		if method == MethodPruneByClass {
			return pruneByClass(labels, probsQ, joint), nil
		}
		return pruneByNoiseRate(labels, probsQ, joint), nil

	case MethodBoth, MethodQij:
		return marginMask(labels, probsQ)

	case MethodCij:
		return hardMask(labels, probsC)

	case MethodIntersection, MethodUnion:
		qMask, err := marginMask(labels, probsQ)
		if err != nil {
			return nil, err
		}
		cMask, err := hardMask(labels, probsC)
		if err != nil {
			return nil, err
		}
		combined := make([]bool, len(qMask))
		for p := range combined {
			if method == MethodIntersection {
				combined[p] = qMask[p] && cMask[p]
			} else {
				combined[p] = qMask[p] || cMask[p]
			}
		}
		return combined, nil

	default:
		return nil, Configurationf("unknown pruning method %q, expected one of %v", method, Methods())
	}
}

// marginMask is the default decision: union of prune_by_class and
// prune_by_noise_rate over the probability-margin joint.
func marginMask(labels []int32, probs *mat.Dense) ([]bool, error) {
	joint, err := ConfidentJoint(labels, probs)
	if err != nil {
		return nil, err
	}
	return orMasks(
		pruneByClass(labels, probs, joint),
		pruneByNoiseRate(labels, probs, joint),
	), nil
}

// hardMask applies the same union decision over the hard-assignment joint.
func hardMask(labels []int32, probs *mat.Dense) ([]bool, error) {
	joint, err := ArgmaxJoint(labels, probs)
	if err != nil {
		return nil, err
	}
	return orMasks(
		pruneByClass(labels, probs, joint),
		pruneByNoiseRate(labels, probs, joint),
	), nil
}

// pruneByClass marks, for each off-diagonal cell (i, j), the C[i][j] pixels
// observed as i with the highest confidence of truly belonging to j. Ties
// break by higher probability first, then stable input order.
func pruneByClass(labels []int32, probs *mat.Dense, joint *mat.Dense) []bool {
	numClasses, _ := joint.Dims()
	mask := make([]bool, len(labels))

	byLabel := pixelsByLabel(labels, numClasses)
	for i := 0; i < numClasses; i++ {
		candidates := byLabel[i]
		if len(candidates) == 0 {
			continue
		}
		for j := 0; j < numClasses; j++ {
			if j == i {
				continue
			}
			quota := int(math.Round(joint.At(i, j)))
			if quota <= 0 {
				continue
			}
			ranked := append([]int(nil), candidates...)
			sort.SliceStable(ranked, func(a, b int) bool {
				return probs.At(ranked[a], j) > probs.At(ranked[b], j)
			})
			if quota > len(ranked) {
				quota = len(ranked)
			}
			for _, p := range ranked[:quota] {
				mask[p] = true
			}
		}
	}
	return mask
}

// pruneByNoiseRate marks, for each observed-label row i, the pixels with the
// lowest confidence in their own label, as many as the row's estimated
// off-diagonal (noisy) mass.
func pruneByNoiseRate(labels []int32, probs *mat.Dense, joint *mat.Dense) []bool {
	numClasses, _ := joint.Dims()
	mask := make([]bool, len(labels))

	byLabel := pixelsByLabel(labels, numClasses)
	for i := 0; i < numClasses; i++ {
		candidates := byLabel[i]
		if len(candidates) == 0 {
			continue
		}
		offDiagonal := 0.0
		for j := 0; j < numClasses; j++ {
			if j != i {
				offDiagonal += joint.At(i, j)
			}
		}
		quota := int(math.Round(offDiagonal))
		if quota <= 0 {
			continue
		}
		ranked := append([]int(nil), candidates...)
		sort.SliceStable(ranked, func(a, b int) bool {
			return probs.At(ranked[a], i) < probs.At(ranked[b], i)
		})
		if quota > len(ranked) {
			quota = len(ranked)
		}
		for _, p := range ranked[:quota] {
			mask[p] = true
		}
	}
	return mask
}

func pixelsByLabel(labels []int32, numClasses int) [][]int {
	byLabel := make([][]int, numClasses)
	for p, label := range labels {
		byLabel[label] = append(byLabel[label], p)
	}
	return byLabel
}

func orMasks(a, b []bool) []bool {
	out := make([]bool, len(a))
	for p := range out {
		out[p] = a[p] || b[p]
	}
	return out
}
