package cleanlab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPruneFlagsFlippedLabels(t *testing.T) {
	labels, probs := twoClassPopulation()

	for _, method := range []string{MethodBoth, MethodQij, MethodCij, MethodUnion, MethodIntersection} {
		mask, err := Prune(labels, probs, probs, method)
		require.NoError(t, err, method)
		require.Len(t, mask, len(labels), method)

		for p := range mask {
			wantNoisy := p == 5 || p == 11
			assert.Equal(t, wantNoisy, mask[p], "method %s, pixel %d", method, p)
		}
	}
}

func TestPruneCleanPopulationMarksNothing(t *testing.T) {
	// Predictions agree with every label: no evidence, no pruning.
	labels := []int32{0, 0, 0, 1, 1, 1}
	probs := mat.NewDense(6, 2, []float64{
		0.9, 0.1,
		0.9, 0.1,
		0.9, 0.1,
		0.1, 0.9,
		0.1, 0.9,
		0.1, 0.9,
	})

	for _, method := range Methods() {
		mask, err := Prune(labels, probs, probs, method)
		require.NoError(t, err, method)
		for p, noisy := range mask {
			assert.False(t, noisy, "method %s should not flag pixel %d", method, p)
		}
	}
}

func TestPruneSetRelations(t *testing.T) {
	labels := []int32{0, 0, 0, 1, 1, 1, 0, 1, 0, 1, 0, 1}
	// Softmax-like and raw score matrices that disagree on some pixels.
	probsQ := mat.NewDense(12, 2, []float64{
		0.9, 0.1,
		0.8, 0.2,
		0.3, 0.7,
		0.2, 0.8,
		0.25, 0.75,
		0.7, 0.3,
		0.6, 0.4,
		0.15, 0.85,
		0.45, 0.55,
		0.35, 0.65,
		0.85, 0.15,
		0.55, 0.45,
	})
	probsC := mat.NewDense(12, 2, []float64{
		2.1, -1.0,
		1.5, 0.2,
		-0.3, 1.7,
		-1.2, 1.8,
		0.25, 0.75,
		1.7, -0.3,
		0.6, 0.4,
		-1.5, 1.85,
		0.55, 0.45,
		-0.35, 0.65,
		1.85, -0.15,
		0.95, -0.45,
	})

	qMask, err := Prune(labels, probsQ, probsC, MethodQij)
	require.NoError(t, err)
	cMask, err := Prune(labels, probsQ, probsC, MethodCij)
	require.NoError(t, err)
	union, err := Prune(labels, probsQ, probsC, MethodUnion)
	require.NoError(t, err)
	intersection, err := Prune(labels, probsQ, probsC, MethodIntersection)
	require.NoError(t, err)

	for p := range labels {
		assert.Equal(t, qMask[p] || cMask[p], union[p], "union mismatch at pixel %d", p)
		assert.Equal(t, qMask[p] && cMask[p], intersection[p], "intersection mismatch at pixel %d", p)
		if intersection[p] {
			assert.True(t, qMask[p], "intersection not a subset of Qij at pixel %d", p)
			assert.True(t, cMask[p], "intersection not a subset of Cij at pixel %d", p)
		}
		if qMask[p] || cMask[p] {
			assert.True(t, union[p], "union not a superset at pixel %d", p)
		}
	}
}

func TestPruneDeterministic(t *testing.T) {
	labels := []int32{0, 1, 0, 1, 0, 1, 0, 1}
	probs := mat.NewDense(8, 2, []float64{
		0.6, 0.4,
		0.4, 0.6,
		0.55, 0.45,
		0.45, 0.55,
		0.3, 0.7,
		0.7, 0.3,
		0.5, 0.5,
		0.5, 0.5,
	})

	for _, method := range Methods() {
		first, err := Prune(labels, probs, probs, method)
		require.NoError(t, err, method)
		second, err := Prune(labels, probs, probs, method)
		require.NoError(t, err, method)
		assert.Equal(t, first, second, "method %s not deterministic", method)
	}
}

func TestPruneUnknownMethod(t *testing.T) {
	labels := []int32{0, 1}
	probs := mat.NewDense(2, 2, []float64{0.9, 0.1, 0.1, 0.9})

	_, err := Prune(labels, probs, probs, "prune_by_vibes")
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestPruneShapeErrors(t *testing.T) {
	labels := []int32{0, 1}
	probs := mat.NewDense(2, 2, []float64{0.9, 0.1, 0.1, 0.9})
	wide := mat.NewDense(2, 3, []float64{0.8, 0.1, 0.1, 0.1, 0.8, 0.1})
	short := mat.NewDense(1, 2, []float64{0.9, 0.1})

	var shapeErr *DataShapeError

	_, err := Prune(labels, probs, wide, MethodBoth)
	require.ErrorAs(t, err, &shapeErr)

	_, err = Prune(labels, short, probs, MethodBoth)
	require.ErrorAs(t, err, &shapeErr)
}

func TestPruneByClassTieBreaking(t *testing.T) {
	// Two label-0 pixels share the identical probability row; with a quota
	// of one, the earlier pixel must win (stable input order).
	labels := []int32{0, 0, 0, 0, 1, 1, 1, 1}
	probs := mat.NewDense(8, 2, []float64{
		0.9, 0.1,
		0.9, 0.1,
		0.3, 0.7,
		0.3, 0.7,
		0.4, 0.6,
		0.4, 0.6,
		0.4, 0.6,
		0.4, 0.6,
	})

	joint, err := ConfidentJoint(labels, probs)
	require.NoError(t, err)

	mask := pruneByClass(labels, probs, joint)

	// Pixels 2 and 3 tie on p(class 1); the calibrated off-diagonal quota
	// covers both, so both are flagged, and re-running yields the same mask.
	again := pruneByClass(labels, probs, joint)
	assert.Equal(t, mask, again)
	assert.True(t, mask[2])
	assert.True(t, mask[3])
	assert.False(t, mask[0])
	assert.False(t, mask[1])
}
