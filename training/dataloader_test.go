package training

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// memDataset serves generated single-pixel samples whose image value equals
// the sample index, so batch contents identify the samples that built them.
type memDataset struct {
	size     int
	confMaps bool
}

func (d *memDataset) Len() int {
	return d.size
}

func (d *memDataset) Get(idx int) (Sample, error) {
	image, err := tensor.NewTensor([]int{1, 1, 1}, tensor.Float32, []float32{float32(idx)})
	if err != nil {
		return Sample{}, err
	}
	label, err := tensor.NewTensor([]int{1, 1}, tensor.Int32, []int32{int32(idx % 2)})
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{
		Image:    image,
		Label:    label,
		Filename: fmt.Sprintf("sample_%03d.png", idx),
	}
	if d.confMaps {
		sample.ConfMap, err = tensor.NewTensor([]int{1, 1}, tensor.Float32, []float32{0})
		if err != nil {
			return Sample{}, err
		}
	}
	return sample, nil
}

func TestDataLoaderUnshuffledOrder(t *testing.T) {
	loader := NewDataLoader(&memDataset{size: 5}, 2, false, nil)

	var images []float32
	var filenames []string
	for loader.HasNext() {
		batch, err := loader.Next()
		require.NoError(t, err)
		data, err := batch.Images.Float32Data()
		require.NoError(t, err)
		images = append(images, data...)
		filenames = append(filenames, batch.Filenames...)
	}

	assert.Equal(t, []float32{0, 1, 2, 3, 4}, images)
	assert.Equal(t, []string{
		"sample_000.png", "sample_001.png", "sample_002.png",
		"sample_003.png", "sample_004.png",
	}, filenames)
}

func TestDataLoaderBatchSizes(t *testing.T) {
	loader := NewDataLoader(&memDataset{size: 5}, 2, false, nil)

	var sizes []int
	for loader.HasNext() {
		batch, err := loader.Next()
		require.NoError(t, err)
		sizes = append(sizes, batch.Images.Dim(0))
	}

	// Final partial batch is kept, not dropped.
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestDataLoaderResetRestartsIteration(t *testing.T) {
	loader := NewDataLoader(&memDataset{size: 3}, 3, false, nil)

	batch, err := loader.Next()
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.False(t, loader.HasNext())

	loader.Reset()
	assert.True(t, loader.HasNext())
}

func TestDataLoaderShuffleIsSeedDeterministic(t *testing.T) {
	run := func() []string {
		loader := NewDataLoader(&memDataset{size: 8}, 8, true, rand.New(rand.NewSource(7)))
		loader.Reset()
		batch, err := loader.Next()
		require.NoError(t, err)
		return batch.Filenames
	}

	assert.Equal(t, run(), run())
}

func TestDataLoaderCarriesConfMaps(t *testing.T) {
	loader := NewDataLoader(&memDataset{size: 2, confMaps: true}, 2, false, nil)

	batch, err := loader.Next()
	require.NoError(t, err)
	require.NotNil(t, batch.ConfMaps)
	assert.Equal(t, []int{2, 1, 1}, batch.ConfMaps.Shape)
}

func TestDataLoaderNilConfMapsWhenAbsent(t *testing.T) {
	loader := NewDataLoader(&memDataset{size: 2}, 2, false, nil)

	batch, err := loader.Next()
	require.NoError(t, err)
	assert.Nil(t, batch.ConfMaps)
}
