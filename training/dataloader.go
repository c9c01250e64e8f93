package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// Sample is one image with its pixel-level labels, an optional confidence
// map, and the source filename.
type Sample struct {
	Image    *tensor.Tensor // (C, H, W) float32
	Label    *tensor.Tensor // (H, W) int32
	ConfMap  *tensor.Tensor // (H, W) float32 noise flags, nil when not loaded
	Filename string
}

// Dataset is the source of fixed-size samples consumed by the DataLoader.
type Dataset interface {
	Len() int
	Get(idx int) (Sample, error)
}

// Batch holds batched tensors plus the source filenames in batch order.
type Batch struct {
	Images    *tensor.Tensor // (B, C, H, W)
	Labels    *tensor.Tensor // (B, H, W)
	ConfMaps  *tensor.Tensor // (B, H, W), nil when the dataset carries none
	Filenames []string
}

// DataLoader provides sequential batching over a Dataset. With shuffle off
// the iteration order is the dataset order, which the confident-learning
// accumulation pass depends on.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a DataLoader. The rng is only consulted when
// shuffle is true; pass nil for deterministic unshuffled iteration.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) *DataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := dl.rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// HasNext reports whether more batches remain in the current epoch.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch, or nil at the end of the epoch.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	return dl.loadBatch(batchIndices)
}

func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	first, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}

	batchSize := len(indices)
	images, err := tensor.Zeros(append([]int{batchSize}, first.Image.Shape...), tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create image batch: %v", err)
	}
	labels, err := tensor.Zeros(append([]int{batchSize}, first.Label.Shape...), tensor.Int32)
	if err != nil {
		return nil, fmt.Errorf("failed to create label batch: %v", err)
	}
	var confMaps *tensor.Tensor
	if first.ConfMap != nil {
		confMaps, err = tensor.Zeros(append([]int{batchSize}, first.ConfMap.Shape...), tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create confidence map batch: %v", err)
		}
	}

	filenames := make([]string, 0, batchSize)
	for i, idx := range indices {
		sample := first
		if i > 0 {
			sample, err = dl.dataset.Get(idx)
			if err != nil {
				return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
			}
		}

		if err := tensor.CopyInto(images, sample.Image, i); err != nil {
			return nil, fmt.Errorf("failed to copy image for sample %d: %v", idx, err)
		}
		if err := tensor.CopyInto(labels, sample.Label, i); err != nil {
			return nil, fmt.Errorf("failed to copy labels for sample %d: %v", idx, err)
		}
		if confMaps != nil {
			if sample.ConfMap == nil {
				return nil, fmt.Errorf("sample %d is missing its confidence map", idx)
			}
			if err := tensor.CopyInto(confMaps, sample.ConfMap, i); err != nil {
				return nil, fmt.Errorf("failed to copy confidence map for sample %d: %v", idx, err)
			}
		}
		filenames = append(filenames, sample.Filename)
	}

	return &Batch{
		Images:    images,
		Labels:    labels,
		ConfMaps:  confMaps,
		Filenames: filenames,
	}, nil
}
