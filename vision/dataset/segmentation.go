package dataset

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/tensor"
	"github.com/shanhuhaifeng/confidentseg/training"
)

// Dataset subsets. Each lives in its own subdirectory under the root.
const (
	SubsetTraining   = "training"
	SubsetValidation = "validation"
)

// Config locates one class of a segmentation dataset on disk. The expected
// layout under Root is
//
//	<subset>/images/<file>.png
//	<subset>/<class>-labels/<file>.png
//	<subset>/<class>-confident-maps[<suffix>]/<file>.png
//
// with identical filenames across the three directories.
type Config struct {
	Root   string
	Subset string
	Class  string

	// ConfMapDir names the confidence map subdirectory, e.g.
	// "lung-confident-maps-Qij". Empty means maps are not loaded and
	// samples carry a nil ConfMap.
	ConfMapDir string
}

// SegmentationDataset serves grayscale images with pixel-level binary
// labels and optional noise-flag maps. It implements training.Dataset.
type SegmentationDataset struct {
	config    Config
	filenames []string
}

// NewSegmentationDataset scans the subset's image directory and pairs each
// image with its label file. Iteration order is the sorted filename order,
// which downstream probability accumulation relies on.
func NewSegmentationDataset(config Config) (*SegmentationDataset, error) {
	if config.Subset != SubsetTraining && config.Subset != SubsetValidation {
		return nil, cleanlab.Configurationf("unknown dataset subset %q", config.Subset)
	}
	if config.Class == "" {
		return nil, cleanlab.Configurationf("dataset class name is empty")
	}

	imageDir := filepath.Join(config.Root, config.Subset, "images")
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image dir %s", imageDir)
	}

	var filenames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".png", ".jpg", ".jpeg":
			filenames = append(filenames, entry.Name())
		}
	}
	if len(filenames) == 0 {
		return nil, errors.Errorf("no images found in %s", imageDir)
	}
	sort.Strings(filenames)

	return &SegmentationDataset{
		config:    config,
		filenames: filenames,
	}, nil
}

// Len returns the number of samples.
func (d *SegmentationDataset) Len() int {
	return len(d.filenames)
}

// Filenames returns the sample filenames in iteration order.
func (d *SegmentationDataset) Filenames() []string {
	return append([]string(nil), d.filenames...)
}

// Get loads one sample from disk. The image becomes a (1, H, W) float32
// tensor scaled to [0, 1]; the label a (H, W) int32 tensor with foreground
// pixels mapped to 1; the confidence map, when configured, a (H, W)
// float32 tensor of 0/1 noise flags.
func (d *SegmentationDataset) Get(idx int) (training.Sample, error) {
	if idx < 0 || idx >= len(d.filenames) {
		return training.Sample{}, errors.Errorf("sample index %d out of range [0, %d)", idx, len(d.filenames))
	}
	name := d.filenames[idx]

	img, err := decodeGray(filepath.Join(d.config.Root, d.config.Subset, "images", name))
	if err != nil {
		return training.Sample{}, err
	}
	label, err := decodeGray(filepath.Join(d.config.Root, d.config.Subset, d.config.Class+"-labels", name))
	if err != nil {
		return training.Sample{}, err
	}

	height := img.Bounds().Dy()
	width := img.Bounds().Dx()
	if label.Bounds().Dy() != height || label.Bounds().Dx() != width {
		return training.Sample{}, cleanlab.DataShapef("label %s is %dx%d, image is %dx%d",
			name, label.Bounds().Dx(), label.Bounds().Dy(), width, height)
	}

	imageData := make([]float32, height*width)
	labelData := make([]int32, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			imageData[i] = float32(img.GrayAt(img.Bounds().Min.X+x, img.Bounds().Min.Y+y).Y) / 255.0
			if label.GrayAt(label.Bounds().Min.X+x, label.Bounds().Min.Y+y).Y >= 128 {
				labelData[i] = 1
			}
		}
	}

	imageTensor, err := tensor.NewTensor([]int{1, height, width}, tensor.Float32, imageData)
	if err != nil {
		return training.Sample{}, err
	}
	labelTensor, err := tensor.NewTensor([]int{height, width}, tensor.Int32, labelData)
	if err != nil {
		return training.Sample{}, err
	}

	sample := training.Sample{
		Image:    imageTensor,
		Label:    labelTensor,
		Filename: name,
	}

	if d.config.ConfMapDir != "" {
		conf, err := decodeGray(filepath.Join(d.config.Root, d.config.Subset, d.config.ConfMapDir, name))
		if err != nil {
			return training.Sample{}, err
		}
		if conf.Bounds().Dy() != height || conf.Bounds().Dx() != width {
			return training.Sample{}, cleanlab.DataShapef("confidence map %s is %dx%d, image is %dx%d",
				name, conf.Bounds().Dx(), conf.Bounds().Dy(), width, height)
		}
		confData := make([]float32, height*width)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if conf.GrayAt(conf.Bounds().Min.X+x, conf.Bounds().Min.Y+y).Y >= 128 {
					confData[y*width+x] = 1
				}
			}
		}
		sample.ConfMap, err = tensor.NewTensor([]int{height, width}, tensor.Float32, confData)
		if err != nil {
			return training.Sample{}, err
		}
	}

	return sample, nil
}

// decodeGray opens and decodes an image file, converting to grayscale when
// the source carries color.
func decodeGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}

	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray, nil
}
