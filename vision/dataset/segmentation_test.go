package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanhuhaifeng/confidentseg/cleanlab"
)

func writeGrayPNG(t *testing.T, path string, pixels [][]uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	height := len(pixels)
	width := len(pixels[0])
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: pixels[y][x]})
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// writeTestSubset lays out two 2x2 samples under root/training with lung
// labels and confidence maps.
func writeTestSubset(t *testing.T, root string) {
	t.Helper()
	base := filepath.Join(root, SubsetTraining)

	writeGrayPNG(t, filepath.Join(base, "images", "scan_a.png"), [][]uint8{
		{0, 51},
		{102, 255},
	})
	writeGrayPNG(t, filepath.Join(base, "images", "scan_b.png"), [][]uint8{
		{255, 255},
		{0, 0},
	})
	writeGrayPNG(t, filepath.Join(base, "lung-labels", "scan_a.png"), [][]uint8{
		{0, 255},
		{0, 255},
	})
	writeGrayPNG(t, filepath.Join(base, "lung-labels", "scan_b.png"), [][]uint8{
		{255, 0},
		{255, 0},
	})
	writeGrayPNG(t, filepath.Join(base, "lung-confident-maps", "scan_a.png"), [][]uint8{
		{255, 0},
		{0, 0},
	})
	writeGrayPNG(t, filepath.Join(base, "lung-confident-maps", "scan_b.png"), [][]uint8{
		{0, 0},
		{0, 255},
	})
}

func TestSegmentationDatasetLoadsSamples(t *testing.T) {
	root := t.TempDir()
	writeTestSubset(t, root)

	ds, err := NewSegmentationDataset(Config{Root: root, Subset: SubsetTraining, Class: "lung"})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"scan_a.png", "scan_b.png"}, ds.Filenames())

	sample, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "scan_a.png", sample.Filename)
	assert.Equal(t, []int{1, 2, 2}, sample.Image.Shape)
	assert.Equal(t, []int{2, 2}, sample.Label.Shape)
	assert.Nil(t, sample.ConfMap)

	imageData, err := sample.Image.Float32Data()
	require.NoError(t, err)
	assert.InDelta(t, 0.0, imageData[0], 1e-6)
	assert.InDelta(t, 51.0/255.0, imageData[1], 1e-6)
	assert.InDelta(t, 1.0, imageData[3], 1e-6)

	labelData, err := sample.Label.Int32Data()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 0, 1}, labelData)
}

func TestSegmentationDatasetLoadsConfMaps(t *testing.T) {
	root := t.TempDir()
	writeTestSubset(t, root)

	ds, err := NewSegmentationDataset(Config{
		Root:       root,
		Subset:     SubsetTraining,
		Class:      "lung",
		ConfMapDir: "lung-confident-maps",
	})
	require.NoError(t, err)

	sample, err := ds.Get(0)
	require.NoError(t, err)
	require.NotNil(t, sample.ConfMap)

	confData, err := sample.ConfMap.Float32Data()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, confData)
}

func TestSegmentationDatasetUnknownSubset(t *testing.T) {
	_, err := NewSegmentationDataset(Config{Root: t.TempDir(), Subset: "testing", Class: "lung"})
	var confErr *cleanlab.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestSegmentationDatasetEmptyImageDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, SubsetTraining, "images"), 0755))

	_, err := NewSegmentationDataset(Config{Root: root, Subset: SubsetTraining, Class: "lung"})
	assert.Error(t, err)
}

func TestSegmentationDatasetMissingLabelFile(t *testing.T) {
	root := t.TempDir()
	writeGrayPNG(t, filepath.Join(root, SubsetTraining, "images", "scan.png"), [][]uint8{{0}})

	ds, err := NewSegmentationDataset(Config{Root: root, Subset: SubsetTraining, Class: "lung"})
	require.NoError(t, err)

	_, err = ds.Get(0)
	assert.Error(t, err)
}

func TestSegmentationDatasetLabelSizeMismatch(t *testing.T) {
	root := t.TempDir()
	writeGrayPNG(t, filepath.Join(root, SubsetTraining, "images", "scan.png"), [][]uint8{{0, 0}})
	writeGrayPNG(t, filepath.Join(root, SubsetTraining, "lung-labels", "scan.png"), [][]uint8{{0}})

	ds, err := NewSegmentationDataset(Config{Root: root, Subset: SubsetTraining, Class: "lung"})
	require.NoError(t, err)

	_, err = ds.Get(0)
	var shapeErr *cleanlab.DataShapeError
	assert.ErrorAs(t, err, &shapeErr)
}
