// Package confmap reassembles flat per-pixel noise decisions into per-image
// confidence maps and persists them as single-channel masks.
package confmap

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/shanhuhaifeng/confidentseg/cleanlab"
)

// Mask byte values: a noisy pixel is white, a trusted pixel black.
const (
	NoisyValue   = 255
	TrustedValue = 0
)

// Assemble slices the flat noise mask in the exact order pixels were
// flattened (row-major per image, images in dataset iteration order) and
// reshapes each slice into a height x width grayscale mask keyed by filename.
func Assemble(mask []bool, height, width int, filenames []string) (map[string]*image.Gray, error) {
	pixelsPerImage := height * width
	if pixelsPerImage <= 0 {
		return nil, cleanlab.DataShapef("invalid image shape %dx%d", height, width)
	}
	if len(mask) != pixelsPerImage*len(filenames) {
		return nil, cleanlab.DataShapef("mask length %d does not cover %d images of %dx%d pixels",
			len(mask), len(filenames), height, width)
	}

	maps := make(map[string]*image.Gray, len(filenames))
	for idx, filename := range filenames {
		img := image.NewGray(image.Rect(0, 0, width, height))
		slice := mask[idx*pixelsPerImage : (idx+1)*pixelsPerImage]
		for p, noisy := range slice {
			if noisy {
				img.Pix[p] = NoisyValue
			} else {
				img.Pix[p] = TrustedValue
			}
		}
		maps[filename] = img
	}
	return maps, nil
}

// WriteMaps persists each confidence map as a PNG file named after its
// source image, creating dir if absent and overwriting existing outputs.
func WriteMaps(maps map[string]*image.Gray, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create confidence map dir %s", dir)
	}

	for filename, img := range maps {
		path := filepath.Join(dir, filename)
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "failed to create confidence map %s", path)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return errors.Wrapf(err, "failed to encode confidence map %s", path)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "failed to close confidence map %s", path)
		}
	}
	return nil
}

// ReadMask loads a confidence map written by WriteMaps and returns the
// boolean mask in the same row-major order used during assembly.
func ReadMask(path string) ([]bool, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "failed to open confidence map %s", path)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "failed to decode confidence map %s", path)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	mask := make([]bool, 0, width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			mask = append(mask, r >= 0x8000)
		}
	}
	return mask, height, width, nil
}
