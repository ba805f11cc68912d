// Package imageio reads and writes image sequences as directories of
// numbered frames. TIFF, PNG and JPEG inputs are accepted; frames are
// converted to grayscale intensities and output is written as 16-bit
// grayscale TIFF, one file per frame.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"
	_ "image/jpeg"
	_ "image/png"

	"github.com/ericpre/pgure-svt/internal/models"
)

// supported lists the file extensions recognized when scanning an
// input directory.
var supported = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LoadSequence reads every supported image in dir, sorted by filename,
// into a single sequence. All frames must be square and share the same
// dimensions.
func LoadSequence(dir string) (*models.Sequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading input directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if supported[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no supported image files found in %s", dir)
	}
	sort.Strings(paths)

	var seq *models.Sequence
	for t, path := range paths {
		img, err := loadImage(path)
		if err != nil {
			return nil, fmt.Errorf("error loading frame %s: %w", filepath.Base(path), err)
		}

		bounds := img.Bounds()
		width := bounds.Dx()
		height := bounds.Dy()
		if width != height {
			return nil, fmt.Errorf("frame %s is %dx%d, expected a square image",
				filepath.Base(path), width, height)
		}

		if seq == nil {
			seq = models.NewSequence(width, height, len(paths))
		} else if width != seq.Width || height != seq.Height {
			return nil, fmt.Errorf("frame %s is %dx%d, expected %dx%d",
				filepath.Base(path), width, height, seq.Width, seq.Height)
		}

		frame := seq.FrameData(t)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				frame[y*width+x] = grayValue(img, bounds.Min.X+x, bounds.Min.Y+y)
			}
		}
	}

	return seq, nil
}

// SaveSequence writes the sequence to dir as numbered 16-bit grayscale
// TIFF frames, rescaling intensities to span the full output range.
func SaveSequence(seq *models.Sequence, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	lo := seq.Min()
	hi := seq.Max()
	scale := 0.0
	if hi > lo {
		scale = 65535.0 / (hi - lo)
	}

	for t := 0; t < seq.Frames; t++ {
		img := image.NewGray16(image.Rect(0, 0, seq.Width, seq.Height))
		frame := seq.FrameData(t)
		for y := 0; y < seq.Height; y++ {
			for x := 0; x < seq.Width; x++ {
				v := (frame[y*seq.Width+x] - lo) * scale
				if v < 0 {
					v = 0
				} else if v > 65535 {
					v = 65535
				}
				img.SetGray16(x, y, color.Gray16{Y: uint16(v + 0.5)})
			}
		}

		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.tif", t))
		if err := saveTIFF(img, path); err != nil {
			return fmt.Errorf("error saving frame %d: %w", t, err)
		}
	}

	return nil
}

// loadImage opens and decodes a single image file.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".tif" || ext == ".tiff" {
		return tiff.Decode(file)
	}

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// saveTIFF writes an image as an uncompressed TIFF file.
func saveTIFF(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return tiff.Encode(file, img, &tiff.Options{Compression: tiff.Uncompressed})
}

// grayValue returns the grayscale intensity of a pixel on the 16-bit
// scale regardless of the source color model.
func grayValue(img image.Image, x, y int) float64 {
	if g, ok := img.(*image.Gray16); ok {
		return float64(g.Gray16At(x, y).Y)
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}
