// Package imgio loads image stacks and annotation files from disk and
// writes classification results back out. Slices are read from a
// directory of JPEG, PNG or TIFF files sorted by the numeric part of
// their filenames, so the anatomical/order index in the name defines the
// slice order.
package imgio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	// registered decoders for image.Decode
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"trainableseg/internal/models"
)

// LoadStack loads all supported images from a directory, sorted by the
// numeric part of their filenames, and converts them to intensity slices.
func LoadStack(dir string) (*models.Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".tif", ".tiff":
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no supported images found in %s", dir)
	}

	// Sort by the number embedded in the filename so slice order is
	// preserved regardless of zero padding
	sort.Slice(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	stack := models.NewStack()
	for _, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		slice := models.SliceFromImage(img)
		if stack.Depth() > 0 && (slice.Width != stack.Width() || slice.Height != stack.Height()) {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				name, slice.Width, slice.Height, stack.Width(), stack.Height())
		}
		stack.Slices = append(stack.Slices, slice)
	}
	return stack, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	numStr := ""
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

// loadImage decodes a single image file. TIFF decoding is registered by
// the golang.org/x/image/tiff import.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// LoadAnnotations reads labeled training pixels from a YAML file holding
// a list of {slice, x, y, class} entries.
func LoadAnnotations(path string) ([]models.Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading annotations file: %w", err)
	}
	var annotations []models.Annotation
	if err := yaml.Unmarshal(data, &annotations); err != nil {
		return nil, fmt.Errorf("error parsing annotations file: %w", err)
	}
	return annotations, nil
}

// SaveLabelImage writes one PNG per slice, with the raw class index as
// the pixel value. Viewers may remap the indices; keeping them raw makes
// the files directly usable as label masks.
func SaveLabelImage(dir string, labels *models.LabelImage) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	for z := 0; z < labels.Depth; z++ {
		img := image.NewGray(image.Rect(0, 0, labels.Width, labels.Height))
		for y := 0; y < labels.Height; y++ {
			for x := 0; x < labels.Width; x++ {
				img.SetGray(x, y, color.Gray{Y: labels.At(z, x, y)})
			}
		}

		path := filepath.Join(dir, fmt.Sprintf("labels_%03d.png", z))
		if err := writePNG(path, img); err != nil {
			return err
		}
	}
	return nil
}

// SaveProbabilityMaps writes one 16-bit grayscale TIFF per slice and
// class, with probabilities scaled to the full intensity range.
func SaveProbabilityMaps(dir string, probs *models.ProbabilityImage, classNames []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	for z := 0; z < probs.Depth; z++ {
		for c := 0; c < probs.NumClasses; c++ {
			img := image.NewGray16(image.Rect(0, 0, probs.Width, probs.Height))
			for y := 0; y < probs.Height; y++ {
				for x := 0; x < probs.Width; x++ {
					img.SetGray16(x, y, color.Gray16{Y: uint16(probs.At(z, c, x, y) * 65535.0)})
				}
			}

			name := fmt.Sprintf("prob_%03d_%s.tif", z, sanitize(classNames[c]))
			file, err := os.Create(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("error creating probability map: %w", err)
			}
			if err := tiff.Encode(file, img, nil); err != nil {
				file.Close()
				return fmt.Errorf("error encoding probability map: %w", err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("error closing probability map: %w", err)
			}
		}
	}
	return nil
}

// SaveSliceImage writes an intensity slice as a 16-bit grayscale PNG,
// clamping values to the 0-1 range.
func SaveSliceImage(path string, slice *models.Slice) error {
	img := image.NewGray16(image.Rect(0, 0, slice.Width, slice.Height))
	for y := 0; y < slice.Height; y++ {
		for x := 0; x < slice.Width; x++ {
			v := slice.At(x, y)
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535.0)})
		}
	}
	return writePNG(path, img)
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating image file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("error encoding image: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing image file: %w", err)
	}
	return nil
}

// sanitize makes a class name safe for use in a filename.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
