package models

import (
	"image"
)

// Slice represents a single 2D image slice as a grayscale intensity grid.
// Pixel values are stored in row-major order, normalized to the 0-1 range.
type Slice struct {
	// Width and Height are the slice dimensions in pixels
	Width  int
	Height int

	// Pixels holds the intensity values in row-major order
	Pixels []float64
}

// NewSlice creates an empty slice with the given dimensions.
func NewSlice(width, height int) *Slice {
	return &Slice{
		Width:  width,
		Height: height,
		Pixels: make([]float64, width*height),
	}
}

// SliceFromImage converts a standard library image into an intensity slice.
// Color images are reduced to their luminance channel.
func SliceFromImage(img image.Image) *Slice {
	bounds := img.Bounds()
	s := NewSlice(bounds.Dx(), bounds.Dy())
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Rec. 601 luma on 16-bit channel values, normalized to 0-1
			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			s.Pixels[y*s.Width+x] = lum / 65535.0
		}
	}
	return s
}

// At returns the intensity at (x, y). The caller must stay in bounds.
func (s *Slice) At(x, y int) float64 {
	return s.Pixels[y*s.Width+x]
}

// Set stores an intensity value at (x, y).
func (s *Slice) Set(x, y int, v float64) {
	s.Pixels[y*s.Width+x] = v
}

// CropRows returns a new slice holding rows [y0, y1) of s.
// The pixel data is copied, so the crop is independent of the source.
func (s *Slice) CropRows(y0, y1 int) *Slice {
	out := NewSlice(s.Width, y1-y0)
	copy(out.Pixels, s.Pixels[y0*s.Width:y1*s.Width])
	return out
}

// CropRect returns a new slice holding the rectangle [x0, x1) x [y0, y1) of s.
func (s *Slice) CropRect(x0, y0, x1, y1 int) *Slice {
	out := NewSlice(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		copy(out.Pixels[(y-y0)*out.Width:(y-y0+1)*out.Width],
			s.Pixels[y*s.Width+x0:y*s.Width+x1])
	}
	return out
}

// Stack represents an ordered sequence of 2D slices forming a 2D image
// (one slice) or a 3D volume (depth > 1). Slices are owned by the caller
// and treated as read-only by the segmentation pipeline.
type Stack struct {
	Slices []*Slice
}

// NewStack creates a stack from the given slices.
func NewStack(slices ...*Slice) *Stack {
	return &Stack{Slices: slices}
}

// Depth returns the number of slices in the stack.
func (st *Stack) Depth() int {
	return len(st.Slices)
}

// Width returns the width of the first slice, or 0 for an empty stack.
func (st *Stack) Width() int {
	if len(st.Slices) == 0 {
		return 0
	}
	return st.Slices[0].Width
}

// Height returns the height of the first slice, or 0 for an empty stack.
func (st *Stack) Height() int {
	if len(st.Slices) == 0 {
		return 0
	}
	return st.Slices[0].Height
}

// LabelImage is the single-channel classification result: one class index
// per pixel, stored per slice in row-major order.
type LabelImage struct {
	Width  int
	Height int
	Depth  int

	// Labels holds class indices, slice-major then row-major
	Labels []uint8
}

// NewLabelImage creates a zeroed label image with the given dimensions.
func NewLabelImage(width, height, depth int) *LabelImage {
	return &LabelImage{
		Width:  width,
		Height: height,
		Depth:  depth,
		Labels: make([]uint8, width*height*depth),
	}
}

// At returns the class index at (x, y) of slice z.
func (l *LabelImage) At(z, x, y int) uint8 {
	return l.Labels[(z*l.Height+y)*l.Width+x]
}

// Set stores a class index at (x, y) of slice z.
func (l *LabelImage) Set(z, x, y int, class uint8) {
	l.Labels[(z*l.Height+y)*l.Width+x] = class
}

// ProbabilityImage is the multi-channel classification result: one float
// channel per class, per slice.
type ProbabilityImage struct {
	Width      int
	Height     int
	Depth      int
	NumClasses int

	// Data is indexed slice-major, then class-major, then row-major:
	// Data[((z*NumClasses+c)*Height+y)*Width+x]
	Data []float64
}

// NewProbabilityImage creates a zeroed probability image.
func NewProbabilityImage(width, height, depth, numClasses int) *ProbabilityImage {
	return &ProbabilityImage{
		Width:      width,
		Height:     height,
		Depth:      depth,
		NumClasses: numClasses,
		Data:       make([]float64, width*height*depth*numClasses),
	}
}

// At returns the probability of class c at (x, y) of slice z.
func (p *ProbabilityImage) At(z, c, x, y int) float64 {
	return p.Data[((z*p.NumClasses+c)*p.Height+y)*p.Width+x]
}

// Set stores the probability of class c at (x, y) of slice z.
func (p *ProbabilityImage) Set(z, c, x, y int, v float64) {
	p.Data[((z*p.NumClasses+c)*p.Height+y)*p.Width+x] = v
}

// Annotation is a single labeled training pixel supplied by an external
// annotation provider.
type Annotation struct {
	// Slice is the index of the annotated slice in the stack
	Slice int `yaml:"slice"`

	// X and Y are the pixel coordinates within the slice
	X int `yaml:"x"`
	Y int `yaml:"y"`

	// Class is the index of the assigned class label
	Class int `yaml:"class"`
}
