// Package segmentation orchestrates trainable pixel classification: it
// collects annotations, keeps the per-slice feature cache minimal through
// dirty-tracking, trains a classifier, and applies it to whole images
// with a concurrent tiled engine whose output is identical to a
// single-threaded run.
package segmentation

import (
	"context"
	"fmt"
	"runtime"

	"trainableseg/internal/models"
	"trainableseg/pkg/classify"
	"trainableseg/pkg/features"
	"trainableseg/pkg/filter"
)

// Params holds the segmentation configuration.
type Params struct {
	// NumWorkers is the default worker count for training rebuilds and
	// classification. Zero means all available CPUs.
	NumWorkers int

	// SigmaMin and SigmaMax bound the scale ladder of the filter bank.
	SigmaMin float64
	SigmaMax float64

	// Filters is the enabled filter set.
	Filters []filter.Filter

	// MemoryBudgetBytes caps the estimated working memory of a
	// classification run. Zero disables the check.
	MemoryBudgetBytes int64

	// BalanceClasses downsamples majority classes to the size of the
	// smallest class before training.
	BalanceClasses bool
}

// DefaultParams returns the default segmentation configuration.
func DefaultParams() *Params {
	return &Params{
		NumWorkers: runtime.NumCPU(),
		SigmaMin:   1.0,
		SigmaMax:   8.0,
		Filters:    filter.DefaultSet(),
	}
}

func (p *Params) workers() int {
	if p.NumWorkers < 1 {
		return runtime.NumCPU()
	}
	return p.NumWorkers
}

// validate rejects a degenerate scale range before any feature work
// starts. The sigma ladder doubles from SigmaMin, so a non-positive
// minimum can never reach SigmaMax.
func (p *Params) validate() error {
	if p.SigmaMin <= 0 || p.SigmaMax < p.SigmaMin {
		return fmt.Errorf("invalid scale range [%g, %g]: SigmaMin must be positive and no larger than SigmaMax",
			p.SigmaMin, p.SigmaMax)
	}
	return nil
}

// Segmenter owns the training image, its feature cache, the collected
// annotations and the classifier. All exported methods must be called
// from a single orchestrating goroutine; the internal parallelism never
// leaks mutable state to the caller.
type Segmenter struct {
	params *Params

	stack      *models.Stack
	fsa        *features.FeatureStackArray
	classifier classify.Classifier
	classNames []string

	// annotations per slice, in insertion order
	annotations [][]models.Annotation

	// header is the schema of the trained or loaded classifier; nil
	// until Train or SetHeader.
	header *features.Header
}

// NewSegmenter creates a segmenter for the given training image.
func NewSegmenter(stack *models.Stack, classNames []string, classifier classify.Classifier, params *Params) *Segmenter {
	if params == nil {
		params = DefaultParams()
	}
	return &Segmenter{
		params:      params,
		stack:       stack,
		fsa:         features.NewFeatureStackArray(stack, params.Filters, params.SigmaMin, params.SigmaMax),
		classifier:  classifier,
		classNames:  classNames,
		annotations: make([][]models.Annotation, stack.Depth()),
	}
}

// FeatureStackArray exposes the feature cache, mainly for inspection in
// tests and tools.
func (s *Segmenter) FeatureStackArray() *features.FeatureStackArray {
	return s.fsa
}

// Header returns the schema of the trained classifier, or nil before
// training.
func (s *Segmenter) Header() *features.Header {
	return s.header
}

// SetHeader installs the schema of a previously trained classifier, so
// that feature extraction follows the loaded model's expected layout.
func (s *Segmenter) SetHeader(h *Header) {
	s.header = h
}

// Header is re-exported so callers do not need to import pkg/features
// for the common save/load flow.
type Header = features.Header

// AddAnnotation records one labeled training pixel. If this is the first
// annotation of a slice whose features are only pending for inference,
// the slice is moved to the training-pending state instead: the training
// rebuild covers what inference needed, and a slice must never be
// pending on both paths.
func (s *Segmenter) AddAnnotation(a models.Annotation) error {
	if a.Slice < 0 || a.Slice >= s.stack.Depth() {
		return fmt.Errorf("annotation slice %d out of range [0,%d)", a.Slice, s.stack.Depth())
	}
	sl := s.stack.Slices[a.Slice]
	if a.X < 0 || a.X >= sl.Width || a.Y < 0 || a.Y >= sl.Height {
		return fmt.Errorf("annotation (%d,%d) outside slice %d bounds %dx%d", a.X, a.Y, a.Slice, sl.Width, sl.Height)
	}
	if a.Class < 0 || a.Class >= len(s.classNames) {
		return fmt.Errorf("annotation class %d out of range [0,%d)", a.Class, len(s.classNames))
	}

	if !s.fsa.DirtyForTraining(a.Slice) &&
		len(s.annotations[a.Slice]) == 0 &&
		s.fsa.DirtyForInference(a.Slice) {
		s.fsa.PromoteToTraining(a.Slice)
	}

	s.annotations[a.Slice] = append(s.annotations[a.Slice], a)
	return nil
}

// Annotations returns the recorded annotations of one slice.
func (s *Segmenter) Annotations(sliceIdx int) []models.Annotation {
	return s.annotations[sliceIdx]
}

// annotatedClassCount returns how many classes have at least one example.
func (s *Segmenter) annotatedClassCount() int {
	seen := make([]bool, len(s.classNames))
	for _, perSlice := range s.annotations {
		for _, a := range perSlice {
			seen[a.Class] = true
		}
	}
	count := 0
	for _, ok := range seen {
		if ok {
			count++
		}
	}
	return count
}

// Train rebuilds the feature stacks of slices flagged dirty for training,
// extracts one feature vector per annotated pixel, and fits the
// classifier. The insufficient-data check runs before any feature work
// so a hopeless call fails cheaply.
func (s *Segmenter) Train(ctx context.Context) error {
	if err := s.params.validate(); err != nil {
		return err
	}
	if s.annotatedClassCount() < 2 {
		return ErrInsufficientTrainingData
	}

	if err := s.fsa.RebuildDirty(ctx, true, s.params.workers()); err != nil {
		return err
	}
	if s.header != nil {
		if err := s.fsa.ApplySchema(s.header); err != nil {
			return err
		}
	}

	featureNames := s.fsa.FeatureNames()
	dataset := classify.NewDataset(featureNames, s.classNames)
	buf := features.NewReusableVector(len(featureNames))
	for sliceIdx, perSlice := range s.annotations {
		for _, a := range perSlice {
			if err := s.fsa.VectorInto(buf, sliceIdx, a.X, a.Y); err != nil {
				return fmt.Errorf("extracting training vector at slice %d (%d,%d): %w", sliceIdx, a.X, a.Y, err)
			}
			dataset.Add(buf.Values, a.Class)
		}
	}

	if s.params.BalanceClasses {
		dataset = dataset.Balanced()
	}

	counts := dataset.ClassCounts()
	for class, count := range counts {
		if count > 0 {
			fmt.Printf("Class %q: %d training examples\n", s.classNames[class], count)
		}
	}

	if err := s.classifier.Train(dataset); err != nil {
		return fmt.Errorf("training classifier: %w", err)
	}

	if s.header == nil {
		s.header = &features.Header{
			Features: featureNames,
			Classes:  s.classNames,
		}
	}
	return nil
}
