// Package classify defines the narrow capability interface through which
// the segmentation engine consumes a classifier, the growable dataset of
// training vectors, and two concrete implementations: a nearest-centroid
// classifier and a k-nearest-neighbour classifier backed by a kd-tree.
package classify

import (
	"errors"
)

// ErrNotTrained reports that a prediction was requested before Train.
var ErrNotTrained = errors.New("classifier has not been trained")

// ErrInsufficientTrainingData reports that fewer than two distinct
// classes have at least one training example.
var ErrInsufficientTrainingData = errors.New("need at least two classes with training examples")

// Classifier is the capability the segmentation engine consumes. Train is
// called once, from a single goroutine. Classify and PredictDistribution
// must not mutate model state; whether they are safe for concurrent use
// is reported by ConcurrentSafe, and the engine duplicates the classifier
// per worker via Clone when they are not.
type Classifier interface {
	// Train fits the model to the dataset.
	Train(d *Dataset) error

	// Classify returns the index of the most likely class for the vector.
	Classify(vector []float64) (int, error)

	// PredictDistribution returns one probability per class for the vector.
	PredictDistribution(vector []float64) ([]float64, error)

	// ConcurrentSafe reports whether Classify and PredictDistribution may
	// be called from multiple goroutines on the same instance.
	ConcurrentSafe() bool

	// Clone returns an independent copy safe to use on another goroutine.
	// Implementations that are ConcurrentSafe may return the receiver.
	Clone() Classifier
}
