package classify

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NearestCentroid classifies a vector by the closest class centroid in
// standardized feature space. Distances are scaled by the per-feature
// standard deviation of the training data so that wide-range channels do
// not dominate narrow ones.
//
// The model is immutable after Train, so concurrent read-only queries
// are safe and Clone returns the receiver.
type NearestCentroid struct {
	centroids [][]float64 // one centroid per class, nil for empty classes
	scale     []float64   // per-feature standard deviation, zeros mapped to 1
	trained   bool
}

// NewNearestCentroid creates an untrained nearest-centroid classifier.
func NewNearestCentroid() *NearestCentroid {
	return &NearestCentroid{}
}

// Train computes the per-class centroids and per-feature scaling.
func (nc *NearestCentroid) Train(d *Dataset) error {
	if d.DistinctClasses() < 2 {
		return ErrInsufficientTrainingData
	}

	numFeatures := d.NumFeatures()
	counts := d.ClassCounts()

	centroids := make([][]float64, d.NumClasses())
	for class, count := range counts {
		if count > 0 {
			centroids[class] = make([]float64, numFeatures)
		}
	}
	for i := 0; i < d.Len(); i++ {
		vector, label := d.Instance(i)
		floats.Add(centroids[label], vector)
	}
	for class, count := range counts {
		if count > 0 {
			floats.Scale(1/float64(count), centroids[class])
		}
	}

	// Per-feature standard deviation over the whole training set
	scale := make([]float64, numFeatures)
	column := make([]float64, d.Len())
	for f := 0; f < numFeatures; f++ {
		for i := 0; i < d.Len(); i++ {
			vector, _ := d.Instance(i)
			column[i] = vector[f]
		}
		sd := stat.StdDev(column, nil)
		if sd == 0 {
			sd = 1
		}
		scale[f] = sd
	}

	nc.centroids = centroids
	nc.scale = scale
	nc.trained = true
	return nil
}

// distance returns the squared standardized distance to a centroid.
func (nc *NearestCentroid) distance(vector, centroid []float64) float64 {
	sum := 0.0
	for i := range vector {
		d := (vector[i] - centroid[i]) / nc.scale[i]
		sum += d * d
	}
	return sum
}

// Classify returns the class whose centroid is nearest to the vector.
func (nc *NearestCentroid) Classify(vector []float64) (int, error) {
	if !nc.trained {
		return 0, ErrNotTrained
	}
	if len(vector) != len(nc.scale) {
		return 0, fmt.Errorf("vector has %d features, model expects %d", len(vector), len(nc.scale))
	}

	best := -1
	bestDist := 0.0
	for class, centroid := range nc.centroids {
		if centroid == nil {
			continue
		}
		dist := nc.distance(vector, centroid)
		if best < 0 || dist < bestDist {
			best = class
			bestDist = dist
		}
	}
	return best, nil
}

// PredictDistribution returns inverse-distance weights to the class
// centroids, normalized to sum to one.
func (nc *NearestCentroid) PredictDistribution(vector []float64) ([]float64, error) {
	if !nc.trained {
		return nil, ErrNotTrained
	}
	if len(vector) != len(nc.scale) {
		return nil, fmt.Errorf("vector has %d features, model expects %d", len(vector), len(nc.scale))
	}

	const eps = 1e-12
	probs := make([]float64, len(nc.centroids))
	total := 0.0
	for class, centroid := range nc.centroids {
		if centroid == nil {
			continue
		}
		w := 1 / (nc.distance(vector, centroid) + eps)
		probs[class] = w
		total += w
	}
	floats.Scale(1/total, probs)
	return probs, nil
}

// ConcurrentSafe reports that the trained model is read-only.
func (nc *NearestCentroid) ConcurrentSafe() bool { return true }

// Clone returns the receiver; the model is immutable after training.
func (nc *NearestCentroid) Clone() Classifier { return nc }
