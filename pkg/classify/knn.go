package classify

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// featurePoint is one training instance in feature space, indexable by
// the kd-tree.
type featurePoint struct {
	values []float64
	label  int
}

// Compare implements the kdtree.Comparable interface
func (p featurePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(featurePoint)
	return p.values[d] - q.values[d]
}

// Dims returns the dimensionality of the feature space
func (p featurePoint) Dims() int { return len(p.values) }

// Distance returns the squared Euclidean distance between two points
func (p featurePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(featurePoint)
	sum := 0.0
	for i := range p.values {
		d := p.values[i] - q.values[i]
		sum += d * d
	}
	return sum
}

// featurePoints is a collection of featurePoint satisfying kdtree.Interface
type featurePoints []featurePoint

func (p featurePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p featurePoints) Len() int                              { return len(p) }
func (p featurePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p featurePoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{featurePoints: p, Dim: d},
		kdtree.MedianOfRandoms(pointPlane{featurePoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for featurePoints
type pointPlane struct {
	featurePoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	return p.featurePoints[i].values[p.Dim] < p.featurePoints[j].values[p.Dim]
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{featurePoints: p.featurePoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.featurePoints[i], p.featurePoints[j] = p.featurePoints[j], p.featurePoints[i]
}

// KNN is a k-nearest-neighbour classifier over a kd-tree index of the
// training vectors. The tree is read-only after Train, so concurrent
// queries are safe.
type KNN struct {
	k          int
	numClasses int
	tree       *kdtree.Tree
}

// NewKNN creates a k-nearest-neighbour classifier. k values below one
// are clamped to one.
func NewKNN(k int) *KNN {
	if k < 1 {
		k = 1
	}
	return &KNN{k: k}
}

// Train builds the kd-tree index over the training vectors.
func (knn *KNN) Train(d *Dataset) error {
	if d.DistinctClasses() < 2 {
		return ErrInsufficientTrainingData
	}

	points := make(featurePoints, d.Len())
	for i := 0; i < d.Len(); i++ {
		vector, label := d.Instance(i)
		points[i] = featurePoint{values: vector, label: label}
	}
	knn.tree = kdtree.New(points, true)
	knn.numClasses = d.NumClasses()
	return nil
}

// votes gathers the class votes of the k nearest training points.
func (knn *KNN) votes(vector []float64) ([]int, int, error) {
	if knn.tree == nil {
		return nil, 0, ErrNotTrained
	}
	query := featurePoint{values: vector, label: -1}
	if query.Dims() == 0 {
		return nil, 0, fmt.Errorf("empty feature vector")
	}

	keeper := kdtree.NewNKeeper(knn.k)
	knn.tree.NearestSet(keeper, query)

	counts := make([]int, knn.numClasses)
	total := 0
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		counts[item.Comparable.(featurePoint).label]++
		total++
	}
	if total == 0 {
		return nil, 0, fmt.Errorf("nearest-neighbour search returned no points")
	}
	return counts, total, nil
}

// Classify returns the majority class among the k nearest neighbours,
// with ties broken toward the lower class index.
func (knn *KNN) Classify(vector []float64) (int, error) {
	counts, _, err := knn.votes(vector)
	if err != nil {
		return 0, err
	}
	best := 0
	for class, c := range counts {
		if c > counts[best] {
			best = class
		}
	}
	return best, nil
}

// PredictDistribution returns the neighbour vote shares per class.
func (knn *KNN) PredictDistribution(vector []float64) ([]float64, error) {
	counts, total, err := knn.votes(vector)
	if err != nil {
		return nil, err
	}
	probs := make([]float64, len(counts))
	for class, c := range counts {
		probs[class] = float64(c) / float64(total)
	}
	return probs, nil
}

// ConcurrentSafe reports that the kd-tree is read-only after training.
func (knn *KNN) ConcurrentSafe() bool { return true }

// Clone returns the receiver; the index is immutable after training.
func (knn *KNN) Clone() Classifier { return knn }
