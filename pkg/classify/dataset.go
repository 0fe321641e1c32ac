package classify

// Dataset is a growable collection of labeled feature vectors with a
// fixed schema: the ordered feature names and the class label names.
type Dataset struct {
	// FeatureNames is the ordered list of feature names; every vector
	// added must follow this layout.
	FeatureNames []string

	// ClassNames holds one label name per class index.
	ClassNames []string

	vectors [][]float64
	labels  []int
}

// NewDataset creates an empty dataset with the given schema.
func NewDataset(featureNames, classNames []string) *Dataset {
	return &Dataset{
		FeatureNames: featureNames,
		ClassNames:   classNames,
	}
}

// Add appends a labeled vector. The values are copied, so callers may
// reuse the same buffer for the next pixel.
func (d *Dataset) Add(values []float64, class int) {
	v := make([]float64, len(values))
	copy(v, values)
	d.vectors = append(d.vectors, v)
	d.labels = append(d.labels, class)
}

// Len returns the number of instances.
func (d *Dataset) Len() int {
	return len(d.vectors)
}

// NumFeatures returns the number of features per vector.
func (d *Dataset) NumFeatures() int {
	return len(d.FeatureNames)
}

// NumClasses returns the number of classes in the schema.
func (d *Dataset) NumClasses() int {
	return len(d.ClassNames)
}

// Instance returns the vector and label at index i. The returned slice
// is owned by the dataset and must not be modified.
func (d *Dataset) Instance(i int) ([]float64, int) {
	return d.vectors[i], d.labels[i]
}

// ClassCounts returns the number of instances per class index.
func (d *Dataset) ClassCounts() []int {
	counts := make([]int, d.NumClasses())
	for _, label := range d.labels {
		counts[label]++
	}
	return counts
}

// DistinctClasses returns how many classes have at least one instance.
func (d *Dataset) DistinctClasses() int {
	distinct := 0
	for _, c := range d.ClassCounts() {
		if c > 0 {
			distinct++
		}
	}
	return distinct
}

// Balanced returns a new dataset where every non-empty class is
// downsampled to the size of the smallest non-empty class. Instances are
// kept in their original order with a deterministic stride, so balancing
// the same dataset twice gives the same result.
func (d *Dataset) Balanced() *Dataset {
	counts := d.ClassCounts()
	min := 0
	for _, c := range counts {
		if c > 0 && (min == 0 || c < min) {
			min = c
		}
	}
	if min == 0 {
		return d
	}

	out := NewDataset(d.FeatureNames, d.ClassNames)
	taken := make([]int, d.NumClasses())
	seen := make([]int, d.NumClasses())
	for i, label := range d.labels {
		if taken[label] >= min {
			continue
		}
		// Spread the kept instances evenly over the class occurrences.
		if seen[label]*min >= taken[label]*counts[label] {
			out.Add(d.vectors[i], label)
			taken[label]++
		}
		seen[label]++
	}
	return out
}
