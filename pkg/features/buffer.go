package features

// ReusableVector is a fixed-length feature buffer that is overwritten in
// place for every pixel instead of being reallocated. Classification
// touches width*height*depth pixels, so per-pixel allocation would
// dominate the run time; each worker owns one buffer and never shares it.
type ReusableVector struct {
	// Values holds the feature values in schema order
	Values []float64

	// Class is the label slot, -1 when unset
	Class int
}

// NewReusableVector creates a buffer bound to the given feature count.
func NewReusableVector(n int) *ReusableVector {
	return &ReusableVector{
		Values: make([]float64, n),
		Class:  -1,
	}
}

// Bind resizes the buffer to n features, reusing the backing array when
// it is already large enough.
func (v *ReusableVector) Bind(n int) {
	if cap(v.Values) >= n {
		v.Values = v.Values[:n]
		return
	}
	v.Values = make([]float64, n)
}
