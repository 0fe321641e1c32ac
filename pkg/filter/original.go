package filter

import (
	"trainableseg/internal/models"
)

func init() {
	register(intensityFilter{})
}

// ScaleFree is implemented by filters whose response does not depend on
// the scale parameter. Such filters contribute a single channel instead
// of one channel per scale step.
type ScaleFree interface {
	ScaleFree() bool
}

// intensityFilter passes the original pixel intensities through as a
// channel of their own, so the classifier can see the raw image next to
// the derived responses.
type intensityFilter struct{}

func (intensityFilter) Name() string { return "Original" }

func (intensityFilter) Radius(float64) int { return 0 }

func (intensityFilter) ScaleFree() bool { return true }

func (intensityFilter) Apply(src *models.Slice, _ float64) []Channel {
	data := make([]float64, len(src.Pixels))
	copy(data, src.Pixels)
	return []Channel{{Name: "Original", Data: data}}
}
