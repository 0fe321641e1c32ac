package features

import (
	"trainableseg/internal/models"
	"trainableseg/pkg/filter"
)

// SchemaNames returns the channel names a Build call with the given
// configuration would produce, without computing features over a real
// image. The filters run over a single probe pixel, which is cheap even
// for large kernels because every neighborhood access clamps to it.
func SchemaNames(filters []filter.Filter, sigmaMin, sigmaMax float64) []string {
	probe := NewFeatureStack(models.NewSlice(1, 1))
	probe.Build(filters, sigmaMin, sigmaMax)
	return probe.ChannelNames()
}

// CountChannels returns the number of channels a Build call with the
// given configuration would produce.
func CountChannels(filters []filter.Filter, sigmaMin, sigmaMax float64) int {
	return len(SchemaNames(filters, sigmaMin, sigmaMax))
}
