// Package filter provides the bank of multi-scale image filters used to
// build per-pixel feature channels. Each filter is a stateless function
// from an image slice and a scale parameter to one or more named response
// channels, and reports the spatial support radius it reads from the
// input so that tiled processing can pad correctly.
package filter

import (
	"fmt"
	"sort"

	"trainableseg/internal/models"
)

// Channel is a single named grid of filter-response values for one slice.
// The name uniquely encodes the filter identity and its scale parameter,
// which is what makes schema matching by name possible.
type Channel struct {
	Name string
	Data []float64
}

// Filter computes one or more response channels from a slice at a given
// scale. Implementations must be stateless and safe for concurrent use.
type Filter interface {
	// Name returns the base name of the filter, used as the prefix of
	// every channel name it produces.
	Name() string

	// Radius returns the spatial support radius in pixels that Apply
	// reads around each output pixel at the given scale. Tiles must be
	// padded by at least this amount for border pixels to be exact.
	Radius(sigma float64) int

	// Apply computes the response channels for src at the given scale.
	Apply(src *models.Slice, sigma float64) []Channel
}

// channelName builds the canonical channel name for a filter at a scale.
func channelName(base string, sigma float64) string {
	return fmt.Sprintf("%s_%.1f", base, sigma)
}

// registry of all known filters by base name.
var registry = map[string]Filter{}

func register(f Filter) {
	registry[f.Name()] = f
}

// ByNames resolves a list of filter base names against the registry.
// An unknown name is an error so that configuration typos surface early.
func ByNames(names []string) ([]Filter, error) {
	filters := make([]Filter, 0, len(names))
	for _, name := range names {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q (known: %v)", name, AllNames())
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// AllNames returns the sorted base names of every registered filter.
func AllNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultSet returns the filters enabled by default: the original
// intensities plus Gaussian blur, Sobel gradient and Hessian, matching
// the usual starting configuration for pixel classification.
func DefaultSet() []Filter {
	f, _ := ByNames([]string{"Original", "Gaussian_blur", "Sobel_filter", "Hessian"})
	return f
}

// MaxRadius returns the largest support radius any of the given filters
// reads at the given scale. This is the halo a tile must be padded by.
func MaxRadius(filters []Filter, sigma float64) int {
	max := 0
	for _, f := range filters {
		if r := f.Radius(sigma); r > max {
			max = r
		}
	}
	return max
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
