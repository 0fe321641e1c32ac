// Package features maintains the per-slice cache of computed filter
// responses and turns it into fixed-layout feature vectors for a
// classifier. A FeatureStack owns the channels of one slice, a
// FeatureStackArray owns one stack per slice of a volume together with
// the dirty-tracking that keeps recomputation minimal.
package features

import (
	"errors"
	"fmt"

	"trainableseg/internal/models"
	"trainableseg/pkg/filter"
)

// ErrSchemaMismatch reports that a requested feature name is absent from
// a stack, or that a model's expected feature order cannot be satisfied
// by the currently enabled filters.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// ErrNotBuilt reports that feature vectors were requested from a stack
// whose channels have not been computed yet.
var ErrNotBuilt = errors.New("feature stack has not been built")

// SigmaLadder returns the scale steps used for feature computation:
// sigma doubles from min until it exceeds max. The minimum must be
// positive for the doubling to make progress; any other value yields no
// scales.
func SigmaLadder(min, max float64) []float64 {
	if min <= 0 {
		return nil
	}
	var sigmas []float64
	for sigma := min; sigma <= max; sigma *= 2 {
		sigmas = append(sigmas, sigma)
	}
	return sigmas
}

// FeatureStack owns the ordered set of computed response channels for one
// slice. The channel order defines the feature-vector layout fed to the
// classifier, so it is significant and preserved by every operation.
type FeatureStack struct {
	slice    *models.Slice
	channels []filter.Channel
}

// NewFeatureStack creates an empty stack for the given slice. Build must
// be called before feature vectors can be extracted.
func NewFeatureStack(slice *models.Slice) *FeatureStack {
	return &FeatureStack{slice: slice}
}

// Build computes every channel of the enabled filters over the scale
// ladder [sigmaMin, sigmaMax], replacing any previously computed set.
// Calling Build twice with identical parameters yields an identical
// channel set. An empty filter set yields zero channels.
func (fs *FeatureStack) Build(filters []filter.Filter, sigmaMin, sigmaMax float64) {
	sigmas := SigmaLadder(sigmaMin, sigmaMax)
	channels := make([]filter.Channel, 0, len(filters)*len(sigmas))
	for _, f := range filters {
		if sf, ok := f.(filter.ScaleFree); ok && sf.ScaleFree() {
			channels = append(channels, f.Apply(fs.slice, 0)...)
			continue
		}
		for _, sigma := range sigmas {
			channels = append(channels, f.Apply(fs.slice, sigma)...)
		}
	}
	fs.channels = channels
}

// IsEmpty reports whether the stack has no computed channels.
func (fs *FeatureStack) IsEmpty() bool {
	return len(fs.channels) == 0
}

// NumChannels returns the number of computed channels.
func (fs *FeatureStack) NumChannels() int {
	return len(fs.channels)
}

// ChannelNames returns the channel names in their current order.
func (fs *FeatureStack) ChannelNames() []string {
	names := make([]string, len(fs.channels))
	for i, ch := range fs.channels {
		names[i] = ch.Name
	}
	return names
}

// Channel returns the computed channel at position i.
func (fs *FeatureStack) Channel(i int) filter.Channel {
	return fs.channels[i]
}

// Slice returns the image slice this stack was created for.
func (fs *FeatureStack) Slice() *models.Slice {
	return fs.slice
}

// VectorInto fills buf with the channel values at (x, y) in the stack's
// current channel order. The buffer is rebound to the stack's channel
// count if necessary and mutated in place; no per-call allocation happens
// once the buffer has the right size.
func (fs *FeatureStack) VectorInto(buf *ReusableVector, x, y int) error {
	if fs.IsEmpty() {
		return ErrNotBuilt
	}
	buf.Bind(len(fs.channels))
	idx := y*fs.slice.Width + x
	for c, ch := range fs.channels {
		buf.Values[c] = ch.Data[idx]
	}
	return nil
}

// FilterByNames removes every channel whose name is not in keep, while
// preserving the relative order of the kept channels. Every name in keep
// must be present in the stack; a missing name is a schema mismatch.
func (fs *FeatureStack) FilterByNames(keep []string) error {
	present := make(map[string]bool, len(fs.channels))
	for _, ch := range fs.channels {
		present[ch.Name] = true
	}
	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		if !present[name] {
			return fmt.Errorf("%w: channel %q is not computed", ErrSchemaMismatch, name)
		}
		keepSet[name] = true
	}

	kept := fs.channels[:0]
	for _, ch := range fs.channels {
		if keepSet[ch.Name] {
			kept = append(kept, ch)
		}
	}
	fs.channels = kept
	return nil
}

// ReorderToMatch permutes the channels to exactly match the reference
// name order of a trained model. A reference name absent from the stack
// is a schema mismatch; channels not named by the reference are dropped.
func (fs *FeatureStack) ReorderToMatch(order []string) error {
	byName := make(map[string]filter.Channel, len(fs.channels))
	for _, ch := range fs.channels {
		byName[ch.Name] = ch
	}

	reordered := make([]filter.Channel, 0, len(order))
	for _, name := range order {
		ch, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: channel %q required by model is not computed", ErrSchemaMismatch, name)
		}
		reordered = append(reordered, ch)
	}
	fs.channels = reordered
	return nil
}
