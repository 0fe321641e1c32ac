package features

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"trainableseg/internal/models"
	"trainableseg/pkg/filter"
)

// FeatureStackArray owns one FeatureStack per slice of a volumetric
// image, plus two per-slice dirty flags: one marking slices that must be
// recomputed before the next training round, the other marking slices
// that must be recomputed before the next inference pass. A slice is
// never pending for both paths at once, so stale features cannot leak
// into either.
//
// The dirty flags are mutated only by the orchestrating goroutine, never
// by rebuild workers, so no locking is needed on them.
type FeatureStackArray struct {
	stacks  []*FeatureStack
	filters []filter.Filter

	sigmaMin float64
	sigmaMax float64

	dirtyTrain     []bool
	dirtyInference []bool
}

// NewFeatureStackArray creates one empty stack per slice of the stack.
// All slices start dirty for inference: nothing is computed yet, so the
// first classification pass must build everything.
func NewFeatureStackArray(stack *models.Stack, filters []filter.Filter, sigmaMin, sigmaMax float64) *FeatureStackArray {
	a := &FeatureStackArray{
		stacks:         make([]*FeatureStack, stack.Depth()),
		filters:        filters,
		sigmaMin:       sigmaMin,
		sigmaMax:       sigmaMax,
		dirtyTrain:     make([]bool, stack.Depth()),
		dirtyInference: make([]bool, stack.Depth()),
	}
	for i, s := range stack.Slices {
		a.stacks[i] = NewFeatureStack(s)
		a.dirtyInference[i] = true
	}
	return a
}

// Size returns the number of slices.
func (a *FeatureStackArray) Size() int {
	return len(a.stacks)
}

// Get returns the stack of slice i. An out-of-range index is a caller
// contract violation and panics.
func (a *FeatureStackArray) Get(i int) *FeatureStack {
	return a.stacks[i]
}

// Filters returns the enabled filter set.
func (a *FeatureStackArray) Filters() []filter.Filter {
	return a.filters
}

// SigmaRange returns the configured scale bounds.
func (a *FeatureStackArray) SigmaRange() (min, max float64) {
	return a.sigmaMin, a.sigmaMax
}

// HaloRadius returns the largest support radius any enabled filter reads
// at the maximum scale. Tiled processing must pad by this amount.
func (a *FeatureStackArray) HaloRadius() int {
	return filter.MaxRadius(a.filters, a.sigmaMax)
}

// MarkDirtyForTraining flags slice i for recomputation before training.
func (a *FeatureStackArray) MarkDirtyForTraining(i int) {
	a.dirtyTrain[i] = true
}

// MarkDirtyForInference flags slice i for recomputation before inference.
func (a *FeatureStackArray) MarkDirtyForInference(i int) {
	a.dirtyInference[i] = true
}

// DirtyForTraining reports whether slice i is pending a training rebuild.
func (a *FeatureStackArray) DirtyForTraining(i int) bool {
	return a.dirtyTrain[i]
}

// DirtyForInference reports whether slice i is pending an inference rebuild.
func (a *FeatureStackArray) DirtyForInference(i int) bool {
	return a.dirtyInference[i]
}

// PromoteToTraining moves slice i from the inference-pending state to the
// training-pending state. Called when a slice receives its first
// annotation: the training rebuild will also cover what inference needed,
// so the slice must not stay flagged on both paths.
func (a *FeatureStackArray) PromoteToTraining(i int) {
	a.dirtyTrain[i] = true
	a.dirtyInference[i] = false
}

// RebuildDirty recomputes the stacks of every slice whose corresponding
// dirty flag is set, in parallel across the given number of workers, and
// clears those flags on success. Slices are independent, so workers share
// no mutable state. A failure or cancellation leaves the flags set so
// the next attempt recomputes again.
func (a *FeatureStackArray) RebuildDirty(ctx context.Context, forTraining bool, workers int) error {
	dirty := a.dirtyInference
	if forTraining {
		dirty = a.dirtyTrain
	}
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range a.stacks {
		if !dirty[i] {
			continue
		}
		fs := a.stacks[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fs.Build(a.filters, a.sigmaMin, a.sigmaMax)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("rebuilding dirty feature stacks: %w", err)
	}

	for i := range dirty {
		dirty[i] = false
	}
	return nil
}

// ApplySchema forces every built stack down to the exact channel set and
// order of the given header, so that a classifier always receives vectors
// laid out the way it was trained. Must be called after any filter-set
// change and before extracting training or classification vectors.
func (a *FeatureStackArray) ApplySchema(h *Header) error {
	for i, fs := range a.stacks {
		if fs.IsEmpty() {
			continue
		}
		if err := fs.FilterByNames(h.Features); err != nil {
			return fmt.Errorf("slice %d: %w", i, err)
		}
		if err := fs.ReorderToMatch(h.Features); err != nil {
			return fmt.Errorf("slice %d: %w", i, err)
		}
	}
	return nil
}

// VectorInto fills buf with the feature vector of pixel (x, y) on the
// given slice. An out-of-range slice index panics; it is a programming
// error on the caller's side, not a recoverable condition.
func (a *FeatureStackArray) VectorInto(buf *ReusableVector, sliceIdx, x, y int) error {
	return a.stacks[sliceIdx].VectorInto(buf, x, y)
}

// FeatureNames returns the channel names of the first built stack, which
// define the current feature-vector layout. Returns nil if nothing has
// been built yet.
func (a *FeatureStackArray) FeatureNames() []string {
	for _, fs := range a.stacks {
		if !fs.IsEmpty() {
			return fs.ChannelNames()
		}
	}
	return nil
}

// NumFeatures returns the channel count of the first built stack, or 0.
func (a *FeatureStackArray) NumFeatures() int {
	for _, fs := range a.stacks {
		if !fs.IsEmpty() {
			return fs.NumChannels()
		}
	}
	return 0
}
