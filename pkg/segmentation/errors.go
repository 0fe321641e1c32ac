package segmentation

import (
	"errors"
	"fmt"

	"trainableseg/pkg/classify"
)

// ErrInsufficientTrainingData reports that fewer than two distinct
// classes have at least one annotated example. It is raised before any
// feature computation is attempted.
var ErrInsufficientTrainingData = classify.ErrInsufficientTrainingData

// ErrNotTrained reports that classification was requested before a
// classifier was trained or loaded.
var ErrNotTrained = errors.New("no trained classifier available")

// ErrResourceExhausted reports that the estimated working memory of a
// classification run exceeds the configured budget. Callers can retry
// with fewer workers, a smaller region or fewer enabled filters.
var ErrResourceExhausted = errors.New("classification would exceed the memory budget")

// ChunkError carries the location of a worker failure: the slice and row
// range of the chunk that was being classified when the error occurred.
type ChunkError struct {
	Slice    int
	RowStart int
	RowEnd   int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("classifying slice %d rows [%d,%d): %v", e.Slice, e.RowStart, e.RowEnd, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
