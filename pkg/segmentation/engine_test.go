package segmentation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"trainableseg/internal/models"
	"trainableseg/pkg/classify"
	"trainableseg/pkg/features"
	"trainableseg/pkg/filter"
)

// patternStack builds a deterministic two-region test volume: the left
// half is dark, the right half is bright, with smooth local variation so
// that different tiles see different data.
func patternStack(depth, width, height int) *models.Stack {
	stack := models.NewStack()
	for z := 0; z < depth; z++ {
		s := models.NewSlice(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				base := 0.2
				if x >= width/2 {
					base = 0.8
				}
				s.Set(x, y, base+0.05*math.Sin(0.7*float64(x)+0.3*float64(y)+float64(z)))
			}
		}
		stack.Slices = append(stack.Slices, s)
	}
	return stack
}

func testParams(t *testing.T, workers int) *Params {
	t.Helper()
	filters, err := filter.ByNames([]string{"Original", "Gaussian_blur", "Sobel_filter"})
	require.NoError(t, err)
	return &Params{
		NumWorkers: workers,
		SigmaMin:   1,
		SigmaMax:   2,
		Filters:    filters,
	}
}

// trainedSegmenter trains a nearest-centroid segmenter on annotations
// from both halves of the first slice.
func trainedSegmenter(t *testing.T, stack *models.Stack, params *Params) *Segmenter {
	t.Helper()
	seg := NewSegmenter(stack, []string{"dark", "bright"}, classify.NewNearestCentroid(), params)
	for _, y := range []int{4, 12, 20} {
		require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 3, Y: y, Class: 0}))
		require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: stack.Width() - 4, Y: y, Class: 1}))
	}
	require.NoError(t, seg.Train(context.Background()))
	return seg
}

func TestPartitionRowsCoverage(t *testing.T) {
	const height, depth, workers, halo = 10, 3, 4, 2
	chunks := partitionRows(height, depth, workers, halo)
	require.Len(t, chunks, workers)

	covered := make(map[[2]int]int)
	for _, tiles := range chunks {
		for _, tile := range tiles {
			require.Less(t, tile.slice, depth)
			require.GreaterOrEqual(t, tile.rowStart, 0)
			require.LessOrEqual(t, tile.rowEnd, height)
			require.Less(t, tile.rowStart, tile.rowEnd)

			// Pads are the clamped halo, never a fixed constant
			wantTop := halo
			if tile.rowStart < halo {
				wantTop = tile.rowStart
			}
			wantBottom := halo
			if height-tile.rowEnd < halo {
				wantBottom = height - tile.rowEnd
			}
			require.Equal(t, wantTop, tile.padTop)
			require.Equal(t, wantBottom, tile.padBottom)

			for y := tile.rowStart; y < tile.rowEnd; y++ {
				covered[[2]int{tile.slice, y}]++
			}
		}
	}

	// Every row of every slice is assigned exactly once
	require.Len(t, covered, height*depth)
	for key, n := range covered {
		require.Equal(t, 1, n, "row %v assigned %d times", key, n)
	}
}

func TestPartitionRowsRemainderToLastWorker(t *testing.T) {
	chunks := partitionRows(10, 1, 3, 0)
	rows := func(tiles []tileDesc) int {
		total := 0
		for _, tile := range tiles {
			total += tile.rowEnd - tile.rowStart
		}
		return total
	}
	require.Equal(t, 3, rows(chunks[0]))
	require.Equal(t, 3, rows(chunks[1]))
	require.Equal(t, 4, rows(chunks[2]))
}

func TestPartitionRowsMoreWorkersThanRows(t *testing.T) {
	chunks := partitionRows(2, 1, 8, 0)
	require.Len(t, chunks, 2)
}

func TestTilingEquivalence(t *testing.T) {
	stack := patternStack(2, 40, 36)
	seg := trainedSegmenter(t, stack, testParams(t, 1))

	reference, err := seg.ClassifyImage(context.Background(), stack, 1, false)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 5} {
		result, err := seg.ClassifyImage(context.Background(), stack, workers, false)
		require.NoError(t, err)
		require.Equal(t, reference.Labels.Labels, result.Labels.Labels,
			"%d-worker labels differ from single-worker run", workers)
	}
}

func TestTilingEquivalenceProbabilities(t *testing.T) {
	stack := patternStack(1, 40, 36)
	seg := trainedSegmenter(t, stack, testParams(t, 1))

	reference, err := seg.ClassifyImage(context.Background(), stack, 1, true)
	require.NoError(t, err)

	result, err := seg.ClassifyImage(context.Background(), stack, 4, true)
	require.NoError(t, err)
	require.Equal(t, reference.Probabilities.Data, result.Probabilities.Data)
}

func TestSingleFilterFourWorkers(t *testing.T) {
	stack := patternStack(1, 100, 100)
	filters, err := filter.ByNames([]string{"Gaussian_blur"})
	require.NoError(t, err)
	params := &Params{NumWorkers: 1, SigmaMin: 1, SigmaMax: 1, Filters: filters}

	seg := NewSegmenter(stack, []string{"dark", "bright"}, classify.NewNearestCentroid(), params)
	for y := 10; y < 20; y++ {
		require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 10, Y: y, Class: 0}))
		require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 90, Y: y, Class: 1}))
	}
	require.NoError(t, seg.Train(context.Background()))

	single, err := seg.ClassifyImage(context.Background(), stack, 1, false)
	require.NoError(t, err)
	parallel, err := seg.ClassifyImage(context.Background(), stack, 4, false)
	require.NoError(t, err)

	require.Equal(t, single.Labels.Labels, parallel.Labels.Labels)
	for _, class := range parallel.Labels.Labels {
		require.LessOrEqual(t, class, uint8(1))
	}
}

func TestClassifyCurrentImageMatchesTiledRun(t *testing.T) {
	stack := patternStack(2, 40, 36)
	seg := trainedSegmenter(t, stack, testParams(t, 2))

	tiled, err := seg.ClassifyImage(context.Background(), stack, 3, false)
	require.NoError(t, err)

	cached, err := seg.ClassifyCurrentImage(context.Background(), 3, false)
	require.NoError(t, err)
	require.Equal(t, tiled.Labels.Labels, cached.Labels.Labels)
}

func TestClassifyRegionMatchesWholeImage(t *testing.T) {
	stack := patternStack(2, 40, 36)
	seg := trainedSegmenter(t, stack, testParams(t, 2))

	whole, err := seg.ClassifyImage(context.Background(), stack, 2, false)
	require.NoError(t, err)

	// A region straddling the intensity boundary, away from the border
	const x0, y0, z0, w, h, d = 14, 9, 0, 12, 10, 2
	region, err := seg.ClassifyRegion(context.Background(), stack, x0, y0, z0, w, h, d, 2, false)
	require.NoError(t, err)

	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				require.Equal(t, whole.Labels.At(z0+z, x0+x, y0+y), region.Labels.At(z, x, y),
					"pixel (%d,%d,%d)", x, y, z)
			}
		}
	}
}

func TestClassifyRegionAtImageBorder(t *testing.T) {
	stack := patternStack(1, 40, 36)
	seg := trainedSegmenter(t, stack, testParams(t, 1))

	whole, err := seg.ClassifyImage(context.Background(), stack, 1, false)
	require.NoError(t, err)

	// Halo clamps at the corner exactly like the whole-image run does
	region, err := seg.ClassifyRegion(context.Background(), stack, 0, 0, 0, 8, 8, 1, 1, false)
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			require.Equal(t, whole.Labels.At(0, x, y), region.Labels.At(0, x, y))
		}
	}
}

func TestClassifyRegionOutOfBounds(t *testing.T) {
	stack := patternStack(1, 40, 36)
	seg := trainedSegmenter(t, stack, testParams(t, 1))

	_, err := seg.ClassifyRegion(context.Background(), stack, 35, 0, 0, 10, 10, 1, 1, false)
	require.Error(t, err)

	_, err = seg.ClassifyRegion(context.Background(), stack, 0, 0, 1, 5, 5, 1, 1, false)
	require.Error(t, err)
}

func TestClassifyBeforeTraining(t *testing.T) {
	stack := patternStack(1, 16, 16)
	seg := NewSegmenter(stack, []string{"a", "b"}, classify.NewNearestCentroid(), testParams(t, 1))

	_, err := seg.ClassifyImage(context.Background(), stack, 1, false)
	require.ErrorIs(t, err, ErrNotTrained)

	_, err = seg.ClassifyRegion(context.Background(), stack, 0, 0, 0, 4, 4, 1, 1, false)
	require.ErrorIs(t, err, ErrNotTrained)

	_, err = seg.ClassifyCurrentImage(context.Background(), 1, false)
	require.ErrorIs(t, err, ErrNotTrained)
}

func TestCancellationStopsClassification(t *testing.T) {
	// Large enough that a single worker crosses the polling interval
	stack := patternStack(1, 70, 70)
	seg := trainedSegmenter(t, stack, testParams(t, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := seg.ClassifyImage(ctx, stack, 1, false)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, result)
}

func TestMemoryBudgetExceeded(t *testing.T) {
	stack := patternStack(1, 40, 36)
	params := testParams(t, 2)
	params.MemoryBudgetBytes = 1
	seg := trainedSegmenter(t, stack, params)

	result, err := seg.ClassifyImage(context.Background(), stack, 2, false)
	require.ErrorIs(t, err, ErrResourceExhausted)
	require.Nil(t, result)
}

func TestMemoryBudgetChargesActualRows(t *testing.T) {
	stack := patternStack(1, 10, 10)
	params := testParams(t, 3)
	seg := NewSegmenter(stack, []string{"dark", "bright"}, classify.NewNearestCentroid(), params)

	channels := features.CountChannels(params.Filters, params.SigmaMin, params.SigmaMax)
	bytesPerRow := int64(channels) * int64(stack.Width()) * 8

	// Three workers hold 3, 3 and 4 rows; the peak is their sum, not
	// three times the largest share
	exact := bytesPerRow * 10
	params.MemoryBudgetBytes = exact
	require.NoError(t, seg.checkMemoryBudget(stack.Width(), stack.Height(), 1, 3, 0))

	params.MemoryBudgetBytes = exact - 1
	require.ErrorIs(t, seg.checkMemoryBudget(stack.Width(), stack.Height(), 1, 3, 0), ErrResourceExhausted)
}

func TestTooManyClassesForLabelImage(t *testing.T) {
	stack := patternStack(1, 10, 10)
	seg := NewSegmenter(stack, nil, classify.NewNearestCentroid(), testParams(t, 1))

	classes := make([]string, 300)
	for i := range classes {
		classes[i] = fmt.Sprintf("class_%d", i)
	}
	seg.SetHeader(&Header{Features: []string{"Original"}, Classes: classes})

	// Label pixels are single bytes; the class count must be rejected
	// before any feature work
	result, err := seg.ClassifyImage(context.Background(), stack, 1, false)
	require.ErrorContains(t, err, "at most 256 classes")
	require.Nil(t, result)

	cached, err := seg.ClassifyCurrentImage(context.Background(), 1, false)
	require.ErrorContains(t, err, "at most 256 classes")
	require.Nil(t, cached)
}

func TestProbabilitiesSumToOne(t *testing.T) {
	stack := patternStack(1, 24, 24)
	seg := trainedSegmenter(t, stack, testParams(t, 2))

	result, err := seg.ClassifyImage(context.Background(), stack, 2, true)
	require.NoError(t, err)

	probs := result.Probabilities
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			sum := 0.0
			for c := 0; c < probs.NumClasses; c++ {
				sum += probs.At(0, c, x, y)
			}
			require.InDelta(t, 1.0, sum, 1e-9, "pixel (%d,%d)", x, y)
		}
	}
}

// failingClassifier trains fine but fails every query.
type failingClassifier struct{}

func (failingClassifier) Train(*classify.Dataset) error { return nil }
func (failingClassifier) Classify([]float64) (int, error) {
	return 0, errors.New("model storage lost")
}
func (failingClassifier) PredictDistribution([]float64) ([]float64, error) {
	return nil, errors.New("model storage lost")
}
func (failingClassifier) ConcurrentSafe() bool       { return true }
func (failingClassifier) Clone() classify.Classifier { return failingClassifier{} }

func TestWorkerFailureReportsChunk(t *testing.T) {
	stack := patternStack(2, 20, 16)
	seg := NewSegmenter(stack, []string{"dark", "bright"}, failingClassifier{}, testParams(t, 2))
	require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 2, Y: 2, Class: 0}))
	require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 17, Y: 2, Class: 1}))
	require.NoError(t, seg.Train(context.Background()))

	result, err := seg.ClassifyImage(context.Background(), stack, 2, false)
	require.Nil(t, result)

	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	require.GreaterOrEqual(t, chunkErr.Slice, 0)
	require.Less(t, chunkErr.RowStart, chunkErr.RowEnd)
}

// cloneCounter wraps a trained model, reports itself unsafe for
// concurrent use and counts how many copies the engine makes.
type cloneCounter struct {
	*classify.NearestCentroid
	clones *int32
}

func (c *cloneCounter) ConcurrentSafe() bool { return false }
func (c *cloneCounter) Clone() classify.Classifier {
	atomic.AddInt32(c.clones, 1)
	return &cloneCounter{NearestCentroid: c.NearestCentroid, clones: c.clones}
}

func TestUnsafeClassifierClonedPerWorker(t *testing.T) {
	stack := patternStack(1, 30, 30)
	var clones int32
	cls := &cloneCounter{NearestCentroid: classify.NewNearestCentroid(), clones: &clones}

	seg := NewSegmenter(stack, []string{"dark", "bright"}, cls, testParams(t, 3))
	require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 2, Y: 2, Class: 0}))
	require.NoError(t, seg.AddAnnotation(models.Annotation{Slice: 0, X: 27, Y: 2, Class: 1}))
	require.NoError(t, seg.Train(context.Background()))

	_, err := seg.ClassifyImage(context.Background(), stack, 3, false)
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&clones))
}
