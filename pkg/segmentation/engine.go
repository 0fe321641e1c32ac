package segmentation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"trainableseg/internal/models"
	"trainableseg/pkg/classify"
	"trainableseg/pkg/features"
	"trainableseg/pkg/filter"
)

// cancelCheckInterval is how many pixels a worker classifies between
// cooperative cancellation checks.
const cancelCheckInterval = 4096

// maxLabelClasses is the largest class count a LabelImage can represent.
const maxLabelClasses = 256

// Result holds the output of a classification run: exactly one of the
// two fields is set, depending on whether probability maps were
// requested.
type Result struct {
	Labels        *models.LabelImage
	Probabilities *models.ProbabilityImage
}

// tileDesc describes one chunk of work: a contiguous row range of one
// slice, plus the halo padding actually applied on each side after
// clamping at the image border. The stitch step trims exactly these
// amounts, never a fixed constant.
type tileDesc struct {
	slice    int
	rowStart int // first row of the valid region
	rowEnd   int // exclusive end of the valid region

	padTop    int // rows of halo actually available above rowStart
	padBottom int // rows of halo actually available below rowEnd
}

// partitionRows splits the height*depth rows of a stack into one
// contiguous range per worker, with remainder rows going to the last
// worker, and breaks each range at slice boundaries into padded tiles.
func partitionRows(height, depth, workers, halo int) [][]tileDesc {
	totalRows := height * depth
	if workers > totalRows {
		workers = totalRows
	}
	rowsPerWorker := totalRows / workers

	chunks := make([][]tileDesc, workers)
	for i := 0; i < workers; i++ {
		start := i * rowsPerWorker
		end := start + rowsPerWorker
		if i == workers-1 {
			end = totalRows
		}

		for r := start; r < end; {
			slice := r / height
			rowStart := r - slice*height
			rowEnd := rowStart + (end - r)
			if rowEnd > height {
				rowEnd = height
			}

			paddedStart := rowStart - halo
			if paddedStart < 0 {
				paddedStart = 0
			}
			paddedEnd := rowEnd + halo
			if paddedEnd > height {
				paddedEnd = height
			}

			chunks[i] = append(chunks[i], tileDesc{
				slice:     slice,
				rowStart:  rowStart,
				rowEnd:    rowEnd,
				padTop:    rowStart - paddedStart,
				padBottom: paddedEnd - rowEnd,
			})
			r += rowEnd - rowStart
		}
	}
	return chunks
}

// checkMemoryBudget estimates the peak working memory of a tiled run and
// fails with ErrResourceExhausted when it exceeds the configured budget.
func (s *Segmenter) checkMemoryBudget(width, height, depth, workers, halo int) error {
	if s.params.MemoryBudgetBytes <= 0 {
		return nil
	}
	channels := features.CountChannels(s.params.Filters, s.params.SigmaMin, s.params.SigmaMax)
	totalRows := height * depth
	if workers > totalRows {
		workers = totalRows
	}

	// Each worker holds the feature channels of one padded tile at a
	// time, so the peak is the sum of per-worker tile sizes, with the
	// remainder rows charged to the last worker only.
	bytesPerRow := int64(channels) * int64(width) * 8
	var estimate int64
	for i := 0; i < workers; i++ {
		rows := totalRows / workers
		if i == workers-1 {
			rows += totalRows % workers
		}
		if rows > height {
			rows = height
		}
		estimate += bytesPerRow * int64(rows+2*halo)
	}
	if estimate > s.params.MemoryBudgetBytes {
		return fmt.Errorf("%w: estimated %d bytes for %d workers, budget is %d; retry with fewer workers or a smaller region",
			ErrResourceExhausted, estimate, workers, s.params.MemoryBudgetBytes)
	}
	return nil
}

// workerClassifiers returns one classifier handle per worker: the shared
// instance when concurrent read-only queries are safe, an independent
// copy per worker otherwise.
func workerClassifiers(cls classify.Classifier, workers int) []classify.Classifier {
	out := make([]classify.Classifier, workers)
	for i := range out {
		if cls.ConcurrentSafe() {
			out[i] = cls
		} else {
			out[i] = cls.Clone()
		}
	}
	return out
}

// ClassifyImage applies the trained classifier to every pixel of the
// given image using numWorkers concurrent workers (0 means the
// configured default). The assembled output is pixel-for-pixel identical
// to a single-worker run: each worker classifies a padded tile and only
// its unpadded interior is stitched into the result. On any worker
// failure the run is cancelled and no partial output is returned.
func (s *Segmenter) ClassifyImage(ctx context.Context, img *models.Stack, numWorkers int, probabilityMaps bool) (*Result, error) {
	if img.Depth() == 0 {
		return nil, fmt.Errorf("cannot classify an empty image")
	}
	return s.classifyStack(ctx, img, numWorkers, probabilityMaps)
}

// ClassifyRegion applies the trained classifier to the sub-volume of
// size (width, height, depth) at origin (x0, y0, z0). The region is
// extended by the filter halo (clamped at the image border) before
// feature computation, so pixels inside the region get exactly the same
// features as a whole-image run. Useful for memory-bounded processing of
// large images by external tiling.
func (s *Segmenter) ClassifyRegion(ctx context.Context, img *models.Stack, x0, y0, z0, width, height, depth, numWorkers int, probabilityMaps bool) (*Result, error) {
	if s.header == nil {
		return nil, ErrNotTrained
	}
	if z0 < 0 || z0+depth > img.Depth() || depth < 1 {
		return nil, fmt.Errorf("region slices [%d,%d) out of range [0,%d)", z0, z0+depth, img.Depth())
	}
	if x0 < 0 || y0 < 0 || width < 1 || height < 1 ||
		x0+width > img.Width() || y0+height > img.Height() {
		return nil, fmt.Errorf("region %dx%d at (%d,%d) outside image bounds %dx%d",
			width, height, x0, y0, img.Width(), img.Height())
	}

	halo := filter.MaxRadius(s.params.Filters, s.params.SigmaMax)
	cx0 := x0 - halo
	if cx0 < 0 {
		cx0 = 0
	}
	cy0 := y0 - halo
	if cy0 < 0 {
		cy0 = 0
	}
	cx1 := x0 + width + halo
	if cx1 > img.Width() {
		cx1 = img.Width()
	}
	cy1 := y0 + height + halo
	if cy1 > img.Height() {
		cy1 = img.Height()
	}

	cropped := models.NewStack()
	for z := z0; z < z0+depth; z++ {
		cropped.Slices = append(cropped.Slices, img.Slices[z].CropRect(cx0, cy0, cx1, cy1))
	}

	padded, err := s.classifyStack(ctx, cropped, numWorkers, probabilityMaps)
	if err != nil {
		return nil, err
	}

	// Trim exactly the padding that was applied on each side.
	offX := x0 - cx0
	offY := y0 - cy0
	result := &Result{}
	if probabilityMaps {
		numClasses := len(s.header.Classes)
		probs := models.NewProbabilityImage(width, height, depth, numClasses)
		for z := 0; z < depth; z++ {
			for c := 0; c < numClasses; c++ {
				for y := 0; y < height; y++ {
					for x := 0; x < width; x++ {
						probs.Set(z, c, x, y, padded.Probabilities.At(z, c, x+offX, y+offY))
					}
				}
			}
		}
		result.Probabilities = probs
	} else {
		labels := models.NewLabelImage(width, height, depth)
		for z := 0; z < depth; z++ {
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					labels.Set(z, x, y, padded.Labels.At(z, x+offX, y+offY))
				}
			}
		}
		result.Labels = labels
	}
	return result, nil
}

// classifyStack runs the tiled engine over a stack.
func (s *Segmenter) classifyStack(ctx context.Context, img *models.Stack, numWorkers int, probabilityMaps bool) (*Result, error) {
	if s.header == nil {
		return nil, ErrNotTrained
	}
	if err := s.params.validate(); err != nil {
		return nil, err
	}
	numClasses := len(s.header.Classes)
	if !probabilityMaps && numClasses > maxLabelClasses {
		return nil, fmt.Errorf("label output supports at most %d classes, got %d", maxLabelClasses, numClasses)
	}
	workers := numWorkers
	if workers < 1 {
		workers = s.params.workers()
	}

	width, height, depth := img.Width(), img.Height(), img.Depth()
	halo := filter.MaxRadius(s.params.Filters, s.params.SigmaMax)

	if err := s.checkMemoryBudget(width, height, depth, workers, halo); err != nil {
		return nil, err
	}

	chunks := partitionRows(height, depth, workers, halo)

	result := &Result{}
	if probabilityMaps {
		result.Probabilities = models.NewProbabilityImage(width, height, depth, numClasses)
	} else {
		result.Labels = models.NewLabelImage(width, height, depth)
	}

	perWorker := workerClassifiers(s.classifier, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for wi := range chunks {
		tiles := chunks[wi]
		cls := perWorker[wi]
		g.Go(func() error {
			buf := features.NewReusableVector(len(s.header.Features))
			pixelCount := 0
			for _, t := range tiles {
				if err := s.classifyTile(gctx, img, t, cls, buf, result, &pixelCount); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// classifyTile computes features for one padded tile and classifies its
// valid rows, writing into the tile's disjoint region of the shared
// output. Workers never write outside their own region, so the final
// assembly needs no synchronization.
func (s *Segmenter) classifyTile(ctx context.Context, img *models.Stack, t tileDesc, cls classify.Classifier, buf *features.ReusableVector, result *Result, pixelCount *int) error {
	fail := func(err error) error {
		return &ChunkError{Slice: t.slice, RowStart: t.rowStart, RowEnd: t.rowEnd, Err: err}
	}

	crop := img.Slices[t.slice].CropRows(t.rowStart-t.padTop, t.rowEnd+t.padBottom)
	fs := features.NewFeatureStack(crop)
	fs.Build(s.params.Filters, s.params.SigmaMin, s.params.SigmaMax)
	if err := fs.FilterByNames(s.header.Features); err != nil {
		return fail(err)
	}
	if err := fs.ReorderToMatch(s.header.Features); err != nil {
		return fail(err)
	}

	width := crop.Width
	for y := t.rowStart; y < t.rowEnd; y++ {
		cy := y - t.rowStart + t.padTop
		for x := 0; x < width; x++ {
			*pixelCount++
			if *pixelCount%cancelCheckInterval == 0 {
				select {
				case <-ctx.Done():
					return fail(ctx.Err())
				default:
				}
			}

			if err := fs.VectorInto(buf, x, cy); err != nil {
				return fail(err)
			}

			if result.Probabilities != nil {
				dist, err := cls.PredictDistribution(buf.Values)
				if err != nil {
					return fail(err)
				}
				for c, p := range dist {
					result.Probabilities.Set(t.slice, c, x, y, p)
				}
			} else {
				class, err := cls.Classify(buf.Values)
				if err != nil {
					return fail(err)
				}
				result.Labels.Set(t.slice, x, y, uint8(class))
			}
		}
	}
	return nil
}

// ClassifyCurrentImage classifies the training image using the cached
// whole-slice feature stacks instead of tiling: slices flagged dirty for
// inference are rebuilt first, then workers read the shared read-only
// stacks directly. This is the cheap path after training, since the
// annotated slices are already computed.
func (s *Segmenter) ClassifyCurrentImage(ctx context.Context, numWorkers int, probabilityMaps bool) (*Result, error) {
	if s.header == nil {
		return nil, ErrNotTrained
	}
	if err := s.params.validate(); err != nil {
		return nil, err
	}
	numClasses := len(s.header.Classes)
	if !probabilityMaps && numClasses > maxLabelClasses {
		return nil, fmt.Errorf("label output supports at most %d classes, got %d", maxLabelClasses, numClasses)
	}
	workers := numWorkers
	if workers < 1 {
		workers = s.params.workers()
	}

	if err := s.fsa.RebuildDirty(ctx, false, workers); err != nil {
		return nil, err
	}
	if err := s.fsa.ApplySchema(s.header); err != nil {
		return nil, err
	}

	width, height, depth := s.stack.Width(), s.stack.Height(), s.stack.Depth()

	result := &Result{}
	if probabilityMaps {
		result.Probabilities = models.NewProbabilityImage(width, height, depth, numClasses)
	} else {
		result.Labels = models.NewLabelImage(width, height, depth)
	}

	// No halo needed: features are precomputed per whole slice.
	chunks := partitionRows(height, depth, workers, 0)
	perWorker := workerClassifiers(s.classifier, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for wi := range chunks {
		tiles := chunks[wi]
		cls := perWorker[wi]
		g.Go(func() error {
			buf := features.NewReusableVector(len(s.header.Features))
			pixelCount := 0
			for _, t := range tiles {
				for y := t.rowStart; y < t.rowEnd; y++ {
					for x := 0; x < width; x++ {
						pixelCount++
						if pixelCount%cancelCheckInterval == 0 {
							select {
							case <-gctx.Done():
								return &ChunkError{Slice: t.slice, RowStart: t.rowStart, RowEnd: t.rowEnd, Err: gctx.Err()}
							default:
							}
						}

						if err := s.fsa.VectorInto(buf, t.slice, x, y); err != nil {
							return &ChunkError{Slice: t.slice, RowStart: t.rowStart, RowEnd: t.rowEnd, Err: err}
						}
						if result.Probabilities != nil {
							dist, err := cls.PredictDistribution(buf.Values)
							if err != nil {
								return &ChunkError{Slice: t.slice, RowStart: t.rowStart, RowEnd: t.rowEnd, Err: err}
							}
							for c, p := range dist {
								result.Probabilities.Set(t.slice, c, x, y, p)
							}
						} else {
							class, err := cls.Classify(buf.Values)
							if err != nil {
								return &ChunkError{Slice: t.slice, RowStart: t.rowStart, RowEnd: t.rowEnd, Err: err}
							}
							result.Labels.Set(t.slice, x, y, uint8(class))
						}
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
