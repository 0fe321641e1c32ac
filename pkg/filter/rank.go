package filter

import (
	"math"
	"sort"

	"trainableseg/internal/models"
)

func init() {
	register(rankFilter{name: "Mean", op: rankMean})
	register(rankFilter{name: "Variance", op: rankVariance})
	register(rankFilter{name: "Median", op: rankMedian})
	register(rankFilter{name: "Minimum", op: rankMin})
	register(rankFilter{name: "Maximum", op: rankMax})
}

type rankOp int

const (
	rankMean rankOp = iota
	rankVariance
	rankMedian
	rankMin
	rankMax
)

// rankFilter computes a statistic over the square window of radius
// ceil(sigma) around each pixel, replicating edge pixels at the border.
//
// The window is always scanned in the same row-major order. A sliding or
// integral-image formulation would be faster but accumulates sums in a
// position-dependent order, which breaks the bit-identical guarantee
// between tiled and whole-image processing.
type rankFilter struct {
	name string
	op   rankOp
}

func (f rankFilter) Name() string { return f.name }

func (f rankFilter) Radius(sigma float64) int { return int(math.Ceil(sigma)) }

func (f rankFilter) Apply(src *models.Slice, sigma float64) []Channel {
	r := f.Radius(sigma)
	width, height := src.Width, src.Height
	out := make([]float64, width*height)
	window := make([]float64, 0, (2*r+1)*(2*r+1))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			window = window[:0]
			for j := -r; j <= r; j++ {
				row := clamp(y+j, 0, height-1) * width
				for i := -r; i <= r; i++ {
					window = append(window, src.Pixels[row+clamp(x+i, 0, width-1)])
				}
			}
			out[y*width+x] = f.reduce(window)
		}
	}
	return []Channel{{Name: channelName(f.name, sigma), Data: out}}
}

func (f rankFilter) reduce(window []float64) float64 {
	switch f.op {
	case rankMean:
		return mean(window)
	case rankVariance:
		m := mean(window)
		sum := 0.0
		for _, v := range window {
			d := v - m
			sum += d * d
		}
		return sum / float64(len(window))
	case rankMedian:
		sort.Float64s(window)
		n := len(window)
		if n%2 == 0 {
			return (window[n/2-1] + window[n/2]) / 2
		}
		return window[n/2]
	case rankMin:
		min := window[0]
		for _, v := range window[1:] {
			if v < min {
				min = v
			}
		}
		return min
	default: // rankMax
		max := window[0]
		for _, v := range window[1:] {
			if v > max {
				max = v
			}
		}
		return max
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
