package filter

import (
	"math"

	"trainableseg/internal/models"
)

func init() {
	register(sobelFilter{})
	register(hessianFilter{})
}

// sobelGradients computes the horizontal and vertical Sobel derivatives
// of src with edge replication at the border.
func sobelGradients(src *models.Slice) (gx, gy *models.Slice) {
	width, height := src.Width, src.Height
	gx = models.NewSlice(width, height)
	gy = models.NewSlice(width, height)

	at := func(x, y int) float64 {
		return src.Pixels[clamp(y, 0, height-1)*width+clamp(x, 0, width-1)]
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			tl, tc, tr := at(x-1, y-1), at(x, y-1), at(x+1, y-1)
			ml, mr := at(x-1, y), at(x+1, y)
			bl, bc, br := at(x-1, y+1), at(x, y+1), at(x+1, y+1)

			gx.Pixels[y*width+x] = (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy.Pixels[y*width+x] = (bl + 2*bc + br) - (tl + 2*tc + tr)
		}
	}
	return gx, gy
}

// sobelFilter produces the gradient magnitude of the Gaussian-smoothed
// image. The support radius is the Gaussian radius plus one pixel for
// the 3x3 derivative stencil.
type sobelFilter struct{}

func (sobelFilter) Name() string { return "Sobel_filter" }

func (sobelFilter) Radius(sigma float64) int { return gaussianRadius(sigma) + 1 }

func (s sobelFilter) Apply(src *models.Slice, sigma float64) []Channel {
	blurred := convolveSeparable(src, gaussianKernel(sigma))
	gx, gy := sobelGradients(blurred)

	mag := make([]float64, len(blurred.Pixels))
	for i := range mag {
		mag[i] = math.Hypot(gx.Pixels[i], gy.Pixels[i])
	}
	return []Channel{{Name: channelName(s.Name(), sigma), Data: mag}}
}

// hessianFilter produces five channels per scale derived from the Hessian
// matrix of the Gaussian-smoothed image: the module, trace, determinant
// and the two eigenvalues. Second derivatives use central differences, so
// the support radius is the Gaussian radius plus one.
type hessianFilter struct{}

func (hessianFilter) Name() string { return "Hessian" }

func (hessianFilter) Radius(sigma float64) int { return gaussianRadius(sigma) + 1 }

func (h hessianFilter) Apply(src *models.Slice, sigma float64) []Channel {
	blurred := convolveSeparable(src, gaussianKernel(sigma))
	width, height := blurred.Width, blurred.Height

	at := func(x, y int) float64 {
		return blurred.Pixels[clamp(y, 0, height-1)*width+clamp(x, 0, width-1)]
	}

	n := width * height
	module := make([]float64, n)
	trace := make([]float64, n)
	det := make([]float64, n)
	eig1 := make([]float64, n)
	eig2 := make([]float64, n)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			c := at(x, y)
			dxx := at(x+1, y) - 2*c + at(x-1, y)
			dyy := at(x, y+1) - 2*c + at(x, y-1)
			dxy := (at(x+1, y+1) - at(x-1, y+1) - at(x+1, y-1) + at(x-1, y-1)) / 4

			module[i] = math.Sqrt(dxx*dxx + 2*dxy*dxy + dyy*dyy)
			trace[i] = dxx + dyy
			det[i] = dxx*dyy - dxy*dxy

			// Closed-form eigenvalues of the symmetric 2x2 Hessian
			half := (dxx + dyy) / 2
			disc := math.Sqrt((dxx-dyy)*(dxx-dyy)/4 + dxy*dxy)
			eig1[i] = half + disc
			eig2[i] = half - disc
		}
	}

	return []Channel{
		{Name: channelName("Hessian", sigma), Data: module},
		{Name: channelName("Hessian_trace", sigma), Data: trace},
		{Name: channelName("Hessian_determinant", sigma), Data: det},
		{Name: channelName("Hessian_eigenvalue_1", sigma), Data: eig1},
		{Name: channelName("Hessian_eigenvalue_2", sigma), Data: eig2},
	}
}
