// Package errmap maintains a per-image histogram of observed training loss
// and the cumulative distributions used to bias ray selection toward
// historically high-error image regions.
package errmap

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/yenchenlin/orthographic-ngp/types"
)

// DefaultRes is the histogram resolution per image axis.
const DefaultRes = 16

// Fraction of the accumulated error retained after each CDF rebuild, so
// stale error estimates fade as training progresses.
const rebuildDecay = 0.5

// Map accumulates squared per-ray error at a coarse per-image resolution
// and exposes inverse-CDF sampling over (image, row, column). A valid flag
// gates biased sampling: it drops on any write and is raised again only by
// Rebuild, so samplers never consume half-updated distributions.
type Map struct {
	res    int
	images int

	data   []float32 // images x res x res accumulated error
	cdfX   []float32 // conditional CDF over x given (image, y)
	cdfY   []float32 // CDF over y given image
	cdfImg []float32 // CDF over images
	valid  bool
}

// Create a new error map covering the given number of training images.
func New(images, res int) (*Map, error) {
	if images <= 0 || res <= 0 {
		return nil, fmt.Errorf("errmap: invalid dimensions: %d images, res %d", images, res)
	}
	return &Map{
		res:    res,
		images: images,
		data:   make([]float32, images*res*res),
		cdfX:   make([]float32, images*res*res),
		cdfY:   make([]float32, images*res),
		cdfImg: make([]float32, images),
	}, nil
}

// Res returns the histogram resolution.
func (m *Map) Res() int { return m.res }

// Valid reports whether the CDFs reflect the accumulated histogram.
func (m *Map) Valid() bool { return m.valid }

// Accumulate adds an error observation for image img at normalized image
// coordinates uv. Invalidates the CDFs.
func (m *Map) Accumulate(img int, uv types.Vec2, err float32) {
	if img < 0 || img >= m.images || err <= 0 {
		return
	}
	x := cellOf(uv[0], m.res)
	y := cellOf(uv[1], m.res)
	m.data[(img*m.res+y)*m.res+x] += err
	m.valid = false
}

func cellOf(u float32, res int) int {
	i := int(u * float32(res))
	if i < 0 {
		return 0
	}
	if i >= res {
		return res - 1
	}
	return i
}

// Rebuild derives the conditional/marginal CDFs from the histogram, decays
// the raw data, and re-arms biased sampling. Rows or images that saw no
// error fall back to a uniform distribution rather than dividing by zero.
func (m *Map) Rebuild() {
	for img := 0; img < m.images; img++ {
		var imgSum float32
		for y := 0; y < m.res; y++ {
			row := (img*m.res + y) * m.res
			var rowSum float32
			for x := 0; x < m.res; x++ {
				rowSum += m.data[row+x]
				m.cdfX[row+x] = rowSum
			}
			normalize(m.cdfX[row:row+m.res], rowSum)
			imgSum += rowSum
			m.cdfY[img*m.res+y] = imgSum
		}
		normalize(m.cdfY[img*m.res:(img+1)*m.res], imgSum)
		m.cdfImg[img] = imgSum
		if img > 0 {
			m.cdfImg[img] += m.cdfImg[img-1]
		}
	}
	normalize(m.cdfImg, m.cdfImg[m.images-1])

	for i := range m.data {
		m.data[i] *= rebuildDecay
	}
	m.valid = true
}

// Normalize a running sum into a CDF ending at exactly 1. A zero total
// degrades to the uniform CDF.
func normalize(cdf []float32, total float32) {
	if total <= 0 {
		for i := range cdf {
			cdf[i] = float32(i+1) / float32(len(cdf))
		}
		return
	}
	inv := 1.0 / total
	for i := range cdf {
		cdf[i] *= inv
	}
	cdf[len(cdf)-1] = 1
}

// Sample draws (image, uv) by inverse-CDF sampling an image, then a row,
// then a column, jittered uniformly inside the chosen histogram cell. Only
// meaningful while Valid reports true.
func (m *Map) Sample(rng *rand.Rand) (int, types.Vec2) {
	img := searchCDF(m.cdfImg, rng.Float32())
	y := searchCDF(m.cdfY[img*m.res:(img+1)*m.res], rng.Float32())
	row := (img*m.res + y) * m.res
	x := searchCDF(m.cdfX[row:row+m.res], rng.Float32())

	uv := types.Vec2{
		(float32(x) + rng.Float32()) / float32(m.res),
		(float32(y) + rng.Float32()) / float32(m.res),
	}
	return img, uv
}

// Weight returns the error mass of the histogram cell at uv relative to
// the image mean; 1 means average error. Useful for secondary biasing
// decisions such as focal-plane sampling.
func (m *Map) Weight(img int, uv types.Vec2) float32 {
	if img < 0 || img >= m.images {
		return 1
	}
	var sum float32
	for _, v := range m.data[img*m.res*m.res : (img+1)*m.res*m.res] {
		sum += v
	}
	if sum <= 0 {
		return 1
	}
	mean := sum / float32(m.res*m.res)
	x := cellOf(uv[0], m.res)
	y := cellOf(uv[1], m.res)
	return m.data[(img*m.res+y)*m.res+x] / mean
}

func searchCDF(cdf []float32, u float32) int {
	idx := sort.Search(len(cdf), func(i int) bool { return cdf[i] >= u })
	if idx >= len(cdf) {
		idx = len(cdf) - 1
	}
	return idx
}
