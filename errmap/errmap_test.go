package errmap

import (
	"math/rand"
	"testing"

	"github.com/yenchenlin/orthographic-ngp/types"
)

func TestValidFlagGating(t *testing.T) {
	m, err := New(2, 4)
	if err != nil {
		t.Fatal(err)
	}

	if m.Valid() {
		t.Fatalf("expected a fresh map to be invalid")
	}

	m.Accumulate(0, types.Vec2{0.5, 0.5}, 1)
	m.Rebuild()
	if !m.Valid() {
		t.Fatalf("expected the map to be valid after a rebuild")
	}

	m.Accumulate(0, types.Vec2{0.5, 0.5}, 1)
	if m.Valid() {
		t.Fatalf("expected a write to invalidate the distributions")
	}
}

func TestRebuildProducesMonotoneNormalizedCDFs(t *testing.T) {
	m, err := New(3, 8)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		m.Accumulate(rng.Intn(3), types.Vec2{rng.Float32(), rng.Float32()}, rng.Float32())
	}
	m.Rebuild()

	checkCDF := func(name string, cdf []float32) {
		prev := float32(0)
		for i, v := range cdf {
			if v < prev {
				t.Fatalf("expected %s CDF to be monotone; entry %d decreases %g -> %g", name, i, prev, v)
			}
			prev = v
		}
		if cdf[len(cdf)-1] != 1 {
			t.Fatalf("expected %s CDF to end at exactly 1; got %g", name, cdf[len(cdf)-1])
		}
	}

	checkCDF("image", m.cdfImg)
	for img := 0; img < 3; img++ {
		checkCDF("row", m.cdfY[img*m.res:(img+1)*m.res])
		for y := 0; y < m.res; y++ {
			row := (img*m.res + y) * m.res
			checkCDF("column", m.cdfX[row:row+m.res])
		}
	}
}

func TestSampleConcentratesOnHighErrorCells(t *testing.T) {
	m, err := New(2, 4)
	if err != nil {
		t.Fatal(err)
	}

	// All the error lives in one cell of image 1.
	m.Accumulate(1, types.Vec2{0.9, 0.1}, 10)
	m.Rebuild()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		img, uv := m.Sample(rng)
		if img != 1 {
			t.Fatalf("expected samples to land on image 1; got image %d", img)
		}
		if uv[0] < 0.75 || uv[1] >= 0.25 {
			t.Fatalf("expected samples inside the hot cell; got uv %v", uv)
		}
	}
}

func TestZeroErrorFallsBackToUniform(t *testing.T) {
	m, err := New(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	m.Rebuild()

	rng := rand.New(rand.NewSource(7))
	seenImg := map[int]bool{}
	for i := 0; i < 500; i++ {
		img, uv := m.Sample(rng)
		seenImg[img] = true
		if uv[0] < 0 || uv[0] > 1 || uv[1] < 0 || uv[1] > 1 {
			t.Fatalf("expected uv inside the unit square; got %v", uv)
		}
	}
	if len(seenImg) != 2 {
		t.Fatalf("expected uniform fallback to cover both images; saw %d", len(seenImg))
	}
}

func TestRebuildDecaysAccumulatedError(t *testing.T) {
	m, err := New(1, 4)
	if err != nil {
		t.Fatal(err)
	}

	m.Accumulate(0, types.Vec2{0.5, 0.5}, 8)
	m.Rebuild()
	m.Rebuild()

	cell := (0*m.res+cellOf(0.5, m.res))*m.res + cellOf(0.5, m.res)
	if got := m.data[cell]; got != 2 {
		t.Fatalf("expected two rebuilds to decay the cell from 8 to 2; got %g", got)
	}
}

func TestWeightIsRelativeToImageMean(t *testing.T) {
	m, err := New(1, 4)
	if err != nil {
		t.Fatal(err)
	}

	if w := m.Weight(0, types.Vec2{0.5, 0.5}); w != 1 {
		t.Fatalf("expected weight 1 with no accumulated error; got %g", w)
	}

	// One of 16 cells holds all the error, so its weight is 16x the mean.
	m.Accumulate(0, types.Vec2{0.5, 0.5}, 4)
	if w := m.Weight(0, types.Vec2{0.5, 0.5}); w != 16 {
		t.Fatalf("expected hot cell weight 16; got %g", w)
	}
	if w := m.Weight(0, types.Vec2{0.1, 0.1}); w != 0 {
		t.Fatalf("expected cold cell weight 0; got %g", w)
	}
}
