package media

import (
	"math/rand"
	"testing"

	"github.com/abduss/gomedia/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestFitIntoBounds(t *testing.T) {
	cases := []struct {
		w, h, bw, bh int
		wantW, wantH int
	}{
		{900, 300, 525, 175, 525, 175},
		{1000, 1000, 525, 175, 175, 175},
		{2000, 100, 525, 175, 525, 26},
		{100, 2000, 525, 175, 9, 175},
		{10000, 1, 525, 175, 525, 1},
		{3, 2, 2, 2, 2, 1},
		{5, 4, 2, 2, 2, 2},
	}
	for _, tc := range cases {
		w, h := FitIntoBounds(tc.w, tc.h, tc.bw, tc.bh)
		assert.Equal(t, [2]int{tc.wantW, tc.wantH}, [2]int{w, h}, "%dx%d into %dx%d", tc.w, tc.h, tc.bw, tc.bh)
	}
}

func TestFitIntoBoundsAlwaysFitsAndTouchesAnEdge(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		w, h := rng.Intn(8000)+1, rng.Intn(8000)+1
		bw, bh := rng.Intn(2000)+1, rng.Intn(2000)+1

		gotW, gotH := FitIntoBounds(w, h, bw, bh)

		if gotW < 1 || gotH < 1 || gotW > bw || gotH > bh {
			t.Fatalf("%dx%d into %dx%d gave %dx%d", w, h, bw, bh, gotW, gotH)
		}
		if gotW != bw && gotH != bh {
			t.Fatalf("%dx%d into %dx%d gave %dx%d, touching neither edge", w, h, bw, bh, gotW, gotH)
		}
	}
}

func TestApplicableBoundsOnlyWhereOriginalOverflows(t *testing.T) {
	bounds := []config.Bound{
		{Name: "thumbnails", Width: 525, Height: 175},
		{Name: "thumbnails2", Width: 1050, Height: 350},
	}

	assert.Empty(t, applicableBounds(150, 150, bounds))
	assert.Empty(t, applicableBounds(525, 175, bounds))
	assert.Equal(t, bounds[:1], applicableBounds(900, 300, bounds))
	assert.Equal(t, bounds, applicableBounds(100, 400, bounds))
}

func TestEvenDims(t *testing.T) {
	w, h := evenDims(641, 361)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	w, h = evenDims(1, 1)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
}
