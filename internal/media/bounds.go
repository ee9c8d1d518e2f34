package media

import "github.com/abduss/gomedia/internal/config"

// FitIntoBounds returns the largest w×h with the aspect ratio of width×height
// that fits inside bw×bh. Rounding is half-up and neither side drops below 1.
func FitIntoBounds(width, height, bw, bh int) (int, int) {
	if width <= 0 || height <= 0 {
		return max(bw, 1), max(bh, 1)
	}
	var w, h int
	if width*bh > height*bw {
		w, h = bw, roundDiv(height*bw, width)
	} else {
		w, h = roundDiv(width*bh, height), bh
	}
	return max(w, 1), max(h, 1)
}

// fitIfLarger shrinks width×height into b, leaving smaller sizes untouched.
func fitIfLarger(width, height int, b config.Bound) (int, int) {
	if overflows(width, height, b) {
		return FitIntoBounds(width, height, b.Width, b.Height)
	}
	return width, height
}

// applicableBounds returns the bounds the original does not fit into, in
// configuration order. Only those produce a derivative.
func applicableBounds(width, height int, bounds []config.Bound) []config.Bound {
	var out []config.Bound
	for _, b := range bounds {
		if overflows(width, height, b) {
			out = append(out, b)
		}
	}
	return out
}

func overflows(width, height int, b config.Bound) bool {
	return width > b.Width || height > b.Height
}

// evenDims rounds down to even sizes, as yuv420p encoders require.
func evenDims(w, h int) (int, int) {
	return max(w&^1, 2), max(h&^1, 2)
}

func roundDiv(a, b int) int {
	return (2*a + b) / (2 * b)
}
