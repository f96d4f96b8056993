package tiling

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// minRange is the smallest value range that is stretched; narrower inputs
// collapse to zero.
const minRange = 2.220446049250313e-16

// Normalize maps values linearly onto [0, 255] using their joint minimum and
// maximum, rounding half to even. A constant input maps to all zeros.
func Normalize(values []float64) []uint8 {
	out := make([]uint8, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := floats.Min(values), floats.Max(values)
	scale := 0.0
	if hi-lo > minRange {
		scale = 255 / (hi - lo)
	}
	shift := -lo * scale
	for i, v := range values {
		out[i] = saturate(v*scale + shift)
	}
	return out
}

// EqualizeHist flattens the histogram of one 8-bit channel. The darkest
// present level maps to 0 and the cumulative distribution of the rest is
// spread over 0..255. A single-level channel is returned unchanged.
func EqualizeHist(channel []uint8) []uint8 {
	out := make([]uint8, len(channel))
	total := len(channel)
	if total == 0 {
		return out
	}

	var hist [256]int
	for _, v := range channel {
		hist[v]++
	}
	first := 0
	for hist[first] == 0 {
		first++
	}
	if hist[first] == total {
		copy(out, channel)
		return out
	}

	var lut [256]uint8
	scale := float32(255) / float32(total-hist[first])
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		lut[i] = saturate(float64(float32(sum) * scale))
	}
	for i, v := range channel {
		out[i] = lut[v]
	}
	return out
}

func saturate(v float64) uint8 {
	r := math.RoundToEven(v)
	switch {
	case r <= 0 || math.IsNaN(r):
		return 0
	case r >= 255:
		return 255
	}
	return uint8(r)
}
