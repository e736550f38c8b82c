// Package liveness evaluates frame sequences for presentation-attack signals
// and fuses them into an accept/reject verdict.
package liveness

import (
	"image"
	"image/color"
)

// toGray converts any image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// blur applies a separable box filter twice, approximating the Gaussian
// smoothing the motion detector needs to suppress sensor noise.
func blur(src *image.Gray, radius int) *image.Gray {
	tmp := boxBlurPass(src, radius, true)
	tmp = boxBlurPass(tmp, radius, false)
	tmp = boxBlurPass(tmp, radius, true)
	return boxBlurPass(tmp, radius, false)
}

func boxBlurPass(src *image.Gray, radius int, horizontal bool) *image.Gray {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	dst := image.NewGray(bounds)

	window := 2*radius + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for k := -radius; k <= radius; k++ {
				sx, sy := x, y
				if horizontal {
					sx = clampInt(x+k, 0, w-1)
				} else {
					sy = clampInt(y+k, 0, h-1)
				}
				sum += int(src.GrayAt(bounds.Min.X+sx, bounds.Min.Y+sy).Y)
			}
			dst.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: uint8(sum / window)})
		}
	}
	return dst
}

// variance computes the population variance of a response map.
func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	var sum float64
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(vals))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
