package liveness

import (
	"image"

	"github.com/your-org/faceattend/internal/config"
)

// Engine runs the configured anti-spoofing checks. It is stateless; the
// per-attempt motion state lives in MotionDetector instances.
type Engine struct {
	cfg config.LivenessConfig
}

func NewEngine(cfg config.LivenessConfig) *Engine {
	return &Engine{cfg: cfg}
}

// TextureResult is the sharpness analysis of a single frame. Printed photos
// and screen replays lose high-frequency detail, which shows up as low
// Laplacian and Sobel variance.
type TextureResult struct {
	IsReal       bool    `json:"is_real"`
	Confidence   float64 `json:"confidence"`
	LaplacianVar float64 `json:"laplacian_variance"`
	SobelVar     float64 `json:"sobel_variance"`
}

// AnalyzeTexture computes Laplacian variance and Sobel gradient variance over
// the face region when one is given, otherwise over the whole frame. The
// frame counts as real when either statistic clears its threshold: a lenient
// OR that favors throughput over spoof rejection.
func (e *Engine) AnalyzeTexture(img image.Image, face *image.Rectangle) TextureResult {
	gray := toGray(img)
	if face != nil {
		region := face.Intersect(gray.Bounds())
		if !region.Empty() {
			gray = gray.SubImage(region).(*image.Gray)
		}
	}

	lapVar := laplacianVariance(gray)
	sobVar := sobelVariance(gray)

	confidence := (lapVar/500 + sobVar/5000) / 2
	if confidence > 1 {
		confidence = 1
	}

	return TextureResult{
		IsReal:       lapVar > e.cfg.LaplacianThreshold || sobVar > e.cfg.SobelThreshold,
		Confidence:   confidence,
		LaplacianVar: lapVar,
		SobelVar:     sobVar,
	}
}

// laplacianVariance measures sharpness with the 4-neighbor Laplacian kernel.
func laplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
	}

	responses := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			responses = append(responses, v)
		}
	}
	return variance(responses)
}

// sobelVariance sums the variance of the horizontal and vertical 3x3 Sobel
// gradients.
func sobelVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
	}

	gx := make([]float64, 0, (w-2)*(h-2))
	gy := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			sx := -at(x-1, y-1) + at(x+1, y-1) +
				-2*at(x-1, y) + 2*at(x+1, y) +
				-at(x-1, y+1) + at(x+1, y+1)
			sy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			gx = append(gx, sx)
			gy = append(gy, sy)
		}
	}
	return variance(gx) + variance(gy)
}
