package liveness

import "image"

const blurRadius = 3

// MotionDetector differences consecutive blurred frames. Its state (the
// previous frame) is scoped to a single verification attempt: create a fresh
// detector per sequence and never share one across concurrent attempts.
type MotionDetector struct {
	diffThreshold  uint8
	pixelThreshold int
	prev           *image.Gray
}

func (e *Engine) NewMotionDetector() *MotionDetector {
	return &MotionDetector{
		diffThreshold:  e.cfg.DiffThreshold,
		pixelThreshold: e.cfg.MotionPixelThreshold,
	}
}

// MotionResult reports the comparison of one frame against the previous one.
type MotionResult struct {
	MotionDetected bool `json:"motion_detected"`
	ChangedPixels  int  `json:"changed_pixels"`
}

// Detect blurs the frame, differences it against the previous frame, and
// counts pixels whose absolute difference exceeds the binarize threshold.
// The first frame of a sequence never reports motion.
func (d *MotionDetector) Detect(img image.Image) MotionResult {
	gray := blur(toGray(img), blurRadius)

	if d.prev == nil || !d.prev.Bounds().Eq(gray.Bounds()) {
		d.prev = gray
		return MotionResult{}
	}

	changed := 0
	bounds := gray.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := d.prev.GrayAt(x, y).Y
			b := gray.GrayAt(x, y).Y
			diff := a - b
			if b > a {
				diff = b - a
			}
			if diff > d.diffThreshold {
				changed++
			}
		}
	}

	d.prev = gray
	return MotionResult{
		MotionDetected: changed > d.pixelThreshold,
		ChangedPixels:  changed,
	}
}
