package liveness

import "math"

// EyePoints are the six eye landmarks used for the aspect ratio, ordered
// p1..p6: outer corner, two upper-lid points, inner corner, two lower-lid
// points.
type EyePoints [6][2]float64

// EyeAspectRatio computes EAR = (‖p2−p6‖ + ‖p3−p5‖) / (2·‖p1−p4‖).
// The ratio collapses toward zero when the eye closes.
func EyeAspectRatio(eye EyePoints) float64 {
	a := pointDistance(eye[1], eye[5])
	b := pointDistance(eye[2], eye[4])
	c := pointDistance(eye[0], eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2 * c)
}

// BlinkResult reports the slow-path blink check. Checked is false when quick
// mode skipped the analysis and the pass is unconditional.
type BlinkResult struct {
	Checked       bool      `json:"checked"`
	BlinkDetected bool      `json:"blink_detected"`
	EARValues     []float64 `json:"ear_values,omitempty"`
}

// DetectBlink scans a per-frame EAR series for a blink: an interior value
// below the threshold with both neighbors above it. The series comes from an
// external landmark capability; this engine only judges the geometry.
//
// In quick mode the check is disabled and reports a passing signal.
func (e *Engine) DetectBlink(ears []float64) BlinkResult {
	if e.cfg.QuickMode {
		return BlinkResult{BlinkDetected: true}
	}

	result := BlinkResult{Checked: true, EARValues: ears}
	if len(ears) < 3 {
		return result
	}

	for i := 1; i < len(ears)-1; i++ {
		if ears[i] < e.cfg.BlinkEARThreshold &&
			ears[i-1] > e.cfg.BlinkEARThreshold &&
			ears[i+1] > e.cfg.BlinkEARThreshold {
			result.BlinkDetected = true
			break
		}
	}
	return result
}

func pointDistance(a, b [2]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return math.Sqrt(dx*dx + dy*dy)
}
