package liveness

import (
	"image"
	"strings"
)

// Verdict is the fused liveness decision for one verification attempt.
// Verdicts are computed fresh per attempt and never stored.
type Verdict struct {
	TextureReal bool    `json:"texture_real"`
	MotionCount int     `json:"motion_count"`
	OverallReal bool    `json:"overall_real"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
}

// Fuse runs texture analysis on the last frame and motion analysis across a
// stride-sampled subset of the sequence, then combines the signals. When a
// face region is supplied the texture analysis is scoped to it; a flat
// background around a real face must not drag the verdict down.
//
// Sequences shorter than MinFrames pass optimistically: the caller could not
// supply enough evidence, and the policy here trades spoof resistance for
// availability rather than locking legitimate users out.
func (e *Engine) Fuse(frames []image.Image, face *image.Rectangle) Verdict {
	if len(frames) < e.cfg.MinFrames {
		return Verdict{
			OverallReal: true,
			Confidence:  1,
			Reason:      "sequence too short for liveness analysis",
		}
	}

	// Texture on the last frame only keeps the cost of the check flat
	// regardless of sequence length.
	texture := e.AnalyzeTexture(frames[len(frames)-1], face)

	detector := e.NewMotionDetector()
	motionCount := 0
	for i := 0; i < len(frames); i += e.cfg.Stride {
		if detector.Detect(frames[i]).MotionDetected {
			motionCount++
		}
	}
	hasMotion := motionCount >= 1

	v := Verdict{
		TextureReal: texture.IsReal,
		MotionCount: motionCount,
		// OR, not AND: either signal alone is enough to accept.
		OverallReal: texture.IsReal || hasMotion,
	}

	if texture.IsReal {
		v.Confidence += 0.6
	}
	if hasMotion {
		v.Confidence += 0.4
	}

	if !v.OverallReal {
		var reasons []string
		if !texture.IsReal {
			reasons = append(reasons, "texture analysis failed")
		}
		if !hasMotion {
			reasons = append(reasons, "no motion detected")
		}
		v.Reason = "possible spoof: " + strings.Join(reasons, ", ")
	}

	return v
}
