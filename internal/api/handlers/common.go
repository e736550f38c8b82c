package handlers

import (
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/vision"
)

// decodeBase64Image decodes a base64 JPEG, tolerating an optional
// "data:image/jpeg;base64," prefix from browser capture clients.
func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

// decodeFrames decodes the liveness frame sequence, dropping frames that
// fail to decode rather than rejecting the whole attempt.
func decodeFrames(encoded []string) []image.Image {
	frames := make([]image.Image, 0, len(encoded))
	for _, s := range encoded {
		data, err := decodeBase64Image(s)
		if err != nil {
			continue
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			continue
		}
		frames = append(frames, img)
	}
	return frames
}

// passesLiveness runs the fused spoof analysis, scoping the texture check to
// the detected face when regionFn is available, then falls back to the blink
// signal. Either accepting signal lets the attempt through.
func passesLiveness(live *liveness.Engine, regionFn func(image.Image) (image.Rectangle, bool), frames []image.Image, ears []float64) (liveness.Verdict, bool) {
	var face *image.Rectangle
	if regionFn != nil && len(frames) > 0 {
		if r, ok := regionFn(frames[len(frames)-1]); ok {
			face = &r
		}
	}

	verdict := live.Fuse(frames, face)
	if verdict.OverallReal {
		return verdict, true
	}

	if blink := live.DetectBlink(ears); blink.Checked && blink.BlinkDetected {
		return verdict, true
	}
	return verdict, false
}
