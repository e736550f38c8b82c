package liveness

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/your-org/faceattend/internal/config"
)

func testConfig() config.LivenessConfig {
	return config.LivenessConfig{
		Enabled:              true,
		MinFrames:            5,
		Stride:               1,
		LaplacianThreshold:   100,
		SobelThreshold:       500,
		MotionPixelThreshold: 1000,
		DiffThreshold:        25,
		BlinkEARThreshold:    0.25,
	}
}

// flatFrame is what a perfectly static, detail-free spoof looks like.
func flatFrame(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

// texturedFrame has maximal high-frequency detail (checkerboard).
func texturedFrame(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestAnalyzeTexture(t *testing.T) {
	e := NewEngine(testConfig())

	flat := e.AnalyzeTexture(flatFrame(64, 64, 128), nil)
	if flat.IsReal {
		t.Errorf("flat frame classified real (laplacian=%v sobel=%v)",
			flat.LaplacianVar, flat.SobelVar)
	}

	sharp := e.AnalyzeTexture(texturedFrame(64, 64), nil)
	if !sharp.IsReal {
		t.Errorf("textured frame classified spoof (laplacian=%v sobel=%v)",
			sharp.LaplacianVar, sharp.SobelVar)
	}
	if sharp.Confidence <= flat.Confidence {
		t.Errorf("textured confidence %v not above flat confidence %v",
			sharp.Confidence, flat.Confidence)
	}
}

func TestAnalyzeTextureFaceRegion(t *testing.T) {
	e := NewEngine(testConfig())

	// Sharp face patch inside an otherwise flat frame: scoping to the face
	// region must see the detail.
	frame := flatFrame(128, 128, 128)
	for y := 32; y < 96; y++ {
		for x := 32; x < 96; x++ {
			if (x+y)%2 == 0 {
				frame.SetGray(x, y, color.Gray{Y: 255})
			} else {
				frame.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}

	region := image.Rect(33, 33, 95, 95)
	res := e.AnalyzeTexture(frame, &region)
	if !res.IsReal {
		t.Errorf("face region analysis missed texture (laplacian=%v)", res.LaplacianVar)
	}
}

func TestDetectMotion(t *testing.T) {
	e := NewEngine(testConfig())
	det := e.NewMotionDetector()

	// First frame has nothing to compare against.
	if res := det.Detect(flatFrame(64, 64, 0)); res.MotionDetected {
		t.Error("first frame reported motion")
	}

	// Identical frame: no change.
	if res := det.Detect(flatFrame(64, 64, 0)); res.MotionDetected {
		t.Errorf("identical frame reported motion (%d pixels)", res.ChangedPixels)
	}

	// Full black→white swing changes every pixel.
	res := det.Detect(flatFrame(64, 64, 255))
	if !res.MotionDetected {
		t.Errorf("frame swing not detected (%d changed pixels)", res.ChangedPixels)
	}
	if res.ChangedPixels != 64*64 {
		t.Errorf("changed pixels = %d; want %d", res.ChangedPixels, 64*64)
	}
}

func TestMotionDetectorsAreIndependent(t *testing.T) {
	e := NewEngine(testConfig())

	a := e.NewMotionDetector()
	b := e.NewMotionDetector()

	a.Detect(flatFrame(64, 64, 0))

	// b has no previous frame; a's state must not leak into it.
	if res := b.Detect(flatFrame(64, 64, 255)); res.MotionDetected {
		t.Error("fresh detector inherited state from another attempt")
	}
}

func TestFuse(t *testing.T) {
	e := NewEngine(testConfig())

	staticFlat := []image.Image{
		flatFrame(64, 64, 128), flatFrame(64, 64, 128), flatFrame(64, 64, 128),
		flatFrame(64, 64, 128), flatFrame(64, 64, 128),
	}
	staticTextured := []image.Image{
		texturedFrame(64, 64), texturedFrame(64, 64), texturedFrame(64, 64),
		texturedFrame(64, 64), texturedFrame(64, 64),
	}
	movingFlat := []image.Image{
		flatFrame(64, 64, 0), flatFrame(64, 64, 255), flatFrame(64, 64, 0),
		flatFrame(64, 64, 255), flatFrame(64, 64, 0),
	}

	tests := []struct {
		name           string
		frames         []image.Image
		wantReal       bool
		wantConfidence float64
	}{
		{"no texture and no motion rejects", staticFlat, false, 0},
		{"texture alone passes (OR semantics)", staticTextured, true, 0.6},
		{"motion alone passes", movingFlat, true, 0.4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := e.Fuse(tc.frames, nil)
			if v.OverallReal != tc.wantReal {
				t.Errorf("OverallReal = %v; want %v (verdict %+v)", v.OverallReal, tc.wantReal, v)
			}
			if v.Confidence != tc.wantConfidence {
				t.Errorf("Confidence = %v; want %v", v.Confidence, tc.wantConfidence)
			}
		})
	}
}

func TestFuseShortSequencePassesOptimistically(t *testing.T) {
	e := NewEngine(testConfig())

	v := e.Fuse([]image.Image{flatFrame(64, 64, 128), flatFrame(64, 64, 128)}, nil)
	if !v.OverallReal {
		t.Fatal("short sequence must pass")
	}
	if v.Confidence != 1 {
		t.Errorf("Confidence = %v; want 1", v.Confidence)
	}
	if v.Reason == "" {
		t.Error("auto-pass should carry a reason for diagnostics")
	}
}

func TestFuseRejectReason(t *testing.T) {
	e := NewEngine(testConfig())

	frames := []image.Image{
		flatFrame(64, 64, 128), flatFrame(64, 64, 128), flatFrame(64, 64, 128),
		flatFrame(64, 64, 128), flatFrame(64, 64, 128),
	}
	v := e.Fuse(frames, nil)
	if v.OverallReal {
		t.Fatal("static flat sequence must be rejected")
	}
	if !strings.Contains(v.Reason, "texture") || !strings.Contains(v.Reason, "motion") {
		t.Errorf("Reason = %q; want both failing signals named", v.Reason)
	}
}

func TestFuseScopesTextureToFaceRegion(t *testing.T) {
	e := NewEngine(testConfig())

	// A static checkerboard sequence passes on texture alone, but scoping
	// the texture analysis to a flat patch of the frame must reverse that:
	// only the face region may vouch for the attempt.
	frames := []image.Image{
		texturedFrame(128, 128), texturedFrame(128, 128), texturedFrame(128, 128),
		texturedFrame(128, 128), texturedFrame(128, 128),
	}
	last := flatFrame(128, 128, 128)
	for y := 64; y < 128; y++ {
		for x := 0; x < 128; x++ {
			if (x+y)%2 == 0 {
				last.SetGray(x, y, color.Gray{Y: 255})
			} else {
				last.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	frames[len(frames)-1] = last

	flatRegion := image.Rect(1, 1, 62, 62)
	v := e.Fuse(frames, &flatRegion)
	if v.TextureReal {
		t.Error("texture passed outside the face region")
	}

	sharpRegion := image.Rect(1, 65, 126, 126)
	v = e.Fuse(frames, &sharpRegion)
	if !v.TextureReal {
		t.Error("texture in the face region was not seen")
	}
}

func TestEyeAspectRatio(t *testing.T) {
	open := EyePoints{{0, 0}, {1, 1}, {3, 1}, {4, 0}, {3, -1}, {1, -1}}
	if ear := EyeAspectRatio(open); ear != 0.5 {
		t.Errorf("open eye EAR = %v; want 0.5", ear)
	}

	closed := EyePoints{{0, 0}, {1, 0}, {3, 0}, {4, 0}, {3, 0}, {1, 0}}
	if ear := EyeAspectRatio(closed); ear != 0 {
		t.Errorf("closed eye EAR = %v; want 0", ear)
	}

	degenerate := EyePoints{}
	if ear := EyeAspectRatio(degenerate); ear != 0 {
		t.Errorf("degenerate eye EAR = %v; want 0", ear)
	}
}

func TestDetectBlink(t *testing.T) {
	cfg := testConfig()
	cfg.QuickMode = false
	e := NewEngine(cfg)

	tests := []struct {
		name string
		ears []float64
		want bool
	}{
		{"dip between open neighbors", []float64{0.3, 0.32, 0.1, 0.31, 0.3}, true},
		{"no dip", []float64{0.3, 0.31, 0.29, 0.3, 0.32}, false},
		{"dip at sequence edge does not count", []float64{0.1, 0.3, 0.3}, false},
		{"too few samples", []float64{0.3, 0.1}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := e.DetectBlink(tc.ears)
			if !res.Checked {
				t.Fatal("blink path did not run")
			}
			if res.BlinkDetected != tc.want {
				t.Errorf("BlinkDetected = %v; want %v", res.BlinkDetected, tc.want)
			}
		})
	}
}

func TestDetectBlinkQuickMode(t *testing.T) {
	cfg := testConfig()
	cfg.QuickMode = true
	e := NewEngine(cfg)

	res := e.DetectBlink(nil)
	if res.Checked {
		t.Error("quick mode must skip the analysis")
	}
	if !res.BlinkDetected {
		t.Error("quick mode must report a passing signal")
	}
}
