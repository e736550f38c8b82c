package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG for the image.Decode fallback
	"log/slog"
	"path/filepath"
	"time"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/observability"
)

var (
	// ErrNoFace means the detector found nothing above threshold.
	ErrNoFace = errors.New("no face detected in image")

	// ErrMultipleFaces means more than one face was found. Enrollment and
	// marking both require exactly one subject in frame.
	ErrMultipleFaces = errors.New("multiple faces detected in image")
)

// Pipeline wraps the detection and embedding models behind the two
// operations the rest of the service needs: turn an image into exactly one
// embedding, and decode incoming frames.
type Pipeline struct {
	detector *Detector
	embedder *Embedder
	cfg      config.VisionConfig
}

// NewPipeline initialises the ONNX sessions and returns a ready pipeline.
func NewPipeline(cfg config.VisionConfig) (*Pipeline, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("vision pipeline ready")

	return &Pipeline{
		detector: det,
		embedder: emb,
		cfg:      cfg,
	}, nil
}

// EmbedSingleFace extracts the embedding of the one face in the image.
// Zero faces and more than one face are both hard errors; attendance and
// enrollment decisions must never be made on an ambiguous frame.
func (p *Pipeline) EmbedSingleFace(imageData []byte) ([]float32, image.Rectangle, error) {
	img, err := DecodeImage(imageData)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return p.EmbedSingleFaceImage(img)
}

// EmbedSingleFaceImage is EmbedSingleFace for an already decoded frame.
func (p *Pipeline) EmbedSingleFaceImage(img image.Image) ([]float32, image.Rectangle, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	start := time.Now()
	detInput := preprocessForDetection(img, p.detector.inputW, p.detector.inputH)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	detections, err := p.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	switch len(detections) {
	case 0:
		return nil, image.Rectangle{}, ErrNoFace
	case 1:
	default:
		return nil, image.Rectangle{}, ErrMultipleFaces
	}

	det := detections[0]
	faceCrop := cropFace(img, det.BBox)
	if faceCrop == nil {
		return nil, image.Rectangle{}, ErrNoFace
	}

	start = time.Now()
	embInput := preprocessForEmbedding(faceCrop, p.embedder.inputW, p.embedder.inputH)
	embedding, err := p.embedder.Extract(embInput)
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("embed: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	region := image.Rect(
		int(det.BBox[0]), int(det.BBox[1]),
		int(det.BBox[2]), int(det.BBox[3]))

	return embedding, region, nil
}

// FaceRegion detects the face in a frame without embedding it. Used to scope
// the liveness texture analysis.
func (p *Pipeline) FaceRegion(img image.Image) (image.Rectangle, bool) {
	bounds := img.Bounds()
	detInput := preprocessForDetection(img, p.detector.inputW, p.detector.inputH)
	detections, err := p.detector.Detect(detInput, bounds.Dx(), bounds.Dy())
	if err != nil || len(detections) != 1 {
		return image.Rectangle{}, false
	}
	b := detections[0].BBox
	return image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3])), true
}

// Close releases the ONNX sessions.
func (p *Pipeline) Close() {
	if p.detector != nil {
		p.detector.Close()
	}
	if p.embedder != nil {
		p.embedder.Close()
	}
}

// DecodeImage decodes a JPEG (or any registered format) frame.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	}
	return img, nil
}

// --- Image preprocessing helpers ---

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			// Convert from 16-bit to 8-bit
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			// CHW layout: [C][H][W]
			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0] // R
			data[1*h*w+idx] = (gf - mean[1]) / std[1] // G
			data[2*h*w+idx] = (bf - mean[2]) / std[2] // B
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropFace extracts a face region from the image given a bounding box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	// Clamp to image bounds
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	// Pad by 10% on each side
	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	x1 -= padW
	y1 -= padH
	x2 += padW
	y2 += padH

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}

	return crop
}
