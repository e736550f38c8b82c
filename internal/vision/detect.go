// Package vision wraps the ONNX face models. The service consumes exactly
// two capabilities: find the face, and turn it into an embedding.
package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found in a frame.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
}

// Detector runs RetinaFace (det_10g) face detection using ONNX Runtime.
// Only the score and bbox heads are bound; the landmark outputs are not
// needed for attendance and are left unfetched.
type Detector struct {
	session     *ort.AdvancedSession
	inputTensor *ort.Tensor[float32]
	scores      []*ort.Tensor[float32]
	bboxes      []*ort.Tensor[float32]
	threshold   float32
	inputW      int
	inputH      int
}

// det_10g emits anchor grids at three strides with two anchors per cell:
// stride 8 → 80*80*2 = 12800 rows, stride 16 → 3200, stride 32 → 800.
var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	rowCounts := []int64{12800, 3200, 800}
	scoreNames := []string{"448", "471", "494"}
	bboxNames := []string{"451", "474", "497"}

	var (
		outputNames   []string
		outputValues  []ort.Value
		scoreTensors  []*ort.Tensor[float32]
		bboxTensors   []*ort.Tensor[float32]
		createdSoFar  []*ort.Tensor[float32]
		createFailure error
	)

	makeTensor := func(rows, cols int64) *ort.Tensor[float32] {
		if createFailure != nil {
			return nil
		}
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, cols))
		if err != nil {
			createFailure = err
			return nil
		}
		createdSoFar = append(createdSoFar, t)
		return t
	}

	for i, rows := range rowCounts {
		t := makeTensor(rows, 1)
		scoreTensors = append(scoreTensors, t)
		outputNames = append(outputNames, scoreNames[i])
		outputValues = append(outputValues, t)
	}
	for i, rows := range rowCounts {
		t := makeTensor(rows, 4)
		bboxTensors = append(bboxTensors, t)
		outputNames = append(outputNames, bboxNames[i])
		outputValues = append(outputValues, t)
	}

	if createFailure != nil {
		inputTensor.Destroy()
		for _, t := range createdSoFar {
			if t != nil {
				t.Destroy()
			}
		}
		return nil, fmt.Errorf("create output tensor: %w", createFailure)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range createdSoFar {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:     session,
		inputTensor: inputTensor,
		scores:      scoreTensors,
		bboxes:      bboxTensors,
		threshold:   threshold,
		inputW:      inputW,
		inputH:      inputH,
	}, nil
}

// Detect runs face detection on a preprocessed image.
// imgData should be CHW format [3, inputH, inputW], normalized.
// origW/origH are the original image dimensions for coordinate scaling.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(origW, origH)
	return nms(detections, 0.4), nil
}

// parseDetections decodes anchor-based RetinaFace outputs at strides 8, 16, 32.
func (d *Detector) parseDetections(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.scores[si].GetData() // [N, 1]
		bboxes := d.bboxes[si].GetData() // [N, 4]

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]

					if score >= d.threshold {
						// Outputs are distances from the anchor center to
						// the box edges, in stride units.
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)
						st := float32(stride)

						x1 := (anchorX - bboxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - bboxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + bboxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + bboxes[idx*4+3]*st) * scaleH

						detections = append(detections, Detection{
							BBox: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.scores {
		if t != nil {
			t.Destroy()
		}
	}
	for _, t := range d.bboxes {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms suppresses overlapping detections, keeping the highest-confidence box
// of each cluster.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
