// Package yolo detects people with a YOLOv8 ONNX model through OpenCV.
package yolo

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/vision"
	"gocv.io/x/gocv"
)

// Detector uses YOLOv8 for object detection
type Detector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
}

// Config holds detector configuration
type Config struct {
	ModelPath   string
	MinScore    float32
	NMSThresh   float32
	InputWidth  int
	InputHeight int
}

// DefaultConfig returns production defaults for YOLOv8n
func DefaultConfig() Config {
	return Config{
		ModelPath:   "models/yolov8n.onnx",
		MinScore:    0.5,
		NMSThresh:   0.45,
		InputWidth:  640,
		InputHeight: 640,
	}
}

// New loads the model. It fails when the model file is missing.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the encoded image. Boxes are in image pixels.
func (d *Detector) Detect(img []byte) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	imgW := float32(mat.Cols())
	imgH := float32(mat.Rows())

	blob := gocv.BlobFromImage(mat, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	detections := d.parseOutput(output, imgW, imgH)

	log.Debug("yolo detections", "count", len(detections))

	return detections, nil
}

// parseOutput parses the YOLOv8 output tensor
func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH float32) []vision.Detection {
	var detections []vision.Detection
	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	// [1, 84, 8400]: 4 box values + 80 class scores per candidate
	rows := output.Cols()
	cols := output.Rows()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil
	}

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0

		for c := 4; c < cols; c++ {
			score := data[c*rows+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		if maxScore < d.config.MinScore {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * imgW / float32(d.config.InputWidth))
		y1 := int((cy - h/2) * imgH / float32(d.config.InputHeight))
		x2 := int((cx + w/2) * imgW / float32(d.config.InputWidth))
		y2 := int((cy + h/2) * imgH / float32(d.config.InputHeight))

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return detections
	}

	indices := gocv.NMSBoxes(boxes, scores, d.config.MinScore, d.config.NMSThresh)

	for _, idx := range indices {
		box := boxes[idx]
		detections = append(detections, vision.Detection{
			Box: vision.BoundingBox{
				X: float64(box.Min.X),
				Y: float64(box.Min.Y),
				W: float64(box.Dx()),
				H: float64(box.Dy()),
			},
			ClassName: className(classIDs[idx]),
			Score:     float64(scores[idx]),
		})
	}

	return detections
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func className(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return ""
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
