// Package detector runs a loaded YOLO model over a bitmap and renders the
// detections.
package detector

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"food_detector/internal/model"
)

// Defaults of the Ultralytics predictor.
const (
	DefaultConfThreshold = 0.25
	DefaultIOUThreshold  = 0.7
	DefaultMaxDetections = 300
)

var (
	ErrModelNotLoaded = errors.New("model is not loaded")
	ErrEmptyImage     = errors.New("image is empty")
)

// InferenceError reports a failed detection run. Stage is where it failed.
type InferenceError struct {
	Stage string
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("detection failed during %s: %v", e.Stage, e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// Detection is one predicted object, with Box in source image pixels.
type Detection struct {
	Label      string
	ClassID    int
	Confidence float32
	Box        image.Rectangle
}

// String formats the detection as "<label>: <confidence as percentage>".
func (d Detection) String() string {
	return fmt.Sprintf("%s: %.2f%%", d.Label, d.Confidence*100)
}

type Timings struct {
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Render      time.Duration
}

func (t Timings) Total() time.Duration {
	return t.Preprocess + t.Inference + t.Postprocess + t.Render
}

// Result is the outcome of one Detect call.
type Result struct {
	Annotated  *image.NRGBA
	Detections []Detection
	Timings    Timings
}

// Empty reports a successful run that found nothing.
func (r *Result) Empty() bool {
	return len(r.Detections) == 0
}

type Options struct {
	ConfThreshold float32
	IOUThreshold  float64
	MaxDetections int
}

func DefaultOptions() Options {
	return Options{
		ConfThreshold: DefaultConfThreshold,
		IOUThreshold:  DefaultIOUThreshold,
		MaxDetections: DefaultMaxDetections,
	}
}

type Detector struct {
	opts   Options
	logger logrus.FieldLogger
}

func New(opts Options, logger logrus.FieldLogger) *Detector {
	return &Detector{opts: opts, logger: logger}
}

// Detect runs one forward pass of m over img and renders the result.
func (d *Detector) Detect(m *model.Model, img image.Image) (*Result, error) {
	if m == nil {
		return nil, &InferenceError{Stage: "setup", Cause: ErrModelNotLoaded}
	}
	if img == nil || img.Bounds().Empty() {
		return nil, &InferenceError{Stage: "setup", Cause: ErrEmptyImage}
	}

	var timings Timings

	start := time.Now()
	input, lb := prepareInput(img, m.InputSize)
	timings.Preprocess = time.Since(start)

	start = time.Now()
	output, err := m.Infer(input)
	timings.Inference = time.Since(start)
	if err != nil {
		return nil, &InferenceError{Stage: "inference", Cause: err}
	}

	start = time.Now()
	boxes := processOutput(output, m.NumClasses(), m.NumAnchors, lb, d.opts.ConfThreshold)
	boxes = nonMaxSuppression(boxes, d.opts.IOUThreshold, d.opts.MaxDetections)
	detections := make([]Detection, 0, len(boxes))
	for _, b := range boxes {
		label, ok := m.Label(b.classID)
		if !ok {
			return nil, &InferenceError{Stage: "postprocess", Cause: fmt.Errorf("class %d has no label", b.classID)}
		}
		detections = append(detections, Detection{
			Label:      label,
			ClassID:    b.classID,
			Confidence: b.score,
			Box:        b.rect(),
		})
	}
	timings.Postprocess = time.Since(start)

	start = time.Now()
	annotated := Render(img, detections)
	timings.Render = time.Since(start)

	d.logger.WithFields(logrus.Fields{
		"detections":  len(detections),
		"preprocess":  timings.Preprocess,
		"inference":   timings.Inference,
		"postprocess": timings.Postprocess,
		"render":      timings.Render,
		"total":       timings.Total(),
	}).Debug("Detection finished")

	return &Result{
		Annotated:  annotated,
		Detections: detections,
		Timings:    timings,
	}, nil
}
