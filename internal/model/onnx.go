package model

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates an exported detector and the runtime that executes it.
type ONNXConfig struct {
	ModelPath string
	// LabelsPath is an optional JSON label table. When empty the names
	// embedded in the model metadata are used.
	LabelsPath     string
	SharedLibPath  string
	IntraOpThreads int
}

// ONNXOpener returns an Opener for use with NewLoader.
func ONNXOpener(cfg ONNXConfig) Opener {
	return func() (*Model, error) {
		return OpenONNX(cfg)
	}
}

// onnxSession holds the ONNX runtime session and its preallocated tensors.
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	copy(s.input.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, err
	}
	return s.output.GetData(), nil
}

func (s *onnxSession) Destroy() error {
	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	if s.input != nil {
		errs = append(errs, s.input.Destroy())
	}
	if s.output != nil {
		errs = append(errs, s.output.Destroy())
	}
	errs = append(errs, ort.DestroyEnvironment())
	return errors.Join(errs...)
}

// OpenONNX loads an Ultralytics YOLO detection model exported to ONNX.
// Every failure is returned as a *ModelLoadError.
func OpenONNX(cfg ONNXConfig) (*Model, error) {
	path := cfg.ModelPath
	if path == "" {
		return nil, loadError(path, "model path is not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}

	var table *LabelTable
	if cfg.LabelsPath != "" {
		t, err := ReadLabelFile(cfg.LabelsPath)
		if err != nil {
			return nil, &ModelLoadError{Path: cfg.LabelsPath, Cause: err}
		}
		table = t
	}

	if err := initEnvironment(cfg.SharedLibPath); err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}

	m, err := openSession(cfg, table)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}
	return m, nil
}

func initEnvironment(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func openSession(cfg ONNXConfig, table *LabelTable) (*Model, error) {
	path := cfg.ModelPath

	if table == nil {
		t, err := readEmbeddedLabels(path)
		if err != nil {
			return nil, &ModelLoadError{Path: path, Cause: err}
		}
		table = t
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, loadError(path, "failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, loadError(path, "expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}

	size, err := inputSize(inputs[0].Dimensions, table.ImageSize)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}
	numClasses := len(table.Names)
	anchors, err := outputAnchors(outputs[0].Dimensions, numClasses, size)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Cause: err}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, loadError(path, "failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+numClasses), int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, loadError(path, "failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, loadError(path, "failed to create session options: %w", err)
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, loadError(path, "failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, loadError(path, "failed to create ONNX session: %w", err)
	}

	s := &onnxSession{session: session, input: inputTensor, output: outputTensor}
	m, err := New(s, table.Names, size, anchors)
	if err != nil {
		session.Destroy()
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, &ModelLoadError{Path: path, Cause: err}
	}
	return m, nil
}

// readEmbeddedLabels reads the class names Ultralytics stores in the custom
// metadata of exported models.
func readEmbeddedLabels(path string) (*LabelTable, error) {
	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	defer meta.Destroy()

	raw, ok, err := meta.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}
	if !ok {
		return nil, errors.New("model has no embedded class names, configure a labels file")
	}
	names, err := ParseNames(raw)
	if err != nil {
		return nil, err
	}

	table := &LabelTable{Names: names}
	if imgsz, ok, err := meta.LookupCustomMetadataMap("imgsz"); err == nil && ok {
		table.ImageSize = ParseImageSize(imgsz)
	}
	return table, nil
}

// inputSize checks an NCHW input shape and returns its square side. Dynamic
// spatial dimensions fall back to the size from the label table, then 640.
func inputSize(dims ort.Shape, fallback int) (int, error) {
	if len(dims) != 4 {
		return 0, fmt.Errorf("input shape %v is not NCHW", dims)
	}
	if dims[1] > 0 && dims[1] != 3 {
		return 0, fmt.Errorf("input shape %v does not have 3 channels", dims)
	}
	h, w := dims[2], dims[3]
	if h <= 0 || w <= 0 {
		if fallback > 0 {
			return fallback, nil
		}
		return 640, nil
	}
	if h != w {
		return 0, fmt.Errorf("input shape %v is not square", dims)
	}
	return int(h), nil
}

// outputAnchors checks a [1, 4+nc, anchors] output shape against the label
// table and returns the anchor count.
func outputAnchors(dims ort.Shape, numClasses, size int) (int, error) {
	if len(dims) != 3 {
		return 0, fmt.Errorf("output shape %v is not [batch, 4+classes, anchors]", dims)
	}
	if dims[1] > 0 && int(dims[1]) != 4+numClasses {
		return 0, fmt.Errorf("output shape %v does not match %d labels", dims, numClasses)
	}
	if dims[2] > 0 {
		return int(dims[2]), nil
	}
	return AnchorCount(size), nil
}
