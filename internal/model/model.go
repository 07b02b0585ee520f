package model

import (
	"errors"
	"fmt"
	"sync"
)

// Session runs one forward pass over a CHW float32 input and returns the raw
// output tensor. Implementations may reuse the returned slice between runs.
type Session interface {
	Run(input []float32) ([]float32, error)
	Destroy() error
}

// Model is a loaded YOLO detector together with its label table.
type Model struct {
	// Labels maps class index to class name.
	Labels []string
	// InputSize is the side of the square network input.
	InputSize int
	// NumAnchors is the number of candidate boxes in the output tensor.
	NumAnchors int

	mu      sync.Mutex
	session Session
	closed  bool
}

// New wraps a session. The output tensor of session must have the layout
// [1, 4+len(labels), numAnchors].
func New(session Session, labels []string, inputSize, numAnchors int) (*Model, error) {
	if session == nil {
		return nil, errors.New("nil session")
	}
	if len(labels) == 0 {
		return nil, errors.New("empty label table")
	}
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
	}
	if inputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", inputSize)
	}
	if numAnchors <= 0 {
		numAnchors = AnchorCount(inputSize)
	}
	return &Model{
		Labels:     labels,
		InputSize:  inputSize,
		NumAnchors: numAnchors,
		session:    session,
	}, nil
}

// AnchorCount returns the number of predictions a YOLOv8-style head emits for
// a square input of the given side (strides 8, 16 and 32).
func AnchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// NumClasses returns the size of the label table.
func (m *Model) NumClasses() int {
	return len(m.Labels)
}

// Label resolves a class index through the label table.
func (m *Model) Label(classID int) (string, bool) {
	if classID < 0 || classID >= len(m.Labels) {
		return "", false
	}
	return m.Labels[classID], true
}

// InputLen is the number of float32 values expected by Infer.
func (m *Model) InputLen() int {
	return 3 * m.InputSize * m.InputSize
}

// OutputLen is the number of float32 values returned by Infer.
func (m *Model) OutputLen() int {
	return (4 + m.NumClasses()) * m.NumAnchors
}

// Infer runs a single forward pass. Calls are serialised because the
// underlying tensors are preallocated. The returned slice is owned by the
// caller.
func (m *Model) Infer(input []float32) ([]float32, error) {
	if len(input) != m.InputLen() {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), m.InputLen())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("model is closed")
	}
	raw, err := m.session.Run(input)
	if err != nil {
		return nil, err
	}
	if len(raw) != m.OutputLen() {
		return nil, fmt.Errorf("output has %d values, want %d", len(raw), m.OutputLen())
	}
	out := make([]float32, len(raw))
	copy(out, raw)
	return out, nil
}

// Close releases the session. Further Infer calls fail.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.session.Destroy()
}
