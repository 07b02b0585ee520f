// Package modeltest provides an in-memory model.Session for tests that must
// not depend on the native ONNX runtime.
package modeltest

import (
	"sync"

	"food_detector/internal/model"
)

// Box is one prediction placed in a fake output tensor, in network input
// pixels (center x, center y, width, height).
type Box struct {
	CX, CY, W, H float32
	Class        int
	Score        float32
}

// Session returns a fixed output for every run.
type Session struct {
	Output []float32
	Err    error

	mu        sync.Mutex
	runs      int
	destroyed bool
	lastInput []float32
}

func (s *Session) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.lastInput = append(s.lastInput[:0], input...)
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Output, nil
}

func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	return nil
}

// Runs reports how many forward passes were requested.
func (s *Session) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Destroyed reports whether Destroy was called.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// LastInput returns a copy of the most recent input tensor.
func (s *Session) LastInput() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.lastInput...)
}

// Output builds a [4+numClasses, anchors] tensor with box i at anchor i and
// every other score zero.
func Output(numClasses, anchors int, boxes ...Box) []float32 {
	out := make([]float32, (4+numClasses)*anchors)
	for i, b := range boxes {
		if i >= anchors {
			break
		}
		out[i] = b.CX
		out[anchors+i] = b.CY
		out[2*anchors+i] = b.W
		out[3*anchors+i] = b.H
		out[(4+b.Class)*anchors+i] = b.Score
	}
	return out
}

// NewModel returns a model of the given input size backed by a Session that
// yields boxes.
func NewModel(labels []string, inputSize int, boxes ...Box) (*model.Model, *Session) {
	anchors := model.AnchorCount(inputSize)
	s := &Session{Output: Output(len(labels), anchors, boxes...)}
	m, err := model.New(s, labels, inputSize, anchors)
	if err != nil {
		panic(err)
	}
	return m, s
}
