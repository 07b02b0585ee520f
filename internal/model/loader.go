package model

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle of a Loader.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Opener opens the detector artifact.
type Opener func() (*Model, error)

// Loader opens the model on first use and hands out the same handle after
// that. A failed load is terminal: the error is kept and returned to every
// caller without touching the artifact again.
type Loader struct {
	open   Opener
	logger logrus.FieldLogger

	once  sync.Once
	loads atomic.Int64

	mu    sync.RWMutex
	state State
	model *Model
	err   error
}

func NewLoader(open Opener, logger logrus.FieldLogger) *Loader {
	return &Loader{open: open, logger: logger}
}

// Get returns the cached model, loading it if this is the first call.
func (l *Loader) Get() (*Model, error) {
	l.once.Do(l.load)

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model, l.err
}

func (l *Loader) load() {
	l.loads.Add(1)
	start := time.Now()
	m, err := l.open()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil && m == nil {
		err = errors.New("opener returned no model")
	}
	if err != nil {
		var loadErr *ModelLoadError
		if !errors.As(err, &loadErr) {
			err = &ModelLoadError{Cause: err}
		}
		l.state = StateFailed
		l.err = err
		l.logger.Errorf("Model load failed: %v", err)
		return
	}

	l.state = StateLoaded
	l.model = m
	l.logger.WithFields(logrus.Fields{
		"classes":    m.NumClasses(),
		"input_size": m.InputSize,
		"elapsed":    time.Since(start),
	}).Info("Model session initialized successfully")
}

// State reports the current lifecycle state without triggering a load.
func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// LoadCount reports how many times the artifact was opened.
func (l *Loader) LoadCount() int64 {
	return l.loads.Load()
}

// Close releases the model if it was loaded.
func (l *Loader) Close() error {
	l.mu.RLock()
	m := l.model
	l.mu.RUnlock()
	if m == nil {
		return nil
	}
	return m.Close()
}
