package model

import "fmt"

// ModelLoadError reports that the detector artifact could not be loaded.
type ModelLoadError struct {
	Path  string
	Cause error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model load failed: %v", e.Cause)
	}
	return fmt.Sprintf("model load failed for %s: %v", e.Path, e.Cause)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Cause
}

func loadError(path string, format string, args ...interface{}) *ModelLoadError {
	return &ModelLoadError{Path: path, Cause: fmt.Errorf(format, args...)}
}
