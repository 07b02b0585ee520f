package model

import "runtime"

// DefaultSharedLibPath returns the ONNX Runtime shared library shipped under
// ./third_party for this platform, or "" to let the runtime use its own
// default name.
func DefaultSharedLibPath() string {
	return sharedLibPath(runtime.GOOS, runtime.GOARCH)
}

func sharedLibPath(goos, goarch string) string {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "./third_party/onnxruntime.dll"
		}
	case "darwin":
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.dylib"
		}
		return "./third_party/onnxruntime.dylib"
	case "linux":
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
	return ""
}
