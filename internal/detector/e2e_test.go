package detector_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_detector/internal/detector"
	"food_detector/internal/model"
	"food_detector/internal/upload"
)

// TestDetect_ReferenceImage runs the whole pipeline against the trained
// model and a photo holding a single plate of Koshary.
func TestDetect_ReferenceImage(t *testing.T) {
	modelPath := os.Getenv("FOOD_MODEL_PATH")
	imagePath := os.Getenv("FOOD_TEST_IMAGE")
	if modelPath == "" || imagePath == "" {
		t.Skip("FOOD_MODEL_PATH and FOOD_TEST_IMAGE not set")
	}
	lib := os.Getenv("ONNXRUNTIME_LIB")
	if lib == "" {
		lib = model.DefaultSharedLibPath()
	}

	l := logrus.New()
	l.SetOutput(io.Discard)

	loader := model.NewLoader(model.ONNXOpener(model.ONNXConfig{
		ModelPath:     modelPath,
		LabelsPath:    os.Getenv("FOOD_LABELS_PATH"),
		SharedLibPath: lib,
	}), l)
	defer loader.Close()

	m, err := loader.Get()
	require.NoError(t, err)
	again, err := loader.Get()
	require.NoError(t, err)
	assert.Same(t, m, again)
	assert.EqualValues(t, 1, loader.LoadCount())

	data, err := os.ReadFile(imagePath)
	require.NoError(t, err)
	img, err := upload.Decode(data, filepath.Base(imagePath))
	require.NoError(t, err)

	res, err := detector.New(detector.DefaultOptions(), l).Detect(m, img.Bitmap)
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	assert.Equal(t, "Koshary", d.Label)
	assert.GreaterOrEqual(t, d.Confidence, float32(0.5))
	assert.LessOrEqual(t, d.Confidence, float32(1))
	assert.True(t, d.Box.In(img.Bitmap.Bounds()))
	assert.Equal(t, img.Bitmap.Bounds().Size(), res.Annotated.Bounds().Size())
}
