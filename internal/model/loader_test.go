package model_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_detector/internal/model"
	"food_detector/internal/model/modeltest"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLoader_GetReturnsCachedHandle(t *testing.T) {
	m, _ := modeltest.NewModel([]string{"Koshary"}, 32)
	calls := 0
	loader := model.NewLoader(func() (*model.Model, error) {
		calls++
		return m, nil
	}, quietLogger())

	assert.Equal(t, model.StateUnloaded, loader.State())

	first, err := loader.Get()
	require.NoError(t, err)
	second, err := loader.Get()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, m, first)
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, loader.LoadCount())
	assert.Equal(t, model.StateLoaded, loader.State())
}

func TestLoader_ConcurrentGetLoadsOnce(t *testing.T) {
	m, _ := modeltest.NewModel([]string{"Koshary"}, 32)
	loader := model.NewLoader(func() (*model.Model, error) { return m, nil }, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := loader.Get()
			assert.NoError(t, err)
			assert.Same(t, m, got)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, loader.LoadCount())
}

func TestLoader_FailureIsTerminal(t *testing.T) {
	cause := errors.New("corrupt weights")
	loader := model.NewLoader(func() (*model.Model, error) { return nil, cause }, quietLogger())

	_, err := loader.Get()
	require.Error(t, err)

	var loadErr *model.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, cause)

	m, again := loader.Get()
	assert.Nil(t, m)
	assert.Same(t, loadErr, again)
	assert.EqualValues(t, 1, loader.LoadCount())
	assert.Equal(t, model.StateFailed, loader.State())
}

func TestLoader_NilModelWithoutErrorFails(t *testing.T) {
	loader := model.NewLoader(func() (*model.Model, error) { return nil, nil }, quietLogger())

	_, err := loader.Get()
	var loadErr *model.ModelLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoader_CloseDestroysSession(t *testing.T) {
	m, session := modeltest.NewModel([]string{"Koshary"}, 32)
	loader := model.NewLoader(func() (*model.Model, error) { return m, nil }, quietLogger())

	require.NoError(t, loader.Close())
	assert.False(t, session.Destroyed())

	_, err := loader.Get()
	require.NoError(t, err)
	require.NoError(t, loader.Close())
	assert.True(t, session.Destroyed())

	_, err = m.Infer(make([]float32, m.InputLen()))
	assert.Error(t, err)
}

func TestOpenONNX_MissingArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.onnx")
	loader := model.NewLoader(model.ONNXOpener(model.ONNXConfig{ModelPath: path}), quietLogger())

	_, err := loader.Get()
	var loadErr *model.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), path)
}

func TestOpenONNX_EmptyPath(t *testing.T) {
	_, err := model.OpenONNX(model.ONNXConfig{})
	var loadErr *model.ModelLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestOpenONNX_BadLabelFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "best.onnx")
	labelsPath := filepath.Join(dir, "labels.json")
	require.NoError(t, os.WriteFile(modelPath, []byte("not really onnx"), 0o644))
	require.NoError(t, os.WriteFile(labelsPath, []byte(`{"names": []}`), 0o644))

	_, err := model.OpenONNX(model.ONNXConfig{ModelPath: modelPath, LabelsPath: labelsPath})
	var loadErr *model.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, labelsPath, loadErr.Path)
}
