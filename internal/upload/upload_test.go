package upload

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 4x3 lossless WEBP, solid color.
const webpSample = "UklGRh4AAABXRUJQVlA4TBEAAAAvA4AAAKhCkavQ/wIAAAAAAAA="

func sampleBitmap(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 80, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, sampleBitmap(w, h)))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, sampleBitmap(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func webpBytes(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(webpSample)
	require.NoError(t, err)
	return data
}

func TestDecode_SupportedEncodings(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
		format   string
		w, h     int
	}{
		{"png", "dish.png", encodePNG(t, 17, 9), "png", 17, 9},
		{"jpg", "dish.jpg", encodeJPEG(t, 32, 24), "jpeg", 32, 24},
		{"jpeg", "dish.JPEG", encodeJPEG(t, 5, 40), "jpeg", 5, 40},
		{"webp", "dish.webp", webpBytes(t), "webp", 4, 3},
		{"mime", "image/png", encodePNG(t, 3, 3), "png", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data, tt.declared)
			require.NoError(t, err)
			require.NotNil(t, img)

			assert.Equal(t, tt.format, img.Format)
			assert.Equal(t, tt.w, img.Width())
			assert.Equal(t, tt.h, img.Height())
			assert.Equal(t, tt.data, img.Raw)
			assert.Equal(t, "image/"+tt.format, img.ContentType())
		})
	}
}

func TestDecode_SniffedFormatWins(t *testing.T) {
	img, err := Decode(encodePNG(t, 8, 8), "mislabeled.jpg")
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
}

func TestDecode_Rejects(t *testing.T) {
	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, sampleBitmap(4, 4), nil))

	jpg := encodeJPEG(t, 64, 64)
	truncated := jpg[:len(jpg)/2]

	tests := []struct {
		name     string
		declared string
		data     []byte
		target   error
	}{
		{"garbage", "dish.jpg", []byte("definitely not an image"), nil},
		{"truncated jpeg", "dish.jpg", truncated, nil},
		{"empty", "dish.png", nil, ErrEmpty},
		{"gif extension", "dish.gif", gifBuf.Bytes(), ErrUnsupportedType},
		{"gif content", "dish.png", gifBuf.Bytes(), ErrUnsupportedType},
		{"no type", "", encodePNG(t, 2, 2), ErrUnsupportedType},
		{"bmp mime", "image/bmp", encodePNG(t, 2, 2), ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data, tt.declared)
			assert.Nil(t, img)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "got %v", err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestDecoder_Limits(t *testing.T) {
	data := encodePNG(t, 20, 20)

	_, err := NewDecoder(Limits{MaxBytes: 10}).Decode(data, "a.png")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = NewDecoder(Limits{MaxPixels: 399}).Decode(data, "a.png")
	assert.ErrorIs(t, err, ErrTooLarge)

	img, err := NewDecoder(Limits{MaxBytes: int64(len(data)), MaxPixels: 400}).Decode(data, "a.png")
	require.NoError(t, err)
	assert.Equal(t, 20, img.Width())
}

func TestDeclaredFormat(t *testing.T) {
	tests := []struct {
		in     string
		format string
		ok     bool
	}{
		{"photo.jpg", "jpeg", true},
		{"PHOTO.JPG", "jpeg", true},
		{"uploads/photo.webp", "webp", true},
		{".png", "png", true},
		{"jpeg", "jpeg", true},
		{"image/jpeg", "jpeg", true},
		{"image/webp; charset=binary", "webp", true},
		{"photo.gif", "", false},
		{"image/gif", "", false},
		{"photo", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		format, ok := DeclaredFormat(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.format, format, tt.in)
	}
}
