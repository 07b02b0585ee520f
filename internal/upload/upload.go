// Package upload decodes user uploads into bitmaps.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Extensions is the allow-list of upload file types.
var Extensions = []string{"jpg", "jpeg", "png", "webp"}

// DefaultMaxPixels matches the decompression bomb limit of common imaging
// libraries.
const DefaultMaxPixels = 89478485

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmpty           = errors.New("empty upload")
	ErrTooLarge        = errors.New("upload too large")
)

// formats maps a declared extension or MIME type to the decoder format name
// returned by image.DecodeConfig.
var formats = map[string]string{
	"jpg":        "jpeg",
	"jpeg":       "jpeg",
	"png":        "png",
	"webp":       "webp",
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

// DecodeError reports an upload that is not a valid image of an allowed type.
type DecodeError struct {
	Name  string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("cannot decode upload: %v", e.Cause)
	}
	return fmt.Sprintf("cannot decode %s: %v", e.Name, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Image is a decoded upload together with the bytes it came from.
type Image struct {
	Name   string
	Format string
	Bitmap image.Image
	Raw    []byte
}

// ContentType is the MIME type of the original bytes.
func (i *Image) ContentType() string {
	return "image/" + i.Format
}

// Width and Height are the bitmap dimensions.
func (i *Image) Width() int  { return i.Bitmap.Bounds().Dx() }
func (i *Image) Height() int { return i.Bitmap.Bounds().Dy() }

// Limits bounds what Decode accepts. Zero values disable a check.
type Limits struct {
	MaxBytes  int64
	MaxPixels int
}

type Decoder struct {
	limits Limits
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// Decode decodes with only the default pixel limit.
func Decode(data []byte, declaredType string) (*Image, error) {
	return NewDecoder(Limits{MaxPixels: DefaultMaxPixels}).Decode(data, declaredType)
}

// Decode checks declaredType (a file name, extension or MIME type) against
// the allow-list and decodes data. The sniffed format must also be allowed;
// it wins over the declared one. On error the returned Image is nil.
func (d *Decoder) Decode(data []byte, declaredType string) (*Image, error) {
	name := declaredType
	if _, ok := DeclaredFormat(declaredType); !ok {
		return nil, &DecodeError{Name: name, Cause: fmt.Errorf("%w %q, allowed: %s",
			ErrUnsupportedType, declaredType, strings.Join(Extensions, ", "))}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Name: name, Cause: ErrEmpty}
	}
	if d.limits.MaxBytes > 0 && int64(len(data)) > d.limits.MaxBytes {
		return nil, &DecodeError{Name: name, Cause: fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), d.limits.MaxBytes)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Name: name, Cause: err}
	}
	if !allowedFormat(format) {
		return nil, &DecodeError{Name: name, Cause: fmt.Errorf("%w: content is %s", ErrUnsupportedType, format)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Name: name, Cause: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if d.limits.MaxPixels > 0 && cfg.Width*cfg.Height > d.limits.MaxPixels {
		return nil, &DecodeError{Name: name, Cause: fmt.Errorf("%w: %dx%d exceeds %d pixels",
			ErrTooLarge, cfg.Width, cfg.Height, d.limits.MaxPixels)}
	}

	bitmap, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Name: name, Cause: err}
	}

	return &Image{
		Name:   filepath.Base(name),
		Format: format,
		Bitmap: bitmap,
		Raw:    data,
	}, nil
}

// DeclaredFormat resolves a file name, bare extension or MIME type to an
// allowed decoder format.
func DeclaredFormat(declared string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(declared))
	if s == "" {
		return "", false
	}
	if strings.Contains(s, "/") {
		if mt, _, err := mime.ParseMediaType(s); err == nil {
			if f, ok := formats[mt]; ok {
				return f, true
			}
		}
	}
	if ext := filepath.Ext(s); ext != "" {
		s = ext
	}
	f, ok := formats[strings.TrimPrefix(s, ".")]
	return f, ok
}

func allowedFormat(format string) bool {
	switch format {
	case "jpeg", "png", "webp":
		return true
	}
	return false
}
