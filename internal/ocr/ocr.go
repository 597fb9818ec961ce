// Package ocr defines the boundary to external text recognition engines
// and the engines docrec ships with.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// TextAnnotation is one text fragment reported by an OCR engine together
// with its bounding polygon in the pixel frame of the submitted image.
type TextAnnotation struct {
	Text     string        `json:"text"`
	Vertices []utils.Point `json:"vertices"`

	Locale     string  `json:"locale,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Bounds returns the axis-aligned box around the fragment polygon.
func (a TextAnnotation) Bounds() utils.Box { return utils.BoundingBox(a.Vertices) }

// Response is the result of one OCR call: the full recognized text and the
// list of positioned fragments.
type Response struct {
	Text        string           `json:"text"`
	Annotations []TextAnnotation `json:"text_annotations"`
}

// Image is the input of an OCR call. Content takes precedence over Path
// when both are set. Path may also be a gs:// or http(s) URL for engines
// that can fetch remote images.
type Image struct {
	Path    string
	Content []byte
}

// IsRemote reports whether the image refers to a URL.
func (i Image) IsRemote() bool {
	return len(i.Content) == 0 &&
		(strings.HasPrefix(i.Path, "gs://") || strings.HasPrefix(i.Path, "http://") || strings.HasPrefix(i.Path, "https://"))
}

// Bytes returns the image content, reading Path when Content is empty.
func (i Image) Bytes() ([]byte, error) {
	if len(i.Content) > 0 {
		return i.Content, nil
	}
	if i.Path == "" {
		return nil, ErrEmptyImage
	}
	data, err := os.ReadFile(i.Path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", i.Path, err)
	}
	return data, nil
}

// Backend turns an image into text fragments.
type Backend interface {
	Annotate(ctx context.Context, img Image) (*Response, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, img Image) (*Response, error)

// Annotate calls f.
func (f BackendFunc) Annotate(ctx context.Context, img Image) (*Response, error) { return f(ctx, img) }

var (
	// ErrOCR is matched by every *BackendError.
	ErrOCR = errors.New("ocr backend failed")
	// ErrEmptyImage is returned for an Image with neither content nor path.
	ErrEmptyImage = errors.New("image has no content and no path")
	// ErrUnavailable is returned when a backend was not compiled in.
	ErrUnavailable = errors.New("ocr backend not available in this build")
)

// BackendError wraps a failure reported by an OCR engine.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s ocr: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOCR) true for any BackendError.
func (e *BackendError) Is(target error) bool { return target == ErrOCR }
