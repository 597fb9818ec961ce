//go:build !tesseract

package ocr

import "context"

// TesseractBackend is unavailable without the tesseract build tag.
type TesseractBackend struct{}

// NewTesseract returns ErrUnavailable; rebuild with -tags=tesseract.
func NewTesseract(...string) (*TesseractBackend, error) {
	return nil, &BackendError{Backend: "tesseract", Err: ErrUnavailable}
}

// Annotate always fails.
func (t *TesseractBackend) Annotate(context.Context, Image) (*Response, error) {
	return nil, &BackendError{Backend: "tesseract", Err: ErrUnavailable}
}
