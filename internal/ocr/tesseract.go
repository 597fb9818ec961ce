//go:build tesseract

package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractBackend runs a local Tesseract engine through gosseract and
// reports word boxes as fragments.
type TesseractBackend struct {
	languages []string
}

// NewTesseract creates a Tesseract backend for the given languages
// (for example "rus", "eng").
func NewTesseract(languages ...string) (*TesseractBackend, error) {
	return &TesseractBackend{languages: languages}, nil
}

// Annotate recognizes img. Words become fragments; the page text keeps
// Tesseract's line layout.
func (t *TesseractBackend) Annotate(ctx context.Context, img Image) (*Response, error) {
	data, err := img.Bytes()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return nil, &BackendError{Backend: "tesseract", Err: fmt.Errorf("set language: %w", err)}
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, &BackendError{Backend: "tesseract", Err: fmt.Errorf("set image: %w", err)}
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, &BackendError{Backend: "tesseract", Err: err}
	}

	text, err := client.Text()
	if err != nil {
		return nil, &BackendError{Backend: "tesseract", Err: fmt.Errorf("page text: %w", err)}
	}

	words := make([]wordBox, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, wordBox{Text: b.Word, Box: b.Box, Confidence: b.Confidence})
	}
	return wordResponse(text, words), nil
}
