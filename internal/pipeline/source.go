package pipeline

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Source is a photo given either as a file path or as encoded bytes.
// Data takes precedence when both are set. Label overrides the name
// reported for the photo, e.g. for images taken out of a PDF.
type Source struct {
	Path  string
	Data  []byte
	Label string
}

// FromPath returns a Source reading the photo at path.
func FromPath(path string) Source { return Source{Path: path} }

// FromBytes returns a Source over an encoded photo.
func FromBytes(data []byte) Source { return Source{Data: data} }

// Name identifies the source in logs and results.
func (s Source) Name() string {
	if s.Label != "" {
		return s.Label
	}
	if s.Path != "" {
		return filepath.Base(s.Path)
	}
	return fmt.Sprintf("<%d bytes>", len(s.Data))
}

// Decode reads and decodes the photo.
func (s Source) Decode() (image.Image, error) {
	if len(s.Data) > 0 {
		img, _, err := utils.DecodeImage(s.Data)
		return img, err
	}
	if s.Path == "" {
		return nil, &utils.ImageProcessingError{Operation: "load photo", Err: ocr.ErrEmptyImage}
	}
	img, _, err := utils.LoadImage(s.Path)
	return img, err
}

func (s Source) ocrImage() ocr.Image {
	return ocr.Image{Path: s.Path, Content: s.Data}
}
