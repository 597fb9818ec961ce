// Package recognize turns an OCR response into a document entity. Template
// strategies read the positioned fragments of an aligned photo; regex
// strategies scan the full text of the raw photo.
package recognize

import (
	"context"

	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// Recognizer builds a T from one OCR response.
type Recognizer[T any] interface {
	Recognize(ctx context.Context, resp *ocr.Response) (T, error)
}

// Func adapts a function to Recognizer.
type Func[T any] func(ctx context.Context, resp *ocr.Response) (T, error)

// Recognize calls f.
func (f Func[T]) Recognize(ctx context.Context, resp *ocr.Response) (T, error) { return f(ctx, resp) }

// TemplateBound is implemented by recognizers that expect the photo to be
// aligned to a template before OCR.
type TemplateBound interface {
	Template() *template.Template
}

// ByTemplate extracts a record from the fragments of a photo aligned to
// its template.
type ByTemplate struct {
	tpl       *template.Template
	extractor *extract.Extractor
}

// NewByTemplate creates a template strategy. A nil extractor uses
// extract.New().
func NewByTemplate(tpl *template.Template, extractor *extract.Extractor) *ByTemplate {
	if extractor == nil {
		extractor = extract.New()
	}
	return &ByTemplate{tpl: tpl, extractor: extractor}
}

// Template returns the layout the strategy extracts with.
func (r *ByTemplate) Template() *template.Template { return r.tpl }

// Recognize extracts the record.
func (r *ByTemplate) Recognize(_ context.Context, resp *ocr.Response) (*extract.Record, error) {
	return r.extractor.Extract(resp.Annotations, r.tpl), nil
}
