// Package extract assigns positioned OCR fragments to the regions of a
// template and converts the joined text to typed values.
package extract

import (
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Filter cleans the joined text of a region before coercion.
type Filter func(string) string

// StripLatin removes ASCII letters and surrounding whitespace. Bilingual
// documents repeat each line in Latin transliteration.
func StripLatin(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return -1
		}
		return r
	}, s))
}

// TrimOnly removes surrounding whitespace.
func TrimOnly(s string) string { return strings.TrimSpace(s) }

// Extractor maps fragments onto template regions. The zero value joins
// without a separator; use New for the defaults.
type Extractor struct {
	Separator string
	Filter    Filter
}

// New returns an extractor joining with a single space and stripping
// Latin letters.
func New() *Extractor {
	return &Extractor{Separator: " ", Filter: StripLatin}
}

type placed struct {
	text     string
	centroid utils.Point
}

// Centroid returns the centre of the fragment's axis-aligned bounding box.
func Centroid(a ocr.TextAnnotation) utils.Point {
	return a.Bounds().Center()
}

// Extract builds a record with one field per distinct region name. A
// fragment belongs to every region whose rectangle contains its centroid,
// edges included. Matched texts are joined in input order. Regions without
// fragments, and values that fail to coerce, are absent.
func (e *Extractor) Extract(fragments []ocr.TextAnnotation, tpl *template.Template) *Record {
	sep := e.Separator
	filter := e.Filter
	if filter == nil {
		filter = StripLatin
	}

	points := make([]placed, 0, len(fragments))
	for _, f := range fragments {
		if len(f.Vertices) == 0 {
			continue
		}
		points = append(points, placed{text: f.Text, centroid: Centroid(f)})
	}

	regions := tpl.Regions()
	rec := newRecord(tpl.Name, len(regions))

	for _, region := range regions {
		var texts []string
		for _, p := range points {
			if region.Contains(p.centroid) {
				texts = append(texts, p.text)
			}
		}
		if len(texts) == 0 {
			rec.set(region.Name, Absent(region.Type))
			continue
		}
		raw := filter(strings.Join(texts, sep))
		v := Coerce(raw, region.Type)
		if !v.Present() {
			slog.Debug("Field value did not parse", "field", region.Name, "type", region.Type, "text", raw)
		}
		rec.set(region.Name, v)
	}
	return rec
}
