package ocr

import (
	"image"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// wordBox is one recognized word of a line-oriented engine.
type wordBox struct {
	Text       string
	Box        image.Rectangle
	Confidence float64 // 0-100
}

// wordResponse builds a Response from the engine's page text and its word
// boxes. The page text keeps its line breaks; it is rebuilt from the words
// only when the engine returned none.
func wordResponse(text string, words []wordBox) *Response {
	resp := &Response{
		Text:        strings.TrimSpace(text),
		Annotations: make([]TextAnnotation, 0, len(words)),
	}
	joined := make([]string, 0, len(words))
	for _, w := range words {
		word := strings.TrimSpace(w.Text)
		if word == "" {
			continue
		}
		r := w.Box
		resp.Annotations = append(resp.Annotations, TextAnnotation{
			Text: word,
			Vertices: []utils.Point{
				{X: float64(r.Min.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Max.Y)},
				{X: float64(r.Min.X), Y: float64(r.Max.Y)},
			},
			Confidence: w.Confidence / 100,
		})
		joined = append(joined, word)
	}
	if resp.Text == "" {
		resp.Text = strings.Join(joined, " ")
	}
	return resp
}
