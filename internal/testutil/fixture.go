package testutil

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// CardTemplateName is the template name written by WriteCardFixture.
const CardTemplateName = "driver_license"

// CardFixture is a driver license template directory, a shifted photo of
// the card and the recorded OCR response for that photo.
type CardFixture struct {
	TemplatesDir string
	Layout       string
	Photo        string
	Response     string // next to Photo, as read by the file OCR engine
}

const cardLayout = `name: driver_license
path: driver_license.png
size: {width: 617, height: 366, depth: 3}
regions:
  - {name: name, type: str, bndbox: {xmin: 215, ymin: 112, xmax: 420, ymax: 132}}
  - {name: birthday, type: datetime, bndbox: {xmin: 215, ymin: 150, xmax: 330, ymax: 170}}
  - {name: code, type: int, bndbox: {xmin: 245, ymin: 260, xmax: 400, ymax: 280}}
  - {name: abode, type: str, bndbox: {xmin: 245, ymin: 282, xmax: 600, ymax: 300}}
`

// CardResponseText is the full text of the recorded response.
const CardResponseText = "ВОДИТЕЛЬСКОЕ УДОСТОВЕРЕНИЕ\nСАМВЕЛ\n01.07.1980\n23 22 803756\nХАНТЫ-МАНСИЙСКИЙ"

// WriteCardFixture writes the fixture into dir. The photo is the card
// translated by (9, 4) so that alignment has work to do; the fragments of
// the response are in template coordinates.
func WriteCardFixture(dir string) (CardFixture, error) {
	f := CardFixture{
		TemplatesDir: filepath.Join(dir, "templates"),
		Photo:        filepath.Join(dir, "photos", "card.png"),
		Response:     filepath.Join(dir, "photos", "card.json"),
	}
	f.Layout = filepath.Join(f.TemplatesDir, CardTemplateName+".yaml")

	card := GenerateCard(DefaultCardConfig())
	if err := writePNG(filepath.Join(f.TemplatesDir, CardTemplateName+".png"), card); err != nil {
		return f, err
	}
	if err := os.WriteFile(f.Layout, []byte(cardLayout), 0o600); err != nil {
		return f, fmt.Errorf("write layout: %w", err)
	}
	if err := writePNG(f.Photo, Translate(card, 9, 4, CardSize)); err != nil {
		return f, err
	}

	resp := map[string]any{
		"text": CardResponseText,
		"text_annotations": []map[string]any{
			fragment("САМВЕЛ", 222, 117, 280, 130),
			fragment("01.07.1980", 230, 153, 300, 166),
			fragment("2322803756", 241, 261, 322, 271),
			fragment("ХАНТЫ-МАНСИЙСКИЙ", 241, 283, 380, 297),
		},
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return f, err
	}
	if err := os.WriteFile(f.Response, data, 0o600); err != nil {
		return f, fmt.Errorf("write response: %w", err)
	}
	return f, nil
}

func fragment(text string, x0, y0, x1, y1 float64) map[string]any {
	return map[string]any{
		"text": text,
		"vertices": []map[string]float64{
			{"x": x0, "y": y0}, {"x": x1, "y": y0}, {"x": x1, "y": y1}, {"x": x0, "y": y1},
		},
	}
}

func writePNG(path string, img image.Image) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	file, err := os.Create(path) //nolint:gosec // G304: fixture path chosen by the caller
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return file.Close()
}
