package recognize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/extract"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/template"
)

// DriverLicenseCodePattern matches the ten digit license code, optionally
// printed in 2-2-6 groups.
const DriverLicenseCodePattern = `\d{2}([ \t]+)?\d{2}([ \t]+)?\d{6}`

// DriverLicenseByTemplate reads a driver license from a photo aligned to a
// driver license template.
type DriverLicenseByTemplate struct {
	*ByTemplate
	normalize bool
}

// NewDriverLicenseByTemplate creates the strategy. With normalize set the
// result is passed through DriverLicense.Normalize.
func NewDriverLicenseByTemplate(tpl *template.Template, extractor *extract.Extractor, normalize bool) *DriverLicenseByTemplate {
	return &DriverLicenseByTemplate{ByTemplate: NewByTemplate(tpl, extractor), normalize: normalize}
}

// Recognize extracts the template record and converts it.
func (r *DriverLicenseByTemplate) Recognize(ctx context.Context, resp *ocr.Response) (DriverLicense, error) {
	rec, err := r.ByTemplate.Recognize(ctx, resp)
	if err != nil {
		return DriverLicense{}, err
	}
	dl := DriverLicenseFromRecord(rec)
	if r.normalize {
		dl = dl.Normalize()
	}
	return dl, nil
}

// DriverLicenseByRegex finds only the license code in the full text.
type DriverLicenseByRegex struct {
	code *regexp.Regexp
}

// NewDriverLicenseByRegex compiles pattern, or DriverLicenseCodePattern
// when pattern is empty.
func NewDriverLicenseByRegex(pattern string) (*DriverLicenseByRegex, error) {
	if pattern == "" {
		pattern = DriverLicenseCodePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile code pattern: %w", err)
	}
	return &DriverLicenseByRegex{code: re}, nil
}

// Recognize returns a license with at most Code set.
func (r *DriverLicenseByRegex) Recognize(_ context.Context, resp *ocr.Response) (DriverLicense, error) {
	m := r.code.FindString(resp.Text)
	if m == "" {
		return DriverLicense{}, nil
	}
	n, err := strconv.ParseInt(strings.Join(strings.Fields(m), ""), 10, 64)
	if err != nil {
		return DriverLicense{}, nil
	}
	return DriverLicense{Code: &n}, nil
}
