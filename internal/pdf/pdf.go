// Package pdf pulls embedded photos out of scanned PDF documents so they
// can be recognized like any other photo.
package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// ErrNoScans is returned when a document contains no decodable images.
var ErrNoScans = errors.New("pdf: no images found")

// Options select the pages to extract and unlock encrypted files.
type Options struct {
	// Pages is a page selection like "1-3,5". Empty means all pages.
	Pages       string
	Credentials Credentials
}

// Scan is one image embedded in a PDF page, kept in its encoded form.
type Scan struct {
	Page  int
	Index int
	Name  string
	Data  []byte
}

// Label identifies the scan within its document, e.g. "form.pdf#p2.1".
func (s Scan) Label(document string) string {
	return fmt.Sprintf("%s#p%d.%d", filepath.Base(document), s.Page, s.Index)
}

// IsPDF reports whether path names a PDF file.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// ExtractScans returns the embedded images of filename ordered by page.
// Images in formats the recognizer cannot decode are skipped.
func ExtractScans(filename string, opts Options) ([]Scan, error) {
	pages, err := parsePageRange(opts.Pages)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.Pages, err)
	}

	src, cleanup, err := decrypt(filename, opts.Credentials)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	dir, err := os.MkdirTemp("", "docrec-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	var selected []string
	for _, p := range pages {
		selected = append(selected, strconv.Itoa(p))
	}
	if err := api.ExtractImagesFile(src, dir, selected, opts.Credentials.configuration()); err != nil {
		return nil, &utils.ImageProcessingError{Operation: "extract pdf images", Err: err}
	}

	scans, err := collectScans(dir)
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrNoScans)
	}
	return scans, nil
}

// ExtractScansFromBytes is ExtractScans over an in-memory document.
func ExtractScansFromBytes(data []byte, opts Options) ([]Scan, error) {
	if len(data) == 0 {
		return nil, &utils.ImageProcessingError{Operation: "read pdf", Err: errors.New("empty document")}
	}
	tmp, err := os.CreateTemp("", "docrec-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	return ExtractScans(tmp.Name(), opts)
}

// collectScans reads the files pdfcpu wrote into dir and numbers them
// per page in file name order.
func collectScans(dir string) ([]Scan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extracted images: %w", err)
	}

	var scans []Scan
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		page, err := parsePageFromFilename(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // G304: path comes from our temp dir
		if err != nil {
			return nil, fmt.Errorf("read extracted image: %w", err)
		}
		scans = append(scans, Scan{Page: page, Name: e.Name(), Data: data})
	}

	slices.SortStableFunc(scans, func(a, b Scan) int {
		if a.Page != b.Page {
			return a.Page - b.Page
		}
		return strings.Compare(a.Name, b.Name)
	})
	for i := range scans {
		if i > 0 && scans[i-1].Page == scans[i].Page {
			scans[i].Index = scans[i-1].Index + 1
		} else {
			scans[i].Index = 1
		}
	}
	return scans, nil
}

// parsePageFromFilename extracts the page number from an extracted image
// name. pdfcpu writes "<doc>_<page>_<object>.<ext>"; the older
// "page_<page>_image_<n>.<ext>" form is accepted too.
func parsePageFromFilename(filename string) (int, error) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(stem, "_")
	if len(parts) >= 2 && parts[0] == "page" {
		return positivePage(parts[1])
	}
	if len(parts) < 3 {
		return 0, errors.New("not an extracted image")
	}
	return positivePage(parts[len(parts)-2])
}

func positivePage(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	return n, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for part := range strings.SplitSeq(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	lo, hi, isRange := strings.Cut(part, "-")
	if !isRange {
		page, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		return []int{page}, nil
	}
	if strings.Contains(hi, "-") {
		return nil, fmt.Errorf("invalid range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return nil, fmt.Errorf("invalid start page: %s", lo)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return nil, fmt.Errorf("invalid end page: %s", hi)
	}
	if start > end {
		return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
