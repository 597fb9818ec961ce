// Package template describes document layouts: a reference image and the
// named, typed regions in which fields are printed.
package template

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/MeKo-Tech/docrec/internal/utils"
)

// FieldType is the declared value type of a region.
type FieldType string

// Supported field types.
const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldDate    FieldType = "date"
)

// ParseFieldType maps a type tag to a FieldType. Both the long names and
// the short tags used by annotation files (str, int, datetime) are accepted.
func ParseFieldType(tag string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "str", "string":
		return FieldString, nil
	case "int", "integer":
		return FieldInteger, nil
	case "float":
		return FieldFloat, nil
	case "datetime", "date":
		return FieldDate, nil
	default:
		return "", fmt.Errorf("unknown field type %q", tag)
	}
}

// Region is a named rectangle in template pixel coordinates.
type Region struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
	Box  utils.Box `json:"bndbox" yaml:"bndbox"`
}

// Contains reports whether p lies inside the region, edges included.
func (r Region) Contains(p utils.Point) bool { return r.Box.Contains(p) }

// Size holds the declared pixel dimensions of the reference image.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	Depth  int `json:"depth" yaml:"depth"`
}

// Template is a document layout. It is read-only after construction and
// safe for concurrent use; the reference image and any derived data are
// computed at most once.
type Template struct {
	Name      string
	ImagePath string
	Size      Size

	regions []Region

	imageOnce sync.Once
	image     image.Image
	imageErr  error

	mu    sync.Mutex
	cache map[any]*cacheEntry
}

type cacheEntry struct {
	once  sync.Once
	value any
	err   error
}

// New validates the layout and returns a Template whose reference image is
// read from imagePath on first use.
func New(name, imagePath string, size Size, regions []Region) (*Template, error) {
	if imagePath == "" {
		return nil, formatErr(name, "path", "reference image path is required")
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, formatErr(name, "size", "width and height must be positive, got %dx%d", size.Width, size.Height)
	}
	if err := validateRegions(name, regions); err != nil {
		return nil, err
	}
	return &Template{
		Name:      name,
		ImagePath: imagePath,
		Size:      size,
		regions:   slices.Clone(regions),
	}, nil
}

// FromImage builds a Template around an in-memory reference image. The
// declared size is taken from the image bounds.
func FromImage(name string, img image.Image, regions []Region) (*Template, error) {
	if img == nil {
		return nil, formatErr(name, "image", "reference image is nil")
	}
	b := img.Bounds()
	t, err := New(name, "<memory>", Size{Width: b.Dx(), Height: b.Dy(), Depth: 3}, regions)
	if err != nil {
		return nil, err
	}
	t.imageOnce.Do(func() { t.image = img })
	return t, nil
}

func validateRegions(source string, regions []Region) error {
	if len(regions) == 0 {
		return formatErr(source, "regions", "at least one region is required")
	}
	for i, r := range regions {
		field := fmt.Sprintf("regions[%d]", i)
		if r.Name == "" {
			return formatErr(source, field+"/name", "region name is required")
		}
		switch r.Type {
		case FieldString, FieldInteger, FieldFloat, FieldDate:
		default:
			return formatErr(source, field+"/type", "unsupported field type %q", r.Type)
		}
		for _, c := range []float64{r.Box.MinX, r.Box.MinY, r.Box.MaxX, r.Box.MaxY} {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return formatErr(source, field+"/bndbox", "non-finite coordinate in %+v", r.Box)
			}
		}
		if r.Box.MinX > r.Box.MaxX || r.Box.MinY > r.Box.MaxY {
			return formatErr(source, field+"/bndbox", "inverted rectangle %+v", r.Box)
		}
	}
	return nil
}

// Regions returns the regions in layout order.
func (t *Template) Regions() []Region { return slices.Clone(t.regions) }

// Image returns the reference image, loading it on first call. A load
// failure is cached as well.
func (t *Template) Image() (image.Image, error) {
	t.imageOnce.Do(func() {
		img, meta, err := utils.LoadImage(t.ImagePath)
		if err != nil {
			t.imageErr = fmt.Errorf("template %s: %w", t.Name, err)
			return
		}
		if meta.Width != t.Size.Width || meta.Height != t.Size.Height {
			slog.Warn("Reference image size differs from layout",
				"template", t.Name,
				"declared", fmt.Sprintf("%dx%d", t.Size.Width, t.Size.Height),
				"actual", fmt.Sprintf("%dx%d", meta.Width, meta.Height))
		}
		t.image = img
	})
	return t.image, t.imageErr
}

// Cached returns the value computed for key, running compute at most once
// per key for the lifetime of the template. Concurrent callers for the same
// key block until the first computation finishes. key must be comparable.
func (t *Template) Cached(key any, compute func() (any, error)) (any, error) {
	t.mu.Lock()
	if t.cache == nil {
		t.cache = make(map[any]*cacheEntry)
	}
	e, ok := t.cache[key]
	if !ok {
		e = &cacheEntry{}
		t.cache[key] = e
	}
	t.mu.Unlock()

	e.once.Do(func() { e.value, e.err = compute() })
	return e.value, e.err
}
