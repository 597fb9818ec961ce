package template

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/docrec/internal/utils"
	"gopkg.in/yaml.v3"
)

// SupportedLayoutExtensions lists file extensions accepted by Load.
var SupportedLayoutExtensions = []string{".xml", ".yaml", ".yml"}

// layout is the format-neutral shape both XML and YAML files decode into.
// Pointer fields distinguish missing nodes from zero values.
type layout struct {
	Name    string         `yaml:"name"`
	Path    string         `yaml:"path"`
	Size    *layoutSize    `yaml:"size"`
	Regions []layoutRegion `yaml:"regions"`
}

type layoutSize struct {
	Width  *int `yaml:"width"`
	Height *int `yaml:"height"`
	Depth  *int `yaml:"depth"`
}

type layoutRegion struct {
	Name string     `yaml:"name"`
	Type string     `yaml:"type"`
	Box  *layoutBox `yaml:"bndbox"`
}

type layoutBox struct {
	XMin *float64 `yaml:"xmin"`
	YMin *float64 `yaml:"ymin"`
	XMax *float64 `yaml:"xmax"`
	YMax *float64 `yaml:"ymax"`
}

// Load reads a layout file. The format is chosen by extension; relative
// reference image paths are resolved against the file's directory.
func Load(path string) (*Template, error) {
	f, err := os.Open(path) //nolint:gosec // G304: template path is user-provided
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer func() { _ = f.Close() }()

	baseDir := filepath.Dir(path)
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var t *Template
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		t, err = ParseXML(f, path, baseDir)
	case ".yaml", ".yml":
		t, err = ParseYAML(f, path, baseDir)
	default:
		return nil, formatErr(path, "", "unsupported layout extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if t.Name == "" || t.Name == path {
		t.Name = name
	}
	return t, nil
}

// ParseYAML decodes a YAML layout:
//
//	name: driver_license
//	path: driver_license.jpg
//	size: {width: 617, height: 366, depth: 3}
//	regions:
//	  - name: birthday
//	    type: datetime
//	    bndbox: {xmin: 250, ymin: 149, xmax: 360, ymax: 161}
func ParseYAML(r io.Reader, source, baseDir string) (*Template, error) {
	var l layout
	if err := yaml.NewDecoder(r).Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, formatErr(source, "", "empty document")
		}
		return nil, &FormatError{Source: source, Err: err}
	}
	return l.build(source, baseDir)
}

type xmlAnnotation struct {
	Name    string      `xml:"name"`
	Path    string      `xml:"path"`
	Size    *xmlSize    `xml:"size"`
	Objects []xmlObject `xml:"object"`
}

type xmlSize struct {
	Width  string `xml:"width"`
	Height string `xml:"height"`
	Depth  string `xml:"depth"`
}

type xmlObject struct {
	Name   string  `xml:"name"`
	Type   string  `xml:"type"`
	BndBox *xmlBox `xml:"bndbox"`
}

type xmlBox struct {
	XMin string `xml:"xmin"`
	YMin string `xml:"ymin"`
	XMax string `xml:"xmax"`
	YMax string `xml:"ymax"`
}

// ParseXML decodes an annotation-style XML layout with path, size and
// one object element per region.
func ParseXML(r io.Reader, source, baseDir string) (*Template, error) {
	var doc xmlAnnotation
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &FormatError{Source: source, Err: err}
	}

	l := layout{Name: doc.Name, Path: strings.TrimSpace(doc.Path)}
	if doc.Size != nil {
		var err error
		l.Size = &layoutSize{}
		if l.Size.Width, err = xmlInt(source, "size/width", doc.Size.Width); err != nil {
			return nil, err
		}
		if l.Size.Height, err = xmlInt(source, "size/height", doc.Size.Height); err != nil {
			return nil, err
		}
		if l.Size.Depth, err = xmlInt(source, "size/depth", doc.Size.Depth); err != nil {
			return nil, err
		}
	}

	for i, obj := range doc.Objects {
		reg := layoutRegion{Name: strings.TrimSpace(obj.Name), Type: obj.Type}
		if obj.BndBox != nil {
			field := fmt.Sprintf("object[%d]/bndbox", i)
			reg.Box = &layoutBox{}
			coords := []struct {
				dst  **float64
				name string
				raw  string
			}{
				{&reg.Box.XMin, "xmin", obj.BndBox.XMin},
				{&reg.Box.YMin, "ymin", obj.BndBox.YMin},
				{&reg.Box.XMax, "xmax", obj.BndBox.XMax},
				{&reg.Box.YMax, "ymax", obj.BndBox.YMax},
			}
			for _, c := range coords {
				v, err := xmlFloat(source, field+"/"+c.name, c.raw)
				if err != nil {
					return nil, err
				}
				*c.dst = v
			}
		}
		l.Regions = append(l.Regions, reg)
	}
	return l.build(source, baseDir)
}

func xmlInt(source, field, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &FormatError{Source: source, Field: field, Err: err}
	}
	return &v, nil
}

func xmlFloat(source, field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &FormatError{Source: source, Field: field, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, formatErr(source, field, "coordinate must be finite, got %s", raw)
	}
	return &v, nil
}

func (l layout) build(source, baseDir string) (*Template, error) {
	if l.Path == "" {
		return nil, formatErr(source, "path", "reference image path is required")
	}
	if l.Size == nil {
		return nil, formatErr(source, "size", "size is required")
	}
	if l.Size.Width == nil || l.Size.Height == nil {
		return nil, formatErr(source, "size", "width and height are required")
	}
	size := Size{Width: *l.Size.Width, Height: *l.Size.Height, Depth: 3}
	if l.Size.Depth != nil {
		size.Depth = *l.Size.Depth
	}
	if len(l.Regions) == 0 {
		return nil, formatErr(source, "regions", "at least one region is required")
	}

	regions := make([]Region, 0, len(l.Regions))
	for i, lr := range l.Regions {
		field := fmt.Sprintf("regions[%d]", i)
		if lr.Name == "" {
			return nil, formatErr(source, field+"/name", "region name is required")
		}
		ft, err := ParseFieldType(lr.Type)
		if err != nil {
			return nil, &FormatError{Source: source, Field: field + "/type", Err: err}
		}
		b := lr.Box
		if b == nil || b.XMin == nil || b.YMin == nil || b.XMax == nil || b.YMax == nil {
			return nil, formatErr(source, field+"/bndbox", "xmin, ymin, xmax and ymax are required")
		}
		regions = append(regions, Region{
			Name: lr.Name,
			Type: ft,
			Box:  utils.Box{MinX: *b.XMin, MinY: *b.YMin, MaxX: *b.XMax, MaxY: *b.YMax},
		})
	}

	imagePath := l.Path
	if !filepath.IsAbs(imagePath) && baseDir != "" {
		imagePath = filepath.Join(baseDir, imagePath)
	}
	name := l.Name
	if name == "" {
		name = source
	}
	t, err := New(name, imagePath, size, regions)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Source = source
		}
		return nil, err
	}
	return t, nil
}
