package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend replays responses stored as JSON next to the images or in
// a separate directory. The response for photo.jpg is photo.json.
type FileBackend struct {
	Dir string // if empty, responses are looked up next to the image
}

// Annotate loads the stored response for img.
func (f *FileBackend) Annotate(ctx context.Context, img Image) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Path == "" {
		return nil, &BackendError{Backend: "file", Err: fmt.Errorf("image path is required to locate the stored response")}
	}
	path := f.responsePath(img.Path)
	resp, err := LoadResponse(path)
	if err != nil {
		return nil, &BackendError{Backend: "file", Err: err}
	}
	return resp, nil
}

func (f *FileBackend) responsePath(imagePath string) string {
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath)) + ".json"
	if f.Dir != "" {
		return filepath.Join(f.Dir, base)
	}
	return filepath.Join(filepath.Dir(imagePath), base)
}

// LoadResponse reads a JSON encoded Response.
func LoadResponse(path string) (*Response, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading user-provided response file
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", path, err)
	}
	return &resp, nil
}

// SaveResponse writes resp as indented JSON.
func SaveResponse(path string, resp *Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Recorder saves every successful response of next into Dir using the
// naming FileBackend reads back.
type Recorder struct {
	Next Backend
	Dir  string
}

// Annotate forwards to Next and stores the result.
func (r *Recorder) Annotate(ctx context.Context, img Image) (*Response, error) {
	resp, err := r.Next.Annotate(ctx, img)
	if err != nil || img.Path == "" {
		return resp, err
	}
	fb := FileBackend{Dir: r.Dir}
	if err := SaveResponse(fb.responsePath(img.Path), resp); err != nil {
		return nil, err
	}
	return resp, nil
}
