package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/docrec/internal/pdf"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

// Discover expands files and directories into the list of photos to
// recognize. Directories are scanned one level deep unless recursive is
// set. Without include patterns only supported image extensions and PDF
// scans are kept.
func Discover(args []string, recursive bool, include, exclude []string) ([]string, error) {
	var photos []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if shouldIncludeFile(arg, include, exclude) {
				photos = append(photos, arg)
			}
			continue
		}
		found, err := discoverInDirectory(arg, recursive, include, exclude)
		if err != nil {
			return nil, err
		}
		photos = append(photos, found...)
	}
	return photos, nil
}

func discoverInDirectory(dir string, recursive bool, include, exclude []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldIncludeFile(path, include, exclude) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func shouldIncludeFile(path string, include, exclude []string) bool {
	if matchesAnyPattern(path, exclude) {
		return false
	}
	if len(include) == 0 {
		return utils.IsSupportedImage(path) || pdf.IsPDF(path)
	}
	return matchesAnyPattern(path, include)
}

func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func checkPattern(pattern string) error {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return nil
}
