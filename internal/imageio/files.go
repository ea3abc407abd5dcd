// Package imageio reads projection and sinogram images from disk and writes
// reconstructed slices as float32 TIFF.
package imageio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bpradana/tofu"
)

var (
	// ErrUnsupportedFormat indicates a file extension or encoding the reader cannot handle.
	ErrUnsupportedFormat = errors.New("imageio: unsupported image format")
	// ErrNoFiles indicates a path that matched no files.
	ErrNoFiles = errors.New("imageio: no files found")
)

var indexPattern = regexp.MustCompile(`%(\d*)i`)

// GetFilenames returns the sorted files of a directory, or the sorted
// matches of a glob pattern.
func GetFilenames(path string) ([]string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "*")
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return nil, fmt.Errorf("imageio: %s: %w", path, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// HasIndexPattern reports whether name contains a printf-like %i or %05i
// placeholder.
func HasIndexPattern(name string) bool {
	return indexPattern.MatchString(name)
}

// FormatIndex replaces the first index placeholder in pattern with i.
func FormatIndex(pattern string, i int) string {
	loc := indexPattern.FindStringSubmatchIndex(pattern)
	if loc == nil {
		return pattern
	}
	width := pattern[loc[2]:loc[3]]
	return pattern[:loc[0]] + fmt.Sprintf("%"+width+"d", i) + pattern[loc[1]:]
}

// Read decodes every image stored in filename. Multipage TIFF files yield one
// frame per page.
func Read(filename string) ([]*tofu.Frame, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("imageio: %w", err)
	}
	lower := strings.ToLower(filename)
	var frames []*tofu.Frame
	switch {
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		frames, err = decodeTIFF(data)
	case strings.Contains(lower, ".edf"):
		var f *tofu.Frame
		f, err = decodeEDF(data)
		frames = []*tofu.Frame{f}
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		var f *tofu.Frame
		f, err = decodeImage(data)
		frames = []*tofu.Frame{f}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("imageio: %s: %w", filename, err)
	}
	return frames, nil
}

// ReadImage returns the first image stored in filename.
func ReadImage(filename string) (*tofu.Frame, error) {
	frames, err := Read(filename)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("imageio: %s holds no images", filename)
	}
	return frames[0], nil
}

// ReadFirst returns the first image found under path.
func ReadFirst(path string) (*tofu.Frame, error) {
	files, err := GetFilenames(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, path)
	}
	return ReadImage(files[0])
}
