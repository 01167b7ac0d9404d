package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoImages is returned when a directory holds no candidate images.
var ErrNoImages = errors.New("no jpg or png images found in specified directory")

// ListImagePaths lists the candidate images of a directory.
//
// Only regular files directly inside dir are considered; the match on the extension is case
// insensitive and accepts .jpg, .jpeg and .png. The result is sorted lexically so that repeated
// runs over the same directory visit images in the same order.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []string: Paths of the matching files, joined with dir.
// - error: ErrNoImages when nothing matches, or the error from reading dir.
func ListImagePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading image directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}

	if len(paths) == 0 {
		return nil, ErrNoImages
	}

	sort.Strings(paths)

	return paths, nil
}

// ImageNumber returns the file name of path up to its first dot.
func ImageNumber(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// ParentImage returns the name of the source image a crop was cut from.
//
// Crops are named "<parent>_<suffix>.<ext>"; everything in the file name before the first
// underscore is the parent. A file name without an underscore is returned whole.
func ParentImage(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "_"); i >= 0 {
		return name[:i]
	}
	return name
}
