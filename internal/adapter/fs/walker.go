package fs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/elliot-woods/pgvector-search/internal/port"
)

// DefaultImageIncludes matches the supported image files directly inside
// the source directory.
var DefaultImageIncludes = []string{"*.jpg", "*.jpeg", "*.png"}

// Walker lists source files whose path relative to the walk root matches
// one of the include globs. Matching is case-insensitive so that
// "IMG_01.JPG" is picked up by "*.jpg".
type Walker struct {
	includes []string
	excludes []string
}

var _ port.FileWalker = (*Walker)(nil)

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = DefaultImageIncludes
	}
	return &Walker{
		includes: lowerAll(includes),
		excludes: lowerAll(excludes),
	}
}

// Walk returns matching files in lexical order. Paths are joined onto root
// as given, so they stay stable identifiers across runs from the same
// working directory.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath != "." && w.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, port.FileInfo{
				Path:    filepath.Join(root, filepath.FromSlash(relPath)),
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
		}

		return nil
	})

	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	return matchAny(w.includes, strings.ToLower(path))
}

func (w *Walker) shouldExclude(path string) bool {
	return matchAny(w.excludes, strings.ToLower(path))
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
