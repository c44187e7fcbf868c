package reconcile

import (
	"fmt"
	"path"
	"sort"

	billy "github.com/go-git/go-billy/v5"
)

// DefaultLoosePatterns matches the file names the extraction stage
// leaves behind in the reconciliation root.
var DefaultLoosePatterns = []string{"*.appx", "*.appxbundle", "*.msix", "*.esd", "*.cab"}

// ListLoose scans dir non-recursively for regular files whose names
// match any of the given glob patterns (DefaultLoosePatterns when none
// are given) and returns their paths sorted by name.
func ListLoose(fsys billy.Filesystem, dir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultLoosePatterns
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	var loose []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, pattern := range patterns {
			ok, err := path.Match(pattern, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("bad loose-file pattern %q: %w", pattern, err)
			}
			if ok {
				loose = append(loose, path.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(loose)
	return loose, nil
}
