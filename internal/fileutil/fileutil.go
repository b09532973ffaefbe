package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// RemoveArtifacts deletes each local file path. Missing files, blank entries,
// and remote references (anything with a URL scheme) are skipped. It returns
// the number removed and every other failure joined.
func RemoveArtifacts(paths []string) (int, error) {
	removed := 0
	var errs []error
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || strings.Contains(path, "://") {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return removed, errors.Join(errs...)
}
