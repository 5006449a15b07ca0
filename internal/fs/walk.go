package fs

import (
	"fmt"
	"path/filepath"
	"sort"
)

// WalkFiles returns the paths of every regular file below root, recursively,
// sorted lexically. Returned paths are root joined with the relative path, so
// they are absolute whenever root is. Symlinks, devices, sockets and other
// non-regular entries are skipped.
func WalkFiles(fsys FS, root string) ([]string, error) {
	var paths []string

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir %q: %w", dir, err)
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			switch {
			case e.IsDir():
				if err := walk(p); err != nil {
					return err
				}
			case e.Type().IsRegular():
				paths = append(paths, p)
			}
		}
		return nil
	}

	if err := walk(filepath.Clean(root)); err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}
