package migration

import (
	"fmt"
	"os"
	"path/filepath"
)

// OnWarning is called for recoverable scan problems: an unparseable
// filename or a missing location. It never aborts the scan.
type OnWarning func(msg string)

// Scan recursively enumerates *.sql files under each of locations, parses
// their filenames, reads their content as UTF-8 and resolves them. Order of
// the returned slice is not meaningful; callers (the resolver) sort it.
func Scan(locations []string, onWarning OnWarning) ([]Resolved, error) {
	if onWarning == nil {
		onWarning = func(string) {}
	}
	var out []Resolved
	for _, loc := range locations {
		root, err := filepath.Abs(loc)
		if err != nil {
			onWarning(fmt.Sprintf("migration: resolve location %q: %v", loc, err))
			continue
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			onWarning(fmt.Sprintf("migration: location %q does not exist or is not a directory", loc))
			continue
		}
		err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				onWarning(fmt.Sprintf("migration: walk %q: %v", path, err))
				return nil
			}
			if fi.IsDir() {
				return nil
			}
			if filepath.Ext(path) != ".sql" {
				return nil
			}
			mi, err := ParseFilename(path, root)
			if err != nil {
				onWarning(err.Error())
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				onWarning(fmt.Sprintf("migration: read %q: %v", path, err))
				return nil
			}
			out = append(out, NewResolved(mi, string(b)))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("migration: scan %q: %w", loc, err)
		}
	}
	return out, nil
}
