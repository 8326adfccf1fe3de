package loader

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandPaths expands glob patterns such as "bins/**/*.so". Plain paths
// are kept as given, whether or not they exist, so Open reports the error.
// A pattern that matches nothing is an error. Duplicates are dropped and
// the first occurrence wins.
func ExpandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pat := range patterns {
		if !hasMeta(pat) {
			add(pat)
			continue
		}
		if !doublestar.ValidatePathPattern(pat) {
			return nil, fmt.Errorf("loader: bad pattern %q", pat)
		}
		matches, err := doublestar.FilepathGlob(pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("loader: glob %q: %w", pat, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("loader: %q matched no files", pat)
		}
		slices.Sort(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func hasMeta(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
