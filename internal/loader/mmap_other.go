//go:build !unix

package loader

import (
	"fmt"
	"os"
)

// mapFile reads path into memory on platforms without mmap.
func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: read: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return data, func() error { return nil }, nil
}
