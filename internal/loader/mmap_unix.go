//go:build unix

package loader

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path read-only. The returned release function unmaps it.
func mapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("loader: stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	if int64(int(size)) != size {
		return nil, nil, fmt.Errorf("loader: %s: too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: mmap %s: %w", path, err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
