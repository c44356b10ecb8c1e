//go:build linux

package bufferpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pageSize() int { return unix.Getpagesize() }

// mapRegion reserves one anonymous read+write+execute mapping.
func mapRegion(size int) ([]byte, bool, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, fmt.Errorf("mmap %d bytes rwx: %w", size, err)
	}
	return mem, true, nil
}

func unmapRegion(mem []byte) error {
	return unix.Munmap(mem)
}
