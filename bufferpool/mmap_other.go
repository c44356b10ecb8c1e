//go:build !linux

package bufferpool

import "os"

func pageSize() int { return os.Getpagesize() }

// mapRegion falls back to heap memory, which the process cannot execute.
func mapRegion(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func unmapRegion([]byte) error { return nil }
