//go:build !linux

package rcp

import "os"

// preallocate is a no-op on platforms without a fallocate-style call
// wired in (see preallocate_unix.go for the linux implementation).
func preallocate(size int64, out *os.File) error {
	return nil
}
