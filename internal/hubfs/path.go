package hubfs

import (
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// resolvePath joins the backing root with a path relative to the mount
// and enforces the OS path length bound. Exceeding the bound surfaces
// ENAMETOOLONG to the caller rather than silently truncating.
func resolvePath(root, rel string) (string, syscall.Errno) {
	p := filepath.Join(root, rel)
	if len(p) >= unix.PathMax {
		return "", syscall.ENAMETOOLONG
	}
	return p, 0
}
