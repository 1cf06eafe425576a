package hubfs

import (
	"context"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// hubFile owns the backing file descriptor for one open file
// description, from open/create until release. The descriptor is never
// shared between handles, and FUSE serializes release against the other
// operations on the same handle, so no locking is needed here.
type hubFile struct {
	fd  int
	hub *HubFS
}

var _ = (gofs.FileReader)((*hubFile)(nil))
var _ = (gofs.FileWriter)((*hubFile)(nil))
var _ = (gofs.FileFlusher)((*hubFile)(nil))
var _ = (gofs.FileReleaser)((*hubFile)(nil))
var _ = (gofs.FileFsyncer)((*hubFile)(nil))
var _ = (gofs.FileGetattrer)((*hubFile)(nil))
var _ = (gofs.FileAllocater)((*hubFile)(nil))

// openFile opens or creates the backing file for rel and wraps the
// descriptor in a handle. When the flags carry no access mode the open
// defaults to read-only. On any failure no handle is returned: there is
// never a partially initialized handle.
func (hub *HubFS) openFile(rel string, flags int, mode uint32) (*hubFile, syscall.Errno) {
	bpath, errno := resolvePath(hub.root, rel)
	if errno != 0 {
		return nil, errno
	}
	if flags&syscall.O_ACCMODE == 0 {
		flags |= syscall.O_RDONLY
	}
	// The kernel has already applied the requesting process's umask.
	fd, err := syscall.Open(bpath, flags, mode)
	if err != nil {
		return nil, gofs.ToErrno(err)
	}
	return &hubFile{fd: fd, hub: hub}, 0
}

// Read performs a positioned read after reserving len(dest) bytes from
// the caller's quota. The reservation may block until a period with
// enough budget. Short reads and EOF pass through exactly as the
// backing file reports them; the mount uses direct I/O, so the kernel
// accepts short counts.
func (f *hubFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if errno := f.hub.throttleIO(ctx, uint64(len(dest))); errno != 0 {
		return nil, errno
	}
	n, err := unix.Pread(f.fd, dest, off)
	if err != nil {
		return nil, gofs.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write performs a positioned write after reserving len(data) bytes
// from the caller's quota.
func (f *hubFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if errno := f.hub.throttleIO(ctx, uint64(len(data))); errno != 0 {
		return 0, errno
	}
	n, err := unix.Pwrite(f.fd, data, off)
	if err != nil {
		return 0, gofs.ToErrno(err)
	}
	return uint32(n), 0
}

// Flush is called every time a descriptor referring to this open file
// description is closed, possibly multiple times per handle. hubfs does
// no buffering of its own (the mount is direct I/O and the backing
// kernel page cache is authoritative), so there is nothing to flush.
func (f *hubFile) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release closes the backing descriptor. The close is attempted exactly
// once: on some platforms close can fail with EINTR after the
// descriptor number has already been released, and retrying could close
// an unrelated descriptor that reused the number.
func (f *hubFile) Release(ctx context.Context) syscall.Errno {
	err := unix.Close(f.fd)
	f.fd = -1
	if err != nil {
		return gofs.ToErrno(err)
	}
	return 0
}

// Fsync forwards to fdatasync or fsync depending on the datasync flag.
func (f *hubFile) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	var err error
	if flags&fsyncDataOnly != 0 {
		err = unix.Fdatasync(f.fd)
	} else {
		err = unix.Fsync(f.fd)
	}
	return gofs.ToErrno(err)
}

// fsyncDataOnly is the FUSE fsync flag bit requesting fdatasync
// semantics.
const fsyncDataOnly = 1

// Getattr stats the open descriptor.
func (f *hubFile) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	var st syscall.Stat_t
	if err := syscall.Fstat(f.fd, &st); err != nil {
		return gofs.ToErrno(err)
	}
	out.FromStat(&st)
	return 0
}

// Allocate forwards to fallocate on the open descriptor.
func (f *hubFile) Allocate(ctx context.Context, off uint64, size uint64, mode uint32) syscall.Errno {
	return gofs.ToErrno(unix.Fallocate(f.fd, mode, int64(off), int64(size)))
}

// truncate resizes the file through the open descriptor. Used by
// setattr when a handle is available.
func (f *hubFile) truncate(size uint64) syscall.Errno {
	return gofs.ToErrno(unix.Ftruncate(f.fd, int64(size)))
}
