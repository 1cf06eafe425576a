package hubfs

import (
	"context"
	"path/filepath"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// hubNode is one inode of the passthrough tree. Every operation
// resolves the node's virtual path against the backing root and
// forwards to the equivalent syscall. Only open/create/read/write use
// the handle layer; everything here is direct forwarding and is never
// byte-throttled.
type hubNode struct {
	gofs.Inode
	hub *HubFS
}

var _ = (gofs.NodeGetattrer)((*hubNode)(nil))
var _ = (gofs.NodeSetattrer)((*hubNode)(nil))
var _ = (gofs.NodeLookuper)((*hubNode)(nil))
var _ = (gofs.NodeOpener)((*hubNode)(nil))
var _ = (gofs.NodeCreater)((*hubNode)(nil))
var _ = (gofs.NodeMknoder)((*hubNode)(nil))
var _ = (gofs.NodeMkdirer)((*hubNode)(nil))
var _ = (gofs.NodeRmdirer)((*hubNode)(nil))
var _ = (gofs.NodeUnlinker)((*hubNode)(nil))
var _ = (gofs.NodeRenamer)((*hubNode)(nil))
var _ = (gofs.NodeSymlinker)((*hubNode)(nil))
var _ = (gofs.NodeLinker)((*hubNode)(nil))
var _ = (gofs.NodeReadlinker)((*hubNode)(nil))
var _ = (gofs.NodeOpendirHandler)((*hubNode)(nil))
var _ = (gofs.NodeStatfser)((*hubNode)(nil))
var _ = (gofs.NodeGetxattrer)((*hubNode)(nil))
var _ = (gofs.NodeSetxattrer)((*hubNode)(nil))
var _ = (gofs.NodeListxattrer)((*hubNode)(nil))
var _ = (gofs.NodeRemovexattrer)((*hubNode)(nil))

func (n *hubNode) path() (string, syscall.Errno) {
	return resolvePath(n.hub.root, n.Path(nil))
}

func (n *hubNode) childPath(name string) (string, syscall.Errno) {
	return resolvePath(n.hub.root, filepath.Join(n.Path(nil), name))
}

// newChild wraps a freshly stat'ed backing inode in a node of this
// tree. The stable attr keys on the backing inode number so hard links
// resolve to the same kernel inode.
func (n *hubNode) newChild(ctx context.Context, st *syscall.Stat_t) *gofs.Inode {
	return n.NewInode(ctx, &hubNode{hub: n.hub}, gofs.StableAttr{
		Mode: st.Mode & syscall.S_IFMT,
		Ino:  st.Ino,
	})
}

func (n *hubNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return nil, errno
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return nil, gofs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *hubNode) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	if fga, ok := f.(gofs.FileGetattrer); ok {
		return fga.Getattr(ctx, out)
	}
	bpath, errno := n.path()
	if errno != 0 {
		return errno
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return gofs.ToErrno(err)
	}
	out.FromStat(&st)
	return 0
}

// Setattr covers chmod, chown, truncate and utimens. Truncate goes
// through the open descriptor when the kernel supplies a handle.
func (n *hubNode) Setattr(ctx context.Context, f gofs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return errno
	}

	if mode, ok := in.GetMode(); ok {
		if err := syscall.Chmod(bpath, mode); err != nil {
			return gofs.ToErrno(err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		suid, sgid := -1, -1
		if uok {
			suid = int(uid)
		}
		if gok {
			sgid = int(gid)
		}
		if err := syscall.Lchown(bpath, suid, sgid); err != nil {
			return gofs.ToErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		if hf, ok := f.(*hubFile); ok {
			if errno := hf.truncate(size); errno != 0 {
				return errno
			}
		} else if err := syscall.Truncate(bpath, int64(size)); err != nil {
			return gofs.ToErrno(err)
		}
	}

	mtime, mok := in.GetMTime()
	atime, aok := in.GetATime()
	if mok || aok {
		ap, mp := &atime, &mtime
		if !aok {
			ap = nil
		}
		if !mok {
			mp = nil
		}
		ts := []unix.Timespec{
			unix.Timespec(fuse.UtimeToTimespec(ap)),
			unix.Timespec(fuse.UtimeToTimespec(mp)),
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, bpath, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return gofs.ToErrno(err)
		}
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return gofs.ToErrno(err)
	}
	out.FromStat(&st)
	return 0
}

func (n *hubNode) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	fh, errno := n.hub.openFile(n.Path(nil), int(flags), 0)
	if errno != 0 {
		return nil, 0, errno
	}
	// Direct I/O keeps FUSE from double-caching data the backing
	// kernel page cache already holds.
	return fh, fuse.FOPEN_DIRECT_IO, 0
}

func (n *hubNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofs.Inode, gofs.FileHandle, uint32, syscall.Errno) {
	rel := filepath.Join(n.Path(nil), name)
	fh, errno := n.hub.openFile(rel, int(flags)|syscall.O_CREAT, mode)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	var st syscall.Stat_t
	if err := syscall.Fstat(fh.fd, &st); err != nil {
		// Never hand out a half-built entry: close the descriptor and
		// surface the error.
		unix.Close(fh.fd)
		return nil, nil, 0, gofs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), fh, fuse.FOPEN_DIRECT_IO, 0
}

func (n *hubNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return nil, errno
	}
	if err := syscall.Mknod(bpath, mode, int(dev)); err != nil {
		return nil, gofs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return nil, gofs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *hubNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return nil, errno
	}
	if err := syscall.Mkdir(bpath, mode); err != nil {
		return nil, gofs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return nil, gofs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *hubNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return errno
	}
	return gofs.ToErrno(syscall.Rmdir(bpath))
}

func (n *hubNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return errno
	}
	return gofs.ToErrno(syscall.Unlink(bpath))
}

func (n *hubNode) Rename(ctx context.Context, name string, newParent gofs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	from, errno := n.childPath(name)
	if errno != 0 {
		return errno
	}
	to, errno := resolvePath(n.hub.root, filepath.Join(newParent.EmbeddedInode().Path(nil), newName))
	if errno != 0 {
		return errno
	}
	if flags != 0 {
		return gofs.ToErrno(unix.Renameat2(unix.AT_FDCWD, from, unix.AT_FDCWD, to, uint(flags)))
	}
	return gofs.ToErrno(syscall.Rename(from, to))
}

func (n *hubNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return nil, errno
	}
	if err := syscall.Symlink(target, bpath); err != nil {
		return nil, gofs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return nil, gofs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *hubNode) Link(ctx context.Context, target gofs.InodeEmbedder, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, errno
	}
	tpath, errno := resolvePath(n.hub.root, target.EmbeddedInode().Path(nil))
	if errno != 0 {
		return nil, errno
	}
	bpath, errno := n.childPath(name)
	if errno != 0 {
		return nil, errno
	}
	if err := syscall.Link(tpath, bpath); err != nil {
		return nil, gofs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(bpath, &st); err != nil {
		return nil, gofs.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *hubNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return nil, errno
	}
	// FUSE wants the link text without a trailing NUL; readlink's
	// return length gives exactly that.
	buf := make([]byte, unix.PathMax)
	sz, err := syscall.Readlink(bpath, buf)
	if err != nil {
		return nil, gofs.ToErrno(err)
	}
	return buf[:sz], 0
}

// OpendirHandle opens the backing directory for reading. The returned
// stream keeps the directory descriptor for its lifetime, so fsyncdir
// forwards to the real directory instead of being rejected.
func (n *hubNode) OpendirHandle(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return nil, 0, errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return nil, 0, errno
	}
	ds, errno := gofs.NewLoopbackDirStream(bpath)
	if errno != 0 {
		return nil, 0, errno
	}
	return ds, 0, 0
}

func (n *hubNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	bpath, errno := n.path()
	if errno != 0 {
		return errno
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(bpath, &st); err != nil {
		return gofs.ToErrno(err)
	}
	out.FromStatfsT(&st)
	return 0
}

func (n *hubNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return 0, errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return 0, errno
	}
	sz, err := unix.Lgetxattr(bpath, attr, dest)
	if err != nil {
		return 0, gofs.ToErrno(err)
	}
	return uint32(sz), 0
}

func (n *hubNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return errno
	}
	return gofs.ToErrno(unix.Lsetxattr(bpath, attr, data, int(flags)))
}

func (n *hubNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return 0, errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return 0, errno
	}
	sz, err := unix.Llistxattr(bpath, dest)
	if err != nil {
		return 0, gofs.ToErrno(err)
	}
	return uint32(sz), 0
}

func (n *hubNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if errno := n.hub.limitMetadataOp(ctx); errno != 0 {
		return errno
	}
	bpath, errno := n.path()
	if errno != 0 {
		return errno
	}
	return gofs.ToErrno(unix.Lremovexattr(bpath, attr))
}
