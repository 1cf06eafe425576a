// Package hubfs implements the iohub passthrough filesystem.
//
// Every FUSE operation is forwarded to an equivalent syscall against a
// backing directory tree. Read and write requests pass through the
// per-UID throttle engine first; metadata operations are forwarded
// directly (optionally capped by an operation-rate limiter). The mount
// uses direct I/O so the kernel page cache on the backing files stays
// authoritative, and default_permissions so the kernel enforces access
// checks from the attributes we report.
package hubfs

import (
	"context"
	"fmt"
	"syscall"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/marmos91/iohub/internal/logger"
	"github.com/marmos91/iohub/internal/ratelimiter"
	"github.com/marmos91/iohub/internal/throttle"
)

// HubFS holds the process-wide state shared by every node of the mount:
// the backing root, the quota table, and the optional metadata
// operation limiter. All three are set before serving and never
// mutated afterwards.
type HubFS struct {
	root        string
	quotas      *throttle.Table
	metaLimiter *ratelimiter.OpsLimiter
}

// Options configures a mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Root is the backing directory tree that all operations are
	// forwarded to. It must exist and be readable.
	Root string

	// Quotas is the per-UID throttle table. Required.
	Quotas *throttle.Table

	// MetadataOpsPerSecond caps the rate of metadata operations across
	// the whole mount. Zero means no cap.
	MetadataOpsPerSecond uint

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf when running unprivileged.
	AllowOther bool

	// Debug enables go-fuse protocol tracing.
	Debug bool
}

// New constructs the filesystem state without mounting it. Exposed
// separately from Mount so tests can exercise the handle and path
// layers against a plain directory.
func New(root string, quotas *throttle.Table, metadataOpsPerSecond uint) (*HubFS, error) {
	if quotas == nil {
		return nil, fmt.Errorf("hubfs: quota table is required")
	}
	if err := unix.Access(root, unix.R_OK); err != nil {
		return nil, fmt.Errorf("hubfs: backing root %s is not accessible: %w", root, err)
	}
	hub := &HubFS{
		root:   root,
		quotas: quotas,
	}
	if metadataOpsPerSecond > 0 {
		hub.metaLimiter = ratelimiter.New(metadataOpsPerSecond)
	}
	return hub, nil
}

// Mount mounts the passthrough filesystem and returns the serving FUSE
// server. The caller is expected to run server.Wait() and to call
// server.Unmount() on shutdown.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("hubfs: mountpoint is required")
	}

	hub, err := New(options.Root, options.Quotas, options.MetadataOpsPerSecond)
	if err != nil {
		return nil, err
	}

	// Attribute caching is safe: nothing mutates the backing tree
	// except operations that go through this mount.
	attrTimeout := 1 * time.Second
	entryTimeout := 1 * time.Second

	server, err := gofs.Mount(options.Mountpoint, &hubNode{hub: hub}, &gofs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.Root,
			Name:       "iohub",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
			// The kernel checks permissions against the attributes we
			// report, so the nodes never implement access themselves.
			Options: []string{"default_permissions"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hubfs: mounting at %s: %w", options.Mountpoint, err)
	}

	logger.Info("hubfs mounted: root=%s mountpoint=%s", options.Root, options.Mountpoint)
	return server, nil
}

// callerUID extracts the requesting UID from the FUSE request context.
// A context without caller information (only possible outside a real
// mount, e.g. in tests) maps to the unknown identity.
func callerUID(ctx context.Context) uint32 {
	if caller, ok := fuse.FromContext(ctx); ok {
		return caller.Uid
	}
	return throttle.UnknownUID
}

// throttleIO reserves amount bytes for the calling identity, blocking
// until the reservation is granted. An oversize request (larger than
// the identity's full per-period allocation) is reported as EINVAL
// instead of blocking forever.
func (hub *HubFS) throttleIO(ctx context.Context, amount uint64) syscall.Errno {
	uid := callerUID(ctx)
	if err := hub.quotas.Acquire(hub.quotas.Lookup(uid), amount); err != nil {
		logger.Warn("throttle rejected request: %v", err)
		return syscall.EINVAL
	}
	return 0
}

// limitMetadataOp applies the optional metadata operation cap. It
// blocks until the limiter grants the operation or the request is
// interrupted.
func (hub *HubFS) limitMetadataOp(ctx context.Context) syscall.Errno {
	if hub.metaLimiter == nil {
		return 0
	}
	if err := hub.metaLimiter.Wait(ctx); err != nil {
		return syscall.EINTR
	}
	return 0
}
