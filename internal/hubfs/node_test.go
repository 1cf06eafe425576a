package hubfs

import (
	"context"
	"testing"

	gofs "github.com/hanwen/go-fuse/v2/fs"
)

// TestDirectoryHandle_SupportsSync verifies the contract OpendirHandle
// relies on: the directory stream holds a live descriptor and can sync
// it, so a kernel fsyncdir request reaches the backing directory.
func TestDirectoryHandle_SupportsSync(t *testing.T) {
	_, root := newTestFS(t)

	ds, errno := gofs.NewLoopbackDirStream(root)
	if errno != 0 {
		t.Fatalf("NewLoopbackDirStream failed: %v", errno)
	}
	defer ds.Close()

	fsyncer, ok := ds.(gofs.FileFsyncer)
	if !ok {
		t.Fatal("directory handle must implement fsync")
	}
	if errno := fsyncer.Fsync(context.Background(), 0); errno != 0 {
		t.Fatalf("directory sync failed: %v", errno)
	}
}
