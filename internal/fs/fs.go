// Package fs serves a namespace as a read-only FUSE filesystem.
//
// Namespaces appear as directories and other bindings as files holding
// the YAML rendering of their value. Looking a name up resolves its
// binding; listing a directory does not.
package fs

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"lazyns/internal/logging"
	"lazyns/internal/namespace"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("fs")
)

// FS is the filesystem view of a namespace tree.
type FS struct {
	root *namespace.Namespace
	conn *fuse.Conn
	uid  uint32
	gid  uint32
	mu   sync.Mutex
	done chan struct{}
}

// New returns a view of root. Files are owned by the current user, or by
// PUID/PGID when set in the environment.
func New(root *namespace.Namespace) *FS {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &FS{root: root, uid: uid, gid: gid}
}

// Root implements fusefs.FS.
func (vfs *FS) Root() (fusefs.Node, error) {
	return &Dir{fs: vfs, ns: vfs.root}, nil
}

var (
	_ fusefs.FS = (*FS)(nil)

	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)

	_ fusefs.Node            = (*File)(nil)
	_ fusefs.NodeOpener      = (*File)(nil)
	_ fusefs.HandleReadAller = (*File)(nil)
)

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the view at mountPoint and serves it in the background.
// Done is closed when serving stops.
func (vfs *FS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting namespace view at %s", mountPoint)
	vfsLogger.Debug("UID: %d, GID: %d", vfs.uid, vfs.gid)

	c, err := fuse.Mount(mountPoint,
		fuse.FSName("lazyns"),
		fuse.Subtype("lazyns"),
		fuse.ReadOnly(),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	done := make(chan struct{})
	vfs.mu.Lock()
	vfs.conn = c
	vfs.done = done
	vfs.mu.Unlock()

	go func() {
		defer close(done)
		if err := fusefs.Serve(c, vfs); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		vfsLogger.Debug("FUSE server stopped")
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Namespace view mounted")
	return nil
}

// Done returns a channel closed when the server stops, nil before Mount.
func (vfs *FS) Done() <-chan struct{} {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	return vfs.done
}

// Unmount unmounts the view and closes the connection.
func (vfs *FS) Unmount(mountPoint string) error {
	vfs.mu.Lock()
	c := vfs.conn
	vfs.conn = nil
	vfs.mu.Unlock()

	if c == nil {
		return nil
	}
	vfsLogger.Info("Unmounting namespace view from: %s", mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	return c.Close()
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
