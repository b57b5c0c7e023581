package fs

import (
	"context"
	"os"

	"lazyns/internal/logging"
	"lazyns/internal/namespace"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a namespace in the view.
type Dir struct {
	fs *FS
	ns *namespace.Namespace
}

// Attr implements fusefs.Node.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	a.Inode = Inode(d.ns.Path())
	a.Mode = os.ModeDir | 0555
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	return nil
}

// Lookup resolves name in the namespace, firing its trigger if pending.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in %s", name, d.ns)

	if !namespace.ValidName(name) {
		return nil, ToFuseError(NewFSError(OpLookup, FromBinding(d.ns.Path()), ErrInvalidPath))
	}

	v, err := d.ns.Lookup(ctx, name)
	if err != nil {
		fsErr := NewFSError(OpLookup, FromBinding(namespace.Join(d.ns.Path(), name)), err)
		if IsTemporary(err) {
			dirLogger.Debug("%v", fsErr)
		} else {
			dirLogger.Warn("%v", fsErr)
		}
		return nil, ToFuseError(fsErr)
	}

	if child, ok := v.(*namespace.Namespace); ok {
		return &Dir{fs: d.fs, ns: child}, nil
	}
	return newFile(d.fs, namespace.Join(d.ns.Path(), name), v), nil
}

// ReadDirAll lists defined and pending names without resolving them.
// Pending bindings backed by files have an unknown type until resolved.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries := d.ns.Entries()
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		dirent := fuse.Dirent{
			Inode: Inode(namespace.Join(d.ns.Path(), e.Name)),
			Name:  e.Name,
			Type:  fuse.DT_Unknown,
		}
		switch {
		case e.Defined:
			if _, ok := e.Value.(*namespace.Namespace); ok {
				dirent.Type = fuse.DT_Dir
			} else {
				dirent.Type = fuse.DT_File
			}
		case e.Trigger != nil && e.Trigger.IsDir():
			dirent.Type = fuse.DT_Dir
		}
		dirents = append(dirents, dirent)
	}

	dirLogger.Trace("Directory %s contains %d entries", d.ns, len(dirents))
	return dirents, nil
}
