package fs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"lazyns/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"gopkg.in/yaml.v3"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a non-namespace binding. Its content is rendered once, when the
// node is created.
type File struct {
	fs      *FS
	path    string
	content []byte
}

func newFile(vfs *FS, path string, value any) *File {
	return &File{fs: vfs, path: path, content: Render(value)}
}

// Attr implements fusefs.Node.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	a.Inode = Inode(f.path)
	a.Mode = 0444
	a.Size = uint64(len(f.content))
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = (a.Size + 511) / 512
	return nil
}

// Open rejects write access.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	if flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 {
		fileLogger.Warn("Attempted write access to %s", f.path)
		return nil, ToFuseError(NewFSError(OpOpen, FromBinding(f.path), ErrReadOnly))
	}
	resp.Flags |= fuse.OpenKeepCache
	return f, nil
}

// ReadAll implements fusefs.HandleReadAller.
func (f *File) ReadAll(_ context.Context) ([]byte, error) {
	fileLogger.Trace("Reading %d bytes of %s", len(f.content), f.path)
	return f.content, nil
}

// Render returns the YAML form of value. Strings are written as is and
// values YAML cannot represent fall back to their %v form.
func Render(value any) (out []byte) {
	switch v := value.(type) {
	case nil:
		return []byte("null\n")
	case string:
		if strings.HasSuffix(v, "\n") {
			return []byte(v)
		}
		return []byte(v + "\n")
	case []byte:
		return v
	case fmt.Stringer:
		return []byte(v.String() + "\n")
	}

	fallback := func() []byte { return []byte(fmt.Sprintf("%v\n", value)) }
	defer func() {
		if r := recover(); r != nil {
			fileLogger.Debug("Rendering %T with %%v: %v", value, r)
			out = fallback()
		}
	}()
	data, err := yaml.Marshal(value)
	if err != nil {
		fileLogger.Debug("Rendering %T with %%v: %v", value, err)
		return fallback()
	}
	return data
}
