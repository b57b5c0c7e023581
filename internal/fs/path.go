package fs

import (
	"encoding/binary"
	"path"
	"strings"

	"lazyns/internal/namespace"

	"github.com/zeebo/blake3"
)

// RootInode is the inode of the mount root.
const RootInode = 1

// Inode derives a stable inode number from a binding path, so a binding
// keeps its inode across reloads.
func Inode(binding string) uint64 {
	if binding == "" {
		return RootInode
	}
	sum := blake3.Sum256([]byte(binding))
	ino := binary.LittleEndian.Uint64(sum[:8])
	if ino <= RootInode {
		ino += 2
	}
	return ino
}

// FromBinding converts a binding path to its location in the view.
func FromBinding(binding string) string {
	return "/" + strings.Join(namespace.Split(binding), "/")
}

// ToBinding converts a location in the view, or a binding path, to a
// binding path.
func ToBinding(p string) string {
	if !strings.Contains(p, "/") {
		return p
	}
	cleaned := strings.Trim(path.Clean("/"+p), "/")
	if cleaned == "" {
		return ""
	}
	return strings.Join(strings.Split(cleaned, "/"), namespace.Separator)
}
