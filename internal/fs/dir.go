package fs

import (
	"context"
	"os"
	"path"

	"appack/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir represents a directory in the mounted image. Directories carry
// fixed read-only permission bits; the image is never writable.
type Dir struct {
	fs   *ImageFS
	node *DirNode
	path string
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)

	a.Mode = os.ModeDir | 0555
	a.Mtime = d.node.ModTime()
	a.Atime = d.node.ModTime()
	a.Ctime = d.node.ModTime()
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Trace("Looking up %q in directory %q", name, d.path)

	child, ok := d.node.Child(name)
	if !ok {
		dirLogger.Trace("Path not found: %q", path.Join(d.path, name))
		return nil, ToFuseError(NewError(OpLookup, path.Join(d.path, name), ErrPathNotFound))
	}

	childPath := path.Join(d.path, name)
	switch node := child.(type) {
	case *DirNode:
		return &Dir{fs: d.fs, node: node, path: childPath}, nil
	case *FileNode:
		return &File{fs: d.fs, node: node, path: childPath}, nil
	default:
		return nil, ToFuseError(NewError(OpLookup, childPath, ErrPathNotFound))
	}
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory
// contents. The tree is immutable for the session, so re-listing yields the
// same set in the same insertion order.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Trace("Reading directory contents: %q", d.path)

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}

	for _, child := range d.node.Entries() {
		kind := fuse.DT_File
		if _, isDir := child.(*DirNode); isDir {
			kind = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{
			Name: child.Name(),
			Type: kind,
		})
	}

	dirLogger.Trace("Directory %q contains %d entries", d.path, len(entries))
	return entries, nil
}
