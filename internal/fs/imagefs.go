package fs

import (
	"io"
	"os"

	"appack/internal/logging"

	fusefs "bazil.org/fuse/fs"
)

var (
	imageLogger = logging.GetLogger().WithPrefix("imagefs")
)

// ImageFS serves the contents of a mounted application image. It answers
// FUSE queries from the directory tree and decompresses entry data on
// demand from the underlying image file.
type ImageFS struct {
	archive io.ReaderAt // the image file, including the stub prefix
	tree    *Tree       // immutable once published
	uid     uint32      // owner reported for every node
	gid     uint32
}

// NewImageFS creates a filesystem over an image's archive bytes and its
// parsed directory tree.
func NewImageFS(archive io.ReaderAt, tree *Tree) *ImageFS {
	imageLogger.Debug("Creating image filesystem")
	return &ImageFS{
		archive: archive,
		tree:    tree,
		uid:     safeIntToUint32(os.Getuid()),
		gid:     safeIntToUint32(os.Getgid()),
	}
}

// Tree returns the directory tree backing the filesystem.
func (ifs *ImageFS) Tree() *Tree {
	return ifs.tree
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (ifs *ImageFS) Root() (fusefs.Node, error) {
	imageLogger.Trace("Getting root directory node")
	return &Dir{
		fs:   ifs,
		node: ifs.tree.Root(),
		path: "/",
	}, nil
}
