// internal/fs/interfaces.go

package fs

import (
	fusefs "bazil.org/fuse/fs"
)

// Compile-time checks that the node types satisfy the FUSE interfaces the
// bridge relies on.
var (
	_ fusefs.FS                 = (*ImageFS)(nil)
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
	_ fusefs.Node               = (*File)(nil)
	_ fusefs.NodeOpener         = (*File)(nil)
	_ fusefs.Handle             = (*FileHandle)(nil)
	_ fusefs.HandleReader       = (*FileHandle)(nil)
	_ fusefs.HandleReleaser     = (*FileHandle)(nil)
)
