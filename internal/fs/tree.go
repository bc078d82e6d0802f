package fs

import (
	"archive/zip"
	"fmt"
	"os"
	"strings"
	"time"

	"appack/internal/logging"
)

var (
	treeLogger = logging.GetLogger().WithPrefix("tree")
)

// Span locates an entry's compressed bytes within the image file as an
// absolute offset plus length.
type Span struct {
	Offset int64
	Length int64
}

// TreeNode is a node in the directory tree, either *DirNode or *FileNode.
// The tree is built once per mount and never mutated afterwards, so
// lookups and listings need no locking.
type TreeNode interface {
	Name() string
	ModTime() time.Time
}

// DirNode is a directory in the image. Children keep insertion order so
// repeated listings within one mount are stable.
type DirNode struct {
	name     string
	modTime  time.Time
	children map[string]TreeNode
	order    []string
}

func newDirNode(name string, modTime time.Time) *DirNode {
	return &DirNode{
		name:     name,
		modTime:  modTime,
		children: make(map[string]TreeNode),
	}
}

// Name returns the node's name within its parent directory
func (d *DirNode) Name() string { return d.name }

// ModTime returns the directory's modification time
func (d *DirNode) ModTime() time.Time { return d.modTime }

// Child returns the named child node, if present
func (d *DirNode) Child(name string) (TreeNode, bool) {
	child, ok := d.children[name]
	return child, ok
}

// Entries returns the children in insertion order
func (d *DirNode) Entries() []TreeNode {
	entries := make([]TreeNode, 0, len(d.order))
	for _, name := range d.order {
		entries = append(entries, d.children[name])
	}
	return entries
}

func (d *DirNode) insert(name string, node TreeNode) {
	if _, exists := d.children[name]; !exists {
		d.order = append(d.order, name)
	}
	d.children[name] = node
}

// FileNode is a regular file in the image with its compressed span.
type FileNode struct {
	name    string
	size    uint64
	mode    os.FileMode
	modTime time.Time
	method  uint16
	span    Span
}

// Name returns the node's name within its parent directory
func (f *FileNode) Name() string { return f.name }

// ModTime returns the file's modification time
func (f *FileNode) ModTime() time.Time { return f.modTime }

// Size returns the uncompressed length in bytes
func (f *FileNode) Size() uint64 { return f.size }

// Mode returns the permission bits recorded in the archive
func (f *FileNode) Mode() os.FileMode { return f.mode }

// Method returns the Zip compression method of the entry
func (f *FileNode) Method() uint16 { return f.method }

// Span returns the absolute location of the compressed bytes
func (f *FileNode) Span() Span { return f.span }

// Tree is the in-memory hierarchical view of the image contents.
type Tree struct {
	root *DirNode
}

// Root returns the root directory node
func (t *Tree) Root() *DirNode { return t.root }

// Lookup resolves a slash-separated path relative to the root.
func (t *Tree) Lookup(path string) (TreeNode, error) {
	node := TreeNode(t.root)
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		dir, ok := node.(*DirNode)
		if !ok {
			return nil, NewError(OpLookup, path, ErrPathNotFound)
		}
		child, ok := dir.Child(seg)
		if !ok {
			return nil, NewError(OpLookup, path, ErrPathNotFound)
		}
		node = child
	}
	return node, nil
}

// splitEntryPath validates an archive entry name and splits it into path
// segments. Entries that try to escape the tree root are rejected, never
// sanitized: a traversal name silently rewritten could still end up
// shadowing a real path inside the mount.
func splitEntryPath(name string) ([]string, error) {
	if strings.HasPrefix(name, "/") {
		return nil, NewError(OpBuild, name, ErrUnsafePath)
	}

	trimmed := strings.TrimSuffix(name, "/")
	if trimmed == "" {
		return nil, NewError(OpBuild, name, ErrUnsafePath)
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return nil, NewError(OpBuild, name, ErrUnsafePath)
		}
	}
	return segments, nil
}

// epochFallback substitutes the Unix epoch for entries carrying no usable
// timestamp, so attributes stay constant across mounts.
func epochFallback(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0)
	}
	return t
}

// BuildTree parses the archive's central directory entries into a tree.
// Directories implied only by file paths are synthesized with default
// attributes; explicit directory records (trailing slash) refresh the
// synthesized node's metadata.
func BuildTree(files []*zip.File) (*Tree, error) {
	root := newDirNode("", time.Unix(0, 0))
	tree := &Tree{root: root}

	for _, f := range files {
		segments, err := splitEntryPath(f.Name)
		if err != nil {
			return nil, err
		}

		isDir := strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
		modTime := epochFallback(f.Modified)

		// Walk/synthesize the parent chain.
		dir := root
		parents := segments
		if !isDir {
			parents = segments[:len(segments)-1]
		}
		for _, seg := range parents {
			child, ok := dir.Child(seg)
			if !ok {
				next := newDirNode(seg, modTime)
				dir.insert(seg, next)
				dir = next
				continue
			}
			sub, ok := child.(*DirNode)
			if !ok {
				return nil, NewError(OpBuild, f.Name,
					fmt.Errorf("path segment %q already exists as a file", seg))
			}
			dir = sub
		}

		if isDir {
			dir.modTime = modTime
			continue
		}

		offset, err := f.DataOffset()
		if err != nil {
			return nil, NewError(OpBuild, f.Name, err)
		}

		leaf := segments[len(segments)-1]
		dir.insert(leaf, &FileNode{
			name:    leaf,
			size:    f.UncompressedSize64,
			mode:    f.Mode(),
			modTime: modTime,
			method:  f.Method,
			span: Span{
				Offset: offset,
				Length: int64(f.CompressedSize64),
			},
		})
		treeLogger.Trace("Added entry %q (%d bytes, method %d)",
			f.Name, f.UncompressedSize64, f.Method)
	}

	return tree, nil
}
