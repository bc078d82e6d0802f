package fs

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"sync"

	"appack/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/klauspost/compress/flate"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File represents a regular file in the mounted image.
type File struct {
	fs   *ImageFS
	node *FileNode
	path string
}

// Attr implements the Node interface, returning the file's attributes.
// Write bits are always stripped; execute and read bits recorded in the
// archive survive so the entry point stays runnable.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path)

	mode := f.node.Mode() & 0777
	if mode == 0 {
		mode = 0444
	}
	a.Mode = mode &^ 0222
	a.Size = f.node.Size()
	a.Mtime = f.node.ModTime()
	a.Atime = f.node.ModTime()
	a.Ctime = f.node.ModTime()
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = (f.node.Size() + 511) / 512

	fileLogger.Trace("File attributes: mode=%v, size=%d, mtime=%v",
		a.Mode, a.Size, a.Mtime)
	return nil
}

// Open implements the NodeOpener interface. Each open gets its own handle
// with its own decompression cursor, so concurrent reads on different
// files (or different opens of the same file) never block each other.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening file %q with flags %v", f.path, flags)

	// Enforce read-only access
	if flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 {
		fileLogger.Warn("Attempted write access to read-only file: %q", f.path)
		return nil, ToFuseError(NewError(OpOpen, f.path, ErrReadOnly))
	}

	resp.Flags |= fuse.OpenKeepCache

	return &FileHandle{
		archive: f.fs.archive,
		node:    f.node,
		path:    f.path,
	}, nil
}

// FileHandle is an open file with its own decompression state. The cursor
// (stream + bytes consumed) is explicit per handle, and fh.mu serializes
// reads on the handle to keep it consistent; a read at an offset behind
// the cursor restarts the stream from the entry's first compressed byte.
type FileHandle struct {
	archive io.ReaderAt
	node    *FileNode
	path    string

	mu       sync.Mutex
	stream   io.ReadCloser // active deflate stream, nil until first read
	consumed int64         // uncompressed bytes consumed from stream
}

// Read implements the HandleReader interface. Stored entries are read
// straight out of the archive at the requested offset; deflated entries
// go through the handle's cursor.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from file %q at offset %d",
		req.Size, fh.path, req.Offset)

	size := int64(req.Size)
	if req.Offset >= int64(fh.node.Size()) {
		resp.Data = nil
		return nil
	}
	if remaining := int64(fh.node.Size()) - req.Offset; size > remaining {
		size = remaining
	}

	var (
		data []byte
		err  error
	)
	switch fh.node.Method() {
	case zip.Store:
		data, err = fh.readStored(req.Offset, size)
	case zip.Deflate:
		data, err = fh.readDeflated(req.Offset, size)
	default:
		err = NewError(OpRead, fh.path, ErrUnsupportedMethod)
	}
	if err != nil {
		fileLogger.Error("Read failed for %q: %v", fh.path, err)
		return ToFuseError(err)
	}

	resp.Data = data
	fileLogger.Trace("Successfully read %d bytes", len(data))
	return nil
}

// readStored serves true random-access reads directly from the archive
// bytes; no cursor is involved.
func (fh *FileHandle) readStored(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := fh.archive.ReadAt(buf, fh.node.Span().Offset+offset)
	if err != nil && err != io.EOF {
		return nil, NewError(OpRead, fh.path, err)
	}
	return buf[:n], nil
}

// readDeflated advances the handle's cursor monotonically for sequential
// reads and rewinds it by restarting the stream when the caller seeks
// backwards. Deflate streams are not seekable, so that restart is the
// only correct way to serve an earlier offset.
func (fh *FileHandle) readDeflated(offset, size int64) ([]byte, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.stream == nil || offset < fh.consumed {
		if fh.stream != nil {
			fh.stream.Close()
		}
		span := fh.node.Span()
		fh.stream = flate.NewReader(io.NewSectionReader(fh.archive, span.Offset, span.Length))
		fh.consumed = 0
	}

	if offset > fh.consumed {
		if _, err := io.CopyN(io.Discard, fh.stream, offset-fh.consumed); err != nil {
			return nil, NewError(OpRead, fh.path, ErrCorruptEntry)
		}
		fh.consumed = offset
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(fh.stream, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, NewError(OpRead, fh.path, ErrCorruptEntry)
	}
	fh.consumed += int64(n)
	return buf[:n], nil
}

// Release implements the HandleReleaser interface, closing the handle's
// decompression stream.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing file %q", fh.path)
	if fh.stream != nil {
		err := fh.stream.Close()
		fh.stream = nil
		return err
	}
	return nil
}
