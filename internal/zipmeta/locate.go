package zipmeta

import (
	"encoding/binary"
	"fmt"
	"io"

	"appack/internal/logging"
)

var (
	locateLogger = logging.GetLogger().WithPrefix("locate")
)

// Payload describes a Zip archive found at the tail of a file.
type Payload struct {
	// Start is the file offset where the archive begins. For an image
	// whose offsets were rebased at build time this is zero, since the
	// stored offsets are already absolute; for a raw archive appended
	// without rebasing it equals the prefix length.
	Start int64

	// Length is the archive length in bytes, measured from Start to the
	// end of the file.
	Length int64

	// EntryCount is the number of central directory entries recorded in
	// the end record.
	EntryCount int
}

// Locate finds the Zip payload appended to a file by scanning the trailing
// window for the end-of-central-directory record. The archive describes its
// own extent: the end record holds the central directory offset and size,
// and everything from directory start minus stored offset backwards belongs
// to the prefix. No compiled-in stub length is consulted, so a stripped or
// padded stub cannot drift out of sync with its payload.
//
// Returns ErrNotAPolyglot when no valid end record exists in the window,
// which is the case for a bare stub with nothing appended.
func Locate(r io.ReaderAt, size int64) (*Payload, error) {
	tailLen := int64(maxTailScan)
	if tailLen > size {
		tailLen = size
	}
	if tailLen < eocdFixedLen {
		return nil, NewError("locate", "", ErrNotAPolyglot)
	}

	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil {
		return nil, NewError("locate", "", err)
	}

	pos, ok := findEndRecord(tail)
	if !ok {
		return nil, NewError("locate", "", ErrNotAPolyglot)
	}

	dirSize := int64(binary.LittleEndian.Uint32(tail[pos+12:]))
	dirOffset := int64(binary.LittleEndian.Uint32(tail[pos+16:]))
	entryCount := int(binary.LittleEndian.Uint16(tail[pos+10:]))

	endRecordStart := size - tailLen + int64(pos)
	start := endRecordStart - dirSize - dirOffset
	if start < 0 {
		return nil, NewError("locate", "",
			fmt.Errorf("%w: directory extends past start of file", ErrNotAPolyglot))
	}

	locateLogger.Debug("Payload at %d, %d bytes, %d entries",
		start, size-start, entryCount)

	return &Payload{
		Start:      start,
		Length:     size - start,
		EntryCount: entryCount,
	}, nil
}
