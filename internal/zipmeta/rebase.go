// Package zipmeta works with the raw Zip container structures that the
// archive/zip codec does not expose: the end-of-central-directory record,
// the central directory entry offsets, and the location of an archive
// appended to the end of another file.
package zipmeta

import (
	"encoding/binary"
	"fmt"
	"math"

	"appack/internal/logging"
)

var (
	rebaseLogger = logging.GetLogger().WithPrefix("rebase")
)

const (
	// Signatures as they appear in the file (little endian).
	eocdSignature        = 0x06054b50
	centralDirSignature  = 0x02014b50
	localHeaderSignature = 0x04034b50

	// Fixed portion sizes of the container records.
	eocdFixedLen       = 22
	centralDirFixedLen = 46
	localHeaderLen     = 30

	// A Zip archive may end with a comment of at most 64 KiB - 1 bytes,
	// so the end record can start at most this far from the end.
	maxCommentLen = math.MaxUint16
	maxTailScan   = eocdFixedLen + maxCommentLen
)

// findEndRecord scans backward over the trailing bytes of b for the
// end-of-central-directory signature. A candidate only counts when its
// stored comment length places the end of the record exactly at the end
// of b, which weeds out signature bytes occurring inside entry data.
func findEndRecord(b []byte) (int, bool) {
	if len(b) < eocdFixedLen {
		return 0, false
	}

	low := len(b) - maxTailScan
	if low < 0 {
		low = 0
	}

	for pos := len(b) - eocdFixedLen; pos >= low; pos-- {
		if binary.LittleEndian.Uint32(b[pos:]) != eocdSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(b[pos+20:]))
		if pos+eocdFixedLen+commentLen == len(b) {
			return pos, true
		}
	}
	return 0, false
}

// Rebase patches an archive in place so it stays valid after prefix bytes
// are prepended to it. Exactly one offset field per central directory
// entry (the local header offset) and one in the end record (the central
// directory offset) move; sizes, names and compressed data are untouched,
// so the archive length never changes.
func Rebase(archive []byte, prefix int64) error {
	if prefix < 0 {
		return fmt.Errorf("rebase: negative prefix %d", prefix)
	}

	endPos, ok := findEndRecord(archive)
	if !ok {
		return NewError("rebase", "", ErrMalformedArchive)
	}

	entryCount := int(binary.LittleEndian.Uint16(archive[endPos+10:]))
	dirSize := int64(binary.LittleEndian.Uint32(archive[endPos+12:]))
	dirOffset := int64(binary.LittleEndian.Uint32(archive[endPos+16:]))

	rebaseLogger.Debug("End record at %d: %d entries, directory %d+%d",
		endPos, entryCount, dirOffset, dirSize)

	if dirOffset+dirSize != int64(endPos) {
		return NewError("rebase", "",
			fmt.Errorf("%w: central directory does not abut end record", ErrMalformedArchive))
	}

	// Walk the central directory and shift each local header offset.
	pos := dirOffset
	for i := 0; i < entryCount; i++ {
		if pos+centralDirFixedLen > int64(endPos) {
			return NewError("rebase", "",
				fmt.Errorf("%w: central directory truncated at entry %d", ErrMalformedArchive, i))
		}
		if binary.LittleEndian.Uint32(archive[pos:]) != centralDirSignature {
			return NewError("rebase", "",
				fmt.Errorf("%w: bad central directory signature at entry %d", ErrMalformedArchive, i))
		}

		nameLen := int64(binary.LittleEndian.Uint16(archive[pos+28:]))
		extraLen := int64(binary.LittleEndian.Uint16(archive[pos+30:]))
		commentLen := int64(binary.LittleEndian.Uint16(archive[pos+32:]))

		headerOffset := int64(binary.LittleEndian.Uint32(archive[pos+42:]))
		shifted := headerOffset + prefix
		if shifted > math.MaxUint32 {
			return NewError("rebase", "",
				fmt.Errorf("%w: shifted offset %d exceeds 32 bits", ErrMalformedArchive, shifted))
		}
		binary.LittleEndian.PutUint32(archive[pos+42:], uint32(shifted))

		pos += centralDirFixedLen + nameLen + extraLen + commentLen
	}

	if pos != int64(endPos) {
		return NewError("rebase", "",
			fmt.Errorf("%w: entry count %d does not match directory contents", ErrMalformedArchive, entryCount))
	}

	shiftedDir := dirOffset + prefix
	if shiftedDir > math.MaxUint32 {
		return NewError("rebase", "",
			fmt.Errorf("%w: shifted directory offset %d exceeds 32 bits", ErrMalformedArchive, shiftedDir))
	}
	binary.LittleEndian.PutUint32(archive[endPos+16:], uint32(shiftedDir))

	rebaseLogger.Debug("Rebased %d entries by %d bytes", entryCount, prefix)
	return nil
}
