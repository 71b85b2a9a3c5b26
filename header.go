package iscab

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Volume header sizes past the 20-byte common prefix.
const (
	headerCommonLen = 20
	headerTailV5Len = 40 // ten contiguous u32 fields
	headerTailV6Len = 64 // sixteen u32 slots, size fields carry a discarded high half
)

// readVolumeHeader parses the header at the start of a volume source.
// All integers are little-endian.
func readVolumeHeader(f File) (VolumeHeader, error) {
	var hdr VolumeHeader
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return hdr, err
	}

	var common [headerCommonLen]byte
	if _, err := io.ReadFull(f, common[:]); err != nil {
		return hdr, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if sig := binary.LittleEndian.Uint32(common[0:4]); sig != cabSignature {
		return hdr, fmt.Errorf("%w: got %#x", ErrBadSignature, sig)
	}

	magic := binary.LittleEndian.Uint32(common[4:8])
	hdr.Version = decodeVersion(magic)
	if hdr.Version < minVersion || hdr.Version > maxVersion {
		return hdr, fmt.Errorf("%w: version %d, magic bytes %#08x", ErrUnsupportedVersion, hdr.Version, magic)
	}

	// common[8:12] is volumeInfo, common[16:20] is cabDescriptorSize;
	// neither is needed to locate anything.
	hdr.CabDescriptorOffset = binary.LittleEndian.Uint32(common[12:16])

	if hdr.Version == 5 {
		var tail [headerTailV5Len]byte
		if _, err := io.ReadFull(f, tail[:]); err != nil {
			return hdr, fmt.Errorf("%w: volume header: %v", ErrTruncatedArchive, err)
		}
		hdr.DataOffset = binary.LittleEndian.Uint32(tail[0:4])
		hdr.FirstFileIndex = binary.LittleEndian.Uint32(tail[8:12])
		hdr.LastFileIndex = binary.LittleEndian.Uint32(tail[12:16])
		hdr.FirstFileOffset = binary.LittleEndian.Uint32(tail[16:20])
		hdr.FirstFileSizeUncompressed = binary.LittleEndian.Uint32(tail[20:24])
		hdr.FirstFileSizeCompressed = binary.LittleEndian.Uint32(tail[24:28])
		hdr.LastFileOffset = binary.LittleEndian.Uint32(tail[28:32])
		hdr.LastFileSizeUncompressed = binary.LittleEndian.Uint32(tail[32:36])
		hdr.LastFileSizeCompressed = binary.LittleEndian.Uint32(tail[36:40])
		return hdr, nil
	}

	// v6 and later promote the offset/size fields to u64; only the low
	// halves are meaningful for the volume sizes these cabinets reach.
	var tail [headerTailV6Len]byte
	if _, err := io.ReadFull(f, tail[:]); err != nil {
		return hdr, fmt.Errorf("%w: volume header: %v", ErrTruncatedArchive, err)
	}
	hdr.DataOffset = binary.LittleEndian.Uint32(tail[0:4])
	hdr.FirstFileIndex = binary.LittleEndian.Uint32(tail[8:12])
	hdr.LastFileIndex = binary.LittleEndian.Uint32(tail[12:16])
	hdr.FirstFileOffset = binary.LittleEndian.Uint32(tail[16:20])
	hdr.FirstFileSizeUncompressed = binary.LittleEndian.Uint32(tail[24:28])
	hdr.FirstFileSizeCompressed = binary.LittleEndian.Uint32(tail[32:36])
	hdr.LastFileOffset = binary.LittleEndian.Uint32(tail[40:44])
	hdr.LastFileSizeUncompressed = binary.LittleEndian.Uint32(tail[48:52])
	hdr.LastFileSizeCompressed = binary.LittleEndian.Uint32(tail[56:60])
	return hdr, nil
}
