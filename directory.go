package iscab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	descriptorPrefixLen = 44
	fileRecordV6Len     = 0x57
	fileRecordV5Len     = 42

	// Bounds against runaway reads on malformed descriptors.
	maxTableEntries = 1 << 20
	maxNameLen      = 4096
)

// loadDirectory reads the cabinet descriptor from the header source and
// populates the name map. The header source is the .hdr volume when
// present, else volume 1.
func (c *Cabinet) loadDirectory(f File) error {
	hdr, err := readVolumeHeader(f)
	if err != nil {
		return err
	}
	c.version = hdr.Version

	if _, err := f.Seek(int64(hdr.CabDescriptorOffset), io.SeekStart); err != nil {
		return fmt.Errorf("%w: cab descriptor: %v", ErrTruncatedArchive, err)
	}
	var desc [descriptorPrefixLen]byte
	if _, err := io.ReadFull(f, desc[:]); err != nil {
		return fmt.Errorf("%w: cab descriptor: %v", ErrTruncatedArchive, err)
	}
	fileTableOffset := binary.LittleEndian.Uint32(desc[12:16])
	fileTableSize := binary.LittleEndian.Uint32(desc[20:24])
	fileTableSize2 := binary.LittleEndian.Uint32(desc[24:28])
	directoryCount := binary.LittleEndian.Uint32(desc[28:32])
	fileCount := binary.LittleEndian.Uint32(desc[40:44])

	if fileTableSize != fileTableSize2 {
		c.warn("file table sizes do not match (%d != %d)", fileTableSize, fileTableSize2)
	}
	if uint64(directoryCount)+uint64(fileCount) > maxTableEntries {
		return fmt.Errorf("%w: implausible file table (%d directories, %d files)",
			ErrTruncatedArchive, directoryCount, fileCount)
	}

	// File groups and components are not needed to address file data.
	fileTableBase := int64(hdr.CabDescriptorOffset) + int64(fileTableOffset)

	if c.version >= 6 {
		var fto2 [4]byte
		if _, err := io.ReadFull(f, fto2[:]); err != nil {
			return fmt.Errorf("%w: cab descriptor: %v", ErrTruncatedArchive, err)
		}
		return c.loadFileTableV6(f, fileTableBase, binary.LittleEndian.Uint32(fto2[:]), fileCount)
	}
	return c.loadFileTableV5(f, fileTableBase, directoryCount, fileCount)
}

// loadFileTableV6 walks the fixed-size 0x57-byte records of a v>=6
// cabinet. Each record names its starting volume directly.
func (c *Cabinet) loadFileTableV6(f File, tableBase int64, recordsOffset uint32, fileCount uint32) error {
	var rec [fileRecordV6Len]byte
	for j := uint32(0); j < fileCount; j++ {
		pos := tableBase + int64(recordsOffset) + int64(j)*fileRecordV6Len
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return fmt.Errorf("%w: file record %d: %v", ErrTruncatedArchive, j, err)
		}
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			return fmt.Errorf("%w: file record %d: %v", ErrTruncatedArchive, j, err)
		}

		entry := FileEntry{
			Flags:            binary.LittleEndian.Uint16(rec[0:2]),
			UncompressedSize: binary.LittleEndian.Uint32(rec[2:6]),
			CompressedSize:   binary.LittleEndian.Uint32(rec[10:14]),
			Offset:           binary.LittleEndian.Uint32(rec[18:22]),
			Volume:           int(binary.LittleEndian.Uint16(rec[85:87])),
		}
		nameOffset := binary.LittleEndian.Uint32(rec[58:62])
		// rec[62:64] directory index, rec[76:85] link fields: unused.

		if nameOffset == 0 || entry.Offset == 0 || entry.Flags&FlagInvalid != 0 {
			continue
		}

		name, err := c.readName(f, tableBase+int64(nameOffset))
		if err != nil {
			return err
		}
		entry.Name = name
		c.insert(entry)
	}
	return nil
}

// loadFileTableV5 walks the two-level table of a v5 cabinet: an offset
// table of directoryCount+fileCount u32s, whose file slice points at
// variable-position records. The starting volume is not stored; it is
// recovered from the per-volume file index ranges, and split entries
// are synthesized from the volume geometry.
func (c *Cabinet) loadFileTableV5(f File, tableBase int64, directoryCount, fileCount uint32) error {
	if _, err := f.Seek(tableBase, io.SeekStart); err != nil {
		return fmt.Errorf("%w: file table: %v", ErrTruncatedArchive, err)
	}
	tableCount := directoryCount + fileCount
	raw := make([]byte, 4*tableCount)
	if _, err := io.ReadFull(f, raw); err != nil {
		return fmt.Errorf("%w: file table: %v", ErrTruncatedArchive, err)
	}
	offsets := make([]uint32, tableCount)
	for j := range offsets {
		offsets[j] = binary.LittleEndian.Uint32(raw[4*j:])
	}

	fileIndex := uint32(0)
	var rec [fileRecordV5Len]byte
	for j := directoryCount; j < tableCount; j++ {
		if _, err := f.Seek(tableBase+int64(offsets[j]), io.SeekStart); err != nil {
			return fmt.Errorf("%w: file record %d: %v", ErrTruncatedArchive, j, err)
		}
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			return fmt.Errorf("%w: file record %d: %v", ErrTruncatedArchive, j, err)
		}

		nameOffset := binary.LittleEndian.Uint32(rec[0:4])
		// rec[4:8] directory index: unused.
		entry := FileEntry{
			Flags:            binary.LittleEndian.Uint16(rec[8:10]),
			UncompressedSize: binary.LittleEndian.Uint32(rec[10:14]),
			CompressedSize:   binary.LittleEndian.Uint32(rec[14:18]),
			Offset:           binary.LittleEndian.Uint32(rec[38:42]),
		}

		if nameOffset == 0 || entry.Offset == 0 || entry.Flags&FlagInvalid != 0 {
			continue
		}

		// Locate the starting volume and detect files continuing past
		// its end. A last file whose declared size matches the volume's
		// trailing chunk is whole; anything else continues next volume.
		for i, vol := range c.volumes {
			if fileIndex < vol.FirstFileIndex || fileIndex > vol.LastFileIndex {
				continue
			}
			entry.Volume = i + 1
			if fileIndex == vol.LastFileIndex &&
				entry.CompressedSize != vol.LastFileSizeCompressed &&
				vol.LastFileSizeCompressed != 0 {
				entry.Flags |= FlagSplit
			}
			break
		}

		name, err := c.readName(f, tableBase+int64(nameOffset))
		if err != nil {
			return err
		}
		entry.Name = name

		if entry.Volume == 0 {
			c.warn("couldn't find the volume for file %s", name)
			return fmt.Errorf("%w: no volume holds %s", ErrVolumeMissing, name)
		}

		fileIndex++
		c.insert(entry)
	}
	return nil
}

// readName reads the NUL-terminated path string at pos in the name
// area, bounded so a malformed offset cannot trigger a runaway read.
func (c *Cabinet) readName(f File, pos int64) (string, error) {
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: file name: %v", ErrTruncatedArchive, err)
	}
	name := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	for len(name) < maxNameLen {
		n, err := f.Read(chunk)
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			return string(append(name, chunk[:i]...)), nil
		}
		name = append(name, chunk[:n]...)
		if err != nil {
			return "", fmt.Errorf("%w: file name: %v", ErrTruncatedArchive, err)
		}
	}
	return "", fmt.Errorf("%w: unterminated file name", ErrTruncatedArchive)
}

// insert adds an entry under the lowest-volume-wins rule: entries can
// appear in multiple volumes (sometimes erroneously), and the one with
// the lowest starting volume is kept.
func (c *Cabinet) insert(entry FileEntry) {
	key := mapKey(entry.Name)
	if old, ok := c.entries[key]; ok && old.Volume <= entry.Volume {
		return
	}
	c.entries[key] = entry
}
