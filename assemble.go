package iscab

import (
	"fmt"
	"io"
)

// assembleSplit concatenates the compressed bytes of a split entry:
// the trailing chunk of its starting volume, then the leading chunk of
// each successor volume until compressedSize bytes are accumulated.
func (c *Cabinet) assembleSplit(entry FileEntry) ([]byte, error) {
	buf := make([]byte, entry.CompressedSize)

	vol := entry.Volume
	head, err := c.volumeChunk(vol, int64(entry.Offset), c.volumes[vol-1].LastFileSizeCompressed, buf)
	if err != nil {
		return nil, err
	}
	read := head

	for read < len(buf) {
		vol++
		if vol > len(c.volumes) {
			c.warn("failed to read split file %s", entry.Name)
			return nil, fmt.Errorf("%w: %s continues past volume %d", ErrVolumeMissing, entry.Name, vol-1)
		}
		hdr := c.volumes[vol-1]
		n, err := c.volumeChunk(vol, int64(hdr.FirstFileOffset), hdr.FirstFileSizeCompressed, buf[read:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s: volume %d contributes no data", ErrTruncatedArchive, entry.Name, vol)
		}
		read += n
	}
	return buf, nil
}

// volumeChunk opens volume vol and reads size bytes at off into dst,
// clamped to the destination so the declared chunk of the final volume
// cannot run past compressedSize. The volume handle is released before
// returning.
func (c *Cabinet) volumeChunk(vol int, off int64, size uint32, dst []byte) (int, error) {
	name := c.volumeName(vol)
	f, err := c.fsys.Open(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrVolumeMissing, name)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrTruncatedArchive, name, err)
	}
	n := int(size)
	if n > len(dst) {
		n = len(dst)
	}
	if _, err := io.ReadFull(f, dst[:n]); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrTruncatedArchive, name, err)
	}
	return n, nil
}

// readWhole reads the compressedSize bytes of a non-split entry from
// its starting volume.
func (c *Cabinet) readWhole(entry FileEntry) ([]byte, error) {
	buf := make([]byte, entry.CompressedSize)
	if _, err := c.volumeChunk(entry.Volume, int64(entry.Offset), entry.CompressedSize, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
