package iscab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

// encodeHeaderV5 builds the 60-byte version-5 volume header. The
// cabinet descriptor offset is patched in later once the directory has
// been appended.
func encodeHeaderV5(h VolumeHeader) []byte {
	b := make([]byte, 60)
	putU32(b, 0, cabSignature)
	putU32(b, 4, 500) // magic low half: version*100
	putU32(b, 12, h.CabDescriptorOffset)
	putU32(b, 20, h.DataOffset)
	putU32(b, 28, h.FirstFileIndex)
	putU32(b, 32, h.LastFileIndex)
	putU32(b, 36, h.FirstFileOffset)
	putU32(b, 40, h.FirstFileSizeUncompressed)
	putU32(b, 44, h.FirstFileSizeCompressed)
	putU32(b, 48, h.LastFileOffset)
	putU32(b, 52, h.LastFileSizeUncompressed)
	putU32(b, 56, h.LastFileSizeCompressed)
	return b
}

// encodeHeaderV6 builds the 84-byte version-6 header where every
// size-like field is a u64 slot with a zero high half.
func encodeHeaderV6(h VolumeHeader) []byte {
	b := make([]byte, 84)
	putU32(b, 0, cabSignature)
	putU32(b, 4, 600)
	putU32(b, 12, h.CabDescriptorOffset)
	putU32(b, 20, h.DataOffset)
	putU32(b, 28, h.FirstFileIndex)
	putU32(b, 32, h.LastFileIndex)
	putU32(b, 36, h.FirstFileOffset)
	putU32(b, 44, h.FirstFileSizeUncompressed)
	putU32(b, 52, h.FirstFileSizeCompressed)
	putU32(b, 60, h.LastFileOffset)
	putU32(b, 68, h.LastFileSizeUncompressed)
	putU32(b, 76, h.LastFileSizeCompressed)
	return b
}

type dirFile struct {
	name   string
	flags  uint16
	unc    uint32
	comp   uint32
	offset uint32
	volume uint16 // v6 records only
}

// appendV5Directory appends a version-5 cabinet descriptor plus its
// two-level file table to vol and returns the extended volume and the
// descriptor offset. All table offsets are relative to the file table
// base at descriptor+48.
func appendV5Directory(vol []byte, files []dirFile) ([]byte, uint32) {
	cd := uint32(len(vol))
	prefix := make([]byte, 48) // 44-byte prefix + 4 pad so the table sits at +48
	putU32(prefix, 12, 48)     // fileTableOffset
	putU32(prefix, 20, 1)      // fileTableSize
	putU32(prefix, 24, 1)      // fileTableSize2
	putU32(prefix, 28, 0)      // directoryCount
	putU32(prefix, 40, uint32(len(files)))
	vol = append(vol, prefix...)

	table := make([]byte, 4*len(files))
	var recs []byte
	for i, f := range files {
		recOff := len(table) + len(recs)
		putU32(table, 4*i, uint32(recOff))
		rec := make([]byte, fileRecordV5Len)
		nameOff := uint32(recOff + fileRecordV5Len)
		if f.name == "" {
			nameOff = 0
		}
		putU32(rec, 0, nameOff)
		putU16(rec, 8, f.flags)
		putU32(rec, 10, f.unc)
		putU32(rec, 14, f.comp)
		putU32(rec, 38, f.offset)
		recs = append(recs, rec...)
		recs = append(recs, f.name...)
		recs = append(recs, 0)
	}
	vol = append(vol, table...)
	vol = append(vol, recs...)
	putU32(vol, 12, cd)
	return vol, cd
}

// appendV6Directory appends a version-6 descriptor: a name area at the
// file table base followed by the fixed 0x57-byte records.
func appendV6Directory(vol []byte, files []dirFile) ([]byte, uint32) {
	cd := uint32(len(vol))

	names := make([]byte, 4) // keep name offsets nonzero
	nameOffs := make([]uint32, len(files))
	for i, f := range files {
		if f.name == "" {
			continue
		}
		nameOffs[i] = uint32(len(names))
		names = append(names, f.name...)
		names = append(names, 0)
	}
	fto2 := uint32(len(names))

	prefix := make([]byte, 48)
	putU32(prefix, 12, 48) // fileTableOffset
	putU32(prefix, 20, 1)
	putU32(prefix, 24, 1)
	putU32(prefix, 28, 0)
	putU32(prefix, 40, uint32(len(files)))
	putU32(prefix, 44, fto2)
	vol = append(vol, prefix...)
	vol = append(vol, names...)

	for i, f := range files {
		rec := make([]byte, fileRecordV6Len)
		putU16(rec, 0, f.flags)
		putU32(rec, 2, f.unc)
		putU32(rec, 10, f.comp)
		putU32(rec, 18, f.offset)
		putU32(rec, 58, nameOffs[i])
		putU16(rec, 85, f.volume)
		vol = append(vol, rec...)
	}
	putU32(vol, 12, cd)
	return vol, cd
}

// writeVolumes writes each volume as <base><i+1>.cab under a temp dir
// and returns the base path.
func writeVolumes(t *testing.T, vols ...[]byte) string {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "data")
	for i, v := range vols {
		p := fmt.Sprintf("%s%d.cab", base, i+1)
		require.NoError(t, os.WriteFile(p, v, 0o644))
	}
	return base
}

// pattern produces n deterministic, poorly-compressible bytes.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*131) ^ byte(i>>7)
	}
	return b
}

// deflateWhole compresses p into one complete raw DEFLATE stream
// (final block present, no trailing sync marker).
func deflateWhole(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// deflateFlushed compresses p into a raw DEFLATE stream terminated by
// a sync flush, so the blob ends with the 00 00 FF FF marker.
func deflateFlushed(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

// chunkedDeflate frames each piece as (u16 length, complete DEFLATE
// stream), the chunked dialect used for compressed cabinet entries.
func chunkedDeflate(t *testing.T, pieces ...[]byte) []byte {
	t.Helper()
	var out []byte
	for _, p := range pieces {
		blob := deflateWhole(t, p)
		var lenb [2]byte
		putU16(lenb[:], 0, uint16(len(blob)))
		out = append(out, lenb[:]...)
		out = append(out, blob...)
	}
	// A chunk sequence must not masquerade as a sync-flushed stream.
	require.False(t, len(out) >= 4 && bytes.Equal(out[len(out)-4:], []byte{0x00, 0x00, 0xFF, 0xFF}))
	return out
}

// collectWarns appends formatted warnings to dst.
func collectWarns(dst *[]string) Option {
	return WithWarn(func(format string, args ...any) {
		*dst = append(*dst, fmt.Sprintf(format, args...))
	})
}

// memFile adapts an in-memory buffer to the File interface.
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func openBytes(b []byte) File { return memFile{bytes.NewReader(b)} }
