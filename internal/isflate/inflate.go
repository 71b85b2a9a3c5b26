// Package isflate drives the InstallShield variant of headerless
// DEFLATE: either one monolithic raw stream ending in a sync marker, or
// a sequence of (u16 length, raw DEFLATE blob) chunks, each chunk an
// independently decodable stream.
package isflate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// syncMarker is the big-endian view of the DEFLATE sync flush trailer
// (00 00 FF FF). A source ending in it is a single headerless stream
// rather than a chunk sequence.
const syncMarker = 0x0000FFFF

// Inflate decompresses src into dst, which must be sized to the
// declared uncompressed length. The destination may be left short when
// the source is exhausted early; the caller decides whether to trust
// the declared length. It fails on corrupt DEFLATE data and on chunk
// framing that runs past the end of src.
func Inflate(dst, src []byte) error {
	if len(src) >= 4 && binary.BigEndian.Uint32(src[len(src)-4:]) == syncMarker {
		_, err := headerless(dst, src)
		return err
	}

	read, written := 0, 0
	for written < len(dst) && read < len(src) {
		if read+2 > len(src) {
			return fmt.Errorf("chunk length truncated at byte %d", read)
		}
		chunkSize := int(binary.LittleEndian.Uint16(src[read:]))
		read += 2
		if read+chunkSize > len(src) {
			return fmt.Errorf("chunk of %d bytes overruns source at byte %d", chunkSize, read)
		}
		n, err := headerless(dst[written:], src[read:read+chunkSize])
		if err != nil {
			return err
		}
		written += n
		read += chunkSize
	}
	return nil
}

// headerless inflates one raw DEFLATE stream into dst and reports the
// bytes produced. InstallShield streams end at a sync flush with no
// final block, so running out of input once data has been recovered is
// normal termination, not corruption.
func headerless(dst, src []byte) (int, error) {
	fr := flate.NewReader(bytes.NewReader(src))
	defer func() { _ = fr.Close() }()

	written := 0
	for written < len(dst) {
		n, err := fr.Read(dst[written:])
		written += n
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return written, err
		}
	}
	return written, nil
}
