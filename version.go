package iscab

// Signature and version related declarations.

// cabSignature is the little-endian u32 at offset 0 of every volume,
// ASCII "ISc(".
const cabSignature = 0x28635349

// Supported cabinet versions. Newer unicode dialects and the ancient
// IS3 layout fall outside this range.
const (
	minVersion = 5
	maxVersion = 13
)

// decodeVersion derives the cabinet version from the magic bytes that
// follow the signature. Two encodings exist in the wild: when the top
// byte is 1 the version sits in bits 12-15, otherwise the low half is
// the version times 100. A zero result means a version-5 cabinet that
// predates the field.
func decodeVersion(magic uint32) int {
	var v int
	if magic>>24 == 1 {
		v = int((magic >> 12) & 0xf)
	} else {
		v = int(magic&0xffff) / 100
	}
	if v == 0 {
		v = 5
	}
	return v
}

// File entry flag bits as stored in the file table. FlagSplit may also
// be synthesized by the loader for v<6 cabinets.
const (
	FlagSplit      uint16 = 1 << 0
	FlagObfuscated uint16 = 1 << 1
	FlagCompressed uint16 = 1 << 2
	FlagInvalid    uint16 = 1 << 3
)
