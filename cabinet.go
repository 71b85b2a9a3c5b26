// Package iscab reads InstallShield cabinet archives (versions 5-13):
// one or more <base>N.cab volumes, optionally fronted by a <base>1.hdr
// directory file. It resolves case-insensitive member paths to
// decompressed byte streams, reassembling files split across volumes.
//
// Obfuscated entries are detected but not decrypted.
package iscab

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/isetools/iscab/internal/isflate"
)

// WarnFunc receives non-fatal diagnostics in printf form.
type WarnFunc func(format string, args ...any)

// Option configures a Cabinet before it is opened.
type Option func(*Cabinet)

// WithWarn redirects non-fatal diagnostics. The default sink is the
// standard logger.
func WithWarn(w WarnFunc) Option {
	return func(c *Cabinet) { c.warn = w }
}

// Cabinet is an opened InstallShield archive. Open and OpenFS are the
// ways to obtain one; after Close all queries report absence. Open and Close
// must not race; Has, List, Member and OpenStream are safe for
// concurrent readers, each OpenStream owning its own volume handles.
type Cabinet struct {
	fsys     FileSystem
	warn     WarnFunc
	baseName string
	version  int
	volumes  []VolumeHeader
	entries  map[string]FileEntry
}

// Open opens the archive identified by baseName on the process
// filesystem. A trailing ".cab" or ".hdr" extension (and the volume
// digit before it) is stripped from baseName first.
func Open(baseName string, opts ...Option) (*Cabinet, error) {
	return OpenFS(defaultFS, baseName, opts...)
}

// OpenFS works like Open against a caller-provided FileSystem, useful
// for archives nested in other containers or for in-memory tests.
// Errors leave no open handles behind; the returned Cabinet retains
// none either.
func OpenFS(fsys FileSystem, baseName string, opts ...Option) (*Cabinet, error) {
	c := &Cabinet{
		fsys:     fsys,
		warn:     log.Printf,
		baseName: stripVolumeSuffix(baseName),
		entries:  make(map[string]FileEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.loadVolumes(); err != nil {
		return nil, err
	}

	f, err := c.fsys.Open(c.headerName())
	if err != nil {
		// No header file; the file list lives in the first volume.
		if f, err = c.fsys.Open(c.volumeName(1)); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrVolumeMissing, c.volumeName(1))
		}
	}
	defer func() { _ = f.Close() }()

	if err := c.loadDirectory(f); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the directory. It is idempotent; a closed Cabinet
// answers every query with absence.
func (c *Cabinet) Close() {
	c.baseName = ""
	c.version = 0
	c.volumes = nil
	c.entries = nil
}

// Version reports the cabinet version of the opened archive, 0 once
// closed.
func (c *Cabinet) Version() int { return c.version }

// Has reports whether path names a member, matched case-insensitively
// with either separator.
func (c *Cabinet) Has(path string) bool {
	_, ok := c.entries[mapKey(path)]
	return ok
}

// Member returns the listing entry for path.
func (c *Cabinet) Member(path string) (Member, bool) {
	entry, ok := c.entries[mapKey(path)]
	if !ok {
		return Member{}, false
	}
	return entry.member(), true
}

// List returns all members sorted by case-folded path.
func (c *Cabinet) List() []Member {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Member, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.entries[k].member())
	}
	return out
}

// OpenStream opens the named member for reading. Uncompressed
// single-volume members are served as a sub-range of their volume;
// split and compressed members are materialized in memory. The caller
// owns the returned stream and must Close it.
func (c *Cabinet) OpenStream(path string) (io.ReadSeekCloser, error) {
	entry, ok := c.entries[mapKey(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if entry.Flags&FlagObfuscated != 0 {
		c.warn("cannot extract obfuscated file %s", entry.Name)
		return nil, fmt.Errorf("%w: %s", ErrObfuscated, entry.Name)
	}
	if entry.Volume < 1 || entry.Volume > len(c.volumes) {
		return nil, fmt.Errorf("%w: %s starts in volume %d of %d", ErrVolumeMissing, entry.Name, entry.Volume, len(c.volumes))
	}

	if entry.Flags&FlagCompressed == 0 {
		return c.openStored(entry)
	}

	dst := make([]byte, entry.UncompressedSize)
	// Zero-length entries are valid and carry no compressed payload.
	if entry.CompressedSize != 0 {
		src, err := c.readCompressed(entry)
		if err != nil {
			return nil, err
		}
		if err := isflate.Inflate(dst, src); err != nil {
			c.warn("failed to inflate CAB file %s: %v", entry.Name, err)
			return nil, fmt.Errorf("%w: %s", ErrInflateFailed, entry.Name)
		}
	}
	return newMemoryStream(dst), nil
}

// openStored serves an entry whose payload is stored verbatim. The
// stored blob is the file itself, so the sub-range spans
// uncompressedSize bytes.
func (c *Cabinet) openStored(entry FileEntry) (io.ReadSeekCloser, error) {
	if entry.Flags&FlagSplit != 0 {
		buf, err := c.assembleSplit(entry)
		if err != nil {
			return nil, err
		}
		if n := int(entry.UncompressedSize); n <= len(buf) {
			buf = buf[:n]
		}
		return newMemoryStream(buf), nil
	}

	name := c.volumeName(entry.Volume)
	f, err := c.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVolumeMissing, name)
	}
	return newSectionStream(f, int64(entry.Offset), int64(entry.UncompressedSize))
}

// readCompressed produces the entry's compressedSize source bytes,
// spanning volumes when split.
func (c *Cabinet) readCompressed(entry FileEntry) ([]byte, error) {
	if entry.Flags&FlagSplit != 0 {
		return c.assembleSplit(entry)
	}
	return c.readWhole(entry)
}

// mapKey canonicalizes a member path for the case-insensitive map:
// forward slashes become the on-disk backslash separator.
func mapKey(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, "/", `\`))
}

func wrapPath(path string, err error) error {
	return fmt.Errorf("%s: %w", path, err)
}
