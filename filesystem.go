package iscab

import (
	"io"
	"os"
)

// File is a readable, seekable volume byte source. Volumes are opened
// on demand for each read and closed when the read is done.
type File interface {
	io.Reader
	io.Seeker
	io.Closer
}

// FileSystem abstracts the operations needed to open volumes. The
// directory layout is offset-chained, so sources must be seekable.
type FileSystem interface {
	Open(path string) (File, error)
}

type osFS struct{}

func (osFS) Open(p string) (File, error) { return os.Open(p) }

var defaultFS osFS
