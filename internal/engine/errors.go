package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIO marks failures reading the source tree or writing a restore.
	ErrIO = errors.New("i/o error")
	// ErrCorruptChunk marks a chunk whose payload cannot be decoded or
	// whose bytes do not hash to its key.
	ErrCorruptChunk = errors.New("corrupt chunk")
	// ErrUnsafePath marks a file entry whose path would land outside the
	// restore directory.
	ErrUnsafePath = errors.New("path escapes output directory")
)

func ioErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

// FileError is the failure of one file within a restore.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *FileError) Unwrap() error { return e.Err }

// RestoreError reports the files a restore could not reproduce. Every other
// file of the snapshot was written.
type RestoreError struct {
	SnapshotID int64
	Files      []*FileError
}

func (e *RestoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "restore snapshot %d: %d file(s) failed", e.SnapshotID, len(e.Files))
	for i, f := range e.Files {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Files)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *RestoreError) Unwrap() []error {
	errs := make([]error, len(e.Files))
	for i, f := range e.Files {
		errs[i] = f
	}
	return errs
}
