// Package chunker splits file contents into fixed-size blocks.
//
// Boundaries depend only on offsets, never on content, so an insertion near
// the start of a file shifts every later block. That is the dedup ceiling of
// this scheme.
package chunker

import "fmt"

// DefaultChunkSize is the block size used when a repository does not set one.
const DefaultChunkSize = 4096

// Split divides data into consecutive slices of size bytes. The last slice
// is shorter when len(data) is not a multiple of size. Empty input yields an
// empty result. The returned slices alias data.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		panic(fmt.Sprintf("chunker: invalid chunk size %d", size))
	}
	if len(data) == 0 {
		return nil
	}

	out := make([][]byte, 0, Count(int64(len(data)), size))
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end:end])
	}
	return out
}

// Count returns how many chunks Split produces for n bytes.
func Count(n int64, size int) int {
	if n <= 0 {
		return 0
	}
	return int((n + int64(size) - 1) / int64(size))
}

// Len returns the length of chunk i of a file of n bytes.
func Len(n int64, size int, i int) int {
	rest := n - int64(i)*int64(size)
	switch {
	case rest <= 0:
		return 0
	case rest < int64(size):
		return int(rest)
	default:
		return size
	}
}
