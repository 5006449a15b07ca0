// Package digest computes the content hashes that key stored chunks.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
)

// Algorithm names a hash function. Keys are lowercase hex.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
	XXH3   Algorithm = "xxh3"
)

// Default is used for new repositories.
const Default = SHA256

// Parse resolves a configured algorithm name.
func Parse(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case SHA256, BLAKE3, XXH3:
		return a, nil
	case "":
		return Default, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// Sum returns the hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	switch a {
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	case XXH3:
		sum := xxh3.Hash128(data).Bytes()
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HexLen is the length of a key produced by Sum.
func (a Algorithm) HexLen() int {
	if a == XXH3 {
		return 32
	}
	return 64
}

// Valid reports whether s looks like a key produced by a.
func (a Algorithm) Valid(s string) bool {
	if len(s) != a.HexLen() {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (a Algorithm) String() string { return string(a) }
