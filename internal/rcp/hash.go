package rcp

import (
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
)

// HashLen is the length in hex characters of a fragment hash: a
// BLAKE2b-512 digest (spec.md §6, "Hash").
const HashLen = 128

// hashReadChunk is the buffered read size used when hashing a file
// prefix.
const hashReadChunk = 8 * 1024

// PrefixHash returns the lowercase hex BLAKE2b-512 digest of the
// first length bytes read from r.
//
// spec.md's Open Question (§9) flags that the original source
// advances its read loop by the chunk size regardless of how much a
// read call actually returned, over- or under-reading the final
// chunk on sizes that aren't a multiple of the chunk size. This
// implementation tracks bytes actually read and advances by that
// amount instead, as the spec instructs.
func PrefixHash(r io.Reader, length int64) (string, error) {
	if length < 0 {
		return "", errors.New("rcp: negative hash length")
	}
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	buf := make([]byte, hashReadChunk)
	var read int64
	for read < length {
		want := hashReadChunk
		if remaining := length - read; remaining < int64(want) {
			want = int(remaining)
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		if n == 0 {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EmptyHash is the BLAKE2b-512 digest of zero bytes, used as the
// destination hash when a destination file is absent (spec.md §4.3,
// case 1).
func EmptyHash() (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
