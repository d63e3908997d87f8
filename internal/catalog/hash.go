package catalog

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// chunkSize bounds how much of the file is read into memory at once
// while hashing on the blocking I/O pool.
const chunkSize = 32 << 20

// HashReader computes a fixed 32-hex-character content digest by
// running two independent 64-bit xxhash passes over r (seed 0 and seed
// 1) and concatenating them. A single xxhash64 sum is only 16 hex
// characters; two independent seeded passes give a wider digest while
// keeping the hash itself fast and non-cryptographic.
func HashReader(r io.Reader) (string, error) {
	d0 := xxhash.New()
	d1 := xxhash.NewWithSeed(1)

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := d0.Write(chunk); werr != nil {
				return "", fmt.Errorf("catalog: hashing (seed 0): %w", werr)
			}
			if _, werr := d1.Write(chunk); werr != nil {
				return "", fmt.Errorf("catalog: hashing (seed 1): %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("catalog: reading content: %w", err)
		}
	}

	var out [16]byte
	putUint64Hex(out[:8], d0.Sum64())
	putUint64Hex(out[8:], d1.Sum64())
	return hex.EncodeToString(out[:]), nil
}

// HashString is a convenience wrapper around HashReader for in-memory
// content such as a script body.
func HashString(s string) (string, error) {
	return HashReader(strings.NewReader(s))
}

func putUint64Hex(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
