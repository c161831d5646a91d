package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Checksum returns a short, stable fingerprint of data: the BLAKE2b-256 hash
// of it, encoded in base58.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return base58.Encode(sum[:])
}

// RandomData returns a slice of the specified size containing random data.
func RandomData(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("size cannot be negative")
	}

	data := make([]byte, size)
	_, err := rand.Read(data)
	if err != nil {
		return nil, fmt.Errorf("failed generating random data: %w", err)
	}

	return data, nil
}
