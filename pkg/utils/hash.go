package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the hex sha256 of data. Used for artifact cache keys and
// build metadata.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func HashString(input string) string {
	return Checksum([]byte(input))
}
