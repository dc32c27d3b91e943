package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashBytes returns the hex-encoded SHA-256 of data, used for upload
// deduplication
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader hashes everything read from r
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
