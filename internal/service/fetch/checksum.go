package fetch

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Register the digests accepted for artifact checksums.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

var (
	errUnsupportedChecksum = errors.New("checksum must be a hex sha256 or sha512 digest")
	errHashUnavailable     = errors.New("hash function unavailable")
)

// checksumHash picks the digest function from the length of a hex checksum.
func checksumHash(checksum string) (crypto.Hash, error) {
	if _, err := hex.DecodeString(checksum); err != nil {
		return 0, fmt.Errorf("%q: %w", checksum, errUnsupportedChecksum)
	}

	var hash crypto.Hash

	switch len(checksum) {
	case hex.EncodedLen(crypto.SHA256.Size()):
		hash = crypto.SHA256
	case hex.EncodedLen(crypto.SHA512.Size()):
		hash = crypto.SHA512
	default:
		return 0, fmt.Errorf("%q: %w", checksum, errUnsupportedChecksum)
	}

	if !hash.Available() {
		return 0, fmt.Errorf("%s: %w", hash, errHashUnavailable)
	}

	return hash, nil
}

// normalizeChecksum lowercases and trims a user supplied digest.
func normalizeChecksum(checksum string) string {
	return strings.ToLower(strings.TrimSpace(checksum))
}

// FileChecksum returns the hex digest of the file at path using hash.
func FileChecksum(path string, hash crypto.Hash) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := hash.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("calculate checksum of %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
