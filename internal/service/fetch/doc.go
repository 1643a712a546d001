// Package fetch downloads release artifacts into the local cache.
//
// Downloads are written to a temporary file next to the destination, verified
// against the optional checksum and only then renamed into place, so a
// partially written or corrupted artifact is never visible under its final name.
package fetch
