// Package atomicfile replaces small files in place with go-update, so readers
// see either the previous contents or the new ones.
package atomicfile
