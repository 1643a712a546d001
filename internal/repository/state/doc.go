// Package state implements persistence for install records.
//
// The FileRepository stores one record per version and language in a YAML
// file and exposes the Repository interface that the reconciler and the
// platform targets depend on.
package state
