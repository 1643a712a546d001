// Package probe determines which Firefox version is installed at a path and
// extracts orderable versions from artifact filenames.
//
// Versions are compared with hashicorp/go-version. A missing binary is the
// "0.0" sentinel rather than an error, so callers can tell "absent" apart
// from "present but unreadable".
package probe
