// Package platform maps raw platform identifiers to release index names and
// installs or removes Firefox with the mechanism native to each platform:
// tarball extraction on Linux, disk images on macOS and the silent NSIS
// installer on Windows.
package platform
