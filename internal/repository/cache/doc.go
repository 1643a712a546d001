// Package cache keeps release resolutions and downloaded artifacts on disk.
//
// Each resolved filename lives in a file named after the SHA-1 of its index URL;
// the file modification time is the resolution time and the splay window
// decides whether it is still fresh. Entries are replaced atomically with
// go-update, and writers of the same entry are serialized with lock files.
package cache
