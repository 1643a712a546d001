// Package version exposes build metadata for firefox-package.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags and default to sensible values for local builds.
// Short and Full render the version for CLI output; UserAgent renders it for HTTP requests.
package version
