package firefox

import (
	"errors"
	"fmt"
)

// Error categories. Every typed error below matches exactly one of them via errors.Is.
var (
	// ErrResolution marks failures to determine the artifact filename from the release index.
	ErrResolution = errors.New("release resolution failed")
	// ErrIntegrity marks downloaded content that does not match the expected checksum.
	ErrIntegrity = errors.New("artifact integrity check failed")
	// ErrParse marks output of an installed binary that cannot be parsed.
	ErrParse = errors.New("version parse failed")
	// ErrPlatform marks a platform with no known artifact format.
	ErrPlatform = errors.New("unsupported platform")
	// ErrState marks operations that require an install that is not there.
	ErrState = errors.New("install state mismatch")
)

// Process exit codes returned by the CLI, one per typed error.
const (
	ExitSuccess             = 0
	ExitGenericError        = 1
	ExitUpstreamHTTP        = 2
	ExitUpstreamParse       = 3
	ExitChecksumMismatch    = 4
	ExitVersionParse        = 5
	ExitNotInstalled        = 6
	ExitUnsupportedPlatform = 7
)

// UpstreamHTTPError is returned when the release server answers with a non-2xx status.
type UpstreamHTTPError struct {
	// URL is the requested address.
	URL string
	// StatusCode is the HTTP status code returned by the server.
	StatusCode int
	// Status is the full status line, e.g. "404 Not Found".
	Status string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("the server responded from %s with status %s", e.URL, e.Status)
}

// Is reports whether target is the resolution category.
func (e *UpstreamHTTPError) Is(target error) bool {
	return target == ErrResolution
}

// UpstreamParseError is returned when the release index yields no usable artifact name.
type UpstreamParseError struct {
	// URL is the index address that was parsed.
	URL string
	// Body is the raw document returned by the server.
	Body string
}

func (e *UpstreamParseError) Error() string {
	return fmt.Sprintf("the server responded from %s with an unexpected document:\n %s", e.URL, e.Body)
}

// Is reports whether target is the resolution category.
func (e *UpstreamParseError) Is(target error) bool {
	return target == ErrResolution
}

// ChecksumMismatchError is returned when a downloaded artifact has an unexpected digest.
type ChecksumMismatchError struct {
	// URL is where the artifact was downloaded from.
	URL string
	// Path is the local destination that was not committed.
	Path string
	// Expected is the digest requested by the caller.
	Expected string
	// Actual is the digest of the downloaded content.
	Actual string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// Is reports whether target is the integrity category.
func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrIntegrity
}

// VersionParseError is returned when an executable prints output without a version in it.
type VersionParseError struct {
	// Executable is the probed binary.
	Executable string
	// Output is what the binary printed.
	Output string
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("unable to parse a version from %s output %q", e.Executable, e.Output)
}

// Is reports whether target is the parse category.
func (e *VersionParseError) Is(target error) bool {
	return target == ErrParse
}

// NotInstalledError is returned when removing a version that has no install record.
type NotInstalledError struct {
	// Version is the requested version label.
	Version string
	// Language is the requested locale.
	Language string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("firefox %s (%s) is not installed", e.Version, e.Language)
}

// Is reports whether target is the state category.
func (e *NotInstalledError) Is(target error) bool {
	return target == ErrState
}

// UnsupportedPlatformError is returned when no artifact format is known for a platform.
type UnsupportedPlatformError struct {
	// Platform is the normalized platform value.
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("platform %q is not supported", e.Platform)
}

// Is reports whether target is the platform category.
func (e *UnsupportedPlatformError) Is(target error) bool {
	return target == ErrPlatform
}

// ExitCode maps an error returned by a command to its process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		httpErr     *UpstreamHTTPError
		parseErr    *UpstreamParseError
		checksumErr *ChecksumMismatchError
		versionErr  *VersionParseError
		stateErr    *NotInstalledError
		platformErr *UnsupportedPlatformError
	)

	switch {
	case errors.As(err, &httpErr):
		return ExitUpstreamHTTP
	case errors.As(err, &parseErr):
		return ExitUpstreamParse
	case errors.As(err, &checksumErr):
		return ExitChecksumMismatch
	case errors.As(err, &versionErr):
		return ExitVersionParse
	case errors.As(err, &stateErr):
		return ExitNotInstalled
	case errors.As(err, &platformErr):
		return ExitUnsupportedPlatform
	default:
		return ExitGenericError
	}
}
