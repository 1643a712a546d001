package probe

import (
	"regexp"

	goversion "github.com/hashicorp/go-version"
)

// versionPattern matches dotted numeric versions such as 37.0, 38.0.5 or 115.0.2.
var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// zeroVersion is returned when no version could be found.
//
//nolint:gochecknoglobals // Immutable sentinel.
var zeroVersion = goversion.Must(goversion.NewVersion("0.0"))

// Version is an orderable numeric Firefox version.
// The zero value is the "0.0" sentinel that means "not installed".
type Version struct {
	// v is the parsed version; nil means the sentinel.
	v *goversion.Version
}

// Zero returns the "0.0" sentinel.
func Zero() Version {
	return Version{}
}

// Extract returns the first version found in text, or the sentinel when there is none.
func Extract(text string) Version {
	v, _ := find(text)

	return v
}

// MustParse parses a version and panics on malformed input. Intended for tests and constants.
func MustParse(s string) Version {
	return Version{v: goversion.Must(goversion.NewVersion(s))}
}

// find returns the first version in text and whether one was found.
func find(text string) (Version, bool) {
	match := versionPattern.FindString(text)
	if match == "" {
		return Zero(), false
	}

	parsed, err := goversion.NewVersion(match)
	if err != nil {
		return Zero(), false
	}

	return Version{v: parsed}, true
}

// String returns the dotted form of the version.
func (v Version) String() string {
	return v.value().Original()
}

// IsZero reports whether v is the sentinel.
func (v Version) IsZero() bool {
	return v.value().Equal(zeroVersion)
}

// Compare returns -1, 0 or 1 as v is less than, equal to or greater than other.
func (v Version) Compare(other Version) int {
	return v.value().Compare(other.value())
}

// LessThan reports whether v orders before other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// AtLeast reports whether v is equal to or newer than other.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

func (v Version) value() *goversion.Version {
	if v.v == nil {
		return zeroVersion
	}

	return v.v
}
