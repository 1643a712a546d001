package firefox

import "time"

// Actor identifies who performed an install on the host.
type Actor struct {
	// Hostname is the machine name where the install ran.
	Hostname string `yaml:"hostname"`
	// Username is the system user that ran the install.
	Username string `yaml:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Record notes where a version and language pair was installed.
// It is written once per successful install and read back on remove and upgrade.
type Record struct {
	// Version is the requested version label (e.g. "37.0" or "latest-esr").
	Version string `yaml:"version"`
	// Language is the locale of the installed build.
	Language string `yaml:"language"`
	// Path is the destination directory holding the extracted browser.
	Path string `yaml:"path"`
	// Platform is the normalized platform the install was made for.
	Platform Platform `yaml:"platform"`
	// Filename is the artifact the install was made from.
	Filename string `yaml:"filename"`
	// Binary is the browser executable links point at.
	Binary string `yaml:"binary"`
	// InstalledAt is when the record was written.
	InstalledAt time.Time `yaml:"installed_at"`
	// InstalledBy is the actor that ran the install, if known.
	InstalledBy *Actor `yaml:"installed_by,omitempty"`
}

// Clone returns a copy of the record to avoid leaking internal references.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.InstalledBy = r.InstalledBy.Clone()

	return &cloned
}
