package firefox

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Platform is a normalized platform identifier as used in release index paths.
type Platform string

// Platforms with a known artifact format.
const (
	PlatformLinux   Platform = "linux-x86_64"
	PlatformWindows Platform = "win32"
	PlatformMac     Platform = "mac"
)

// String returns the platform segment as used in URLs.
func (p Platform) String() string {
	return string(p)
}

// Action is the desired end state of a request.
type Action string

// Supported actions.
const (
	ActionInstall Action = "install"
	ActionUpgrade Action = "upgrade"
	ActionRemove  Action = "remove"
)

const (
	// DefaultBaseURI is the public Mozilla release tree.
	DefaultBaseURI = "https://download-installer.cdn.mozilla.net/pub/firefox/releases"
	// DefaultLanguage is the locale installed when none is requested.
	DefaultLanguage = "en-US"

	// defaultUnixRoot is where versions are installed side by side on Linux and macOS.
	defaultUnixRoot = "/opt/firefox"
	// defaultWindowsRoot is where versions are installed side by side on Windows.
	defaultWindowsRoot = `C:\Program Files (x86)\Mozilla Firefox`
)

var (
	errVersionRequired  = errors.New("version must be provided")
	errLanguageRequired = errors.New("language must be provided")
	errNegativeSplay    = errors.New("splay must not be negative")
	errUnsafeSegment    = errors.New("value must be a single path segment")
	errBadBaseURI       = errors.New("base URI must be an absolute http(s) URL")
	errUnknownAction    = errors.New("unknown action")
)

// Request describes one Firefox package to converge on the host.
type Request struct {
	// Version is the release label, e.g. "37.0", "latest" or "latest-esr".
	Version string `yaml:"version"`
	// Language is the build locale. Defaults to DefaultLanguage.
	Language string `yaml:"language,omitempty"`
	// Platform is the raw platform identifier. Empty means the detected host platform.
	Platform string `yaml:"platform,omitempty"`
	// BaseURI is the release tree root. Defaults to DefaultBaseURI.
	BaseURI string `yaml:"uri,omitempty"`
	// Checksum is an optional SHA-256 or SHA-512 hex digest of the artifact.
	Checksum string `yaml:"checksum,omitempty"`
	// SplaySeconds is how long a resolved filename stays fresh. Zero accepts any cached value.
	SplaySeconds int `yaml:"splay_seconds,omitempty"`
	// Path is the destination directory. Defaults to a per-version directory.
	Path string `yaml:"path,omitempty"`
	// Links are symlink locations pointed at the installed binary.
	Links []string `yaml:"links,omitempty"`
	// DisplayVersion overrides the version part of the Windows package name.
	DisplayVersion string `yaml:"display_version,omitempty"`
	// InstallerTemplate is an optional text/template file for the Windows installer INI.
	InstallerTemplate string `yaml:"installer_template,omitempty"`
	// InstallerVariables are extra values exposed to the installer template.
	InstallerVariables map[string]string `yaml:"installer_variables,omitempty"`
	// Dependencies overrides the OS packages installed next to the browser.
	Dependencies []string `yaml:"dependencies,omitempty"`
	// SkipDependencies disables OS package installation.
	SkipDependencies bool `yaml:"skip_dependencies,omitempty"`
	// StopRunning terminates running Firefox processes before files are replaced.
	StopRunning bool `yaml:"stop_running,omitempty"`
	// Action is the desired end state. Defaults to install.
	Action Action `yaml:"action,omitempty"`
	// LogLevel raises verbosity for this package only.
	LogLevel string `yaml:"log_level,omitempty"`
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch action := Action(strings.ToLower(strings.TrimSpace(s))); action {
	case "":
		return ActionInstall, nil
	case ActionInstall, ActionUpgrade, ActionRemove:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownAction, s)
	}
}

// Validate checks the fields that are required before any defaults are applied.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return errVersionRequired
	}

	if err := checkSegment("version", r.Version); err != nil {
		return err
	}

	if r.Language != "" {
		if err := checkSegment("language", r.Language); err != nil {
			return err
		}
	}

	if r.SplaySeconds < 0 {
		return fmt.Errorf("%w: %d", errNegativeSplay, r.SplaySeconds)
	}

	if r.BaseURI != "" {
		if err := checkBaseURI(r.BaseURI); err != nil {
			return err
		}
	}

	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}

	return nil
}

// WithDefaults returns a copy of the request with defaults for the given platform filled in.
func (r *Request) WithDefaults(platform Platform) *Request {
	cloned := *r
	cloned.Links = slices.Clone(r.Links)
	cloned.Dependencies = slices.Clone(r.Dependencies)

	if r.InstallerVariables != nil {
		cloned.InstallerVariables = make(map[string]string, len(r.InstallerVariables))
		for key, value := range r.InstallerVariables {
			cloned.InstallerVariables[key] = value
		}
	}

	cloned.Platform = platform.String()

	if cloned.Language == "" {
		cloned.Language = DefaultLanguage
	}

	if cloned.BaseURI == "" {
		cloned.BaseURI = DefaultBaseURI
	}

	if cloned.Action == "" {
		cloned.Action = ActionInstall
	}

	if cloned.Path == "" {
		cloned.Path = DefaultPath(platform, cloned.Version, cloned.Language)
	}

	return &cloned
}

// Splay returns the cache freshness window.
func (r *Request) Splay() time.Duration {
	return time.Duration(r.SplaySeconds) * time.Second
}

// IndexURL returns the release index directory for the request, with a trailing slash.
func (r *Request) IndexURL(platform Platform) string {
	base := r.BaseURI
	if base == "" {
		base = DefaultBaseURI
	}

	language := r.Language
	if language == "" {
		language = DefaultLanguage
	}

	return strings.TrimRight(base, "/") + "/" +
		url.PathEscape(r.Version) + "/" +
		url.PathEscape(platform.String()) + "/" +
		url.PathEscape(language) + "/"
}

// ArtifactURL joins an index URL and a resolved filename.
func ArtifactURL(indexURL, filename string) string {
	return strings.TrimRight(indexURL, "/") + "/" + url.PathEscape(filename)
}

// DefaultPath returns the side-by-side install directory for a version and language.
func DefaultPath(platform Platform, version, language string) string {
	name := version + "_" + language

	if platform == PlatformWindows {
		return defaultWindowsRoot + `\` + name
	}

	return defaultUnixRoot + "/" + name
}

func checkSegment(field, value string) error {
	if value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("%s %q: %w", field, value, errUnsafeSegment)
	}

	return nil
}

func checkBaseURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadBaseURI, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %q", errBadBaseURI, raw)
	}

	return nil
}
