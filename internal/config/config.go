package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
)

// UpgradePolicy decides what happens to other installed versions of the same language on upgrade.
type UpgradePolicy string

// Supported upgrade policies.
const (
	// PolicySideBySide keeps previous versions installed; links move to the new one.
	PolicySideBySide UpgradePolicy = "side-by-side"
	// PolicyRemoveBefore removes previous versions before the new one is installed.
	PolicyRemoveBefore UpgradePolicy = "remove-before"
	// PolicyRemoveAfter removes previous versions once the new one is installed.
	PolicyRemoveAfter UpgradePolicy = "remove-after"
)

// Config holds the settings shared by every package run.
type Config struct {
	// BaseURI is the release tree root used when a package does not set its own.
	BaseURI string `yaml:"base_uri"`
	// CacheDir holds resolved filenames, downloaded artifacts and rendered installer configs.
	CacheDir string `yaml:"cache_dir"`
	// StateFile is the YAML file storing install records.
	StateFile string `yaml:"state_file"`
	// Timeout bounds every network request.
	Timeout time.Duration `yaml:"timeout"`
	// StallTimeout aborts an artifact download that receives no data for this long.
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// SplaySeconds is the default freshness window for resolved filenames.
	SplaySeconds int `yaml:"splay_seconds"`
	// CABundle is an optional PEM file replacing the system roots for TLS verification.
	CABundle string `yaml:"ca_bundle,omitempty"`
	// Retries is how many times a failed artifact download is retried.
	Retries int `yaml:"retries"`
	// UpgradePolicy controls removal of previous versions on upgrade.
	UpgradePolicy UpgradePolicy `yaml:"upgrade_policy"`
	// Concurrency limits how many packages are converged at once.
	Concurrency int `yaml:"concurrency"`
	// UserAgent overrides the User-Agent header sent to release servers.
	UserAgent string `yaml:"user_agent,omitempty"`
	// LogLevel is the global log level.
	LogLevel string `yaml:"log_level"`
	// Packages are converged by the apply command.
	Packages []*firefox.Request `yaml:"packages,omitempty"`
}

const (
	// DefaultConfigFilename is the default path of the settings file.
	DefaultConfigFilename = "/etc/firefox-package/config.yaml"

	// DefaultCacheDir is where artifacts and resolutions are cached.
	DefaultCacheDir = "/var/cache/firefox-package"

	// DefaultStateFile is where install records are stored.
	DefaultStateFile = "/var/lib/firefox-package/state.yaml"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Minute

	// DefaultStallTimeout is how long an artifact download may go without receiving data.
	DefaultStallTimeout = time.Minute

	// DefaultConcurrency is the default number of packages converged at once.
	DefaultConcurrency = 2

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the default permission for directories the tool creates.
	DefaultDirPermissions = 0o755
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNegativeValue is returned for negative counters and windows.
	errNegativeValue = errors.New("value must not be negative")
	// errUnknownPolicy is returned for an unrecognised upgrade policy.
	errUnknownPolicy = errors.New("unknown upgrade policy")
	// errInvalidBaseURI is returned when the base URI is not an absolute http(s) URL.
	errInvalidBaseURI = errors.New("invalid base URI")
	// errDuplicatePath is returned when two packages share a destination.
	errDuplicatePath = errors.New("packages share a destination path")
)

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Defaults never fail validation.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), DefaultDirPermissions); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.BaseURI == "" {
		settings.BaseURI = firefox.DefaultBaseURI
	}

	parsed, err := url.Parse(settings.BaseURI)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidBaseURI, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %q", errInvalidBaseURI, settings.BaseURI)
	}

	if settings.CacheDir == "" {
		settings.CacheDir = DefaultCacheDir
	}

	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFile
	}

	// Set default timeout if not specified
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.StallTimeout <= 0 {
		settings.StallTimeout = DefaultStallTimeout
	}

	if settings.SplaySeconds < 0 {
		return fmt.Errorf("splay_seconds %d: %w", settings.SplaySeconds, errNegativeValue)
	}

	if settings.Retries < 0 {
		return fmt.Errorf("retries %d: %w", settings.Retries, errNegativeValue)
	}

	if settings.Concurrency <= 0 {
		settings.Concurrency = DefaultConcurrency
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	switch settings.UpgradePolicy {
	case "":
		settings.UpgradePolicy = PolicySideBySide
	case PolicySideBySide, PolicyRemoveBefore, PolicyRemoveAfter:
	default:
		return fmt.Errorf("%w: %q", errUnknownPolicy, settings.UpgradePolicy)
	}

	return validatePackages(settings.Packages)
}

// ParseUpgradePolicy validates a policy name given on the command line.
func ParseUpgradePolicy(s string) (UpgradePolicy, error) {
	switch policy := UpgradePolicy(strings.ToLower(strings.TrimSpace(s))); policy {
	case PolicySideBySide, PolicyRemoveBefore, PolicyRemoveAfter:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownPolicy, s)
	}
}

// validatePackages checks every package and rejects explicit destinations used twice.
func validatePackages(packages []*firefox.Request) error {
	paths := make(map[string]int, len(packages))

	for i, pkg := range packages {
		if pkg == nil {
			return fmt.Errorf("package #%d: %w", i+1, errConfigIsNotSet)
		}

		if err := pkg.Validate(); err != nil {
			return fmt.Errorf("package #%d: %w", i+1, err)
		}

		if pkg.Path == "" {
			continue
		}

		if previous, found := paths[pkg.Path]; found {
			return fmt.Errorf("packages #%d and #%d (%s): %w", previous, i+1, pkg.Path, errDuplicatePath)
		}

		paths[pkg.Path] = i + 1
	}

	return nil
}
