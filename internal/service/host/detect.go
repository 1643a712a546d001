package host

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Canonical Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// familyMap maps distribution names reported by gopsutil to canonical families.
//
//nolint:gochecknoglobals // Read-only lookup table.
var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
}

// Info describes the running host.
type Info struct {
	// OS is runtime.GOOS.
	OS string
	// Arch is runtime.GOARCH.
	Arch string
	// Platform is the distribution ID on Linux, e.g. "ubuntu".
	Platform string
	// Family is the canonical distribution family on Linux.
	Family string
	// Version is the distribution version on Linux.
	Version string
}

// RawPlatform returns an arch-os identifier for the host, e.g. "x86_64-linux".
func (i *Info) RawPlatform() string {
	switch i.OS {
	case "windows":
		return "windows"
	case "darwin":
		return "darwin"
	}

	arch := i.Arch

	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}

	return arch + "-" + i.OS
}

// Detector inspects the running host.
type Detector struct {
	// goos and goarch default to the runtime values; replaced in tests.
	goos, goarch string
	// platformInformation defaults to gopsutil; replaced in tests.
	platformInformation func(ctx context.Context) (string, string, string, error)
}

// NewDetector creates a detector for the running host.
func NewDetector() *Detector {
	return &Detector{
		goos:                runtime.GOOS,
		goarch:              runtime.GOARCH,
		platformInformation: host.PlatformInformationWithContext,
	}
}

// Detect returns host information. Distribution details are best effort:
// when gopsutil cannot read them, only OS and architecture are filled.
func (d *Detector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:     d.goos,
		Arch:   d.goarch,
		Family: FamilyUnknown,
	}

	if d.goos != "linux" {
		return info, nil
	}

	platform, family, version, err := d.platformInformation(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}

		return info, nil
	}

	info.Platform = strings.ToLower(strings.TrimSpace(platform))
	info.Version = strings.TrimSpace(version)
	info.Family = mapFamily(family)

	if info.Family == FamilyUnknown {
		info.Family = mapFamily(info.Platform)
	}

	return info, nil
}

// mapFamily maps distribution family strings to canonical family names.
func mapFamily(family string) string {
	if canonical, ok := familyMap[strings.ToLower(strings.TrimSpace(family))]; ok {
		return canonical
	}

	return FamilyUnknown
}
