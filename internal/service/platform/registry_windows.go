//go:build windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// uninstallRoots are the machine-wide uninstall keys for native and 32-bit programs.
//
//nolint:gochecknoglobals // Read-only list.
var uninstallRoots = []string{
	`SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`,
	`SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`,
}

// systemRegistry reads HKEY_LOCAL_MACHINE.
type systemRegistry struct{}

// NewSystemRegistry returns the uninstall registry of this machine.
func NewSystemRegistry() UninstallRegistry {
	return systemRegistry{}
}

// Find returns the first uninstall entry whose display name matches, ignoring case.
func (systemRegistry) Find(ctx context.Context, displayName string) (*UninstallEntry, bool, error) {
	for _, root := range uninstallRoots {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		names, err := subKeyNames(root)
		if errors.Is(err, registry.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, false, fmt.Errorf("enumerate %s: %w", root, err)
		}

		for _, name := range names {
			entry, found := readEntry(root + `\` + name)
			if found && strings.EqualFold(entry.DisplayName, displayName) {
				return entry, true, nil
			}
		}
	}

	return nil, false, nil
}

func subKeyNames(path string) ([]string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = key.Close()
	}()

	return key.ReadSubKeyNames(-1)
}

func readEntry(path string) (*UninstallEntry, bool) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		return nil, false
	}

	defer func() {
		_ = key.Close()
	}()

	displayName, _, err := key.GetStringValue("DisplayName")
	if err != nil || displayName == "" {
		return nil, false
	}

	entry := &UninstallEntry{DisplayName: displayName}
	entry.DisplayVersion, _, _ = key.GetStringValue("DisplayVersion")
	entry.UninstallString, _, _ = key.GetStringValue("UninstallString")
	entry.InstallLocation, _, _ = key.GetStringValue("InstallLocation")

	return entry, true
}
