package platform

import "context"

// UninstallEntry is one program listed in the Windows uninstall registry.
type UninstallEntry struct {
	// DisplayName is the name shown in "Programs and Features".
	DisplayName string
	// DisplayVersion is the version reported by the installer.
	DisplayVersion string
	// UninstallString is the command that removes the program.
	UninstallString string
	// InstallLocation is the directory the program was installed to.
	InstallLocation string
}

// UninstallRegistry looks up installed programs by display name.
type UninstallRegistry interface {
	Find(ctx context.Context, displayName string) (*UninstallEntry, bool, error)
}
