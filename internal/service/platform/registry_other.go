//go:build !windows

package platform

import "context"

// systemRegistry is empty outside Windows.
type systemRegistry struct{}

// NewSystemRegistry returns a registry that never lists anything.
func NewSystemRegistry() UninstallRegistry {
	return systemRegistry{}
}

// Find always reports that nothing is installed.
func (systemRegistry) Find(context.Context, string) (*UninstallEntry, bool, error) {
	return nil, false, nil
}
