// Package common holds helpers shared by several services.
//
// It provides the HTTP client used to talk to release servers (timeouts,
// TLS roots, user agent, typed status errors) and a helper to detect the
// current system actor (hostname/username) for install records.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
