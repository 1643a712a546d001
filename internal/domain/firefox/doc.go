// Package firefox contains the core domain types for Firefox package management.
//
// It defines Request (what to converge), Record (what was installed and where),
// Platform and Action, and the typed errors shared by every layer together
// with their CLI exit codes.
package firefox
