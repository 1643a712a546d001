// Package reconciler drives a Firefox package request through the install
// state machine (resolve, fetch, verify, apply) or removal, records every
// transition, and applies the configured upgrade policy to older versions.
// Options, Run, Resolve and Apply are the entry points used by the CLI.
package reconciler
