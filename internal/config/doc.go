// Package config defines the settings shared by firefox-package commands and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the release tree root, cache and state locations,
// network and retry limits, the upgrade policy and the packages converged by apply.
package config
