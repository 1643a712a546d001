// Package host wraps the operating system capabilities used while installing:
// running programs (go-cmd), detecting the platform and distribution family
// (gopsutil), installing OS packages, finding running browsers (go-ps) and
// rendering installer configuration templates.
package host
