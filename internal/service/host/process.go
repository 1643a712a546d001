package host

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/firefox-package/internal/logger"
)

// Process is a running program that matched the guard.
type Process struct {
	// PID is the process ID.
	PID int
	// Name is the executable name.
	Name string
}

// ProcessGuard finds running browser processes before their files are replaced.
type ProcessGuard struct {
	// names are the executable names to match, compared case-insensitively.
	names []string
	// list returns running processes; defaults to go-ps.
	list func() ([]ps.Process, error)
	// kill terminates a process by PID.
	kill func(pid int) error
}

// DefaultBrowserProcesses are the executable names of a running Firefox.
//
//nolint:gochecknoglobals // Read-only list.
var DefaultBrowserProcesses = []string{"firefox", "firefox-bin", "firefox.exe"}

// NewProcessGuard creates a guard that matches the provided executable names.
func NewProcessGuard(names ...string) *ProcessGuard {
	if len(names) == 0 {
		names = DefaultBrowserProcesses
	}

	lowered := make([]string, 0, len(names))
	for _, name := range names {
		lowered = append(lowered, strings.ToLower(name))
	}

	return &ProcessGuard{
		names: lowered,
		list:  ps.Processes,
		kill:  killProcess,
	}
}

// Running returns matching processes, excluding the current one.
func (g *ProcessGuard) Running() ([]Process, error) {
	processList, err := g.list()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()
	result := make([]Process, 0)

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if !slices.Contains(g.names, strings.ToLower(process.Executable())) {
			continue
		}

		result = append(result, Process{
			PID:  process.Pid(),
			Name: process.Executable(),
		})
	}

	return result, nil
}

// Terminate kills every matching process and returns how many were killed.
func (g *ProcessGuard) Terminate(ctx context.Context) (int, error) {
	running, err := g.Running()
	if err != nil {
		return 0, err
	}

	for i, process := range running {
		logger.InfoKV(ctx, "Terminating running browser", "pid", process.PID, "name", process.Name)

		if err = g.kill(process.PID); err != nil {
			return i, fmt.Errorf("terminate %s (%d): %w", process.Name, process.PID, err)
		}
	}

	return len(running), nil
}

func killProcess(pid int) error {
	runningProcess, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return runningProcess.Kill()
}
