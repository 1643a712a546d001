package host

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/go-cmd/cmd"
)

// Result is the outcome of a finished process.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}

// Output returns stdout, or stderr when stdout is empty.
func (r *Result) Output() string {
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}

	return strings.TrimSpace(r.Stderr)
}

// Runner starts external programs and waits for them.
// A process that starts and exits non-zero is not an error; inspect Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// CmdRunner runs programs with go-cmd, buffering their output.
type CmdRunner struct{}

// NewRunner returns the default process runner.
func NewRunner() *CmdRunner {
	return &CmdRunner{}
}

// Run starts name with args and waits for it to finish or for ctx to end.
func (r *CmdRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	command := gocmd.NewCmdOptions(gocmd.Options{Buffered: true}, name, args...)
	statusChan := command.Start()

	select {
	case <-ctx.Done():
		_ = command.Stop()
		<-statusChan

		return nil, fmt.Errorf("run %s: %w", name, ctx.Err())
	case status := <-statusChan:
		if status.Error != nil {
			return nil, fmt.Errorf("run %s: %w", name, status.Error)
		}

		return &Result{
			ExitCode: status.Exit,
			Stdout:   strings.Join(status.Stdout, "\n"),
			Stderr:   strings.Join(status.Stderr, "\n"),
		}, nil
	}
}
