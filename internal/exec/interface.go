// Package exec runs external programs on behalf of tools.
package exec

import (
	"context"
	"time"
)

// Command describes one program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Stdin is written to the program's standard input.
	Stdin string
	// Env replaces the environment when non-nil.
	Env []string
	// Timeout bounds the run. Zero means no limit beyond ctx.
	Timeout time.Duration
	// MaxOutput caps the bytes kept from each of stdout and stderr.
	// Zero means DefaultMaxOutput.
	MaxOutput int
}

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	// Truncated is set when output exceeded MaxOutput.
	Truncated bool
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes cmd. A non-zero exit status is reported in Result, not
	// as an error; err is reserved for failures to start or wait.
	Run(ctx context.Context, cmd Command) (Result, error)
}
