package tools

import (
	"net/http"
	"time"

	"github.com/ShayCichocki/relay/internal/exec"
)

// Options configures the built-in tools.
type Options struct {
	SearchEndpoint string
	MaxResults     int
	HTTPTimeout    time.Duration
	FetchMaxChars  int
	PythonBinary   string
	PythonTimeout  time.Duration
	// Runner executes python. Nil uses exec.NewRunner().
	Runner exec.CommandRunner
}

// NewDefaultRegistry returns a registry with every built-in tool.
func NewDefaultRegistry(opts Options) *Registry {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return NewRegistry(
		Calculator{},
		Add(),
		Multiply(),
		Divide(),
		Clock{},
		NewWebSearch(opts.SearchEndpoint, client, opts.MaxResults),
		NewFetchPage(client, opts.FetchMaxChars),
		NewPython(opts.Runner, opts.PythonBinary, opts.PythonTimeout),
	)
}
