package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/relay/internal/exec"
	"github.com/ShayCichocki/relay/internal/llm"
)

// Python runs snippets with a local interpreter.
type Python struct {
	Runner  exec.CommandRunner
	Binary  string
	Timeout time.Duration
}

// NewPython creates the run_python tool.
func NewPython(runner exec.CommandRunner, binary string, timeout time.Duration) *Python {
	if runner == nil {
		runner = exec.NewRunner()
	}
	if binary == "" {
		binary = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Python{Runner: runner, Binary: binary, Timeout: timeout}
}

func (p *Python) Name() string { return "run_python" }

func (p *Python) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "run_python",
		Description: "Execute a Python 3 program and return what it prints. Use print() to see values.",
		Parameters: map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python source code to run",
			},
		},
		Required: []string{"code"},
	}
}

func (p *Python) Invoke(ctx context.Context, args map[string]any) (string, error) {
	code, ok := stringArg(args, "code", "source")
	if !ok {
		return "", errors.New("missing argument \"code\"")
	}
	res, err := p.Runner.Run(ctx, exec.Command{
		Name:    p.Binary,
		Args:    []string{"-"},
		Stdin:   code,
		Timeout: p.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("start %s: %w", p.Binary, err)
	}
	if res.TimedOut {
		return "", fmt.Errorf("timed out after %s", p.Timeout)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	out := res.Stdout
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	if res.Truncated {
		out += "\n[output truncated]"
	}
	return out, nil
}
