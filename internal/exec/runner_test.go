package exec

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecRunner_CapturesOutputAndStdin(t *testing.T) {
	requireBinary(t, "cat")
	res, err := NewRunner().Run(context.Background(), Command{Name: "cat", Stdin: "hello"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "hello" || res.ExitCode != 0 {
		t.Errorf("Run() = %+v, want stdout %q", res, "hello")
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireBinary(t, "sh")
	res, err := NewRunner().Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "oops")
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	requireBinary(t, "sleep")
	res, err := NewRunner().Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.TimedOut {
		t.Errorf("expected TimedOut, got %+v", res)
	}
}

func TestExecRunner_TruncatesOutput(t *testing.T) {
	requireBinary(t, "cat")
	res, err := NewRunner().Run(context.Background(), Command{Name: "cat", Stdin: strings.Repeat("x", 100), MaxOutput: 10})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Stdout) != 10 || !res.Truncated {
		t.Errorf("Run() = %d bytes truncated=%v, want 10 bytes truncated", len(res.Stdout), res.Truncated)
	}
}

func TestExecRunner_RequiresName(t *testing.T) {
	if _, err := NewRunner().Run(context.Background(), Command{}); err == nil {
		t.Error("expected error for empty command name")
	}
}
