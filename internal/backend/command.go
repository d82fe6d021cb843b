package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Runner executes a helper program and returns its combined output.
// Backends that drive OS helpers (osascript, terminal-notifier, powershell)
// take a Runner so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return out.Bytes(), fmt.Errorf("%s: %w: %s", name, err, truncate(msg, 300))
		}
		return out.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

func (ExecRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

// truncate caps s at n bytes, cutting on a rune boundary.
func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
