//go:build linux

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// ============================================================================
// CLI tester
// ============================================================================

// CLI provides a clean interface for running CLI commands in tests.
// It manages a temp directory and environment variables.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLITester creates a new test CLI with a temp directory.
// HOME and XDG_CONFIG_HOME point into Dir so that no user config is read.
func NewCLITester(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()

	return &CLI{
		t:   t,
		Dir: dir,
		Env: map[string]string{
			"HOME":            dir,
			"XDG_CONFIG_HOME": filepath.Join(dir, "config"),
			"PATH":            os.Getenv("PATH"),
		},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "logrelay" - it is added automatically.
func (c *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"logrelay"}, args...)
	code := Run(nil, &outBuf, &errBuf, fullArgs, c.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (c *CLI) MustRun(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code != 0 {
		c.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Returns trimmed stderr.
func (c *CLI) MustFail(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code == 0 {
		c.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// WriteFile writes content to a file in the test directory.
func (c *CLI) WriteFile(relPath, content string) string {
	c.t.Helper()

	return c.writeFile(relPath, content, 0o644)
}

// WriteExecutable writes an executable script to a file in the test directory.
// Uses explicit Open/Write/Sync/Close to avoid "text file busy" errors.
func (c *CLI) WriteExecutable(relPath, content string) string {
	c.t.Helper()

	path := filepath.Join(c.Dir, relPath)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		c.t.Fatalf("failed to create dir for %s: %v", relPath, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		c.t.Fatalf("failed to create executable %s: %v", relPath, err)
	}

	_, err = f.WriteString(content)
	if err != nil {
		_ = f.Close()

		c.t.Fatalf("failed to write executable %s: %v", relPath, err)
	}

	err = f.Sync()
	if err != nil {
		_ = f.Close()

		c.t.Fatalf("failed to sync executable %s: %v", relPath, err)
	}

	err = f.Close()
	if err != nil {
		c.t.Fatalf("failed to close executable %s: %v", relPath, err)
	}

	return path
}

func (c *CLI) writeFile(relPath, content string, perm os.FileMode) string {
	c.t.Helper()

	path := filepath.Join(c.Dir, relPath)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		c.t.Fatalf("failed to create dir for %s: %v", relPath, err)
	}

	err = os.WriteFile(path, []byte(content), perm)
	if err != nil {
		c.t.Fatalf("failed to write file %s: %v", relPath, err)
	}

	return path
}

// ============================================================================
// Sink helpers
// ============================================================================

// InstallSink writes a sink into <Dir>/companion that copies its stdin to
// <Dir>/records/<pid>.log and its arguments to <Dir>/records/<pid>.args.
// Returns the companion directory.
func (c *CLI) InstallSink(name string) string {
	c.t.Helper()

	records := filepath.Join(c.Dir, "records")

	err := os.MkdirAll(records, 0o750)
	if err != nil {
		c.t.Fatalf("failed to create records dir: %v", err)
	}

	c.WriteExecutable(filepath.Join("companion", name), fmt.Sprintf(`#!/bin/sh
R=%q
printf '%%s\n' "$@" > "$R/$$.args"
exec cat > "$R/$$.log"
`, records))

	return filepath.Join(c.Dir, "companion")
}

// WaitSinkOutput waits until n sinks have written non-empty output and exited
// their copy loop, and returns their outputs sorted.
func (c *CLI) WaitSinkOutput(n int) []string {
	c.t.Helper()

	var outputs []string

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		outputs = outputs[:0]

		logs, _ := filepath.Glob(filepath.Join(c.Dir, "records", "*.log"))
		for _, path := range logs {
			data, err := os.ReadFile(path)
			if err == nil && len(data) > 0 {
				outputs = append(outputs, string(data))
			}
		}

		if len(outputs) >= n {
			sort.Strings(outputs)

			return outputs
		}

		time.Sleep(10 * time.Millisecond)
	}

	c.t.Fatalf("timed out waiting for %d sink outputs, got %q", n, outputs)

	return nil
}

// ============================================================================
// Assertions
// ============================================================================

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	result := s
	for {
		start := strings.Index(result, "\033[")
		if start == -1 {
			break
		}

		end := strings.Index(result[start:], "m")
		if end == -1 {
			break
		}

		result = result[:start] + result[start+end+1:]
	}

	return result
}

// AssertContains fails the test if content doesn't contain substr.
// Strips ANSI codes from content before comparison to handle TTY/non-TTY differences.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	cleaned := stripANSI(content)
	if !strings.Contains(cleaned, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
// Strips ANSI codes from content before comparison to handle TTY/non-TTY differences.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	cleaned := stripANSI(content)
	if strings.Contains(cleaned, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}

// ReadFileAbs reads the file at an absolute path.
func (c *CLI) ReadFileAbs(path string) string {
	c.t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		c.t.Fatalf("failed to read file %s: %v", path, err)
	}

	return string(content)
}
