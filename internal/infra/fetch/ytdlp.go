package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultYtdlpPath    = "yt-dlp"
	defaultYtdlpTimeout = 10 * time.Minute
)

// Runner executes one downloader invocation and returns its stdout.
// The production implementation shells out to yt-dlp; tests swap in a
// fake.
type Runner interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

// runFailure carries the subprocess stderr for classification.
type runFailure struct {
	stderr string
	err    error
}

func (f *runFailure) Error() string { return fmt.Sprintf("yt-dlp: %v", f.err) }
func (f *runFailure) Unwrap() error { return f.err }

// YtdlpRunner invokes the yt-dlp binary as a subprocess.
type YtdlpRunner struct {
	// Path is the yt-dlp executable. Defaults to "yt-dlp".
	Path string

	// Timeout bounds one invocation. Defaults to 10 minutes.
	Timeout time.Duration
}

// NewYtdlpRunner creates a runner with defaults.
func NewYtdlpRunner() *YtdlpRunner {
	return &YtdlpRunner{Path: defaultYtdlpPath, Timeout: defaultYtdlpTimeout}
}

// CheckInstalled verifies the binary is reachable and returns its
// version string.
func (r *YtdlpRunner) CheckInstalled(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.path(), "--version").Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp not installed or not in PATH: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Run executes yt-dlp with the given arguments and returns stdout.
// Non-zero exits surface stderr through runFailure so the caller can
// classify the failure.
func (r *YtdlpRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = defaultYtdlpTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.path(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &runFailure{stderr: stderr.String(), err: fmt.Errorf("timed out after %v", timeout)}
		}
		return nil, &runFailure{stderr: stderr.String(), err: err}
	}
	return stdout.Bytes(), nil
}

func (r *YtdlpRunner) path() string {
	if r.Path == "" {
		return defaultYtdlpPath
	}
	return r.Path
}
