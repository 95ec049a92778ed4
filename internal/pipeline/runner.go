package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Task is one unit of category work admitted by the queue.
type Task struct {
	Category    string
	RequesterID int64
	URL         string
	MediaPath   string
	ItemID      string
	RunHandle   string
}

// TaskRunner executes one admitted task to completion.
type TaskRunner interface {
	Run(ctx context.Context, task Task) error
}

// ExecRunner runs a configured command for each task. Occurrences of
// {url}, {media} and {id} in the argument list are replaced with the
// task's fields before execution.
type ExecRunner struct {
	Command []string
}

func (r *ExecRunner) Run(ctx context.Context, task Task) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("no command configured for category %s", task.Category)
	}

	args := make([]string, len(r.Command))
	for i, a := range r.Command {
		a = strings.ReplaceAll(a, "{url}", task.URL)
		a = strings.ReplaceAll(a, "{media}", task.MediaPath)
		a = strings.ReplaceAll(a, "{id}", task.ItemID)
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			if i := strings.IndexByte(msg, '\n'); i >= 0 {
				msg = msg[:i]
			}
			return fmt.Errorf("%s failed: %s: %w", args[0], msg, err)
		}
		return fmt.Errorf("%s failed: %w", args[0], err)
	}
	return nil
}

// RunnerFunc adapts a function to the TaskRunner interface.
type RunnerFunc func(ctx context.Context, task Task) error

func (f RunnerFunc) Run(ctx context.Context, task Task) error { return f(ctx, task) }
