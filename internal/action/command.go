package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// CommandAction runs an external command per pinch with the event as JSON on stdin.
type CommandAction struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// NewCommandAction creates a CommandAction with the given timeout in milliseconds.
func NewCommandAction(path string, timeoutMs int, args ...string) *CommandAction {
	return &CommandAction{
		Path:    path,
		Args:    args,
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
	}
}

// Fire runs the command and waits for it to exit or time out.
func (c *CommandAction) Fire(ctx context.Context, evt PinchEvent) error {
	if c.Path == "" {
		return errors.New("command action has no executable")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = time.Second

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal pinch event: %w", err)
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pinch command timeout after %s", timeout)
	}

	if err != nil {
		if s := stderr.String(); s != "" {
			return fmt.Errorf("pinch command failed: %w, stderr: %s", err, s)
		}
		return fmt.Errorf("pinch command failed: %w", err)
	}

	return nil
}
