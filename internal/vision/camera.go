package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandCamera captures one still image by running a command that writes an
// encoded image to stdout, e.g. "fswebcam -q --no-banner -".
type CommandCamera struct {
	Command string
	Timeout time.Duration
}

func NewCommandCamera(command string) *CommandCamera {
	return &CommandCamera{Command: command, Timeout: 15 * time.Second}
}

// Capture runs the command and returns the image bytes after checking they
// decode.
func (c *CommandCamera) Capture(ctx context.Context) ([]byte, error) {
	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return nil, errors.New("camera: no capture command configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("camera: %s: %w: %s", fields[0], err, strings.TrimSpace(stderr.String()))
	}
	data := stdout.Bytes()
	if _, _, err := Decode(data); err != nil {
		return nil, fmt.Errorf("camera: output is not an image: %w", err)
	}
	return data, nil
}
