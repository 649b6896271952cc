package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// AudioSource yields raw PCM16LE mono audio at the recognizer's sample rate.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// AudioSourceFunc adapts a function to AudioSource.
type AudioSourceFunc func(ctx context.Context) (io.ReadCloser, error)

func (f AudioSourceFunc) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

// CommandSource captures audio by running an external recorder and reading
// its stdout, e.g. "arecord -q -f S16_LE -r 16000 -c 1 -t raw".
type CommandSource struct {
	Command string
}

func NewCommandSource(command string) *CommandSource {
	return &CommandSource{Command: command}
}

func (s *CommandSource) Open(ctx context.Context) (io.ReadCloser, error) {
	fields := strings.Fields(s.Command)
	if len(fields) == 0 {
		return nil, errors.New("audio source: empty command")
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio source: stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio source: start %s: %w", fields[0], err)
	}
	return &commandStream{cmd: cmd, out: out}, nil
}

type commandStream struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
}

func (c *commandStream) Read(p []byte) (int, error) { return c.out.Read(p) }

// Close stops the recorder and reaps it.
func (c *commandStream) Close() error {
	c.once.Do(func() {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
	})
	return nil
}
