package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Error is returned when ffmpeg or ffprobe exits unsuccessfully.
type Error struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

// Error includes only the last lines of stderr.
func (e *Error) Error() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	if tail := strings.Join(lines, "\n"); tail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Binary, e.Err, tail)
	}
	return fmt.Sprintf("%s: %v", e.Binary, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// run executes binary and discards its stdout.
func run(ctx context.Context, binary string, args []string) error {
	_, err := output(ctx, binary, args)
	return err
}

func output(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Binary: binary, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
