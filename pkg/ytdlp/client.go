// Package ytdlp wraps the yt-dlp command line for metadata lookups and downloads.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

const defaultBinary = "yt-dlp"

// lineWriter buffers command output and reports each non-empty line. yt-dlp
// redraws progress with carriage returns, so both \r and \n end a line.
type lineWriter struct {
	stream  string
	onLine  func(stream, line string)
	buf     bytes.Buffer
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.onLine == nil {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexAny(w.partial, "\r\n")
		if idx < 0 {
			return len(p), nil
		}
		line := strings.TrimSpace(string(w.partial[:idx]))
		skip := 1
		if w.partial[idx] == '\r' && idx+1 < len(w.partial) && w.partial[idx+1] == '\n' {
			skip = 2
		}
		w.partial = w.partial[idx+skip:]
		if line != "" {
			w.onLine(w.stream, line)
		}
	}
}

// ExecError is returned when yt-dlp exits unsuccessfully. Its message carries
// the last ERROR line yt-dlp printed so it can be shown to users as is.
type ExecError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	msg := lastErrorLine(e.Stderr)
	switch {
	case msg != "" && e.ExitCode != 0:
		return fmt.Sprintf("yt-dlp exited with %d: %s", e.ExitCode, msg)
	case msg != "":
		return "yt-dlp: " + msg
	case e.ExitCode != 0:
		return fmt.Sprintf("yt-dlp exited with %d", e.ExitCode)
	}
	return fmt.Sprintf("yt-dlp: %v", e.Cause)
}

func (e *ExecError) Unwrap() error { return e.Cause }

// lastErrorLine prefers the last "ERROR:" line and falls back to the last line.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

type Client struct {
	// Path to the yt-dlp executable. Empty means a PATH lookup of "yt-dlp".
	Path string

	// CookiesFile is a Netscape cookies.txt for sites that need a login. yt-dlp
	// rewrites the jar it is given, so each command gets a private copy.
	CookiesFile string

	// ExtraArgs are passed before per-call arguments.
	ExtraArgs []string

	// LogCallback receives each output line while a command runs.
	LogCallback func(stream, line string)

	Logger *slog.Logger

	execFn func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

func New() *Client {
	return &Client{Path: defaultBinary}
}

// Binary returns the configured executable or "yt-dlp".
func (c *Client) Binary() string {
	if strings.TrimSpace(c.Path) == "" {
		return defaultBinary
	}
	return c.Path
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	full := make([]string, 0, len(c.ExtraArgs)+len(args)+3)
	full = append(full, c.ExtraArgs...)
	if c.LogCallback != nil {
		full = append(full, "--newline")
	}
	if c.CookiesFile != "" {
		jar, err := copyToTemp(c.CookiesFile)
		if err != nil {
			return nil, fmt.Errorf("ytdlp: prepare cookies: %w", err)
		}
		defer os.Remove(jar)
		full = append(full, "--cookies", jar)
	}
	full = append(full, args...)

	var stdout, stderr []byte
	var err error
	if c.execFn != nil {
		stdout, stderr, err = c.execFn(ctx, c.Binary(), full...)
	} else {
		c.logger().Debug("running yt-dlp", "args", full)
		stdout, stderr, err = c.execCommand(ctx, full)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		exitCode := 0
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
		return nil, &ExecError{Args: args, ExitCode: exitCode, Stderr: strings.TrimSpace(string(stderr)), Cause: err}
	}
	return stdout, nil
}

func (c *Client) execCommand(ctx context.Context, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, c.Binary(), args...)
	out := &lineWriter{stream: "stdout", onLine: c.LogCallback}
	errOut := &lineWriter{stream: "stderr", onLine: c.LogCallback}
	cmd.Stdout = out
	cmd.Stderr = errOut
	err := cmd.Run()
	return out.buf.Bytes(), errOut.buf.Bytes(), err
}

// Version returns the output of yt-dlp --version.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Info holds the metadata fields read before a download. Raw keeps the full document.
type Info struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	WebpageURL string          `json:"webpage_url"`
	Extractor  string          `json:"extractor"`
	Uploader   string          `json:"uploader"`
	Duration   float64         `json:"duration"`
	Raw        json.RawMessage `json:"-"`
}

// GetInfo fetches metadata without downloading media.
func (c *Client) GetInfo(ctx context.Context, url string, extraArgs ...string) (*Info, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("ytdlp: url is required")
	}
	args := append([]string{"--dump-single-json", "--skip-download"}, extraArgs...)
	out, err := c.run(ctx, append(args, url)...)
	if err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(out)
	info := &Info{Raw: append(json.RawMessage(nil), raw...)}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("ytdlp: parse metadata: %w", err)
	}
	return info, nil
}

func copyToTemp(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "ytdlp-cookies-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
