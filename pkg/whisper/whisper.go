// Package whisper runs the openai-whisper command line tool and parses its
// JSON output into timed segments.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aihpi/workshop-video-search/pkg/utils/language"
)

// Models accepted by the whisper CLI.
var Models = []string{"tiny", "base", "small", "medium", "large", "turbo"}

// Segment is one timed span of the transcript.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the parsed whisper JSON output.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Error is a failed whisper run with its combined output.
type Error struct {
	Args   []string
	Output string
	Err    error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if lines := strings.Split(out, "\n"); len(lines) > 3 {
		out = strings.Join(lines[len(lines)-3:], "\n")
	}
	if out == "" {
		return fmt.Sprintf("whisper: %v", e.Err)
	}
	return fmt.Sprintf("whisper: %v: %s", e.Err, out)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner invokes the whisper CLI.
type Runner struct {
	// Cmd is the executable, "whisper" if empty.
	Cmd string
	// Device is passed as --device (cpu, cuda).
	Device string
	// Timeout bounds a single run. Zero means no limit.
	Timeout time.Duration
	// ExtraArgs are appended to every invocation.
	ExtraArgs []string
	Logger    *slog.Logger

	execFn func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (r *Runner) cmd() string {
	if c := strings.TrimSpace(r.Cmd); c != "" {
		return c
	}
	return "whisper"
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Available reports whether the whisper executable can be found.
func (r *Runner) Available() (string, error) {
	return exec.LookPath(r.cmd())
}

// Transcribe runs whisper on audioPath. An empty or "auto" lang lets whisper
// detect the language.
func (r *Runner) Transcribe(ctx context.Context, audioPath, model, lang string) (*Result, error) {
	if strings.TrimSpace(audioPath) == "" {
		return nil, errors.New("whisper: audio path is required")
	}
	if model == "" {
		model = "base"
	}

	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("whisper: create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audioPath,
		"--model", model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--task", "transcribe",
		"--verbose", "False",
	}
	if r.Device != "" {
		args = append(args, "--device", r.Device)
	}
	if code := language.Normalize(lang); code != "" {
		args = append(args, "--language", code)
	}
	args = append(args, r.ExtraArgs...)

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	started := time.Now()
	r.logger().Info("whisper: transcribing", "audio", audioPath, "model", model, "device", r.Device)
	output, err := r.run(ctx, args)
	if err != nil {
		return nil, &Error{Args: args, Output: string(output), Err: err}
	}

	res, err := readResult(outDir, audioPath)
	if err != nil {
		return nil, err
	}
	r.logger().Info("whisper: done", "audio", audioPath, "segments", len(res.Segments),
		"language", res.Language, "elapsed", time.Since(started).Round(time.Second))
	return res, nil
}

func (r *Runner) run(ctx context.Context, args []string) ([]byte, error) {
	if r.execFn != nil {
		return r.execFn(ctx, r.cmd(), args...)
	}
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cmd(), args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

func readResult(outDir, audioPath string) (*Result, error) {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	path := filepath.Join(outDir, base+".json")
	if _, err := os.Stat(path); err != nil {
		matches, _ := filepath.Glob(filepath.Join(outDir, "*.json"))
		if len(matches) == 0 {
			return nil, fmt.Errorf("whisper: output not found in %s", outDir)
		}
		path = matches[0]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: read output: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("whisper: parse output: %w", err)
	}

	res.Text = strings.TrimSpace(res.Text)
	for i := range res.Segments {
		res.Segments[i].Text = strings.TrimSpace(res.Segments[i].Text)
	}
	if code := language.Normalize(res.Language); code != "" {
		res.Language = code
	}
	return &res, nil
}
