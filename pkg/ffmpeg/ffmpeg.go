// Package ffmpeg builds and runs ffmpeg and ffprobe commands for media
// preparation: thumbnails, audio tracks and sampled frames.
package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Binary and ProbeBinary name the executables that are run. Override them to
// point at a specific installation.
var (
	Binary      = "ffmpeg"
	ProbeBinary = "ffprobe"
)

// Command is an ffmpeg invocation with one input and one output.
type Command struct {
	input     string
	output    string
	preInput  []string // input seeking
	postInput []string
	filters   []string // joined into -vf
}

// Option modifies a Command. The order options are given in does not matter.
type Option interface {
	Apply(cmd *Command)
}

// OptionFunc is a function that implements Option.
type OptionFunc func(cmd *Command)

func (f OptionFunc) Apply(cmd *Command) { f(cmd) }

func NewCommand(input, output string, opts ...Option) *Command {
	cmd := &Command{input: input, output: output}
	for _, opt := range opts {
		opt.Apply(cmd)
	}
	return cmd
}

// Build returns the complete ffmpeg argument list.
func (c *Command) Build() []string {
	args := append([]string{"-hide_banner", "-nostdin", "-y"}, c.preInput...)
	args = append(args, "-i", c.input)
	args = append(args, c.postInput...)
	if len(c.filters) > 0 {
		args = append(args, "-vf", strings.Join(c.filters, ","))
	}
	return append(args, c.output)
}

func (c *Command) Run(ctx context.Context) error {
	return run(ctx, Binary, c.Build())
}

// Run builds and executes a command.
func Run(ctx context.Context, input, output string, opts ...Option) error {
	return NewCommand(input, output, opts...).Run(ctx)
}

// Seek sets the start position before -i so ffmpeg seeks the input.
func Seek(start time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append(cmd.preInput, "-ss", formatDuration(start))
	})
}

// NoVideo drops video streams from the output.
var NoVideo Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-vn")
})

func AudioCodec(codec string) Option {
	return postInput("-c:a", codec)
}

func AudioBitrate(bitrate string) Option {
	return postInput("-b:a", bitrate)
}

func AudioChannels(n int) Option {
	return postInput("-ac", strconv.Itoa(n))
}

func AudioSampleRate(hz int) Option {
	return postInput("-ar", strconv.Itoa(hz))
}

// Frames limits the number of video frames written.
func Frames(n int) Option {
	return postInput("-frames:v", strconv.Itoa(n))
}

// Quality sets JPEG quality, 2 (best) to 31.
func Quality(q int) Option {
	return postInput("-q:v", strconv.Itoa(q))
}

// Filter appends a video filter to the chain.
func Filter(f string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.filters = append(cmd.filters, f)
	})
}

// ScaleWidth scales to width and keeps the aspect ratio with an even height.
func ScaleWidth(width int) Option {
	return Filter(fmt.Sprintf("scale=%d:-2", width))
}

func postInput(args ...string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, args...)
	})
}

func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
