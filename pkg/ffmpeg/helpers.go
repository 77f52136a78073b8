package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrOutputTooSmall is returned when ffmpeg exits cleanly but writes almost nothing,
// which happens for inputs without a usable audio track.
var ErrOutputTooSmall = errors.New("ffmpeg: output file is too small")

// ThumbnailOptions configures thumbnail extraction.
type ThumbnailOptions struct {
	Offset   time.Duration // Where to extract from (default: 5s)
	MaxWidth int           // Maximum width (default: 320)
	Quality  int           // JPEG quality 1-31, lower is better (default: 4)
}

func thumbnailArgs(opts *ThumbnailOptions) []Option {
	if opts == nil {
		opts = &ThumbnailOptions{}
	}
	if opts.Offset <= 0 {
		opts.Offset = 5 * time.Second
	}
	if opts.MaxWidth == 0 {
		opts.MaxWidth = 320
	}
	if opts.Quality == 0 {
		opts.Quality = 4
	}
	return []Option{
		Seek(opts.Offset),
		ScaleWidth(opts.MaxWidth),
		Frames(1),
		Quality(opts.Quality),
	}
}

// ExtractThumbnail extracts a single frame as an image.
func ExtractThumbnail(ctx context.Context, input, output string, opts *ThumbnailOptions) error {
	return Run(ctx, input, output, thumbnailArgs(opts)...)
}

// AudioOptions configures audio track extraction.
type AudioOptions struct {
	Codec      string // default: libmp3lame
	SampleRate int    // default: 16000
	Channels   int    // default: 1
	Bitrate    string // default: 128k
	MinBytes   int64  // smallest acceptable output (default: 1000)
}

func audioArgs(opts *AudioOptions) ([]Option, int64) {
	if opts == nil {
		opts = &AudioOptions{}
	}
	if opts.Codec == "" {
		opts.Codec = "libmp3lame"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels == 0 {
		opts.Channels = 1
	}
	if opts.Bitrate == "" {
		opts.Bitrate = "128k"
	}
	if opts.MinBytes == 0 {
		opts.MinBytes = 1000
	}
	return []Option{
		NoVideo,
		AudioCodec(opts.Codec),
		AudioSampleRate(opts.SampleRate),
		AudioChannels(opts.Channels),
		AudioBitrate(opts.Bitrate),
	}, opts.MinBytes
}

// ExtractAudio writes the audio track of input to output, resampled for speech recognition.
func ExtractAudio(ctx context.Context, input, output string, opts *AudioOptions) error {
	args, minBytes := audioArgs(opts)
	if err := Run(ctx, input, output, args...); err != nil {
		return err
	}
	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("ffmpeg: audio output missing: %w", err)
	}
	if info.Size() < minBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrOutputTooSmall, output, info.Size())
	}
	return nil
}

// ErrNoFrame is returned when ffmpeg succeeds without writing an image, which
// happens when the offset lies past the last decodable frame.
var ErrNoFrame = errors.New("ffmpeg: no frame at offset")

// ExtractFrame writes the frame at offset as a JPEG scaled to maxWidth (0 keeps the source size).
func ExtractFrame(ctx context.Context, input, output string, offset time.Duration, maxWidth int) error {
	opts := []Option{Seek(offset), Frames(1), Quality(2)}
	if maxWidth > 0 {
		opts = append(opts, ScaleWidth(maxWidth))
	}
	if err := Run(ctx, input, output, opts...); err != nil {
		return err
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		return fmt.Errorf("%w %s", ErrNoFrame, formatDuration(offset))
	}
	return nil
}
