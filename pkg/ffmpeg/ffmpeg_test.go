package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuild(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		output   string
		opts     []Option
		wantArgs []string
	}{
		{
			name:   "seek goes before input",
			input:  "input.mp4",
			output: "output.mp3",
			opts: []Option{
				NoVideo,
				Seek(10 * time.Second),
			},
			wantArgs: []string{
				"-hide_banner", "-nostdin", "-y",
				"-ss", "10.000",
				"-i", "input.mp4",
				"-vn",
				"output.mp3",
			},
		},
		{
			name:   "thumbnail extraction",
			input:  "input.mp4",
			output: "thumb.jpg",
			opts:   thumbnailArgs(&ThumbnailOptions{Offset: 12 * time.Second}),
			wantArgs: []string{
				"-hide_banner", "-nostdin", "-y",
				"-ss", "12.000",
				"-i", "input.mp4",
				"-frames:v", "1",
				"-q:v", "4",
				"-vf", "scale=320:-2",
				"thumb.jpg",
			},
		},
		{
			name:   "thumbnail defaults",
			input:  "input.mp4",
			output: "thumb.jpg",
			opts:   thumbnailArgs(nil),
			wantArgs: []string{
				"-hide_banner", "-nostdin", "-y",
				"-ss", "5.000",
				"-i", "input.mp4",
				"-frames:v", "1",
				"-q:v", "4",
				"-vf", "scale=320:-2",
				"thumb.jpg",
			},
		},
		{
			name:   "audio for speech recognition",
			input:  "talk.webm",
			output: "talk.mp3",
			opts: func() []Option {
				opts, _ := audioArgs(nil)
				return opts
			}(),
			wantArgs: []string{
				"-hide_banner", "-nostdin", "-y",
				"-i", "talk.webm",
				"-vn",
				"-c:a", "libmp3lame",
				"-ar", "16000",
				"-ac", "1",
				"-b:a", "128k",
				"talk.mp3",
			},
		},
		{
			name:   "filters are combined",
			input:  "input.mp4",
			output: "frame.jpg",
			opts: []Option{
				ScaleWidth(640),
				Filter("format=yuvj420p"),
				Frames(1),
			},
			wantArgs: []string{
				"-hide_banner", "-nostdin", "-y",
				"-i", "input.mp4",
				"-frames:v", "1",
				"-vf", "scale=640:-2,format=yuvj420p",
				"frame.jpg",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewCommand(tt.input, tt.output, tt.opts...).Build()
			assert.Equal(t, tt.wantArgs, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0.000"},
		{1500 * time.Millisecond, "1.500"},
		{time.Hour + 30*time.Minute + 45*time.Second + 500*time.Millisecond, "5445.500"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &Error{
		Binary: "ffmpeg",
		Args:   []string{"-i", "x.mp4", "y.mp3"},
		Stderr: "line1\nline2\nline3\nInvalid data found when processing input\n",
		Err:    inner,
	}
	assert.Equal(t, "ffmpeg: exit status 1: line2\nline3\nInvalid data found when processing input", err.Error())
	assert.ErrorIs(t, err, inner)

	bare := &Error{Binary: "ffprobe", Err: inner}
	assert.Equal(t, "ffprobe: exit status 1", bare.Error())
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"format": {"duration": "63.250000"},
		"streams": [
			{"codec_type": "video", "width": 1280, "height": 720},
			{"codec_type": "audio"},
			{"codec_type": "audio"},
			{"codec_type": "video", "width": 160, "height": 90}
		]
	}`)

	got, err := parseProbe(raw)
	require.NoError(t, err)
	assert.InDelta(t, 63.25, got.Duration, 1e-9)
	assert.Equal(t, 1280, got.Width)
	assert.Equal(t, 720, got.Height)
	assert.Equal(t, 2, got.VideoStreams)
	assert.Equal(t, 2, got.AudioStreams)

	noDuration, err := parseProbe([]byte(`{"format": {"duration": "N/A"}, "streams": []}`))
	require.NoError(t, err)
	assert.Zero(t, noDuration.Duration)

	_, err = parseProbe([]byte(`{"format": {"duration": "abc"}}`))
	require.Error(t, err)

	_, err = parseProbe([]byte("nope"))
	require.Error(t, err)
}

// =============================================================================
// Integration tests - require ffmpeg to be installed
// =============================================================================

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := exec.LookPath(Binary); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath(ProbeBinary); err != nil {
		t.Skip("ffprobe not installed")
	}
}

// generateTestVideo creates a test pattern video with a tone.
func generateTestVideo(t *testing.T, duration time.Duration) string {
	t.Helper()
	output := filepath.Join(t.TempDir(), "test_input.mp4")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	durStr := formatDuration(duration)
	args := []string{
		"-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc2=duration=" + durStr + ":size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=" + durStr,
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "28",
		"-c:a", "aac", "-b:a", "64k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		output,
	}
	require.NoError(t, run(ctx, Binary, args), "failed to generate test video")
	return output
}

func TestIntegration_ExtractThumbnailAndFrame(t *testing.T) {
	requireFFmpeg(t)
	input := generateTestVideo(t, 3*time.Second)
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	thumb := filepath.Join(dir, "thumb.jpg")
	require.NoError(t, ExtractThumbnail(ctx, input, thumb, &ThumbnailOptions{Offset: time.Second, MaxWidth: 160}))
	info, err := os.Stat(thumb)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	frame := filepath.Join(dir, "frame.jpg")
	require.NoError(t, ExtractFrame(ctx, input, frame, 2*time.Second, 0))
	_, err = os.Stat(frame)
	require.NoError(t, err)

	err = ExtractFrame(ctx, input, filepath.Join(dir, "late.jpg"), time.Minute, 0)
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestIntegration_ExtractAudioAndProbe(t *testing.T) {
	requireFFmpeg(t)
	input := generateTestVideo(t, 4*time.Second)
	output := filepath.Join(t.TempDir(), "audio.mp3")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, ExtractAudio(ctx, input, output, nil))

	d, err := ProbeDuration(ctx, input)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, d, 0.5)

	res, err := Probe(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 320, res.Width)
	assert.Equal(t, 1, res.AudioStreams)
}

func TestIntegration_ErrorCarriesStderr(t *testing.T) {
	requireFFmpeg(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := Run(ctx, filepath.Join(t.TempDir(), "missing.mp4"), filepath.Join(t.TempDir(), "out.mp3"))
	var ffErr *Error
	require.ErrorAs(t, err, &ffErr)
	assert.True(t, strings.Contains(ffErr.Stderr, "missing.mp4"))
}
