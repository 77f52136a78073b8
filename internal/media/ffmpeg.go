// Package media adapts the ffmpeg, yt-dlp, youtube and whisper wrappers to the
// collaborator interfaces the ingestion pipeline drives.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/pkg/ffmpeg"
)

// FrameMaxWidth bounds the width of extracted frames handed to the embedder.
const FrameMaxWidth = 640

// FFmpeg probes media files and extracts thumbnails, audio and frames.
type FFmpeg struct {
	thumbnailsDir string
	framesDir     string
	logger        *slog.Logger

	// extractFrame is swapped in tests.
	extractFrame func(ctx context.Context, input, output string, offset time.Duration, maxWidth int) error
}

// NewFFmpeg writes thumbnails to thumbnailsDir/<id>.jpg and frames to framesDir/<id>/.
func NewFFmpeg(thumbnailsDir, framesDir string, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		thumbnailsDir: thumbnailsDir,
		framesDir:     framesDir,
		logger:        logger,
		extractFrame:  ffmpeg.ExtractFrame,
	}
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	res, err := ffmpeg.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if res.Duration <= 0 || math.IsNaN(res.Duration) {
		return 0, fmt.Errorf("ffprobe: no duration for %s", path)
	}
	if res.AudioStreams == 0 {
		f.logger.Warn("media has no audio stream; transcription will fail", "path", path)
	}
	return res.Duration, nil
}

// GenerateThumbnail writes a single JPEG taken at the given offset in seconds.
func (f *FFmpeg) GenerateThumbnail(ctx context.Context, videoID, videoPath string, at float64) (string, error) {
	if err := os.MkdirAll(f.thumbnailsDir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnails dir: %w", err)
	}
	out := filepath.Join(f.thumbnailsDir, videoID+".jpg")
	opts := &ffmpeg.ThumbnailOptions{Offset: seconds(at)}
	if err := ffmpeg.ExtractThumbnail(ctx, videoPath, out, opts); err != nil {
		return "", err
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("thumbnail not written: %w", err)
	}
	return out, nil
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	return ffmpeg.ExtractAudio(ctx, videoPath, audioPath, nil)
}

// ExtractFrames samples each segment at samplesPerSecond. Previous frames of the
// video are removed first. A frame that fails to extract is logged and skipped.
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoID, videoPath string, segments []pipeline.Segment, samplesPerSecond float64) (map[string][]pipeline.FrameSample, error) {
	if samplesPerSecond <= 0 {
		return nil, fmt.Errorf("invalid sample rate %v", samplesPerSecond)
	}
	dir := filepath.Join(f.framesDir, videoID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear frames dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	out := make(map[string][]pipeline.FrameSample)
	skipped := 0
	for _, seg := range segments {
		for _, ts := range frameTimestamps(seg.Start, seg.End, samplesPerSecond) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			path := filepath.Join(dir, frameFileName(seg.ID, ts))
			if err := f.extractFrame(ctx, videoPath, path, seconds(ts), FrameMaxWidth); err != nil {
				skipped++
				f.logger.Debug("frame extraction failed", "video_id", videoID, "segment_id", seg.ID, "timestamp", ts, "error", err)
				continue
			}
			out[seg.ID] = append(out[seg.ID], pipeline.FrameSample{Timestamp: ts, Path: path})
		}
	}
	if skipped > 0 {
		f.logger.Warn("some frames could not be extracted", "video_id", videoID, "skipped", skipped)
	}
	return out, nil
}

// frameTimestamps returns the sample points in [start, end). A segment shorter
// than one interval still gets its midpoint.
func frameTimestamps(start, end, rate float64) []float64 {
	if end <= start {
		return []float64{start}
	}
	step := 1 / rate
	if end-start < step {
		return []float64{start + (end-start)/2}
	}
	var out []float64
	for t := start; t < end; t += step {
		out = append(out, math.Round(t*1000)/1000)
	}
	return out
}

func frameFileName(segmentID string, ts float64) string {
	return fmt.Sprintf("%s_%06d.jpg", segmentID, int64(math.Round(ts*1000)))
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
