package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// ProbeResult holds the container facts the pipeline reads.
type ProbeResult struct {
	Duration     float64 // seconds
	Width        int
	Height       int
	VideoStreams int
	AudioStreams int
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe on path.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	raw, err := output(ctx, ProbeBinary, []string{
		"-hide_banner", "-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		path,
	})
	if err != nil {
		return nil, err
	}
	return parseProbe(raw)
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	result := &ProbeResult{}
	if out.Format.Duration != "" && out.Format.Duration != "N/A" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("ffprobe: bad duration %q: %w", out.Format.Duration, err)
		}
		result.Duration = d
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if result.VideoStreams == 0 {
				result.Width, result.Height = s.Width, s.Height
			}
			result.VideoStreams++
		case "audio":
			result.AudioStreams++
		}
	}
	return result, nil
}

// ProbeDuration returns just the duration in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	result, err := Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return result.Duration, nil
}
