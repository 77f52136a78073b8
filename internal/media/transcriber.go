package media

import (
	"context"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/pkg/whisper"
)

type whisperRunner interface {
	Transcribe(ctx context.Context, audioPath, model, lang string) (*whisper.Result, error)
}

// WhisperTranscriber runs the whisper CLI and converts its segments.
type WhisperTranscriber struct {
	runner whisperRunner
}

func NewWhisperTranscriber(runner *whisper.Runner) *WhisperTranscriber {
	if runner == nil {
		runner = &whisper.Runner{}
	}
	return &WhisperTranscriber{runner: runner}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, model, language string) (pipeline.Transcription, error) {
	res, err := t.runner.Transcribe(ctx, audioPath, model, language)
	if err != nil {
		return pipeline.Transcription{}, err
	}
	out := pipeline.Transcription{
		Text:     res.Text,
		Language: res.Language,
		Segments: make([]pipeline.TranscriptSegment, 0, len(res.Segments)),
	}
	for _, s := range res.Segments {
		out.Segments = append(out.Segments, pipeline.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return out, nil
}
