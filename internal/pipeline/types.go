// Package pipeline drives a single video through fetch, probe, audio
// extraction, transcription, text indexing and the best-effort visual stage.
package pipeline

import (
	"fmt"

	"github.com/aihpi/workshop-video-search/internal/library"
)

// TranscriptSegment is one timed span as reported by a transcriber.
type TranscriptSegment struct {
	Start float64
	End   float64
	Text  string
}

// Transcription is the result of a transcriber run.
type Transcription struct {
	Text     string
	Language string
	Segments []TranscriptSegment
}

// Segment is a transcript segment owned by a video.
type Segment struct {
	ID    string  `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SegmentID returns the identifier of the ordinal-th segment of a video.
func SegmentID(videoID string, ordinal int) string {
	return fmt.Sprintf("%s_%d", videoID, ordinal)
}

// BuildSegments assigns ids in transcriber order. An end before the start is
// clamped to the start.
func BuildSegments(videoID string, in []TranscriptSegment) []Segment {
	out := make([]Segment, 0, len(in))
	for i, s := range in {
		end := s.End
		if end < s.Start {
			end = s.Start
		}
		out = append(out, Segment{
			ID:    SegmentID(videoID, i),
			Start: s.Start,
			End:   end,
			Text:  s.Text,
		})
	}
	return out
}

// FrameSample is an extracted still image not yet embedded.
type FrameSample struct {
	Timestamp float64
	Path      string
}

// Frame is an embedded still image associated with a transcript segment.
type Frame struct {
	SegmentID string
	Timestamp float64
	Path      string
	Embedding []float32
}

// VideoStore is the part of the record store the processor writes through.
type VideoStore interface {
	Get(id string) (library.Video, bool)
	UpdateStatus(id string, status library.Status, errMsg string) error
	UpdateMetadata(id string, update library.MetadataUpdate) error
}

// OutcomeKind classifies how processing of one item ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	// OutcomeSkipped means the record no longer existed when the item was picked up.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeInterrupted means the pool was stopping and the item was left in
	// processing at a stage boundary, to be resumed on the next start.
	OutcomeInterrupted OutcomeKind = "interrupted"
)

// VisualKind classifies the result of the visual stage.
type VisualKind string

const (
	VisualDisabled VisualKind = "disabled"
	VisualIndexed  VisualKind = "indexed"
	VisualNoFrames VisualKind = "no_frames"
	VisualFailed   VisualKind = "failed"
)

// VisualResult reports the best-effort visual stage separately from the item outcome.
type VisualResult struct {
	Kind   VisualKind
	Frames int
	Err    error
}

// Outcome is the result of processing one dequeued id.
type Outcome struct {
	VideoID string
	Kind    OutcomeKind
	Err     error
	Visual  VisualResult
}
