// Package index stores transcripts and frame embeddings and answers keyword and
// visual queries over them. SQLite is the default backend; Postgres is used when
// the service shares a database server.
package index

import (
	"context"
	"errors"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
)

// ErrNotIndexed is returned for reads on a video that has no transcript.
var ErrNotIndexed = errors.New("index: video has no indexed transcript")

// DefaultLimit caps search results when the caller passes zero.
const DefaultLimit = 20

// Hit is a transcript segment matching a keyword query.
type Hit struct {
	VideoID   string  `json:"videoId"`
	SegmentID string  `json:"segmentId"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// FrameHit is a frame ranked by similarity to a query embedding.
type FrameHit struct {
	VideoID   string  `json:"videoId"`
	SegmentID string  `json:"segmentId"`
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
}

// Index is implemented by every backend.
type Index interface {
	pipeline.TextIndexer
	pipeline.VectorIndexer

	SegmentsForVideo(ctx context.Context, videoID string) ([]pipeline.Segment, error)
	Transcript(ctx context.Context, videoID string) (string, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]Hit, error)
	VisualSearch(ctx context.Context, query []float32, limit int) ([]FrameHit, error)
	DeleteVideo(ctx context.Context, videoID string) error
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Index = (*SQLite)(nil)
	_ Index = (*Postgres)(nil)
)

type frameRow struct {
	VideoID   string
	SegmentID string
	Timestamp float64
	Path      string
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
