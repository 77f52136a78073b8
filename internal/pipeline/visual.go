package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aihpi/workshop-video-search/internal/library"
)

// processVisual extracts, embeds and indexes frames. It never returns an error
// to the caller; the result carries it instead.
func (p *Processor) processVisual(ctx context.Context, v library.Video, segments []Segment, logger *slog.Logger) (res VisualResult) {
	defer func() {
		if r := recover(); r != nil {
			res = VisualResult{Kind: VisualFailed, Err: fmt.Errorf("panic in visual processing: %v", r)}
		}
		if res.Kind == VisualFailed && !errors.Is(res.Err, errDeleted) {
			logger.Warn("visual processing failed, transcript results kept", "error", res.Err)
		}
	}()

	samples, err := p.c.Frames.ExtractFrames(ctx, v.ID, v.FilePath, segments, p.sampleRate)
	if err != nil {
		return VisualResult{Kind: VisualFailed, Err: fmt.Errorf("extract frames: %w", err)}
	}

	refs := flattenFrames(segments, samples)
	if len(refs) == 0 {
		logger.Warn("no frames extracted, skipping visual indexing")
		return VisualResult{Kind: VisualNoFrames}
	}

	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = r.Path
	}
	embeddings, err := p.c.Embedder.EmbedImages(ctx, paths)
	if err != nil {
		return VisualResult{Kind: VisualFailed, Err: fmt.Errorf("embed frames: %w", err)}
	}
	if len(embeddings) != len(paths) {
		return VisualResult{Kind: VisualFailed, Err: fmt.Errorf("%w: got %d for %d frames", ErrEmbeddingMismatch, len(embeddings), len(paths))}
	}

	frames := make(map[string][]Frame)
	for i, r := range refs {
		r.Embedding = embeddings[i]
		frames[r.SegmentID] = append(frames[r.SegmentID], r)
	}
	if !p.stillPresent(v.ID) {
		return VisualResult{Kind: VisualFailed, Err: errDeleted}
	}
	if err := p.c.Vectors.IndexFrames(ctx, v.ID, frames); err != nil {
		return VisualResult{Kind: VisualFailed, Err: fmt.Errorf("index frames: %w", err)}
	}

	logger.Info("visual processing finished", "frames", len(refs), "segments", len(frames))
	return VisualResult{Kind: VisualIndexed, Frames: len(refs)}
}

// flattenFrames orders frames by transcript segment order, then by the order
// the extractor returned them. Frames keyed by an unknown segment id follow,
// sorted by id.
func flattenFrames(segments []Segment, samples map[string][]FrameSample) []Frame {
	var out []Frame
	known := make(map[string]bool, len(segments))
	for _, s := range segments {
		known[s.ID] = true
		for _, fs := range samples[s.ID] {
			out = append(out, Frame{SegmentID: s.ID, Timestamp: fs.Timestamp, Path: fs.Path})
		}
	}

	var extra []string
	for id := range samples {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		for _, fs := range samples[id] {
			out = append(out, Frame{SegmentID: id, Timestamp: fs.Timestamp, Path: fs.Path})
		}
	}
	return out
}
