package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/aihpi/workshop-video-search/internal/library"
)

// DefaultSampleRate is one frame every two seconds.
const DefaultSampleRate = 0.5

// Stage names reported to a StageObserver.
const (
	StageFetch      = "fetch"
	StageProbe      = "probe"
	StageAudio      = "audio"
	StageTranscribe = "transcribe"
	StageIndexText  = "index_text"
	StageVisual     = "visual"
)

var (
	// ErrFileMissing is returned when the media file is absent after the fetch stage.
	ErrFileMissing = errors.New("video file not found after fetch")
	// ErrEmbeddingMismatch is returned when the embedder does not return one vector per frame.
	ErrEmbeddingMismatch = errors.New("embedding count does not match frame count")

	errInterrupted = errors.New("processing interrupted by shutdown")
	errDeleted     = errors.New("video deleted while processing")
)

// StageObserver is told how long each stage took and whether it failed.
type StageObserver func(stage string, elapsed time.Duration, err error)

// Processor runs the per-video pipeline against a record store.
type Processor struct {
	store      VideoStore
	c          Collaborators
	sampleRate float64
	logger     *slog.Logger
	observe    StageObserver
}

// Option configures a Processor.
type Option func(*Processor)

// WithSampleRate sets the frame sampling rate in frames per second.
func WithSampleRate(rate float64) Option {
	return func(p *Processor) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithStageObserver(fn StageObserver) Option {
	return func(p *Processor) {
		if fn != nil {
			p.observe = fn
		}
	}
}

// NewProcessor validates the required collaborators. Prober and Thumbnailer
// are optional; the visual stage is skipped unless all of its collaborators are set.
func NewProcessor(store VideoStore, c Collaborators, opts ...Option) (*Processor, error) {
	switch {
	case store == nil:
		return nil, errors.New("pipeline: store is required")
	case c.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case c.Audio == nil:
		return nil, errors.New("pipeline: audio extractor is required")
	case c.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case c.Text == nil:
		return nil, errors.New("pipeline: text indexer is required")
	}

	p := &Processor{
		store:      store,
		c:          c,
		sampleRate: DefaultSampleRate,
		logger:     slog.Default(),
		observe:    func(string, time.Duration, error) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process drives one video to a terminal status. It never panics.
//
// Collaborators run on a context detached from ctx, so cancelling ctx does
// not abort a stage in flight. Cancellation is checked between stages; an
// interrupted video stays in processing and is picked up again on restart.
func (p *Processor) Process(ctx context.Context, id string) (out Outcome) {
	out = Outcome{VideoID: id, Visual: VisualResult{Kind: VisualDisabled}}
	logger := p.logger.With("video_id", id)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing video: %v", r)
			logger.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			p.markFailed(id, err, logger)
			out.Kind = OutcomeFailed
			out.Err = err
		}
	}()

	v, ok := p.store.Get(id)
	if !ok {
		logger.Info("video no longer in library, skipping")
		out.Kind = OutcomeSkipped
		return out
	}

	if err := p.store.UpdateStatus(id, library.StatusProcessing, ""); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			out.Kind = OutcomeSkipped
			return out
		}
		out.Kind = OutcomeFailed
		out.Err = fmt.Errorf("mark processing: %w", err)
		logger.Error("failed to mark video as processing", "error", err)
		return out
	}
	logger.Info("processing video", "title", v.Title, "source", v.Source)

	started := time.Now()
	visual, err := p.run(ctx, v, logger)
	out.Visual = visual

	switch {
	case errors.Is(err, errInterrupted):
		logger.Info("processing interrupted, video left for resumption")
		out.Kind = OutcomeInterrupted
		out.Err = err
		return out
	case errors.Is(err, errDeleted):
		logger.Info("video deleted while processing, index writes skipped")
		out.Kind = OutcomeSkipped
		return out
	case err != nil:
		p.markFailed(id, err, logger)
		out.Kind = OutcomeFailed
		out.Err = err
		return out
	}

	if err := p.store.UpdateStatus(id, library.StatusCompleted, ""); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			logger.Info("video deleted while processing")
			out.Kind = OutcomeSkipped
			return out
		}
		out.Kind = OutcomeFailed
		out.Err = fmt.Errorf("mark completed: %w", err)
		logger.Error("failed to mark video as completed", "error", err)
		return out
	}
	logger.Info("video processed", "elapsed", time.Since(started).Round(time.Millisecond), "visual", visual.Kind)
	out.Kind = OutcomeCompleted
	return out
}

func (p *Processor) markFailed(id string, cause error, logger *slog.Logger) {
	logger.Error("video processing failed", "error", cause)
	if err := p.store.UpdateStatus(id, library.StatusFailed, cause.Error()); err != nil && !errors.Is(err, library.ErrNotFound) {
		logger.Error("failed to record failure status", "error", err)
	}
}

func (p *Processor) stage(ctx context.Context, name string, fn func() error) error {
	if ctx.Err() != nil {
		return errInterrupted
	}
	start := time.Now()
	err := fn()
	p.observe(name, time.Since(start), err)
	return err
}

func (p *Processor) run(ctx context.Context, v library.Video, logger *slog.Logger) (VisualResult, error) {
	work := context.WithoutCancel(ctx)
	disabled := VisualResult{Kind: VisualDisabled}

	if v.FromURL() {
		err := p.stage(ctx, StageFetch, func() error {
			if err := p.c.Fetcher.Fetch(work, v.SourceURL, v.FilePath); err != nil {
				return fmt.Errorf("fetch %s: %w", v.SourceURL, err)
			}
			return nil
		})
		if err != nil {
			return disabled, err
		}
	}

	if _, err := os.Stat(v.FilePath); err != nil {
		return disabled, fmt.Errorf("%w: %s", ErrFileMissing, v.FilePath)
	}

	if err := p.stage(ctx, StageProbe, func() error {
		return p.probe(work, v, logger)
	}); err != nil {
		return disabled, err
	}

	audioPath := library.AudioPath(v.FilePath)
	defer func() {
		if err := os.Remove(audioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove audio file", "path", audioPath, "error", err)
		}
	}()
	if err := p.stage(ctx, StageAudio, func() error {
		if err := p.c.Audio.ExtractAudio(work, v.FilePath, audioPath); err != nil {
			return fmt.Errorf("extract audio: %w", err)
		}
		return nil
	}); err != nil {
		return disabled, err
	}

	var segments []Segment
	var transcript Transcription
	if err := p.stage(ctx, StageTranscribe, func() error {
		t, err := p.c.Transcriber.Transcribe(work, audioPath, v.Model, "")
		if err != nil {
			return fmt.Errorf("transcribe: %w", err)
		}
		transcript = t
		segments = BuildSegments(v.ID, t.Segments)
		return nil
	}); err != nil {
		return disabled, err
	}
	logger.Info("transcription finished", "segments", len(segments), "language", transcript.Language, "model", v.Model)

	if !p.stillPresent(v.ID) {
		return disabled, errDeleted
	}
	if err := p.stage(ctx, StageIndexText, func() error {
		if err := p.c.Text.IndexTranscript(work, v.ID, transcript.Text, segments); err != nil {
			return fmt.Errorf("index transcript: %w", err)
		}
		return nil
	}); err != nil {
		return disabled, err
	}

	if !p.c.visualEnabled() {
		return disabled, nil
	}
	var visual VisualResult
	if err := p.stage(ctx, StageVisual, func() error {
		visual = p.processVisual(work, v, segments, logger)
		return visual.Err
	}); errors.Is(err, errInterrupted) || errors.Is(err, errDeleted) {
		return disabled, err
	}
	return visual, nil
}

// stillPresent reports whether the record survived a delete issued while
// collaborators were running.
func (p *Processor) stillPresent(id string) bool {
	_, ok := p.store.Get(id)
	return ok
}

// probe records duration and thumbnail. Every failure here is logged only.
func (p *Processor) probe(ctx context.Context, v library.Video, logger *slog.Logger) error {
	var update library.MetadataUpdate

	if p.c.Prober != nil {
		d, err := p.c.Prober.ProbeDuration(ctx, v.FilePath)
		if err != nil {
			logger.Warn("could not probe duration", "error", err)
		} else if d > 0 {
			update.Duration = &d
		}
	}

	if p.c.Thumbnailer != nil {
		at := 5.0
		if update.Duration != nil {
			at = *update.Duration * 0.1
		}
		thumb, err := p.c.Thumbnailer.GenerateThumbnail(ctx, v.ID, v.FilePath, at)
		if err != nil {
			logger.Warn("could not generate thumbnail", "error", err)
		} else if thumb != "" {
			update.ThumbnailPath = &thumb
		}
	}

	if update.Duration == nil && update.ThumbnailPath == nil {
		return nil
	}
	if err := p.store.UpdateMetadata(v.ID, update); err != nil {
		logger.Warn("could not save duration and thumbnail", "error", err)
	}
	return nil
}
