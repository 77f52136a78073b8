package pipeline

import "context"

// Fetcher materializes a remote video at destPath.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, destPath string) error
}

// Prober reads the duration of a media file in seconds.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Thumbnailer writes a still image taken at the given offset and returns its path.
type Thumbnailer interface {
	GenerateThumbnail(ctx context.Context, videoID, videoPath string, at float64) (string, error)
}

// AudioExtractor writes the audio track of videoPath to audioPath.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// Transcriber turns an audio file into timed text. An empty language asks for detection.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, model, language string) (Transcription, error)
}

// FrameExtractor samples still frames inside each segment at samplesPerSecond.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoID, videoPath string, segments []Segment, samplesPerSecond float64) (map[string][]FrameSample, error)
}

// FrameEmbedder embeds a batch of images. The result is aligned with paths.
type FrameEmbedder interface {
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
}

// TextEmbedder embeds a query string into the image embedding space.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// TextIndexer stores a transcript for keyword retrieval.
type TextIndexer interface {
	IndexTranscript(ctx context.Context, videoID, text string, segments []Segment) error
}

// VectorIndexer stores frame embeddings grouped by segment id.
type VectorIndexer interface {
	IndexFrames(ctx context.Context, videoID string, frames map[string][]Frame) error
}

// Collaborators bundles the external capabilities a Processor drives.
// The visual stage runs only when Frames, Embedder and Vectors are all set.
type Collaborators struct {
	Fetcher     Fetcher
	Prober      Prober
	Thumbnailer Thumbnailer
	Audio       AudioExtractor
	Transcriber Transcriber
	Text        TextIndexer

	Frames   FrameExtractor
	Embedder FrameEmbedder
	Vectors  VectorIndexer
}

func (c Collaborators) visualEnabled() bool {
	return c.Frames != nil && c.Embedder != nil && c.Vectors != nil
}
