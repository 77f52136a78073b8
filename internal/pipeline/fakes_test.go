package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/aihpi/workshop-video-search/internal/library"
)

type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, dest string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("video"), 0o644)
}

type fakeProber struct {
	duration float64
	err      error
}

func (f *fakeProber) ProbeDuration(context.Context, string) (float64, error) {
	return f.duration, f.err
}

type fakeThumbnailer struct {
	dir   string
	at    float64
	calls int
	err   error
}

func (f *fakeThumbnailer) GenerateThumbnail(_ context.Context, videoID, _ string, at float64) (string, error) {
	f.calls++
	f.at = at
	if f.err != nil {
		return "", f.err
	}
	return f.dir + "/" + videoID + ".jpg", nil
}

type fakeAudio struct {
	calls    int
	lastPath string
	err      error
}

func (f *fakeAudio) ExtractAudio(_ context.Context, _ string, audioPath string) error {
	f.calls++
	f.lastPath = audioPath
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(audioPath, []byte("audio"), 0o644)
}

type fakeTranscriber struct {
	result    Transcription
	err       error
	lastModel string
	onCall    func()
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, model, _ string) (Transcription, error) {
	f.lastModel = model
	if f.onCall != nil {
		f.onCall()
	}
	return f.result, f.err
}

type fakeTextIndex struct {
	mu       sync.Mutex
	calls    int
	segments map[string][]Segment
	err      error
}

func (f *fakeTextIndex) IndexTranscript(_ context.Context, videoID, _ string, segments []Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.segments == nil {
		f.segments = map[string][]Segment{}
	}
	f.segments[videoID] = append([]Segment(nil), segments...)
	return nil
}

type fakeFrames struct {
	out   map[string][]FrameSample
	err   error
	panic bool
	rate  float64
}

func (f *fakeFrames) ExtractFrames(_ context.Context, _ string, _ string, _ []Segment, rate float64) (map[string][]FrameSample, error) {
	f.rate = rate
	if f.panic {
		panic("extractor exploded")
	}
	return f.out, f.err
}

type fakeEmbedder struct {
	calls  int
	paths  []string
	short  bool
	err    error
	onCall func()
}

func (f *fakeEmbedder) EmbedImages(_ context.Context, paths []string) ([][]float32, error) {
	f.calls++
	f.paths = paths
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	n := len(paths)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeVectors struct {
	calls  int
	frames map[string][]Frame
	err    error
}

func (f *fakeVectors) IndexFrames(_ context.Context, _ string, frames map[string][]Frame) error {
	f.calls++
	f.frames = frames
	return f.err
}

// failingMetadataStore rejects metadata writes and passes everything else through.
type failingMetadataStore struct {
	*library.Store
}

func (failingMetadataStore) UpdateMetadata(string, library.MetadataUpdate) error {
	return errBoom
}

var errBoom = errors.New("boom")
