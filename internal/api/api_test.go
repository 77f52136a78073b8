package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihpi/workshop-video-search/internal/index"
	"github.com/aihpi/workshop-video-search/internal/library"
	"github.com/aihpi/workshop-video-search/internal/metrics"
	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/internal/worker"
)

type fakeQueue struct {
	mu         sync.Mutex
	ids        []string
	processing []string
}

func (q *fakeQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

func (q *fakeQueue) Status() worker.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return worker.Snapshot{QueueLength: len(q.ids), ProcessingIDs: append([]string{}, q.processing...)}
}

type fakeTitles struct{ title string }

func (f fakeTitles) Title(context.Context, string) (string, error) {
	if f.title == "" {
		return "", errors.New("lookup failed")
	}
	return f.title, nil
}

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return f.vec, nil
}

type harness struct {
	srv   *Server
	store *library.Store
	idx   *index.SQLite
	queue *fakeQueue
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := library.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := index.OpenSQLite(context.Background(), filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	h := &harness{store: store, idx: idx, queue: &fakeQueue{}}
	deps := Deps{
		Library:  store,
		Queue:    h.queue,
		Index:    idx,
		Titles:   fakeTitles{title: "Remote Title"},
		Embedder: fakeEmbedder{vec: []float32{1, 0}},
		Metrics:  metrics.New(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.srv = New(deps)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAddURL_EnqueuesWithLookedUpTitle(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/library/url", map[string]string{
		"url": "https://www.youtube.com/watch?v=abc123&t=10s", "model": "small",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	v := decode[library.Video](t, rec)
	assert.Equal(t, "Remote Title", v.Title)
	assert.Equal(t, "https://youtube.com/watch?v=abc123", v.SourceURL)
	assert.Equal(t, "small", v.Model)
	assert.Equal(t, library.StatusPending, v.Status)
	assert.Equal(t, []string{v.ID}, h.queue.ids)
}

func TestAddURL_FallbackTitleAndDefaultModel(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Titles = fakeTitles{}
		d.DefaultModel = "tiny"
	})

	rec := h.do(t, http.MethodPost, "/library/url", map[string]string{"url": "https://example.org/talk.mp4"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	v := decode[library.Video](t, rec)
	assert.Equal(t, "Video "+v.ID[:8], v.Title)
	assert.Equal(t, "tiny", v.Model)
}

func TestAddURL_Validation(t *testing.T) {
	h := newHarness(t, nil)

	for _, body := range []map[string]string{
		{},
		{"url": "ftp://example.org/x"},
		{"url": "https://example.org/x", "model": "enormous"},
	} {
		rec := h.do(t, http.MethodPost, "/library/url", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, h.queue.ids)
	assert.Empty(t, h.store.All())
}

func TestUpload(t *testing.T) {
	h := newHarness(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"Lecture One.mov", "clip.flv"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("video bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("model", "medium"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/library/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, r)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[uploadResponse](t, rec)
	require.Len(t, resp.Videos, 2)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, "Lecture One", resp.Videos[0].Title)
	assert.Equal(t, ".mov", filepath.Ext(resp.Videos[0].FilePath))
	assert.Equal(t, ".mp4", filepath.Ext(resp.Videos[1].FilePath))
	assert.Equal(t, "medium", resp.Videos[1].Model)
	assert.Len(t, h.queue.ids, 2)
	assert.True(t, h.store.FileExists(resp.Videos[0].ID))
}

func TestUpload_RequiresFiles(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/library/upload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetry(t *testing.T) {
	h := newHarness(t, nil)
	v, err := h.store.AddURL("https://example.org/a", "A", "")
	require.NoError(t, err)

	require.NoError(t, h.store.UpdateStatus(v.ID, library.StatusFailed, "network down"))
	rec := h.do(t, http.MethodPost, "/library/"+v.ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	got, _ := h.store.Get(v.ID)
	assert.Equal(t, library.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, []string{v.ID}, h.queue.ids)

	require.NoError(t, h.store.UpdateStatus(v.ID, library.StatusCompleted, ""))
	rec = h.do(t, http.MethodPost, "/library/"+v.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, h.store.UpdateStatus(v.ID, library.StatusProcessing, ""))
	rec = h.do(t, http.MethodPost, "/library/"+v.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/library/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, h.queue.ids, 1)
}

func TestGetAndTranscript(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v, err := h.store.AddURL("https://example.org/a", "A", "")
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/library/"+v.ID+"/transcript", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	segments := pipeline.BuildSegments(v.ID, []pipeline.TranscriptSegment{
		{Start: 0, End: 2, Text: "hello"},
		{Start: 2, End: 4, Text: "world"},
	})
	require.NoError(t, h.idx.IndexTranscript(ctx, v.ID, "hello world", segments))
	require.NoError(t, h.store.UpdateStatus(v.ID, library.StatusCompleted, ""))

	rec = h.do(t, http.MethodGet, "/library/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), detail["segmentCount"])
	assert.Equal(t, false, detail["fileExists"])
	assert.Equal(t, "completed", detail["status"])

	rec = h.do(t, http.MethodGet, "/library/"+v.ID+"/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decode[transcriptResponse](t, rec)
	assert.Equal(t, "hello world", tr.Text)
	assert.Equal(t, segments, tr.Segments)

	rec = h.do(t, http.MethodGet, "/library/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, http.MethodGet, "/library/"+v.ID+"/thumbnail", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRemovesIndexRows(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v, err := h.store.AddURL("https://example.org/a", "A", "")
	require.NoError(t, err)
	require.NoError(t, h.idx.IndexTranscript(ctx, v.ID, "x", nil))

	rec := h.do(t, http.MethodDelete, "/library/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := h.store.Get(v.ID)
	assert.False(t, ok)
	_, err = h.idx.Transcript(ctx, v.ID)
	assert.ErrorIs(t, err, index.ErrNotIndexed)

	rec = h.do(t, http.MethodDelete, "/library/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRejectsVideoInProcessing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v, err := h.store.AddUpload("a.mp4", strings.NewReader("x"), "")
	require.NoError(t, err)
	require.NoError(t, h.idx.IndexTranscript(ctx, v.ID, "x", nil))
	h.queue.processing = []string{v.ID}

	rec := h.do(t, http.MethodDelete, "/library/"+v.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.do(t, http.MethodDelete, "/library", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, ok := h.store.Get(v.ID)
	assert.True(t, ok)
	assert.FileExists(t, v.FilePath)
	_, err = h.idx.Transcript(ctx, v.ID)
	assert.NoError(t, err)

	h.queue.processing = nil
	rec = h.do(t, http.MethodDelete, "/library/"+v.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVideoSupportsRange(t *testing.T) {
	h := newHarness(t, nil)
	v, err := h.store.AddUpload("talk.mp4", strings.NewReader("fake video bytes"), "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/library/"+v.ID+"/video", nil)
	r.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, r)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "fake", rec.Body.String())
	assert.Equal(t, "bytes 0-3/16", rec.Header().Get("Content-Range"))

	rec = h.do(t, http.MethodGet, "/library/"+v.ID+"/video", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake video bytes", rec.Body.String())

	u, err := h.store.AddURL("https://example.org/a", "A", "")
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/library/"+u.ID+"/video", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFrameStaysInsideFramesDir(t *testing.T) {
	h := newHarness(t, nil)
	v, err := h.store.AddUpload("talk.mp4", strings.NewReader("x"), "")
	require.NoError(t, err)
	framesDir := h.store.Paths().FramesDir(v.ID)
	require.NoError(t, os.MkdirAll(framesDir, 0o755))
	frame := v.ID + "_0_000000.jpg"
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, frame), []byte("frame"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.store.Paths().Frames, "secret.jpg"), []byte("secret"), 0o644))

	rec := h.do(t, http.MethodGet, "/library/"+v.ID+"/frames/"+frame, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "frame", rec.Body.String())

	for _, name := range []string{"..%2Fsecret.jpg", "..%2F..%2Fvideo_library.json", "..", "missing.jpg"} {
		rec = h.do(t, http.MethodGet, "/library/"+v.ID+"/frames/"+name, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, name)
		assert.NotContains(t, rec.Body.String(), "secret", name)
	}

	rec = h.do(t, http.MethodGet, "/library/nope/frames/"+frame, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		v, err := h.store.AddUpload(name+".mp4", strings.NewReader("x"), "")
		require.NoError(t, err)
		require.NoError(t, h.idx.IndexTranscript(ctx, v.ID, "words", nil))
	}

	rec := h.do(t, http.MethodDelete, "/library", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[library.ClearReport](t, rec)
	assert.Equal(t, 2, report.Deleted)
	assert.Empty(t, h.store.All())
}

func TestListGroupedAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	u, err := h.store.AddURL("https://example.org/a", "A", "")
	require.NoError(t, err)
	_, err = h.store.AddUpload("b.mp4", strings.NewReader("x"), "")
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateStatus(u.ID, library.StatusFailed, "boom"))
	h.queue.Enqueue("queued")

	rec := h.do(t, http.MethodGet, "/library", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]library.Video](t, rec), 2)

	rec = h.do(t, http.MethodGet, "/library/grouped", nil)
	grouped := decode[map[string][]library.Video](t, rec)
	assert.Len(t, grouped["url"], 1)
	assert.Len(t, grouped["upload"], 1)

	rec = h.do(t, http.MethodGet, "/library/status", nil)
	status := decode[statusResponse](t, rec)
	assert.Equal(t, 1, status.QueueLength)
	assert.Equal(t, 1, status.Counts[library.StatusFailed])
	assert.Equal(t, 1, status.Counts[library.StatusPending])
	assert.Equal(t, 0, status.Counts[library.StatusCompleted])
}

func TestSearch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v, err := h.store.AddURL("https://example.org/a", "Go Talk", "")
	require.NoError(t, err)
	segments := pipeline.BuildSegments(v.ID, []pipeline.TranscriptSegment{
		{Start: 0, End: 2, Text: "goroutines everywhere"},
		{Start: 2, End: 4, Text: "nothing"},
	})
	require.NoError(t, h.idx.IndexTranscript(ctx, v.ID, "", segments))
	require.NoError(t, h.idx.IndexFrames(ctx, v.ID, map[string][]pipeline.Frame{
		segments[0].ID: {{Timestamp: 1, Path: "/f/1.jpg", Embedding: []float32{1, 0}}},
	}))

	rec := h.do(t, http.MethodGet, "/search?q=goroutines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var kw struct {
		Mode    string          `json:"mode"`
		Results []keywordResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kw))
	assert.Equal(t, "keyword", kw.Mode)
	require.Len(t, kw.Results, 1)
	assert.Equal(t, "Go Talk", kw.Results[0].Title)
	assert.Equal(t, segments[0].ID, kw.Results[0].SegmentID)

	rec = h.do(t, http.MethodGet, "/search?q=a+slide&mode=visual&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vis struct {
		Results []visualResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vis))
	require.Len(t, vis.Results, 1)
	assert.Equal(t, "/f/1.jpg", vis.Results[0].Path)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/search", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/search?q=x&mode=audio", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/search?q=x&limit=0", nil).Code)
}

func TestSearch_VisualDisabled(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Embedder = nil })
	rec := h.do(t, http.MethodGet, "/search?q=x&mode=visual", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
