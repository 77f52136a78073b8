package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihpi/workshop-video-search/internal/library"
)

type fakeServer struct {
	mu      sync.Mutex
	videos  []library.Video
	added   map[string]string
	deleted []string
	query   string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	d := 125.0
	fs := &fakeServer{videos: []library.Video{
		{ID: "v1", Title: "Intro to Go", Source: library.SourceURL, Duration: &d, Model: "base", Status: library.StatusCompleted, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "v2", Title: "Broken upload", Source: library.SourceUpload, Model: "tiny", Status: library.StatusFailed, ErrorMessage: "ffprobe failed", CreatedAt: time.Now()},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /library", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, fs.videos)
	})
	mux.HandleFunc("GET /library/status", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, libraryStatus{
			QueueLength:   3,
			ProcessingIDs: []string{"v9"},
			Counts:        map[library.Status]int{library.StatusCompleted: 1, library.StatusFailed: 1},
		})
	})
	mux.HandleFunc("POST /library/url", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.mu.Lock()
		fs.added = body
		fs.mu.Unlock()
		writeTestJSON(w, http.StatusAccepted, library.Video{ID: "new", Title: "Fetched", Status: library.StatusPending})
	})
	mux.HandleFunc("POST /library/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "v2" {
			writeTestJSON(w, http.StatusConflict, apiError{Message: "video is not retryable"})
			return
		}
		writeTestJSON(w, http.StatusAccepted, library.Video{ID: "v2", Status: library.StatusPending})
	})
	mux.HandleFunc("DELETE /library/{id}", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.deleted = append(fs.deleted, r.PathValue("id"))
		fs.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
	})
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.query = r.URL.RawQuery
		fs.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{
			"query": r.URL.Query().Get("q"),
			"mode":  "keyword",
			"results": []map[string]any{
				{"videoId": "v1", "segmentId": "v1_0", "start": 61.0, "end": 65.0, "text": "goroutines are cheap", "score": 1.0, "title": "Intro to Go"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestList(t *testing.T) {
	_, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Intro to Go")
	assert.Contains(t, out, "2:05")
	assert.Contains(t, out, "failed: ffprobe failed")
	assert.Contains(t, out, "1 hour ago")

	out, err = runCLI(t, srv.URL, "list", "--status", "failed")
	require.NoError(t, err)
	assert.NotContains(t, out, "Intro to Go")
	assert.Contains(t, out, "Broken upload")

	_, err = runCLI(t, srv.URL, "list", "--status", "bogus")
	require.Error(t, err)
}

func TestListJSON(t *testing.T) {
	_, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "--json", "list")
	require.NoError(t, err)
	var videos []library.Video
	require.NoError(t, json.Unmarshal([]byte(out), &videos))
	assert.Len(t, videos, 2)
}

func TestStatus(t *testing.T) {
	_, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "Pending")
	assert.Contains(t, out, "Queued: 3")
	assert.Contains(t, out, "Processing: v9")
}

func TestAdd(t *testing.T) {
	fs, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "add", "https://youtu.be/abc", "--model", "small")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued new (Fetched)")
	assert.Equal(t, "https://youtu.be/abc", fs.added["url"])
	assert.Equal(t, "small", fs.added["model"])

	_, err = runCLI(t, srv.URL, "add")
	require.Error(t, err)
}

func TestRetryReportsServerError(t *testing.T) {
	_, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "retry", "v2")
	require.NoError(t, err)
	assert.Contains(t, out, "Requeued v2")

	_, err = runCLI(t, srv.URL, "retry", "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video is not retryable (409)")
}

func TestDelete(t *testing.T) {
	fs, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "delete", "v1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted v1")
	assert.Equal(t, []string{"v1"}, fs.deleted)
}

func TestSearch(t *testing.T) {
	fs, srv := newFakeServer(t)

	out, err := runCLI(t, srv.URL, "search", "cheap", "goroutines", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "goroutines are cheap")
	assert.Contains(t, out, "1:01")
	assert.Contains(t, fs.query, "q=cheap+goroutines")
	assert.Contains(t, fs.query, "limit=5")
}

func TestUnreachableServer(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "--timeout", "2s", "status")
	require.Error(t, err)
}

func TestRenderTableAlignment(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"x"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Empty(t, renderTable(nil, nil, nil))
}
