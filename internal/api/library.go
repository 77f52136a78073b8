package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aihpi/workshop-video-search/internal/index"
	"github.com/aihpi/workshop-video-search/internal/library"
	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/internal/sourceurl"
)

const titleLookupTimeout = 30 * time.Second

type addURLRequest struct {
	URL   string `json:"url" validate:"required"`
	Title string `json:"title" validate:"max=500"`
	Model string `json:"model" validate:"omitempty,oneof=tiny base small medium large turbo"`
}

type uploadRequest struct {
	Model string `validate:"omitempty,oneof=tiny base small medium large turbo"`
}

type videoDetail struct {
	library.Video
	FileExists   bool `json:"fileExists"`
	SegmentCount int  `json:"segmentCount"`
}

type transcriptResponse struct {
	VideoID  string             `json:"videoId"`
	Text     string             `json:"text"`
	Segments []pipeline.Segment `json:"segments"`
}

type statusResponse struct {
	QueueLength   int                    `json:"queueLength"`
	ProcessingIDs []string               `json:"processingIds"`
	Counts        map[library.Status]int `json:"counts"`
}

type uploadResponse struct {
	Videos []library.Video `json:"videos"`
	Errors []uploadError   `json:"errors"`
}

type uploadError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

func (s *Server) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Library.All())
}

func (s *Server) handleGrouped(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Library.BySource())
}

func (s *Server) handleStatus(c echo.Context) error {
	snap := s.deps.Queue.Status()
	counts := map[library.Status]int{
		library.StatusPending:    0,
		library.StatusProcessing: 0,
		library.StatusCompleted:  0,
		library.StatusFailed:     0,
	}
	for _, v := range s.deps.Library.All() {
		counts[v.Status]++
	}
	return c.JSON(http.StatusOK, statusResponse{
		QueueLength:   snap.QueueLength,
		ProcessingIDs: snap.ProcessingIDs,
		Counts:        counts,
	})
}

func (s *Server) lookup(c echo.Context) (library.Video, error) {
	id := c.Param("id")
	v, ok := s.deps.Library.Get(id)
	if !ok {
		return library.Video{}, ErrNotFound("video not found")
	}
	return v, nil
}

func (s *Server) handleGet(c echo.Context) error {
	v, err := s.lookup(c)
	if err != nil {
		return err
	}
	detail := videoDetail{Video: v, FileExists: s.deps.Library.FileExists(v.ID)}
	if v.Status == library.StatusCompleted {
		segments, err := s.deps.Index.SegmentsForVideo(c.Request().Context(), v.ID)
		if err != nil {
			s.logger.Warn("failed to count segments", "video_id", v.ID, "error", err)
		}
		detail.SegmentCount = len(segments)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleTranscript(c echo.Context) error {
	v, err := s.lookup(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	text, err := s.deps.Index.Transcript(ctx, v.ID)
	if errors.Is(err, index.ErrNotIndexed) {
		return ErrNotFound("transcript not available")
	}
	if err != nil {
		s.logger.Error("failed to read transcript", "video_id", v.ID, "error", err)
		return ErrInternal("failed to read transcript")
	}
	segments, err := s.deps.Index.SegmentsForVideo(ctx, v.ID)
	if err != nil {
		s.logger.Error("failed to read segments", "video_id", v.ID, "error", err)
		return ErrInternal("failed to read transcript")
	}
	return c.JSON(http.StatusOK, transcriptResponse{VideoID: v.ID, Text: text, Segments: segments})
}

func (s *Server) handleThumbnail(c echo.Context) error {
	v, err := s.lookup(c)
	if err != nil {
		return err
	}
	if v.ThumbnailPath == nil || *v.ThumbnailPath == "" {
		return ErrNotFound("thumbnail not available")
	}
	return c.File(*v.ThumbnailPath)
}

// handleVideo streams the media file. Range requests are answered with 206.
func (s *Server) handleVideo(c echo.Context) error {
	v, err := s.lookup(c)
	if err != nil {
		return err
	}
	if !s.deps.Library.FileExists(v.ID) {
		return ErrNotFound("video file not available")
	}
	return c.File(v.FilePath)
}

// handleFrame serves one extracted frame. Only plain file names inside the
// video's frame directory resolve.
func (s *Server) handleFrame(c echo.Context) error {
	v, err := s.lookup(c)
	if err != nil {
		return err
	}
	name := filepath.Base(filepath.Clean("/" + c.Param("name")))
	if name == "/" || name == "." || name == ".." || !strings.EqualFold(filepath.Ext(name), ".jpg") {
		return ErrNotFound("frame not found")
	}
	path := filepath.Join(s.deps.Library.Paths().FramesDir(v.ID), name)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return ErrNotFound("frame not found")
	}
	return c.File(path)
}

func (s *Server) handleAddURL(c echo.Context) error {
	var req addURLRequest
	if err := c.Bind(&req); err != nil {
		return ErrBadRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	u, err := sourceurl.Parse(req.URL)
	if err != nil {
		return ErrBadRequest(err.Error())
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.lookupTitle(c.Request().Context(), u.Normalized)
	}
	v, err := s.deps.Library.AddURL(u.Normalized, title, s.model(req.Model))
	if err != nil {
		s.logger.Error("failed to add url video", "url", u.Normalized, "error", err)
		return ErrInternal("failed to add video")
	}
	s.deps.Queue.Enqueue(v.ID)
	return c.JSON(http.StatusAccepted, v)
}

// lookupTitle is best effort; an empty result makes the library derive a fallback title.
func (s *Server) lookupTitle(ctx context.Context, sourceURL string) string {
	if s.deps.Titles == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, titleLookupTimeout)
	defer cancel()
	title, err := s.deps.Titles.Title(ctx, sourceURL)
	if err != nil {
		s.logger.Warn("title lookup failed", "url", sourceURL, "error", err)
		return ""
	}
	return title
}

func (s *Server) model(requested string) string {
	if requested != "" {
		return requested
	}
	return s.deps.DefaultModel
}

func (s *Server) handleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return ErrBadRequest("expected multipart form")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return ErrBadRequest("no files uploaded")
	}
	model := c.FormValue("model")
	if err := c.Validate(&uploadRequest{Model: model}); err != nil {
		return err
	}

	resp := uploadResponse{Videos: []library.Video{}, Errors: []uploadError{}}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			resp.Errors = append(resp.Errors, uploadError{File: fh.Filename, Error: err.Error()})
			continue
		}
		v, err := s.deps.Library.AddUpload(fh.Filename, f, s.model(model))
		f.Close()
		if err != nil {
			s.logger.Error("failed to store upload", "file", fh.Filename, "error", err)
			resp.Errors = append(resp.Errors, uploadError{File: fh.Filename, Error: err.Error()})
			continue
		}
		s.deps.Queue.Enqueue(v.ID)
		resp.Videos = append(resp.Videos, v)
	}

	status := http.StatusAccepted
	if len(resp.Videos) == 0 {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, resp)
}

func (s *Server) handleRetry(c echo.Context) error {
	id := c.Param("id")
	v, err := s.deps.Library.ResetForRetry(id)
	switch {
	case errors.Is(err, library.ErrNotFound):
		return ErrNotFound("video not found")
	case errors.Is(err, library.ErrNotRetryable):
		return ErrConflict("only failed or pending videos can be retried")
	case err != nil:
		s.logger.Error("failed to reset video for retry", "video_id", id, "error", err)
		return ErrInternal("failed to retry video")
	}
	s.deps.Queue.Enqueue(v.ID)
	return c.JSON(http.StatusAccepted, v)
}

// processing reports whether a worker currently holds id. An empty id matches any.
func (s *Server) processing(id string) bool {
	for _, busy := range s.deps.Queue.Status().ProcessingIDs {
		if id == "" || busy == id {
			return true
		}
	}
	return false
}

func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if s.processing(id) {
		return ErrConflict("video is being processed")
	}
	v, err := s.deps.Library.Delete(id)
	if errors.Is(err, library.ErrNotFound) {
		return ErrNotFound("video not found")
	}
	if err != nil {
		s.logger.Error("failed to delete video", "video_id", id, "error", err)
		return ErrInternal("failed to delete video")
	}
	if err := s.deps.Index.DeleteVideo(c.Request().Context(), id); err != nil {
		s.logger.Error("failed to remove video from index", "video_id", id, "error", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"deleted": v.ID})
}

func (s *Server) handleClear(c echo.Context) error {
	if s.processing("") {
		return ErrConflict("videos are being processed")
	}
	report, err := s.deps.Library.ClearAll()
	if err != nil {
		s.logger.Error("failed to clear library", "error", err)
		return ErrInternal("failed to clear library")
	}
	if err := s.deps.Index.Reset(c.Request().Context()); err != nil {
		s.logger.Error("failed to reset index", "error", err)
	}
	return c.JSON(http.StatusOK, report)
}
