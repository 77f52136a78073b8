// Package api exposes the video library, processing status and search over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aihpi/workshop-video-search/internal/index"
	"github.com/aihpi/workshop-video-search/internal/library"
	"github.com/aihpi/workshop-video-search/internal/metrics"
	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/internal/worker"
)

// Library is the part of the record store the API reads and writes.
type Library interface {
	All() []library.Video
	BySource() map[library.Source][]library.Video
	Get(id string) (library.Video, bool)
	FileExists(id string) bool
	AddURL(sourceURL, title, model string) (library.Video, error)
	AddUpload(name string, r io.Reader, model string) (library.Video, error)
	ResetForRetry(id string) (library.Video, error)
	Delete(id string) (library.Video, error)
	ClearAll() (library.ClearReport, error)
	Paths() library.Paths
}

// Queue accepts work and reports what is queued and running.
type Queue interface {
	Enqueue(id string)
	Status() worker.Snapshot
}

// SearchIndex is the read and cleanup side of the index.
type SearchIndex interface {
	SegmentsForVideo(ctx context.Context, videoID string) ([]pipeline.Segment, error)
	Transcript(ctx context.Context, videoID string) (string, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]index.Hit, error)
	VisualSearch(ctx context.Context, query []float32, limit int) ([]index.FrameHit, error)
	DeleteVideo(ctx context.Context, videoID string) error
	Reset(ctx context.Context) error
}

// TitleLookup resolves a title for a URL before it is downloaded.
type TitleLookup interface {
	Title(ctx context.Context, sourceURL string) (string, error)
}

// Deps are the collaborators the handlers use. Titles and Embedder are optional.
type Deps struct {
	Library      Library
	Queue        Queue
	Index        SearchIndex
	Titles       TitleLookup
	Embedder     pipeline.TextEmbedder
	Metrics      *metrics.Metrics
	DefaultModel string
	Logger       *slog.Logger
	// BodyLimit caps request bodies, e.g. "2G". Empty means no limit.
	BodyLimit string
}

type Server struct {
	*echo.Echo
	deps   Deps
	logger *slog.Logger
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		return ErrBadRequest(err.Error())
	}
	return nil
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultModel == "" {
		deps.DefaultModel = library.DefaultModel
	}
	s := &Server{Echo: echo.New(), deps: deps, logger: deps.Logger}
	s.Validator = &requestValidator{v: validator.New()}
	s.setupMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.HideBanner = true
	s.HidePort = true
	if s.deps.BodyLimit != "" {
		s.Use(middleware.BodyLimit(s.deps.BodyLimit))
	}
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/healthz", "/metrics", "/library/status":
				return true
			default:
				return false
			}
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			s.logger.Info("request", fields...)
			return nil
		},
	}))
}

func (s *Server) registerRoutes() {
	s.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	lib := s.Group("/library")
	lib.GET("", s.handleList)
	lib.GET("/grouped", s.handleGrouped)
	lib.GET("/status", s.handleStatus)
	lib.POST("/url", s.handleAddURL)
	lib.POST("/upload", s.handleUpload)
	lib.DELETE("", s.handleClear)
	lib.GET("/:id", s.handleGet)
	lib.GET("/:id/transcript", s.handleTranscript)
	lib.GET("/:id/thumbnail", s.handleThumbnail)
	lib.GET("/:id/video", s.handleVideo)
	lib.GET("/:id/frames/:name", s.handleFrame)
	lib.POST("/:id/retry", s.handleRetry)
	lib.DELETE("/:id", s.handleDelete)

	s.GET("/search", s.handleSearch)
}
