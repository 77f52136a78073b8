package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aihpi/workshop-video-search/internal/index"
)

const maxSearchLimit = 100

type keywordResult struct {
	index.Hit
	Title string `json:"title"`
}

type visualResult struct {
	index.FrameHit
	Title string `json:"title"`
}

type searchResponse struct {
	Query   string `json:"query"`
	Mode    string `json:"mode"`
	Results any    `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return ErrBadRequest("missing query")
	}
	limit := index.DefaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			return ErrBadRequest("limit must be between 1 and " + strconv.Itoa(maxSearchLimit))
		}
		limit = n
	}

	ctx := c.Request().Context()
	switch mode := c.QueryParam("mode"); mode {
	case "", "keyword":
		hits, err := s.deps.Index.KeywordSearch(ctx, q, limit)
		if err != nil {
			s.logger.Error("keyword search failed", "query", q, "error", err)
			return ErrInternal("search failed")
		}
		out := make([]keywordResult, 0, len(hits))
		for _, h := range hits {
			out = append(out, keywordResult{Hit: h, Title: s.title(h.VideoID)})
		}
		return c.JSON(http.StatusOK, searchResponse{Query: q, Mode: "keyword", Results: out})

	case "visual":
		if s.deps.Embedder == nil {
			return ErrUnavailable("visual search is disabled")
		}
		vec, err := s.deps.Embedder.EmbedText(ctx, q)
		if err != nil {
			s.logger.Error("query embedding failed", "query", q, "error", err)
			return ErrUnavailable("embedding service unavailable")
		}
		hits, err := s.deps.Index.VisualSearch(ctx, vec, limit)
		if err != nil {
			s.logger.Error("visual search failed", "query", q, "error", err)
			return ErrInternal("search failed")
		}
		out := make([]visualResult, 0, len(hits))
		for _, h := range hits {
			out = append(out, visualResult{FrameHit: h, Title: s.title(h.VideoID)})
		}
		return c.JSON(http.StatusOK, searchResponse{Query: q, Mode: mode, Results: out})

	default:
		return ErrBadRequest("mode must be keyword or visual")
	}
}

// title returns the library title, or "" for videos deleted since indexing.
func (s *Server) title(videoID string) string {
	v, ok := s.deps.Library.Get(videoID)
	if !ok {
		return ""
	}
	return v.Title
}
