package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/kkdai/youtube/v2"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/internal/sourceurl"
	"github.com/aihpi/workshop-video-search/pkg/ytdlp"
)

// YTDLPFetcher downloads any URL yt-dlp supports.
type YTDLPFetcher struct {
	client *ytdlp.Client
}

func NewYTDLPFetcher(client *ytdlp.Client, logger *slog.Logger) *YTDLPFetcher {
	if client == nil {
		client = ytdlp.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client.LogCallback == nil {
		client.LogCallback = func(stream, line string) {
			logger.Debug("yt-dlp", "stream", stream, "line", line)
		}
	}
	return &YTDLPFetcher{client: client}
}

func (f *YTDLPFetcher) Fetch(ctx context.Context, sourceURL, destPath string) error {
	return f.client.DownloadTo(ctx, sourceURL, destPath)
}

// Title asks yt-dlp for the video title without downloading.
func (f *YTDLPFetcher) Title(ctx context.Context, sourceURL string) (string, error) {
	info, err := f.client.GetInfo(ctx, sourceURL, "--no-playlist")
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// MaxNativeHeight is the tallest muxed stream the native fetcher picks when a choice exists.
const MaxNativeHeight = 720

// YouTubeFetcher downloads muxed mp4 streams from YouTube without external tools.
type YouTubeFetcher struct {
	client youtube.Client
	logger *slog.Logger
}

func NewYouTubeFetcher(logger *slog.Logger) *YouTubeFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeFetcher{client: youtube.Client{}, logger: logger}
}

func (f *YouTubeFetcher) Fetch(ctx context.Context, sourceURL, destPath string) error {
	video, err := f.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("youtube: get video: %w", err)
	}
	format, err := pickFormat(video.Formats)
	if err != nil {
		return fmt.Errorf("youtube: %s: %w", video.ID, err)
	}

	stream, size, err := f.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("youtube: open stream: %w", err)
	}
	defer stream.Close()

	f.logger.Info("downloading youtube stream", "youtube_id", video.ID, "quality", format.QualityLabel,
		"size", humanize.Bytes(uint64(max(size, 0))))
	return writeAtomic(destPath, stream)
}

// Title returns the YouTube title of sourceURL.
func (f *YouTubeFetcher) Title(ctx context.Context, sourceURL string) (string, error) {
	video, err := f.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("youtube: get video: %w", err)
	}
	return video.Title, nil
}

var errNoMuxedFormat = errors.New("no mp4 format with audio")

// pickFormat prefers the tallest muxed mp4 at or below MaxNativeHeight, then the
// shortest one above it.
func pickFormat(formats youtube.FormatList) (*youtube.Format, error) {
	muxed := formats.Type("video/mp4").WithAudioChannels()
	if len(muxed) == 0 {
		return nil, errNoMuxedFormat
	}
	candidates := make([]youtube.Format, len(muxed))
	copy(candidates, muxed)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aFits, bFits := a.Height <= MaxNativeHeight, b.Height <= MaxNativeHeight
		if aFits != bFits {
			return aFits
		}
		if aFits {
			return a.Height > b.Height
		}
		return a.Height < b.Height
	})
	return &candidates[0], nil
}

func writeAtomic(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, destPath)
}

// TitleLookup resolves a human title for a URL before it is downloaded.
type TitleLookup interface {
	Title(ctx context.Context, sourceURL string) (string, error)
}

// FetchRouter sends YouTube URLs to the native fetcher when one is configured and
// everything else to yt-dlp.
type FetchRouter struct {
	Default FetchTitler
	YouTube FetchTitler
}

// FetchTitler is a fetcher that can also look up titles.
type FetchTitler interface {
	pipeline.Fetcher
	TitleLookup
}

func (r *FetchRouter) route(sourceURL string) FetchTitler {
	if r.YouTube != nil && isYouTube(sourceURL) {
		return r.YouTube
	}
	return r.Default
}

func (r *FetchRouter) Fetch(ctx context.Context, sourceURL, destPath string) error {
	f := r.route(sourceURL)
	if f == nil {
		return errors.New("no fetcher configured")
	}
	return f.Fetch(ctx, sourceURL, destPath)
}

func (r *FetchRouter) Title(ctx context.Context, sourceURL string) (string, error) {
	f := r.route(sourceURL)
	if f == nil {
		return "", errors.New("no fetcher configured")
	}
	return f.Title(ctx, sourceURL)
}

func isYouTube(sourceURL string) bool {
	u, err := sourceurl.Parse(sourceURL)
	return err == nil && u.IsYouTube()
}
