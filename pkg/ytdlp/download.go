package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFormat prefers H.264, then VP9, then any non-AV1 stream up to 720p.
const DefaultFormat = "bestvideo[height<=720][vcodec^=avc]+bestaudio/" +
	"bestvideo[height<=720][vcodec^=vp9]+bestaudio/" +
	"bestvideo[height<=720][vcodec!=av01]+bestaudio/" +
	"best[height<=720]/best"

// DownloadTo downloads url to destPath. yt-dlp may pick a different extension
// after merging streams; in that case the first file in the destination
// directory sharing destPath's base name is renamed to destPath.
func (c *Client) DownloadTo(ctx context.Context, url, destPath string, extraArgs ...string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(destPath) == "" {
		return fmt.Errorf("ytdlp: destPath is required")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("ytdlp: create destination dir: %w", err)
	}

	args := []string{
		"-f", DefaultFormat,
		"--no-playlist",
		"--no-colors",
		"-o", destPath,
	}
	args = append(args, extraArgs...)
	args = append(args, url)

	if _, err := c.run(ctx, args...); err != nil {
		return err
	}
	return locateDownloaded(destPath)
}

func locateDownloaded(destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	dir := filepath.Dir(destPath)
	base := filepath.Base(destPath)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ytdlp: list %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base) {
			continue
		}
		if err := os.Rename(filepath.Join(dir, e.Name()), destPath); err != nil {
			return fmt.Errorf("ytdlp: rename downloaded file: %w", err)
		}
		return nil
	}
	return fmt.Errorf("ytdlp: no file matching %s* in %s", base, dir)
}
