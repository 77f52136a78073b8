package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/aihpi/workshop-video-search/pkg/utils/filename"
)

// uploadExtensions are the container formats accepted for uploaded files.
var uploadExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".mov":  true,
	".m4v":  true,
}

// UploadExtension normalizes the extension of an uploaded file name, falling back to .mp4.
func UploadExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if uploadExtensions[ext] {
		return ext
	}
	return ".mp4"
}

func fallbackTitle(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "Video " + short
}

// AddURL registers a video that will be fetched from sourceURL. The media file
// does not exist yet; the pipeline downloads it to the returned FilePath.
func (s *Store) AddURL(sourceURL, title, model string) (Video, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return Video{}, errors.New("library: source url is required")
	}
	id := uuid.NewString()
	title = filename.CleanTitle(title, 100)
	if title == "" {
		title = fallbackTitle(id)
	}

	v, err := s.Add(Video{
		ID:        id,
		Title:     title,
		Source:    SourceURL,
		SourceURL: sourceURL,
		FilePath:  filepath.Join(s.paths.Videos, id+".mp4"),
		Model:     model,
	})
	if err != nil {
		return Video{}, err
	}
	s.logger.Info("added url video to library", "video_id", id, "url", sourceURL)
	return v, nil
}

// AddUpload copies r into the videos directory and registers it. The title is
// the stem of the uploaded file name.
func (s *Store) AddUpload(name string, r io.Reader, model string) (Video, error) {
	id := uuid.NewString()
	dest := filepath.Join(s.paths.Videos, id+UploadExtension(name))

	f, err := os.Create(dest)
	if err != nil {
		return Video{}, fmt.Errorf("library: create upload file: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return Video{}, fmt.Errorf("library: write upload file: %w", err)
	}

	base := filepath.Base(name)
	title := filename.CleanTitle(strings.TrimSuffix(base, filepath.Ext(base)), 100)
	if title == "" {
		title = fallbackTitle(id)
	}

	v, err := s.Add(Video{
		ID:       id,
		Title:    title,
		Source:   SourceUpload,
		FilePath: dest,
		Model:    model,
	})
	if err != nil {
		_ = os.Remove(dest)
		return Video{}, err
	}
	s.logger.Info("added uploaded video to library", "video_id", id, "size", humanize.Bytes(uint64(n)))
	return v, nil
}

// AudioPath is where the extracted audio of a media file lives while it is transcribed.
func AudioPath(mediaPath string) string {
	return strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath)) + ".mp3"
}

// removeArtifacts deletes the media file, any leftover extracted audio, the
// thumbnail and the frame directory of v. Missing files are not errors.
func (s *Store) removeArtifacts(v Video) []error {
	var errs []error
	if v.FilePath != "" {
		if err := os.Remove(v.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove video file: %w", err))
		}
		if audio := AudioPath(v.FilePath); audio != v.FilePath {
			if err := os.Remove(audio); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove audio file: %w", err))
			}
		}
	}
	if v.ThumbnailPath != nil && *v.ThumbnailPath != "" {
		if err := os.Remove(*v.ThumbnailPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove thumbnail: %w", err))
		}
	}
	if err := os.RemoveAll(s.paths.FramesDir(v.ID)); err != nil {
		errs = append(errs, fmt.Errorf("remove frames: %w", err))
	}
	return errs
}
