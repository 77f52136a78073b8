package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	libraryFileName = "video_library.json"
	videosDirName   = "videos"
	thumbsDirName   = "thumbnails"
	framesDirName   = "frames"
)

var (
	// ErrNotFound is returned by writes against an unknown video id.
	ErrNotFound = errors.New("library: video not found")
	// ErrNotRetryable is returned by ResetForRetry when the video is processing or completed.
	ErrNotRetryable = errors.New("library: video cannot be retried in its current status")
	// ErrLocked is returned by Open when another process holds the library.
	ErrLocked = errors.New("library: data directory is locked by another process")
)

// libraryFile is the on-disk layout. Unknown fields are ignored on load.
type libraryFile struct {
	Videos map[string]Video `json:"videos"`
}

// Paths are the directories the store owns under its data directory.
type Paths struct {
	Root       string
	Videos     string
	Thumbnails string
	Frames     string
}

// FramesDir returns the directory holding extracted frames for one video.
func (p Paths) FramesDir(videoID string) string {
	return filepath.Join(p.Frames, videoID)
}

// Store is the process-wide video record store.
type Store struct {
	mu     sync.RWMutex
	videos map[string]Video

	paths  Paths
	file   string
	lock   *flock.Flock
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load and artifact-removal diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for creation and completion stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open prepares dataDir, takes the single-writer lock and loads the library file.
// A library file that cannot be decoded is moved aside and the store starts empty.
func Open(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("library: data directory is required")
	}
	paths := Paths{
		Root:       dataDir,
		Videos:     filepath.Join(dataDir, videosDirName),
		Thumbnails: filepath.Join(dataDir, thumbsDirName),
		Frames:     filepath.Join(dataDir, framesDirName),
	}
	for _, dir := range []string{paths.Root, paths.Videos, paths.Thumbnails, paths.Frames} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("library: create %s: %w", dir, err)
		}
	}

	s := &Store{
		videos: make(map[string]Video),
		paths:  paths,
		file:   filepath.Join(dataDir, libraryFileName),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.lock = flock.New(s.file + ".lock")
	ok, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("library: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	if err := s.load(); err != nil {
		_ = s.lock.Unlock()
		return nil, err
	}
	s.logger.Info("video library loaded", "path", s.file, "videos", len(s.videos))
	return s, nil
}

// Close releases the library lock.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// Paths returns the directories owned by the store.
func (s *Store) Paths() Paths {
	return s.paths
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("library: read %s: %w", s.file, err)
	}

	var lf libraryFile
	if err := json.Unmarshal(data, &lf); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.file, s.now().Unix())
		s.logger.Error("video library file is corrupt; starting with an empty library",
			"path", s.file, "moved_to", aside, "error", err)
		if renameErr := os.Rename(s.file, aside); renameErr != nil {
			s.logger.Warn("failed to move corrupt library file aside", "path", s.file, "error", renameErr)
		}
		return nil
	}

	for id, v := range lf.Videos {
		if v.ID == "" {
			v.ID = id
		}
		if err := v.validate(); err != nil {
			s.logger.Warn("skipping invalid library record", "video_id", id, "error", err)
			continue
		}
		s.videos[v.ID] = v
	}
	return nil
}

// persist rewrites the library file. Callers must hold s.mu for writing.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(libraryFile{Videos: s.videos}, "", "  ")
	if err != nil {
		return fmt.Errorf("library: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.file), libraryFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("library: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("library: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("library: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("library: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.file); err != nil {
		return fmt.Errorf("library: replace %s: %w", s.file, err)
	}
	return nil
}

// update applies fn to a copy of the record and commits it only if persisting succeeds.
func (s *Store) update(id string, fn func(v *Video) error) (Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.videos[id]
	if !ok {
		return Video{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := prev.clone()
	if err := fn(&next); err != nil {
		return Video{}, err
	}
	s.videos[id] = next
	if err := s.persist(); err != nil {
		s.videos[id] = prev
		return Video{}, err
	}
	return next.clone(), nil
}

// Get returns a copy of the video record.
func (s *Store) Get(id string) (Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return Video{}, false
	}
	return v.clone(), true
}

// All returns every video ordered by creation time.
func (s *Store) All() []Video {
	s.mu.RLock()
	out := make([]Video, 0, len(s.videos))
	for _, v := range s.videos {
		out = append(out, v.clone())
	}
	s.mu.RUnlock()
	sortByCreation(out)
	return out
}

// BySource groups every video by its source kind.
func (s *Store) BySource() map[Source][]Video {
	grouped := map[Source][]Video{SourceURL: {}, SourceUpload: {}}
	for _, v := range s.All() {
		grouped[v.Source] = append(grouped[v.Source], v)
	}
	return grouped
}

// PendingOrProcessing returns the videos that must be resumed, oldest first.
func (s *Store) PendingOrProcessing() []Video {
	s.mu.RLock()
	var out []Video
	for _, v := range s.videos {
		if v.Status.Resumable() {
			out = append(out, v.clone())
		}
	}
	s.mu.RUnlock()
	sortByCreation(out)
	return out
}

// FileExists reports whether the video's media file is present on disk.
func (s *Store) FileExists(id string) bool {
	v, ok := s.Get(id)
	if !ok || v.FilePath == "" {
		return false
	}
	_, err := os.Stat(v.FilePath)
	return err == nil
}

// Add inserts a new record. Missing creation time and status are filled in.
func (s *Store) Add(v Video) (Video, error) {
	if v.Status == "" {
		v.Status = StatusPending
	}
	if v.Model == "" {
		v.Model = DefaultModel
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}
	if err := v.validate(); err != nil {
		return Video{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.videos[v.ID]; exists {
		return Video{}, fmt.Errorf("library: video %s already exists", v.ID)
	}
	s.videos[v.ID] = v.clone()
	if err := s.persist(); err != nil {
		delete(s.videos, v.ID)
		return Video{}, err
	}
	return v.clone(), nil
}

// UpdateStatus records a lifecycle transition. The error message is kept only
// for failed, and the completion stamp only for completed.
func (s *Store) UpdateStatus(id string, status Status, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("library: invalid status %q", status)
	}
	_, err := s.update(id, func(v *Video) error {
		v.Status = status
		v.ErrorMessage = ""
		v.CompletedAt = nil
		switch status {
		case StatusFailed:
			if errMsg == "" {
				errMsg = "processing failed"
			}
			v.ErrorMessage = errMsg
		case StatusCompleted:
			now := s.now().UTC()
			v.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("video status updated", "video_id", id, "status", status)
	return nil
}

// UpdateMetadata stores probe results.
func (s *Store) UpdateMetadata(id string, update MetadataUpdate) error {
	_, err := s.update(id, func(v *Video) error {
		if update.Duration != nil {
			d := *update.Duration
			v.Duration = &d
		}
		if update.ThumbnailPath != nil {
			p := *update.ThumbnailPath
			v.ThumbnailPath = &p
		}
		return nil
	})
	return err
}

// ResetForRetry moves a failed or pending video back to pending and clears its error.
func (s *Store) ResetForRetry(id string) (Video, error) {
	return s.update(id, func(v *Video) error {
		if !v.Status.Retryable() {
			return fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, v.Status)
		}
		v.Status = StatusPending
		v.ErrorMessage = ""
		v.CompletedAt = nil
		return nil
	})
}

// Delete removes the record, then its on-disk artifacts. Artifacts are only
// touched once the removal is persisted; their removal is best-effort.
func (s *Store) Delete(id string) (Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok {
		return Video{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.videos, id)
	if err := s.persist(); err != nil {
		s.videos[id] = v
		return Video{}, err
	}
	for _, err := range s.removeArtifacts(v) {
		s.logger.Error("failed to remove video artifact", "video_id", id, "error", err)
	}
	s.logger.Info("deleted video from library", "video_id", id)
	return v.clone(), nil
}

// ClearAll removes every record, then the artifacts of each.
func (s *Store) ClearAll() (ClearReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.videos
	s.videos = make(map[string]Video)
	if err := s.persist(); err != nil {
		s.videos = prev
		return ClearReport{}, err
	}

	report := ClearReport{Errors: []ClearError{}}
	for id, v := range prev {
		errs := s.removeArtifacts(v)
		for _, err := range errs {
			s.logger.Error("failed to remove video artifact", "video_id", id, "error", err)
			report.Errors = append(report.Errors, ClearError{VideoID: id, Error: err.Error()})
		}
		if len(errs) == 0 {
			report.Deleted++
		}
	}
	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].VideoID < report.Errors[j].VideoID })

	s.logger.Info("cleared video library", "deleted", report.Deleted, "errors", len(report.Errors))
	return report, nil
}

func sortByCreation(videos []Video) {
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.Before(videos[j].CreatedAt)
	})
}
