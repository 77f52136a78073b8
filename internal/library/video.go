// Package library is the durable record store for ingested videos.
//
// Records live in a process-wide map mirrored to a single JSON file. Every
// mutating call rewrites the whole file before returning, so a crash right
// after a call leaves the file consistent with the last completed call.
package library

import (
	"fmt"
	"time"
)

// Status is the processing lifecycle state of a video.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Resumable reports whether a video in this status must be re-enqueued on startup.
func (s Status) Resumable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Retryable reports whether a video in this status may be reset to pending by a caller.
func (s Status) Retryable() bool {
	return s == StatusPending || s == StatusFailed
}

// Source records how the media file reached the library.
type Source string

const (
	SourceURL    Source = "url"
	SourceUpload Source = "upload"
)

// DefaultModel is the transcription model used when a caller does not pick one.
const DefaultModel = "base"

// Video is one ingested media item.
type Video struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Source        Source     `json:"source"`
	SourceURL     string     `json:"sourceUrl,omitempty"`
	FilePath      string     `json:"filePath"`
	Duration      *float64   `json:"duration,omitempty"`
	ThumbnailPath *string    `json:"thumbnailPath,omitempty"`
	Model         string     `json:"whisperModel"`
	Status        Status     `json:"status"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// FromURL reports whether the media file has to be fetched before processing.
func (v Video) FromURL() bool {
	return v.Source == SourceURL && v.SourceURL != ""
}

// clone returns a deep copy so callers never share pointer fields with the store.
func (v Video) clone() Video {
	out := v
	if v.Duration != nil {
		d := *v.Duration
		out.Duration = &d
	}
	if v.ThumbnailPath != nil {
		p := *v.ThumbnailPath
		out.ThumbnailPath = &p
	}
	if v.CompletedAt != nil {
		t := *v.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (v Video) validate() error {
	if v.ID == "" {
		return fmt.Errorf("library: video id is required")
	}
	if !v.Status.Valid() {
		return fmt.Errorf("library: invalid status %q", v.Status)
	}
	switch v.Source {
	case SourceURL:
		if v.SourceURL == "" {
			return fmt.Errorf("library: url video %s has no source url", v.ID)
		}
	case SourceUpload:
	default:
		return fmt.Errorf("library: invalid source %q", v.Source)
	}
	if v.FilePath == "" {
		return fmt.Errorf("library: video %s has no file path", v.ID)
	}
	return nil
}

// MetadataUpdate carries probe results. Nil fields leave the stored value unchanged.
type MetadataUpdate struct {
	Duration      *float64
	ThumbnailPath *string
}

// ClearReport summarizes a ClearAll call.
type ClearReport struct {
	Deleted int          `json:"deletedCount"`
	Errors  []ClearError `json:"errors"`
}

// ClearError is an artifact-removal failure for one video during ClearAll.
type ClearError struct {
	VideoID string `json:"videoId"`
	Error   string `json:"error"`
}
