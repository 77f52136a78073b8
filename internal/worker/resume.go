package worker

import (
	"log/slog"

	"github.com/aihpi/workshop-video-search/internal/library"
)

// PendingLister lists the videos left unfinished by a previous run.
type PendingLister interface {
	PendingOrProcessing() []library.Video
}

type Enqueuer interface {
	Enqueue(id string)
}

// Resume enqueues every pending or processing video once, oldest first, and
// returns how many were enqueued.
func Resume(lister PendingLister, enq Enqueuer, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	videos := lister.PendingOrProcessing()
	for _, v := range videos {
		enq.Enqueue(v.ID)
	}
	if len(videos) > 0 {
		logger.Info("resumed unfinished videos", "count", len(videos))
	}
	return len(videos)
}
