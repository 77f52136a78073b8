package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite is the embedded index backend.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the index database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index: create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("index: apply %q: %w", pragma, err)
		}
	}

	if err := Migrate(ctx, db, goose.DialectSQLite3, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// inTx runs fn in a transaction, retrying the whole transaction while the database is busy.
func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// IndexTranscript replaces the transcript, segments and frames of videoID.
func (s *SQLite) IndexTranscript(ctx context.Context, videoID, text string, segments []pipeline.Segment) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM frames WHERE video_id = ?`, videoID); err != nil {
			return err
		}
		if err := deleteTranscript(ctx, tx, videoID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transcripts (video_id, text) VALUES (?, ?)`, videoID, text); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO segments (id, video_id, ordinal, start_s, end_s, text) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, seg := range segments {
			if _, err := stmt.ExecContext(ctx, seg.ID, videoID, i, seg.Start, seg.End, seg.Text); err != nil {
				return fmt.Errorf("segment %s: %w", seg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: store transcript for %s: %w", videoID, err)
	}
	return nil
}

// IndexFrames replaces the frames of videoID.
func (s *SQLite) IndexFrames(ctx context.Context, videoID string, frames map[string][]pipeline.Frame) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM frames WHERE video_id = ?`, videoID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO frames (video_id, segment_id, ts, path, embedding) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range orderedFrames(frames) {
			if _, err := stmt.ExecContext(ctx, videoID, f.SegmentID, f.Timestamp, f.Path, encodeEmbedding(f.Embedding)); err != nil {
				return fmt.Errorf("frame %s@%.3f: %w", f.SegmentID, f.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: store frames for %s: %w", videoID, err)
	}
	return nil
}

func (s *SQLite) SegmentsForVideo(ctx context.Context, videoID string) ([]pipeline.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_s, end_s, text FROM segments WHERE video_id = ? ORDER BY ordinal`, videoID)
	if err != nil {
		return nil, fmt.Errorf("index: list segments: %w", err)
	}
	defer rows.Close()

	out := []pipeline.Segment{}
	for rows.Next() {
		var seg pipeline.Segment
		if err := rows.Scan(&seg.ID, &seg.Start, &seg.End, &seg.Text); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *SQLite) Transcript(ctx context.Context, videoID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM transcripts WHERE video_id = ?`, videoID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotIndexed
	}
	if err != nil {
		return "", fmt.Errorf("index: read transcript: %w", err)
	}
	return text, nil
}

// KeywordSearch returns segments containing any query term, best matches first.
func (s *SQLite) KeywordSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	clauses := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, t := range terms {
		clauses[i] = `lower(text) LIKE ? ESCAPE '\'`
		args[i] = likePattern(t)
	}
	q := `SELECT video_id, id, start_s, end_s, text FROM segments WHERE ` + strings.Join(clauses, " OR ")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: keyword search: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.VideoID, &h.SegmentID, &h.Start, &h.End, &h.Text); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankHits(hits, terms, clampLimit(limit)), nil
}

// VisualSearch ranks every stored frame by cosine similarity to query.
func (s *SQLite) VisualSearch(ctx context.Context, query []float32, limit int) ([]FrameHit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT video_id, segment_id, ts, path, embedding FROM frames`)
	if err != nil {
		return nil, fmt.Errorf("index: visual search: %w", err)
	}
	defer rows.Close()

	scored := &scoredFrames{query: query, limit: clampLimit(limit)}
	for rows.Next() {
		var (
			row  frameRow
			blob []byte
		)
		if err := rows.Scan(&row.VideoID, &row.SegmentID, &row.Timestamp, &row.Path, &blob); err != nil {
			return nil, err
		}
		emb, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		scored.add(row, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scored.result(), nil
}

func (s *SQLite) DeleteVideo(ctx context.Context, videoID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM frames WHERE video_id = ?`, videoID); err != nil {
			return err
		}
		return deleteTranscript(ctx, tx, videoID)
	})
}

// deleteTranscript removes segments explicitly; foreign_keys is a per-connection
// pragma and pooled connections may not have it set.
func deleteTranscript(ctx context.Context, tx *sql.Tx, videoID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE video_id = ?`, videoID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE video_id = ?`, videoID)
	return err
}

func (s *SQLite) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"frames", "segments", "transcripts"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}
