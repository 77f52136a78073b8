package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
)

// Postgres is the index backend for deployments that already run PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. The pool is closed by Close.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// MigratePostgres applies the postgres index migrations through pool.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	stdDB := stdlib.OpenDBFromPool(pool)
	defer stdDB.Close()
	return Migrate(ctx, stdDB, goose.DialectPostgres, logger)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) IndexTranscript(ctx context.Context, videoID, text string, segments []pipeline.Segment) error {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM frames WHERE video_id = $1`, videoID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE video_id = $1`, videoID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO transcripts (video_id, text) VALUES ($1, $2)`, videoID, text); err != nil {
			return err
		}
		rows := make([][]any, len(segments))
		for i, seg := range segments {
			rows[i] = []any{seg.ID, videoID, i, seg.Start, seg.End, seg.Text}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"segments"},
			[]string{"id", "video_id", "ordinal", "start_s", "end_s", "text"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("index: store transcript for %s: %w", videoID, err)
	}
	return nil
}

func (p *Postgres) IndexFrames(ctx context.Context, videoID string, frames map[string][]pipeline.Frame) error {
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM frames WHERE video_id = $1`, videoID); err != nil {
			return err
		}
		ordered := orderedFrames(frames)
		rows := make([][]any, len(ordered))
		for i, f := range ordered {
			rows[i] = []any{videoID, f.SegmentID, f.Timestamp, f.Path, f.Embedding}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"frames"},
			[]string{"video_id", "segment_id", "ts", "path", "embedding"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("index: store frames for %s: %w", videoID, err)
	}
	return nil
}

func (p *Postgres) SegmentsForVideo(ctx context.Context, videoID string) ([]pipeline.Segment, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, start_s, end_s, text FROM segments WHERE video_id = $1 ORDER BY ordinal`, videoID)
	if err != nil {
		return nil, fmt.Errorf("index: list segments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pipeline.Segment, error) {
		var seg pipeline.Segment
		err := row.Scan(&seg.ID, &seg.Start, &seg.End, &seg.Text)
		return seg, err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []pipeline.Segment{}
	}
	return out, nil
}

func (p *Postgres) Transcript(ctx context.Context, videoID string) (string, error) {
	var text string
	err := p.pool.QueryRow(ctx, `SELECT text FROM transcripts WHERE video_id = $1`, videoID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotIndexed
	}
	if err != nil {
		return "", fmt.Errorf("index: read transcript: %w", err)
	}
	return text, nil
}

func (p *Postgres) KeywordSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	clauses := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, t := range terms {
		clauses[i] = `text ILIKE $` + strconv.Itoa(i+1) + ` ESCAPE '\'`
		args[i] = likePattern(t)
	}
	rows, err := p.pool.Query(ctx,
		`SELECT video_id, id, start_s, end_s, text FROM segments WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("index: keyword search: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Hit, error) {
		var h Hit
		err := row.Scan(&h.VideoID, &h.SegmentID, &h.Start, &h.End, &h.Text)
		return h, err
	})
	if err != nil {
		return nil, err
	}
	return rankHits(hits, terms, clampLimit(limit)), nil
}

func (p *Postgres) VisualSearch(ctx context.Context, query []float32, limit int) ([]FrameHit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT video_id, segment_id, ts, path, embedding FROM frames WHERE cardinality(embedding) = $1`, len(query))
	if err != nil {
		return nil, fmt.Errorf("index: visual search: %w", err)
	}
	defer rows.Close()

	scored := &scoredFrames{query: query, limit: clampLimit(limit)}
	for rows.Next() {
		var (
			row frameRow
			emb []float32
		)
		if err := rows.Scan(&row.VideoID, &row.SegmentID, &row.Timestamp, &row.Path, &emb); err != nil {
			return nil, err
		}
		scored.add(row, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scored.result(), nil
}

func (p *Postgres) DeleteVideo(ctx context.Context, videoID string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM frames WHERE video_id = $1`, videoID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE video_id = $1`, videoID)
		return err
	})
}

func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE frames, segments, transcripts`)
	return err
}
