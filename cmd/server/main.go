package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aihpi/workshop-video-search/internal/api"
	"github.com/aihpi/workshop-video-search/internal/application"
	"github.com/aihpi/workshop-video-search/internal/config"
	"github.com/aihpi/workshop-video-search/internal/embedding"
	"github.com/aihpi/workshop-video-search/internal/index"
	"github.com/aihpi/workshop-video-search/internal/jobqueue"
	"github.com/aihpi/workshop-video-search/internal/library"
	"github.com/aihpi/workshop-video-search/internal/media"
	"github.com/aihpi/workshop-video-search/internal/metrics"
	"github.com/aihpi/workshop-video-search/internal/pipeline"
	"github.com/aihpi/workshop-video-search/internal/worker"
	"github.com/aihpi/workshop-video-search/pkg/whisper"
	"github.com/aihpi/workshop-video-search/pkg/ytdlp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	conf, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := application.SetupLogger(conf.LogLevel)
	logger.Info("Starting video search service", "config", conf)

	store, err := library.Open(conf.DataDir, library.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	defer store.Close()

	idx, err := openIndex(ctx, *conf, logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	m := metrics.New()
	fetcher := newFetcher(ctx, *conf, logger)
	embedder := embedding.NewClient(conf.EmbeddingURL)

	runner := &whisper.Runner{
		Cmd:     conf.WhisperCmd,
		Device:  conf.WhisperDevice,
		Timeout: conf.WhisperTimeout(),
		Logger:  logger,
	}
	if path, err := runner.Available(); err != nil {
		logger.Warn("whisper not found; transcription will fail", "cmd", conf.WhisperCmd, "error", err)
	} else {
		logger.Info("found whisper", "path", path)
	}

	paths := store.Paths()
	ff := media.NewFFmpeg(paths.Thumbnails, paths.Frames, logger)
	collab := pipeline.Collaborators{
		Fetcher:     fetcher,
		Prober:      ff,
		Thumbnailer: ff,
		Audio:       ff,
		Transcriber: media.NewWhisperTranscriber(runner),
		Text:        idx,
	}
	var textEmbedder pipeline.TextEmbedder
	if conf.VisualEnabled {
		collab.Frames = ff
		collab.Embedder = embedder
		collab.Vectors = idx
		textEmbedder = embedder

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := embedder.Ping(pingCtx); err != nil {
			logger.Warn("embedding service not reachable; visual indexing will fail until it is", "url", conf.EmbeddingURL, "error", err)
		}
		cancel()
	}

	proc, err := pipeline.NewProcessor(store, collab,
		pipeline.WithSampleRate(conf.FrameSampleRate),
		pipeline.WithLogger(logger),
		pipeline.WithStageObserver(m.ObserveStage),
	)
	if err != nil {
		return err
	}

	queue := jobqueue.New(jobqueue.WithPollInterval(conf.PollInterval()))
	pool := worker.NewPool(queue, proc,
		worker.WithWorkers(conf.IngestWorkers),
		worker.WithLogger(logger),
		worker.WithMetrics(m),
	)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer pool.Stop()
	worker.Resume(store, pool, logger)

	srv := api.New(api.Deps{
		Library:      store,
		Queue:        pool,
		Index:        idx,
		Titles:       fetcher,
		Embedder:     textEmbedder,
		Metrics:      m,
		DefaultModel: conf.DefaultWhisperModel,
		Logger:       logger,
		BodyLimit:    "4G",
	})

	addr := ":" + strconv.Itoa(conf.WebServerPort)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Listening", "addr", addr)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Shutting down; waiting for workers to reach a stage boundary")
	return nil
}

func openIndex(ctx context.Context, conf config.Config, logger *slog.Logger) (index.Index, error) {
	switch conf.IndexBackend {
	case "postgres":
		pool, err := application.OpenDBPoolWithRetry(ctx, conf)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := index.MigratePostgres(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		return index.NewPostgres(pool), nil
	default:
		idx, err := index.OpenSQLite(ctx, conf.SQLitePath(), logger)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		return idx, nil
	}
}

func newFetcher(ctx context.Context, conf config.Config, logger *slog.Logger) *media.FetchRouter {
	client := ytdlp.New()
	client.Path = conf.YTDLPPath
	client.CookiesFile = conf.YTDLPCookiesFile
	client.Logger = logger
	if v, err := client.Version(ctx); err != nil {
		logger.Warn("yt-dlp is not usable; url downloads will fail", "path", client.Binary(), "error", err)
	} else {
		logger.Info("found yt-dlp", "version", v)
	}

	router := &media.FetchRouter{Default: media.NewYTDLPFetcher(client, logger)}
	if conf.Fetcher == "native" {
		router.YouTube = media.NewYouTubeFetcher(logger)
	}
	return router
}
