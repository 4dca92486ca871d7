// Package app assembles the pipeline components selected by the
// configuration. Every binary builds its dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-batch-pipeline/internal/config"
	"github.com/dvloznov/bank-batch-pipeline/internal/gcs"
	infraBQ "github.com/dvloznov/bank-batch-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/bank-batch-pipeline/internal/infra/memory"
	"github.com/dvloznov/bank-batch-pipeline/internal/infra/postgres"
	"github.com/dvloznov/bank-batch-pipeline/internal/lock"
	"github.com/dvloznov/bank-batch-pipeline/internal/metrics"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
	"github.com/dvloznov/bank-batch-pipeline/internal/source"
)

// Store is what the application needs from a sink.
type Store interface {
	pipeline.Store
	pipeline.RunRecorder
}

// App holds the wired components and the resources to release on Close.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Store   Store
	Source  pipeline.RecordSource
	Objects gcs.ObjectStore
	Metrics *metrics.Recorder
	Runner  *pipeline.Runner

	closers []func() error
}

// New builds the application from cfg. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Metrics: metrics.NewRecorder()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.Source, err = a.openSource(ctx); err != nil {
		return nil, err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.NewBatchPipeline(pcfg, a.Store, pipeline.WithHistory(a.Store))
	if err != nil {
		return nil, err
	}
	a.Runner = pipeline.NewRunner(a.Source, p, locker, a.Metrics, pipeline.WithRunRecorder(a.Store))

	log.Info().
		Str("source", cfg.Source.Kind).
		Str("sink", cfg.Sink.Kind).
		Bool("redis_lock", cfg.Redis.Addr != "").
		Msg("Application wired")

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.Config.Sink.Kind {
	case config.SinkBigQuery:
		repo, err := infraBQ.NewRepository(ctx, a.Config.Sink.ProjectID, a.Config.Sink.Dataset)
		if err != nil {
			return nil, fmt.Errorf("open bigquery sink: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case config.SinkPostgres:
		repo, err := postgres.Open(ctx, a.Config.Sink.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case config.SinkMemory:
		a.Log.Warn().Msg("Using in-memory sink, results are lost on exit")
		return memory.NewStore(), nil
	}
	return nil, &pipeline.ConfigError{Field: "sink.kind", Reason: fmt.Sprintf("unknown sink %q", a.Config.Sink.Kind)}
}

func (a *App) openSource(ctx context.Context) (pipeline.RecordSource, error) {
	sc := a.Config.Source
	switch sc.Kind {
	case config.SourceGCS:
		objects, err := a.ObjectStore(ctx)
		if err != nil {
			return nil, err
		}
		return source.NewGCSSource(objects, sc.Bucket, sc.Prefix, sc.Format), nil
	case config.SourceLocal:
		return source.NewLocalSource(sc.Dir, sc.Prefix, sc.Format), nil
	}
	return nil, &pipeline.ConfigError{Field: "source.kind", Reason: fmt.Sprintf("unknown source %q", sc.Kind)}
}

func (a *App) openLocker(ctx context.Context) (pipeline.PartitionLocker, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return lock.NewLocalLock(), nil
	}
	client, err := lock.Dial(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", rc.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	return lock.NewRedisLock(client, rc.LockTTL), nil
}

// ObjectStore returns the Cloud Storage client, opening it on first use.
func (a *App) ObjectStore(ctx context.Context) (gcs.ObjectStore, error) {
	if a.Objects != nil {
		return a.Objects, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("open cloud storage: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.Objects = client
	return client, nil
}

// MinQuality is the average quality score below which verification warns.
func (a *App) MinQuality() float64 {
	return a.Config.Pipeline.MinAvgQuality
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
