package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/config"
	"github.com/stulshyan/sherpaAI-sub000/internal/adapter"
	"github.com/stulshyan/sherpaAI-sub000/internal/agent"
	"github.com/stulshyan/sherpaAI-sub000/internal/execlog"
	"github.com/stulshyan/sherpaAI-sub000/internal/extraction"
	"github.com/stulshyan/sherpaAI-sub000/internal/logging"
	"github.com/stulshyan/sherpaAI-sub000/internal/objectstore"
	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
	"github.com/stulshyan/sherpaAI-sub000/internal/queue/streams"
	"github.com/stulshyan/sherpaAI-sub000/internal/readiness"
	"github.com/stulshyan/sherpaAI-sub000/internal/store"
	"github.com/stulshyan/sherpaAI-sub000/internal/telemetry"
	"github.com/stulshyan/sherpaAI-sub000/internal/validator"
	"github.com/stulshyan/sherpaAI-sub000/internal/worker"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

// app holds the process-wide collaborators shared by the subcommands.
type app struct {
	cfgPath  string
	manager  *config.Manager
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	adapters *adapter.Registry

	store     *store.Store
	redis     *redis.Client
	objects   pipeline.ObjectStore
	schemas   *streams.SchemaRegistry
	publisher *streams.Publisher
	status    *worker.StatusStore
	orch      *pipeline.Orchestrator
}

// loadConfig reads the bootstrap configuration and builds the logger.
func loadConfig(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newAdapters(cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (*adapter.Registry, error) {
	opts := []adapter.RegistryOption{adapter.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, adapter.WithHealthObserver(metrics.SetAdapterHealth))
	}
	return adapter.NewRegistry(cfg.Adapters, cfg.FallbackChains, adapter.DefaultFactory, opts...)
}

// newApp connects every backing store and builds the orchestrator. The
// configuration is reloaded on top of the Redis and database layers once both
// connections are up.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, logger, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfgPath: cfgPath, logger: logger, metrics: telemetry.New()}

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, err
	}
	a.store = st

	rc := cfg.Storage.Redis
	a.redis = redis.NewClient(&redis.Options{Addr: rc.Addr(), Password: rc.Password, DB: rc.DB, DialTimeout: rc.Timeout})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
	}

	sources := []config.Source{config.DefaultsSource()}
	if cfgPath != "" {
		sources = append(sources, config.NewFileSource(cfgPath))
	}
	sources = append(sources,
		&config.RedisSource{Client: a.redis, Key: cfg.Reload.RedisKey},
		&config.DatabaseSource{Loader: st},
	)
	a.manager = config.NewManager(logger, sources...)
	if err := a.manager.Reload(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.cfg = a.manager.Current()

	if a.adapters, err = newAdapters(a.cfg, logger, a.metrics); err != nil {
		a.Close()
		return nil, err
	}
	if a.objects, err = newObjectStore(ctx, a.cfg.Storage.S3, logger); err != nil {
		a.Close()
		return nil, err
	}
	if a.schemas, err = streams.NewBaseRegistry(); err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = streams.NewPublisher(a.redis, a.schemas)
	a.status = worker.NewStatusStore(a.redis, a.cfg.Worker.StatusTTL)

	if a.orch, err = a.newOrchestrator(); err != nil {
		a.Close()
		return nil, err
	}
	// Pipeline tuning follows reloads; adapters and agents keep their startup
	// configuration.
	a.manager.Subscribe(a.orch.ApplyConfig)
	return a, nil
}

func newObjectStore(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (pipeline.ObjectStore, error) {
	if cfg.Bucket == "" {
		logger.Warn("storage.s3.bucket not set; using in-memory object store")
		return objectstore.NewMemory(), nil
	}
	s3, err := objectstore.NewS3(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s3, nil
}

func (a *app) cost(rec execlog.Record) (float64, error) {
	ad, err := a.adapters.Get(rec.AdapterID)
	if err != nil {
		return 0, err
	}
	return ad.EstimateCost(rec.Usage), nil
}

func (a *app) newOrchestrator() (*pipeline.Orchestrator, error) {
	deps := agent.Deps{
		Adapters:  a.adapters,
		Validator: validator.New(validator.Options{CoerceTypes: true}),
		ExecLog:   execlog.NewPersistent(a.store, a.logger, a.cost),
		Logger:    a.logger,
		Observer:  a.metrics,
	}
	sink := worker.NewProgressSink(a.status, a.publisher, a.cfg.Worker.ProgressStream)

	opts := pipeline.OptionsFrom(a.cfg.Pipeline)
	opts.Logger = a.logger
	opts.Metrics = a.metrics
	opts.OnProgress = sink.Handle
	return pipeline.New(pipeline.Deps{
		Requirements: a.store,
		Features:     a.store,
		Extractor:    extraction.New(a.objects, a.logger),
		Objects:      a.objects,
		Readiness:    readiness.Scorer{},
		Classifier:   agent.NewClassifier(a.cfg.Agents.Classification, deps, agent.Hooks[models.ClassificationResult]{}),
		Decomposer:   agent.NewDecomposer(a.cfg.Agents.Decomposition, deps, agent.Hooks[models.DecompositionResult]{}),
	}, opts)
}

// startReloaders runs the file watcher and the periodic or scheduled reload
// loop in the background until ctx is done.
func (a *app) startReloaders(ctx context.Context) {
	rc := a.cfg.Reload
	if rc.WatchFile && a.cfgPath != "" {
		if err := a.manager.WatchFile(ctx, a.cfgPath); err != nil {
			a.logger.Warn("config file watch disabled", zap.Error(err))
		}
	}
	go func() {
		if err := a.manager.RunReloader(ctx, rc); err != nil {
			a.logger.Warn("config reloader stopped", zap.Error(err))
		}
	}()
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logger.Sync()
}
