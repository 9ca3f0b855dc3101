package main

import (
	"context"
	"time"

	"github.com/BearBump/MedPass/config"
	"github.com/BearBump/MedPass/internal/broker/kafka"
	"github.com/BearBump/MedPass/internal/cache"
	"github.com/BearBump/MedPass/internal/cache/rediscache"
	"github.com/BearBump/MedPass/internal/integrations/dmed"
	"github.com/BearBump/MedPass/internal/integrations/dmed/dmedhttp"
	"github.com/BearBump/MedPass/internal/integrations/dmed/registry"
	"github.com/BearBump/MedPass/internal/metrics"
	"github.com/BearBump/MedPass/internal/services/poller"
	"github.com/BearBump/MedPass/internal/services/reconcile"
	"github.com/BearBump/MedPass/internal/services/regions"
	"github.com/BearBump/MedPass/internal/storage/pgperson"
)

// Storage is everything the worker needs from PostgreSQL.
type Storage interface {
	poller.Repository
	reconcile.Store
	regions.Repository
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st Storage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) reconcile.Producer
	newRateLimiter func(cfg *config.Config) reconcile.RateLimiter
	newCache       func(cfg *config.Config) (c cache.BytesCache, closeFn func())
	newRegistry    func(cfg *config.Config, tokens cache.BytesCache) (dmed.Factory, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (Storage, func(), error) {
			st, err := pgperson.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconcile.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) reconcile.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			rc := rediscache.New(cfg.Redis.Addr())
			return rc, func() { _ = rc.Close() }
		},
		newRegistry: func(cfg *config.Config, tokens cache.BytesCache) (dmed.Factory, error) {
			return registry.NewFactory(registry.Settings{
				Mode:     cfg.MedPass.RegistryMode,
				Creds:    dmedhttp.Credentials{Username: cfg.DMED.Username, Password: cfg.DMED.Password},
				Timeout:  time.Duration(cfg.DMED.RequestTimeoutSeconds) * time.Second,
				TokenTTL: time.Duration(cfg.DMED.TokenTTLSeconds) * time.Second,
			}, tokens)
		},
	}
}

func plannerConfig(cfg *config.Config) poller.PlannerConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	// нули заменяются дефолтами в NewPlanner
	return poller.PlannerConfig{
		InvalidDelay:      sec(cfg.MedPass.WorkerInvalidDelaySeconds),
		ExhaustedMinDelay: sec(cfg.MedPass.WorkerExhaustedMinDelaySeconds),
		ExhaustedMaxDelay: sec(cfg.MedPass.WorkerExhaustedMaxDelaySeconds),
		Backoff1:          sec(cfg.MedPass.WorkerBackoff1Seconds),
		Backoff2:          sec(cfg.MedPass.WorkerBackoff2Seconds),
		Backoff3:          sec(cfg.MedPass.WorkerBackoff3Seconds),
		Backoff4:          sec(cfg.MedPass.WorkerBackoff4Seconds),
	}
}

// buildPoller wires storage, registries and the reconcile engine into the worker loop.
func buildPoller(cfg *config.Config, f workerFactories, m *metrics.Metrics) (*poller.Poller, func(), error) {
	pollInterval := time.Duration(cfg.MedPass.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.MedPass.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	concurrency := cfg.MedPass.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	lease := time.Duration(cfg.MedPass.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	national := cfg.MedPass.NationalCitizenshipIDs
	if len(national) == 0 {
		national = []int64{1}
	}
	defaultCitizenship := cfg.MedPass.DefaultCitizenshipID
	if defaultCitizenship <= 0 {
		defaultCitizenship = national[0]
	}

	rc, closeCache := f.newCache(cfg)
	factory, err := f.newRegistry(cfg, rc)
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	st, closeStorage, err := f.newStorage(cfg)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	closeFn := func() {
		closeStorage()
		closeCache()
	}

	engine := reconcile.New(st, regions.New(st), factory, reconcile.Config{
		NationalCitizenships: national,
		DefaultCitizenship:   defaultCitizenship,
		BatchSize:            cfg.DMED.BatchSize,
		RegionCallsPerMinute: int64(cfg.DMED.RateLimitPerMinute),
		EnrichedTopic:        cfg.Kafka.PersonEnrichedTopicName,
	},
		reconcile.WithProducer(f.newProducer(cfg)),
		reconcile.WithRateLimiter(f.newRateLimiter(cfg)),
		reconcile.WithMetrics(m),
		reconcile.WithCache(rc),
	)

	p := poller.New(st, engine, national).
		WithSettings(pollInterval, batchSize, concurrency, lease).
		WithPlanner(plannerConfig(cfg))
	return p, closeFn, nil
}

func RunEnrichWorker(ctx context.Context, cfg *config.Config, f workerFactories, m *metrics.Metrics) error {
	p, closeFn, err := buildPoller(cfg, f, m)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return p.Run(ctx)
}
