package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/MedPass/config"
	"github.com/BearBump/MedPass/internal/api/persons_api"
	"github.com/BearBump/MedPass/internal/broker/kafka"
	"github.com/BearBump/MedPass/internal/broker/messages"
	"github.com/BearBump/MedPass/internal/cache/rediscache"
	"github.com/BearBump/MedPass/internal/integrations/dmed/dmedhttp"
	"github.com/BearBump/MedPass/internal/integrations/dmed/registry"
	"github.com/BearBump/MedPass/internal/keylock"
	"github.com/BearBump/MedPass/internal/metrics"
	"github.com/BearBump/MedPass/internal/services/checkpoints"
	"github.com/BearBump/MedPass/internal/services/persons"
	"github.com/BearBump/MedPass/internal/services/reconcile"
	"github.com/BearBump/MedPass/internal/services/regions"
	"github.com/BearBump/MedPass/internal/storage/pgperson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type personAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     personAPIOpts
	api      http.Handler
	registry *prometheus.Registry
	subs     []subscription
	closers  []func()
}

func mustBootstrapPersonAPI() *personAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	setupLogger(cfg.MedPass.LogFormat)

	httpAddr := cfg.MedPass.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.MedPass.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "person-api"
	}
	passedTopic := cfg.Kafka.CheckpointPassedTopicName
	if passedTopic == "" {
		passedTopic = messages.TopicCheckpointPassed
	}
	capturedTopic := cfg.Kafka.CameraCapturedTopicName
	if capturedTopic == "" {
		capturedTopic = messages.TopicCameraCaptured
	}
	cacheTTL := time.Duration(cfg.MedPass.PersonCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	national := cfg.MedPass.NationalCitizenshipIDs
	if len(national) == 0 {
		national = []int64{1}
	}
	defaultCitizenship := cfg.MedPass.DefaultCitizenshipID
	if defaultCitizenship <= 0 {
		defaultCitizenship = national[0]
	}

	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
	rc := rediscache.New(cfg.Redis.Addr())
	rl := rediscache.NewRateLimiter(cfg.Redis.Addr())
	producer := kafka.NewProducer(cfg.Kafka.Brokers())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	locks := keylock.New()
	resolver := regions.New(st)
	factory, err := registry.NewFactory(registrySettings(cfg), rc)
	if err != nil {
		panic(fmt.Sprintf("dmed registry: %v", err))
	}
	engine := reconcile.New(st, resolver, factory, reconcile.Config{
		NationalCitizenships: national,
		DefaultCitizenship:   defaultCitizenship,
		BatchSize:            cfg.DMED.BatchSize,
		RegionCallsPerMinute: int64(cfg.DMED.RateLimitPerMinute),
		EnrichedTopic:        cfg.Kafka.PersonEnrichedTopicName,
	},
		reconcile.WithLocker(locks),
		reconcile.WithRateLimiter(rl),
		reconcile.WithProducer(producer),
		reconcile.WithMetrics(m),
		reconcile.WithCache(rc),
	)

	personSvc := persons.New(st, engine, rc, cacheTTL, locks)
	checkpointSvc := checkpoints.New(st, rc, national, defaultCitizenship)
	api := persons_api.New(personSvc, checkpointSvc, resolver)

	brokers := cfg.Kafka.Brokers()
	passed := kafka.NewConsumer(brokers, passedTopic, consumerGroup)
	captured := kafka.NewConsumer(brokers, capturedTopic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &personAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: personAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:      api.Routes(),
		registry: reg,
		subs: []subscription{
			{topic: passedTopic, consumer: passed, handler: checkpointSvc.HandlePassed},
			{topic: capturedTopic, consumer: captured, handler: checkpointSvc.HandleCaptured},
		},
		closers: []func(){
			func() { _ = passed.Close() },
			func() { _ = captured.Close() },
			func() { _ = producer.Close() },
			func() { _ = rl.Close() },
			func() { _ = rc.Close() },
			st.Close,
		},
	}
}

func registrySettings(cfg *config.Config) registry.Settings {
	return registry.Settings{
		Mode:     cfg.MedPass.RegistryMode,
		Creds:    dmedhttp.Credentials{Username: cfg.DMED.Username, Password: cfg.DMED.Password},
		Timeout:  time.Duration(cfg.DMED.RequestTimeoutSeconds) * time.Second,
		TokenTTL: time.Duration(cfg.DMED.TokenTTLSeconds) * time.Second,
	}
}

func setupLogger(format string) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgperson.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgperson.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *personAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *personAPIApp) Run() error {
	return runPersonAPI(a.ctx, a.opts, a.api, a.registry, a.subs)
}
