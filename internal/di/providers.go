package di

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/handler/api"
	mid "AlertGate/internal/middleware"
	"AlertGate/internal/repository"
	icache "AlertGate/internal/service/cache"
	"AlertGate/internal/service/collector"
	pmetrics "AlertGate/internal/service/metrics"
	"AlertGate/internal/service/notify"
	"AlertGate/internal/service/ratelimit"
	"AlertGate/internal/service/smoother"
	"AlertGate/internal/service/source"
	"AlertGate/internal/service/stream"
	"AlertGate/internal/services/bundler"
	"AlertGate/internal/services/detectors"
	"AlertGate/internal/services/scoring"
	"AlertGate/internal/usecase"
	pkgcache "AlertGate/pkg/cache"
	pkgch "AlertGate/pkg/clickhouse"
	"AlertGate/pkg/config"
	xhttp "AlertGate/pkg/http"
	pkgkafka "AlertGate/pkg/kafka"
	"AlertGate/pkg/logger"
	"AlertGate/pkg/metrics"
	"AlertGate/pkg/queue"
	"AlertGate/pkg/server"
)

// ProvideLogger creates the root logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("service", "alertgate"), logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	pmetrics.Register()
	return metrics.New()
}

// ProvideSQLite opens the dedup/queue database.
func ProvideSQLite(cfg *config.Config) (*gorm.DB, error) {
	return repository.OpenSQLite(cfg.Dedup.DBPath)
}

// ProvideRedis returns nil when Redis is disabled.
func ProvideRedis(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 4*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer returns nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, 10*time.Second),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func dedupPolicy(cfg *config.Config) models.DedupPolicy {
	return models.DedupPolicy{
		Cooldowns: map[models.Tier]time.Duration{
			models.TierCritical:   cfg.Dedup.CooldownCritical,
			models.TierHigh:       cfg.Dedup.CooldownHigh,
			models.TierBackground: cfg.Dedup.CooldownBackground,
		},
		MinConfidenceDelta: cfg.Dedup.MinConfidenceDelta,
		MaxPerDay:          cfg.Dedup.MaxPerDay,
		MaxPerHour:         cfg.Dedup.MaxPerHour,
	}
}

func ProvideDedupStore(db *gorm.DB, cfg *config.Config, l *logger.Logger) drepo.DedupStore {
	return repository.NewDedupStore(db, dedupPolicy(cfg), repository.WithDedupLogger(l))
}

// ProvideQueueStore picks the delivery queue backend.
func ProvideQueueStore(cfg *config.Config, db *gorm.DB, rc *pkgcache.RedisCache, l *logger.Logger) (drepo.QueueStore, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return repository.NewMemoryQueueStore(), nil
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("queue backend redis: redis is disabled")
		}
		q := queue.NewRedisQueue(rc.Client(),
			queue.WithKeyPrefix(rc.Prefix()+":queue"),
			queue.WithLogger(l),
		)
		return repository.NewRedisQueueStore(q), nil
	default:
		return repository.NewGormQueueStore(db), nil
	}
}

func ProvideDeliveryQueue(store drepo.QueueStore, cfg *config.Config, m drepo.Metrics, l *logger.Logger) *usecase.DeliveryQueue {
	return usecase.NewDeliveryQueue(store,
		usecase.WithBaseBackoff(cfg.Queue.BaseBackoff),
		usecase.WithMaxFailures(cfg.Queue.MaxFailures),
		usecase.WithQueueMetrics(m),
		usecase.WithQueueLogger(l),
	)
}

// ProvideHistory stores candidate history in ClickHouse when available, in memory otherwise.
func ProvideHistory(ch *pkgch.Client, cfg *config.Config, l *logger.Logger) (drepo.CandidateHistory, error) {
	if ch == nil {
		return repository.NewMemoryHistory(cfg.Scorer.HistorySize), nil
	}
	h := repository.NewCHCandidateHistory(ch, cfg.ClickHouse.Database)
	h.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ch.InitSchema(ctx, h.Schema()); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return h, nil
}

// ProvideScorer builds the scorer and warms it from history. A failed warm start only logs.
func ProvideScorer(cfg *config.Config, history drepo.CandidateHistory, l *logger.Logger) *scoring.Scorer {
	s := scoring.New(scoring.Config{
		MinSamples:         cfg.Scorer.MinSamples,
		RetrainEvery:       cfg.Scorer.RetrainEvery,
		HistorySize:        cfg.Scorer.HistorySize,
		TrainWindow:        cfg.Scorer.TrainWindow,
		ModelWeight:        cfg.Scorer.ModelWeight,
		MaxAlerts:          cfg.Scorer.MaxAlerts,
		BundleThreshold:    cfg.Bundler.Threshold,
		BundleScoreCeiling: cfg.Scorer.BundleScoreCeiling,
	}, l)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.WarmStart(ctx, history); err != nil {
		l.Warn("scorer warm start failed", logger.Error(err))
	}
	return s
}

// ProvideCollector builds one REST source per configured exchange.
func ProvideCollector(cfg *config.Config, m drepo.Metrics, l *logger.Logger) (*collector.Collector, error) {
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Collector.Timeout))
	sources := make([]drepo.Source, 0, len(cfg.Collector.Sources))
	for _, sc := range cfg.Collector.Sources {
		src, err := source.New(source.Config{
			Name:    sc.Name,
			Kind:    source.Kind(sc.Kind),
			BaseURL: sc.BaseURL,
			Symbol:  sc.Symbol,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		sources = append(sources, src)
	}
	return collector.New(sources,
		collector.WithTimeout(cfg.Collector.Timeout),
		collector.WithConcurrency(cfg.Collector.Concurrency),
		collector.WithRateLimit(cfg.Collector.RatePerSecond, cfg.Collector.RateBurst),
		collector.WithBreaker(collector.BreakerSettings{
			ConsecutiveFailures: cfg.Collector.Breaker.Failures,
			OpenTimeout:         cfg.Collector.Breaker.OpenTimeout,
			Interval:            cfg.Collector.Breaker.Interval,
		}),
		collector.WithMetrics(m),
		collector.WithLogger(l),
	), nil
}

func ProvideAnalyzer(cfg *config.Config, l *logger.Logger) *detectors.Analyzer {
	opts := []smoother.Option{smoother.WithStaleAfter(cfg.Smoother.StaleAfter), smoother.WithLogger(l)}
	if len(cfg.Smoother.Variances) > 0 {
		params := make(map[smoother.Family]smoother.Params, len(cfg.Smoother.Variances))
		for fam, v := range cfg.Smoother.Variances {
			params[smoother.Family(fam)] = smoother.Params{ProcessVariance: v.Process, MeasurementVariance: v.Measurement}
		}
		opts = append(opts, smoother.WithParams(params))
	}
	threshold := smoother.NewAdaptiveThreshold(cfg.Smoother.ThresholdWindow, cfg.Smoother.ThresholdMin)
	return detectors.NewAnalyzer(smoother.New(opts...), threshold, cfg.Detectors.MinSources)
}

func ProvideRegistry(cfg *config.Config, l *logger.Logger) (*detectors.Registry, error) {
	if len(cfg.Detectors.Enabled) == 0 {
		return detectors.NewRegistry(l, detectors.All(cfg.Detectors.Floor)...), nil
	}
	ds, err := detectors.Select(cfg.Detectors.Enabled, cfg.Detectors.Floor)
	if err != nil {
		return nil, fmt.Errorf("detectors: %w", err)
	}
	return detectors.NewRegistry(l, ds...), nil
}

func ProvideBundler(cfg *config.Config, scorer *scoring.Scorer) *bundler.Bundler {
	return bundler.New(cfg.Bundler.Threshold,
		bundler.WithWindow(cfg.Bundler.Window),
		bundler.WithEligibility(scorer.ShouldBundle),
	)
}

func ProvidePipeline(
	cfg *config.Config,
	col *collector.Collector,
	analyzer *detectors.Analyzer,
	registry *detectors.Registry,
	scorer *scoring.Scorer,
	b *bundler.Bundler,
	dedup drepo.DedupStore,
	history drepo.CandidateHistory,
	q *usecase.DeliveryQueue,
	m drepo.Metrics,
	l *logger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(usecase.PipelineDeps{
		Collector: col,
		Cache:     icache.NewViewCache(cfg.Cache.TTL, icache.WithLogger(l)),
		Analyzer:  analyzer,
		Registry:  registry,
		Scorer:    scorer,
		Bundler:   b,
		Dedup:     dedup,
		History:   history,
		Queue:     q,
	},
		usecase.WithMaxAlerts(cfg.Scorer.MaxAlerts),
		usecase.WithPipelineMetrics(m),
		usecase.WithPipelineLogger(l),
	)
}

// ProvideSink fans out to every enabled sink. The log sink is the fallback when nothing else is on.
func ProvideSink(cfg *config.Config, producer *pkgkafka.Producer, l *logger.Logger) drepo.Sink {
	var sinks []drepo.Sink
	if url := cfg.Sinks.Webhook.URL; url != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Sinks.Webhook.Timeout))
		sinks = append(sinks, notify.NewWebhookSink(url, client, ratelimit.New(),
			notify.WithPacing(cfg.Sinks.Webhook.Burst, cfg.Sinks.Webhook.PerSecond),
			notify.WithWebhookLogger(l),
		))
	}
	if cfg.Sinks.Kafka && producer != nil {
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.AlertsTopic))
	}
	if cfg.Sinks.Log || len(sinks) == 0 {
		sinks = append(sinks, notify.NewLogSink(l))
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return notify.NewMultiSink(sinks...)
}

func ProvideDispatcher(cfg *config.Config, q *usecase.DeliveryQueue, sink drepo.Sink, b *bundler.Bundler, m drepo.Metrics, l *logger.Logger) *usecase.Dispatcher {
	return usecase.NewDispatcher(q, sink,
		usecase.WithBatchSize(cfg.Queue.BatchSize),
		usecase.WithPollInterval(cfg.Queue.PollInterval),
		usecase.WithSendBundler(b),
		usecase.WithDispatcherMetrics(m),
		usecase.WithDispatcherLogger(l),
	)
}

// ProvideStreamGate sits between the stream monitor and the pipeline.
func ProvideStreamGate(cfg *config.Config, p *usecase.Pipeline, m drepo.Metrics, l *logger.Logger) *mid.StreamGate {
	return mid.NewStreamGate(p,
		mid.WithMaxRPS(cfg.Stream.MaxInjectRPS),
		mid.WithBufferSize(cfg.Stream.InjectBuffer),
		mid.WithGateLogger(l),
		mid.WithGateMetrics(m),
	)
}

// ProvideStreamMonitor always returns a monitor; with streams disabled it has nothing to watch.
func ProvideStreamMonitor(cfg *config.Config, gate *mid.StreamGate, m drepo.Metrics, l *logger.Logger) (*stream.Monitor, error) {
	var streams []drepo.MarketStream
	if cfg.Stream.Enabled {
		for _, name := range cfg.Stream.Exchanges {
			ex, err := stream.Known(name, cfg.Stream.Symbol)
			if err != nil {
				return nil, fmt.Errorf("stream %s: %w", name, err)
			}
			streams = append(streams, stream.NewClient(ex,
				stream.WithPingInterval(cfg.Stream.PingInterval),
				stream.WithClientLogger(l),
			))
		}
	}
	return stream.NewMonitor(streams, gate,
		stream.WithThreshold(cfg.Stream.LiquidationUSD),
		stream.WithReconnect(cfg.Stream.ReconnectBase, cfg.Stream.ReconnectMax, cfg.Stream.ReconnectAttempts),
		stream.WithWatchdog(cfg.Stream.WatchdogInterval, cfg.Stream.StaleAfter),
		stream.WithMonitorLogger(l),
		stream.WithMonitorMetrics(m),
	), nil
}

// ProvideKafkaConsumer returns nil unless an events topic is configured.
func ProvideKafkaConsumer(cfg *config.Config, gate *mid.StreamGate, m drepo.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Kafka.EventsTopic == "" || len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerStartOffset(c.StartOffset),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewLiquidationEventsHandler(cfg.Kafka.EventsTopic, cfg.Stream.LiquidationUSD, gate, m))
	if c.MaxAge > 0 {
		consumer.WithConsumerHook(pkgkafka.MaxAge(c.MaxAge, time.Now))
	}
	return consumer, nil
}

func ProvideOperations(
	p *usecase.Pipeline,
	q *usecase.DeliveryQueue,
	dedup drepo.DedupStore,
	scorer *scoring.Scorer,
	history drepo.CandidateHistory,
	monitor *stream.Monitor,
	l *logger.Logger,
) *usecase.Operations {
	return usecase.NewOperations(p, q, dedup, scorer, history, monitor, l)
}

func ProvideHTTPServer(cfg *config.Config, ops *usecase.Operations, l *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(api.NewAlertsEchoHandler(l, ops),
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
		xhttp.WithServerLogger(l),
	)
}

// ProvideScheduler registers the periodic jobs. Rounds take a Redis lease when configured so
// only one replica runs each round.
func ProvideScheduler(
	cfg *config.Config,
	p *usecase.Pipeline,
	dedup drepo.DedupStore,
	q *usecase.DeliveryQueue,
	rc *pkgcache.RedisCache,
	l *logger.Logger,
) *usecase.Scheduler {
	round := usecase.RoundJob(p, cfg.Scheduler.RoundInterval)
	if rc != nil && cfg.Redis.RoundLease > 0 {
		round = usecase.Exclusive(round, rc, cfg.Redis.RoundLease, l)
	}
	retention := time.Duration(cfg.Dedup.RetentionDays) * 24 * time.Hour
	return usecase.NewScheduler(l,
		round,
		usecase.CleanupJob(dedup, retention, cfg.Scheduler.CleanupInterval, l),
		usecase.QueueGaugeJob(q, cfg.Scheduler.GaugeInterval),
	)
}

// ProvideApp assembles the application and registers infrastructure closers.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	scheduler *usecase.Scheduler,
	dispatcher *usecase.Dispatcher,
	q *usecase.DeliveryQueue,
	monitor *stream.Monitor,
	gate *mid.StreamGate,
	consumer *pkgkafka.Consumer,
	httpServer *xhttp.Server,
	dedup drepo.DedupStore,
	rc *pkgcache.RedisCache,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
) *server.App {
	app := server.New(cfg, l, server.Components{
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Queue:      q,
		Monitor:    monitor,
		Gate:       gate,
		Consumer:   consumer,
		HTTP:       httpServer,
	})
	app.AddCloser(server.IOCloser("dedup", dedup))
	if rc != nil && cfg.Queue.Backend != "redis" {
		// the redis queue store closes the shared client itself
		app.AddCloser(server.IOCloser("redis", rc))
	}
	if ch != nil {
		app.AddCloser(server.IOCloser("clickhouse", ch))
	}
	if producer != nil {
		app.AddCloser(server.IOCloser("kafka_producer", producer))
	}
	return app
}
