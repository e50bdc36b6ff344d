package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"AlertGate/pkg/util"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Collector   CollectorConfig  `yaml:"collector"`
	Cache       CacheConfig      `yaml:"cache"`
	Smoother    SmootherConfig   `yaml:"smoother"`
	Detectors   DetectorsConfig  `yaml:"detectors"`
	Scorer      ScorerConfig     `yaml:"scorer"`
	Dedup       DedupConfig      `yaml:"dedup"`
	Bundler     BundlerConfig    `yaml:"bundler"`
	Queue       QueueConfig      `yaml:"queue"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Stream      StreamConfig     `yaml:"stream"`
	Sinks       SinksConfig      `yaml:"sinks"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
}

type SourceConfig struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Kind    string `yaml:"kind" json:"kind" validate:"required,oneof=binance bybit okx json"`
	BaseURL string `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	Symbol  string `yaml:"symbol" json:"symbol"`
}

type CollectorConfig struct {
	Sources       []SourceConfig `yaml:"sources" default:"[{\"name\":\"binance\",\"kind\":\"binance\"},{\"name\":\"bybit\",\"kind\":\"bybit\"},{\"name\":\"okx\",\"kind\":\"okx\"}]" validate:"min=1,dive"`
	Timeout       time.Duration  `yaml:"timeout" default:"10s" validate:"gt=0"`
	Concurrency   int            `yaml:"concurrency" validate:"gte=0"`
	RatePerSecond float64        `yaml:"rate_per_second" default:"2" validate:"gte=0"`
	RateBurst     int            `yaml:"rate_burst" default:"2" validate:"gte=1"`
	Breaker       BreakerConfig  `yaml:"breaker"`
}

// BreakerConfig trips a source after consecutive failures.
type BreakerConfig struct {
	Failures    uint32        `yaml:"failures" default:"3" validate:"gte=1"`
	OpenTimeout time.Duration `yaml:"open_timeout" default:"60s"`
	Interval    time.Duration `yaml:"interval"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" default:"60s" validate:"gt=0"`
}

type SmootherConfig struct {
	StaleAfter      time.Duration             `yaml:"stale_after" default:"15m"`
	ThresholdWindow int                       `yaml:"threshold_window" default:"20" validate:"gte=2"`
	ThresholdMin    int                       `yaml:"threshold_min_samples" default:"5" validate:"gte=2"`
	Variances       map[string]VarianceConfig `yaml:"variances"`
}

type VarianceConfig struct {
	Process     float64 `yaml:"process"`
	Measurement float64 `yaml:"measurement"`
}

type DetectorsConfig struct {
	// Enabled lists strategy names. Empty enables every detector.
	Enabled    []string `yaml:"enabled"`
	Floor      int      `yaml:"confidence_floor" default:"50" validate:"gte=0,lte=100"`
	MinSources int      `yaml:"min_sources" default:"1" validate:"gte=1"`
}

type ScorerConfig struct {
	MinSamples         int     `yaml:"min_samples" default:"50" validate:"gte=1"`
	RetrainEvery       int     `yaml:"retrain_every" default:"50" validate:"gte=1"`
	HistorySize        int     `yaml:"history_size" default:"1000" validate:"gte=1"`
	TrainWindow        int     `yaml:"train_window" default:"500" validate:"gte=1"`
	ModelWeight        float64 `yaml:"model_weight" default:"0.6" validate:"gte=0,lte=1"`
	MaxAlerts          int     `yaml:"max_alerts" default:"5" validate:"gte=0"`
	BundleScoreCeiling float64 `yaml:"bundle_score_ceiling" default:"70" validate:"gte=0,lte=100"`
}

type DedupConfig struct {
	DBPath             string        `yaml:"db_path" default:"data/alertgate.db" validate:"required"`
	CooldownCritical   time.Duration `yaml:"cooldown_critical" default:"2h" validate:"gt=0"`
	CooldownHigh       time.Duration `yaml:"cooldown_high" default:"4h" validate:"gt=0"`
	CooldownBackground time.Duration `yaml:"cooldown_background" default:"8h" validate:"gt=0"`
	MinConfidenceDelta int           `yaml:"min_confidence_delta" default:"20" validate:"gte=0,lte=100"`
	MaxPerDay          int           `yaml:"max_per_day" default:"3" validate:"gte=1"`
	MaxPerHour         int           `yaml:"max_per_hour" default:"10" validate:"gte=1"`
	RetentionDays      int           `yaml:"retention_days" default:"30" validate:"gte=1"`
}

type BundlerConfig struct {
	Threshold int           `yaml:"threshold" default:"3" validate:"gte=2"`
	Window    time.Duration `yaml:"window" default:"15m"`
}

type QueueConfig struct {
	Backend      string        `yaml:"backend" default:"sqlite" validate:"oneof=sqlite redis memory"`
	BaseBackoff  time.Duration `yaml:"base_backoff" default:"60s" validate:"gt=0"`
	MaxFailures  int           `yaml:"max_failures" default:"3" validate:"gte=1"`
	BatchSize    int           `yaml:"batch_size" default:"20" validate:"gte=1"`
	PollInterval time.Duration `yaml:"poll_interval" default:"5s" validate:"gt=0"`
	DrainTimeout time.Duration `yaml:"drain_timeout" default:"10s"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	PoolSize int    `yaml:"pool_size" default:"10" validate:"gte=1"`
	Prefix   string `yaml:"prefix" default:"alertgate"`
	// RoundLease serializes rounds across replicas. Zero disables it.
	RoundLease time.Duration `yaml:"round_lease"`
}

type KafkaConfig struct {
	Brokers      []string       `yaml:"brokers"`
	AlertsTopic  string         `yaml:"alerts_topic" default:"alertgate.alerts"`
	EventsTopic  string         `yaml:"events_topic"`
	Compression  string         `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	RequiredAcks int            `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Producer     ProducerConfig `yaml:"producer"`
	Consumer     ConsumerConfig `yaml:"consumer"`
}

type ProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

type ConsumerConfig struct {
	GroupID     string        `yaml:"group_id" default:"alertgate"`
	StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
	Workers     int           `yaml:"workers" default:"2" validate:"gte=1"`
	BufferSize  int           `yaml:"buffer_size" default:"64" validate:"gte=1"`
	RetryMax    int           `yaml:"retry_max" default:"3" validate:"gte=0"`
	BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
	BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
	DLQTopic    string        `yaml:"dlq_topic"`
	// MaxAge drops relayed events older than this. Zero keeps everything.
	MaxAge time.Duration `yaml:"max_age" default:"5m"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000" validate:"gte=1,lte=65535"`
	Database         string        `yaml:"database" default:"alertgate"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type StreamConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Exchanges         []string      `yaml:"exchanges" default:"[\"binance\",\"bybit\",\"okx\"]" validate:"dive,oneof=binance bybit okx"`
	Symbol            string        `yaml:"symbol" default:"BTCUSDT"`
	LiquidationUSD    float64       `yaml:"liquidation_usd" default:"1000000" validate:"gt=0"`
	ReconnectBase     time.Duration `yaml:"reconnect_base" default:"1s"`
	ReconnectMax      time.Duration `yaml:"reconnect_max" default:"60s"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" default:"5" validate:"gte=1"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval" default:"30s"`
	StaleAfter        time.Duration `yaml:"stale_after" default:"60s"`
	PingInterval      time.Duration `yaml:"ping_interval" default:"20s"`
	MaxInjectRPS      int           `yaml:"max_inject_rps" default:"1" validate:"gte=1"`
	InjectBuffer      int           `yaml:"inject_buffer" default:"100" validate:"gte=1"`
}

type SinksConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Kafka   bool          `yaml:"kafka"`
	// Log mirrors notifications to the structured log. It is forced on when no other sink is set.
	Log bool `yaml:"log"`
}

type WebhookConfig struct {
	URL       string        `yaml:"url" validate:"omitempty,url"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
	Burst     int           `yaml:"burst" default:"5" validate:"gte=1"`
	PerSecond float64       `yaml:"per_second" default:"1" validate:"gte=0"`
}

type SchedulerConfig struct {
	RoundInterval   time.Duration `yaml:"round_interval" default:"5m" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1h" validate:"gt=0"`
	GaugeInterval   time.Duration `yaml:"gauge_interval" default:"15s" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML file, fills defaults and validates. An empty path yields pure defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads the file, then applies environment overrides and validates again.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("ALERTGATE_ENV"); ok && v != "" {
		c.Environment = v
	}
	if v, ok := lookup("ALERTGATE_HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ALERTGATE_HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("ALERTGATE_WEBHOOK_URL"); ok {
		c.Sinks.Webhook.URL = v
	}
	if v, ok := lookup("ALERTGATE_QUEUE_BACKEND"); ok && v != "" {
		c.Queue.Backend = v
	}
	if v, ok := lookup("ALERTGATE_DB_PATH"); ok && v != "" {
		c.Dedup.DBPath = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v, ok := lookup("CLICKHOUSE_HOST"); ok && v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	return nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Queue.Backend == "redis" && !c.Redis.Enabled {
		return errors.New("queue.backend redis requires redis.enabled")
	}
	if (c.Sinks.Kafka || c.Kafka.EventsTopic != "") && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka sink or events topic requires kafka.brokers")
	}
	if c.Stream.ReconnectMax < c.Stream.ReconnectBase {
		return errors.New("stream.reconnect_max must not be below reconnect_base")
	}
	if c.Dedup.CooldownCritical > c.Dedup.CooldownHigh || c.Dedup.CooldownHigh > c.Dedup.CooldownBackground {
		return errors.New("dedup cooldowns must not shrink as tier importance drops")
	}
	return nil
}
