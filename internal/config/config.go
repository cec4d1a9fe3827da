// Package config loads and validates crawl configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-frontier/internal/policy/budget"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Frontier   FrontierConfig   `mapstructure:"frontier"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Seen       SeenConfig       `mapstructure:"seen"`
	Events     EventsConfig     `mapstructure:"events"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Scope      ScopeConfig      `mapstructure:"scope"`
}

// ServerConfig controls the operator HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Concurrency     int               `mapstructure:"concurrency"`
	Seeds           []string          `mapstructure:"seeds"`
	Headers         map[string]string `mapstructure:"headers"`
	MaxLinksPerPage int               `mapstructure:"max_links_per_page"`
	StopWhenDrained bool              `mapstructure:"stop_when_drained"`
	DrainInterval   time.Duration     `mapstructure:"drain_interval"`
	DrainChecks     int               `mapstructure:"drain_checks"`
}

// FrontierConfig tunes scheduling.
type FrontierConfig struct {
	PollInterval     time.Duration              `mapstructure:"poll_interval"`
	HoldQueues       bool                       `mapstructure:"hold_queues"`
	QueueKey         string                     `mapstructure:"queue_key"`
	MaxRetries       int                        `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration              `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration              `mapstructure:"retry_max_delay"`
	CostPolicy       string                     `mapstructure:"cost_policy"`
	SessionBudget    int64                      `mapstructure:"session_budget"`
	TotalBudget      int64                      `mapstructure:"total_budget"`
	BudgetOverrides  map[string]budget.Override `mapstructure:"budget_overrides"`
	SnapshotInterval time.Duration              `mapstructure:"snapshot_interval"`
}

// PolitenessConfig selects how long a queue rests between fetches.
type PolitenessConfig struct {
	Mode        string             `mapstructure:"mode"`
	DelayFactor float64            `mapstructure:"delay_factor"`
	MinDelay    time.Duration      `mapstructure:"min_delay"`
	MaxDelay    time.Duration      `mapstructure:"max_delay"`
	RPS         float64            `mapstructure:"rps"`
	Burst       int                `mapstructure:"burst"`
	PerKeyRPS   map[string]float64 `mapstructure:"per_key_rps"`
}

// StorageConfig selects the item log and snapshot backends.
type StorageConfig struct {
	ItemLog    string         `mapstructure:"item_log"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Snapshot   string         `mapstructure:"snapshot"`
	LocalDir   string         `mapstructure:"local_dir"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	GCS        GCSConfig      `mapstructure:"gcs"`
}

// PostgresConfig configures the Postgres snapshot store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// GCSConfig configures the Cloud Storage snapshot store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// SeenConfig selects the already-seen set.
type SeenConfig struct {
	Backend   string        `mapstructure:"backend"`
	BatchSize int           `mapstructure:"batch_size"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
	Capacity  uint          `mapstructure:"capacity"`
	FPRate    float64       `mapstructure:"fp_rate"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the shared Redis set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// EventsConfig configures the progress hub and its sinks.
type EventsConfig struct {
	Log            bool          `mapstructure:"log"`
	Prometheus     bool          `mapstructure:"prometheus"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	Kafka          KafkaConfig   `mapstructure:"kafka"`
	PubSub         PubSubConfig  `mapstructure:"pubsub"`
}

// KafkaConfig enables the Kafka sink when Brokers and Topic are set.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PubSubConfig enables the Pub/Sub sink when ProjectID and TopicID are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// FetcherConfig configures the HTTP fetcher and headless promotion.
type FetcherConfig struct {
	UserAgent     string         `mapstructure:"user_agent"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	MaxBodySize   int            `mapstructure:"max_body_size"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures chromedp rendering.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	PromotionBytes    int           `mapstructure:"promotion_bytes"`
	PromotionMinLinks int           `mapstructure:"promotion_min_links"`
}

// ScopeConfig limits which discovered links are scheduled.
type ScopeConfig struct {
	AllowedHosts       []string `mapstructure:"allowed_hosts"`
	Blocked            []string `mapstructure:"blocked"`
	MaxHops            int      `mapstructure:"max_hops"`
	FollowEmbeds       bool     `mapstructure:"follow_embeds"`
	ForbiddenThreshold int      `mapstructure:"forbidden_threshold"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_links_per_page", 500)
	v.SetDefault("crawler.stop_when_drained", true)
	v.SetDefault("crawler.drain_interval", "1s")
	v.SetDefault("crawler.drain_checks", 3)

	v.SetDefault("frontier.poll_interval", "1s")
	v.SetDefault("frontier.queue_key", "host")
	v.SetDefault("frontier.max_retries", 3)
	v.SetDefault("frontier.retry_base_delay", "2s")
	v.SetDefault("frontier.retry_max_delay", "5m")
	v.SetDefault("frontier.cost_policy", "unit")
	v.SetDefault("frontier.session_budget", 0)
	v.SetDefault("frontier.total_budget", -1)
	v.SetDefault("frontier.snapshot_interval", "0s")

	v.SetDefault("politeness.mode", "factor")
	v.SetDefault("politeness.delay_factor", 5.0)
	v.SetDefault("politeness.min_delay", "3s")
	v.SetDefault("politeness.max_delay", "30s")
	v.SetDefault("politeness.rps", 1.0)
	v.SetDefault("politeness.burst", 1)

	v.SetDefault("storage.item_log", "memory")
	v.SetDefault("storage.sqlite_path", "frontier.db")
	v.SetDefault("storage.snapshot", "none")
	v.SetDefault("storage.local_dir", "state")
	v.SetDefault("storage.postgres.table", "frontier_snapshots")
	v.SetDefault("storage.gcs.object", "frontier/snapshot.json")

	v.SetDefault("seen.backend", "memory")
	v.SetDefault("seen.batch_size", 0)
	v.SetDefault("seen.op_timeout", "5s")
	v.SetDefault("seen.capacity", 10_000_000)
	v.SetDefault("seen.fp_rate", 0.001)
	v.SetDefault("seen.redis.addr", "localhost:6379")
	v.SetDefault("seen.redis.key", "frontier:seen")

	v.SetDefault("events.log", false)
	v.SetDefault("events.prometheus", true)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 500)
	v.SetDefault("events.max_batch_wait", "500ms")
	v.SetDefault("events.kafka.batch_timeout", "1s")

	v.SetDefault("fetcher.user_agent", "crawl-frontier/0.1")
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.headless.enabled", false)
	v.SetDefault("fetcher.headless.max_parallel", 2)
	v.SetDefault("fetcher.headless.navigation_timeout", "45s")
	v.SetDefault("fetcher.headless.settle_delay", "500ms")
	v.SetDefault("fetcher.headless.promotion_bytes", 2048)
	v.SetDefault("fetcher.headless.promotion_min_links", 3)

	v.SetDefault("scope.max_hops", 20)
	v.SetDefault("scope.follow_embeds", false)
	v.SetDefault("scope.forbidden_threshold", 3)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Frontier.MaxRetries < 0 {
		return fmt.Errorf("frontier.max_retries must be >= 0")
	}
	if !slices.Contains([]string{"host", "domain"}, c.Frontier.QueueKey) {
		return fmt.Errorf("frontier.queue_key must be host or domain, got %q", c.Frontier.QueueKey)
	}
	if !slices.Contains([]string{"unit", "zero", "wag"}, c.Frontier.CostPolicy) {
		return fmt.Errorf("frontier.cost_policy must be unit, zero or wag, got %q", c.Frontier.CostPolicy)
	}
	if c.Frontier.SnapshotInterval < 0 {
		return fmt.Errorf("frontier.snapshot_interval must be >= 0")
	}
	switch c.Politeness.Mode {
	case "none":
	case "factor":
		if c.Politeness.DelayFactor < 0 {
			return fmt.Errorf("politeness.delay_factor must be >= 0")
		}
	case "rate":
		if c.Politeness.RPS <= 0 {
			return fmt.Errorf("politeness.rps must be > 0 in rate mode")
		}
	default:
		return fmt.Errorf("politeness.mode must be none, factor or rate, got %q", c.Politeness.Mode)
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Seen.validate(); err != nil {
		return err
	}
	if k := c.Events.Kafka; len(k.Brokers) > 0 && k.Topic == "" {
		return fmt.Errorf("events.kafka.topic must be set when brokers are configured")
	}
	if p := c.Events.PubSub; (p.ProjectID == "") != (p.TopicID == "") {
		return fmt.Errorf("events.pubsub needs both project_id and topic_id")
	}
	if h := c.Fetcher.Headless; h.Enabled && h.MaxParallel <= 0 {
		return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Scope.MaxHops < 0 {
		return fmt.Errorf("scope.max_hops must be >= 0")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.ItemLog {
	case "memory":
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite item log")
		}
	default:
		return fmt.Errorf("storage.item_log must be memory or sqlite, got %q", s.ItemLog)
	}
	switch s.Snapshot {
	case "none", "memory":
	case "local":
		if s.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for local snapshots")
		}
	case "postgres":
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for postgres snapshots")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for gcs snapshots")
		}
	default:
		return fmt.Errorf("storage.snapshot must be none, memory, local, postgres or gcs, got %q", s.Snapshot)
	}
	return nil
}

func (s SeenConfig) validate() error {
	switch s.Backend {
	case "memory":
	case "bloom":
		if s.Capacity == 0 || s.FPRate <= 0 || s.FPRate >= 1 {
			return fmt.Errorf("seen.capacity must be > 0 and seen.fp_rate in (0,1) for bloom")
		}
	case "redis":
		if s.Redis.Addr == "" {
			return fmt.Errorf("seen.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("seen.backend must be memory, bloom or redis, got %q", s.Backend)
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("seen.batch_size must be >= 0")
	}
	return nil
}
