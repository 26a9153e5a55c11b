package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	UseBroker bool            `mapstructure:"use_broker"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type BrokerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	VHost          string        `mapstructure:"vhost"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	BlockedTimeout time.Duration `mapstructure:"blocked_timeout"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Dimension  int    `mapstructure:"dimension"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type RetryConfig struct {
	// ScheduleSeconds is the fixed backoff ladder for projector retries.
	ScheduleSeconds []int `mapstructure:"schedule_s"`
}

// Schedule returns the retry delays as durations.
func (r RetryConfig) Schedule() []time.Duration {
	out := make([]time.Duration, len(r.ScheduleSeconds))
	for i, s := range r.ScheduleSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

type WorkerConfig struct {
	Prefetch int               `mapstructure:"prefetch"`
	Batch    BatchWorkerConfig `mapstructure:"batch"`
}

type BatchWorkerConfig struct {
	Size     int           `mapstructure:"size"`
	Interval time.Duration `mapstructure:"interval"`
}

type QueueConfig struct {
	Primary PrimaryQueueConfig `mapstructure:"primary"`
	DLQ     DLQConfig          `mapstructure:"dlq"`
}

type PrimaryQueueConfig struct {
	TTLMillis int64 `mapstructure:"ttl_ms"`
	MaxLength int64 `mapstructure:"max_length"`
}

type DLQConfig struct {
	TTLMillis int64 `mapstructure:"ttl_ms"`
}

type RecommendConfig struct {
	Weights              WeightsConfig      `mapstructure:"weights"`
	MMRDiversity         MMRDiversityConfig `mapstructure:"mmr_diversity"`
	PostPurchase         PostPurchaseConfig `mapstructure:"post_purchase"`
	CacheTTL             time.Duration      `mapstructure:"cache_ttl"`
	DefaultLimit         int                `mapstructure:"default_limit"`
	MinSharedInteraction int                `mapstructure:"min_shared_interactions"`
}

type WeightsConfig struct {
	Behavioral float64 `mapstructure:"behavioral"`
	Trending   float64 `mapstructure:"trending"`
	Activity   float64 `mapstructure:"activity"`
}

type MMRDiversityConfig struct {
	Default float64 `mapstructure:"default"`
}

type PostPurchaseConfig struct {
	LookbackHours int `mapstructure:"lookback_hours"`
}

type AuthConfig struct {
	JWTSecret string          `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration   `mapstructure:"token_ttl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Default int           `mapstructure:"default"`
	Premium int           `mapstructure:"premium"`
	Window  time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Environment variable overrides, e.g. USE_BROKER, BROKER_HOST
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Admission dispatch
	viper.SetDefault("use_broker", true)

	// Broker defaults
	viper.SetDefault("broker.host", "localhost")
	viper.SetDefault("broker.port", 5672)
	viper.SetDefault("broker.user", "guest")
	viper.SetDefault("broker.password", "guest")
	viper.SetDefault("broker.vhost", "/")
	viper.SetDefault("broker.heartbeat", "600s")
	viper.SetDefault("broker.blocked_timeout", "300s")

	// Graph defaults
	viper.SetDefault("graph.uri", "bolt://localhost:7687")
	viper.SetDefault("graph.username", "neo4j")
	viper.SetDefault("graph.password", "password")

	// Vector store defaults
	viper.SetDefault("vector.host", "localhost")
	viper.SetDefault("vector.port", 6333)
	viper.SetDefault("vector.api_key", "")
	viper.SetDefault("vector.collection", "products")
	viper.SetDefault("vector.use_tls", false)
	viper.SetDefault("vector.dimension", 512)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Projector retry schedule
	viper.SetDefault("retry.schedule_s", []int{5, 30, 300})

	// Worker defaults
	viper.SetDefault("worker.prefetch", 10)
	viper.SetDefault("worker.batch.size", 100)
	viper.SetDefault("worker.batch.interval", "10s")

	// Queue arguments
	viper.SetDefault("queue.primary.ttl_ms", 86400000)
	viper.SetDefault("queue.primary.max_length", 100000)
	viper.SetDefault("queue.dlq.ttl_ms", 604800000)

	// Recommendation defaults
	viper.SetDefault("recommend.weights.behavioral", 0.3)
	viper.SetDefault("recommend.weights.trending", 0.2)
	viper.SetDefault("recommend.weights.activity", 0.5)
	viper.SetDefault("recommend.mmr_diversity.default", 0.7)
	viper.SetDefault("recommend.post_purchase.lookback_hours", 24)
	viper.SetDefault("recommend.cache_ttl", "2m")
	viper.SetDefault("recommend.default_limit", 20)
	viper.SetDefault("recommend.min_shared_interactions", 1)

	// Auth defaults: empty secret disables bearer-token resolution
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("auth.rate_limit.enabled", false)
	viper.SetDefault("auth.rate_limit.default", 1000)
	viper.SetDefault("auth.rate_limit.premium", 10000)
	viper.SetDefault("auth.rate_limit.window", "1h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
