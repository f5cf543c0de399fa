// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Change feed backends.
const (
	FeedMemory   = "memory"
	FeedPostgres = "postgres"
	FeedKafka    = "kafka"
)

// Lock backends.
const (
	LockRecord = "record"
	LockRedis  = "redis"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string
	AdminToken string
}

// DatabaseConfig selects the Postgres record store. An empty URL runs on the
// in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis lease lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the CDC relay and the Kafka change feed.
type KafkaConfig struct {
	Brokers     string
	TopicPrefix string
	ClientID    string
}

// EngineConfig tunes the background components.
type EngineConfig struct {
	ChangeFeed     string
	LockBackend    string
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	StatsTTL       time.Duration
	RelayChanges   bool
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Config is the full process configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Engine   EngineConfig
	Log      LogConfig
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	r := reader{lookup: os.Getenv}
	cfg := Config{
		Server: Server{
			Addr:       r.str("CERTREPO_ADDR", ":8080"),
			AdminToken: r.str("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			URL:             r.str("DATABASE_URL", ""),
			MaxOpenConns:    r.int("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    r.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: r.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     r.str("KAFKA_BROKERS", ""),
			TopicPrefix: r.str("KAFKA_TOPIC_PREFIX", "certrepo.records"),
			ClientID:    r.str("KAFKA_CLIENT_ID", "certrepo"),
		},
		Engine: EngineConfig{
			ChangeFeed:     strings.ToLower(r.str("CHANGE_FEED", "")),
			LockBackend:    strings.ToLower(r.str("LOCK_BACKEND", LockRecord)),
			HealthInterval: r.duration("HEALTH_INTERVAL", time.Minute),
			ProbeTimeout:   r.duration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
			StatsTTL:       r.duration("STATS_TTL", 30*time.Second),
			RelayChanges:   r.bool("KAFKA_RELAY", false),
		},
		Log: LogConfig{
			Level:  r.str("LOG_LEVEL", "info"),
			Format: r.str("LOG_FORMAT", "json"),
		},
	}
	if cfg.Engine.ChangeFeed == "" {
		cfg.Engine.ChangeFeed = FeedMemory
		if cfg.Database.URL != "" {
			cfg.Engine.ChangeFeed = FeedPostgres
		}
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations the process cannot wire.
func (c Config) Validate() error {
	switch c.Engine.ChangeFeed {
	case FeedMemory:
		if c.Database.URL != "" {
			return fmt.Errorf("CHANGE_FEED=memory cannot observe a Postgres store")
		}
	case FeedPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("CHANGE_FEED=postgres requires DATABASE_URL")
		}
	case FeedKafka:
		if c.Kafka.Brokers == "" {
			return fmt.Errorf("CHANGE_FEED=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown CHANGE_FEED %q", c.Engine.ChangeFeed)
	}
	switch c.Engine.LockBackend {
	case LockRecord:
	case LockRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.Engine.LockBackend)
	}
	if c.Engine.RelayChanges && c.Kafka.Brokers == "" {
		return fmt.Errorf("KAFKA_RELAY requires KAFKA_BROKERS")
	}
	if c.Engine.HealthInterval <= 0 || c.Engine.ProbeTimeout <= 0 {
		return fmt.Errorf("health interval and probe timeout must be positive")
	}
	return nil
}

// reader collects the first parse error so FromEnv reads linearly.
type reader struct {
	lookup func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.lookup(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := strings.TrimSpace(r.lookup(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := strings.TrimSpace(r.lookup(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.lookup(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
