package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type HTTPCfg struct {
	Addr string `mapstructure:"addr"`
}

type DBCfg struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisCfg struct {
	URL string `mapstructure:"url"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type FabricCfg struct {
	Transport      string        `mapstructure:"transport"` // local | redis
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	QueueLimit     int           `mapstructure:"queue_limit"`
}

type LedgerCfg struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
}

type OutboxCfg struct {
	Path          string        `mapstructure:"path"`
	Capacity      int           `mapstructure:"capacity"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type TypingCfg struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Margin time.Duration `mapstructure:"margin"`
}

type PresenceCfg struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type NotifyCfg struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Refresh time.Duration `mapstructure:"refresh"`
}

type LogCfg struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type AsynqCfg struct {
	Concurrency int    `mapstructure:"concurrency"`
	Queues      string `mapstructure:"queues"`
}

type Config struct {
	HTTP     HTTPCfg     `mapstructure:"http"`
	DB       DBCfg       `mapstructure:"db"`
	Redis    RedisCfg    `mapstructure:"redis"`
	Mongo    MongoCfg    `mapstructure:"mongo"`
	Kafka    KafkaCfg    `mapstructure:"kafka"`
	Fabric   FabricCfg   `mapstructure:"fabric"`
	Ledger   LedgerCfg   `mapstructure:"ledger"`
	Outbox   OutboxCfg   `mapstructure:"outbox"`
	Typing   TypingCfg   `mapstructure:"typing"`
	Presence PresenceCfg `mapstructure:"presence"`
	Notify   NotifyCfg   `mapstructure:"notify"`
	Log      LogCfg      `mapstructure:"log"`
	Asynq    AsynqCfg    `mapstructure:"asynq"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.url", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("redis.url", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat.notifications")
	v.SetDefault("fabric.transport", "local")
	v.SetDefault("fabric.connect_timeout", 5*time.Second)
	v.SetDefault("fabric.backoff_initial", 250*time.Millisecond)
	v.SetDefault("fabric.backoff_max", 10*time.Second)
	v.SetDefault("fabric.queue_limit", 256)
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.backoff_initial", 100*time.Millisecond)
	v.SetDefault("outbox.path", "")
	v.SetDefault("outbox.capacity", 1000)
	v.SetDefault("outbox.flush_interval", 2*time.Second)
	v.SetDefault("typing.ttl", 3*time.Second)
	v.SetDefault("typing.margin", time.Second)
	v.SetDefault("presence.session_ttl", 90*time.Second)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.refresh", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("asynq.concurrency", 10)
	v.SetDefault("asynq.queues", "notifications=1")
}

// Load reads .env (if present), then the optional config file at path, then
// CHAT_* environment variables. Later sources win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	// comma separated brokers from env
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Fabric.Transport {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("config: fabric.transport=redis requires redis.url")
		}
	default:
		return fmt.Errorf("config: unknown fabric.transport %q", c.Fabric.Transport)
	}
	if c.Typing.TTL <= 0 {
		return errors.New("config: typing.ttl must be positive")
	}
	if c.Presence.SessionTTL <= 0 {
		return errors.New("config: presence.session_ttl must be positive")
	}
	if c.Outbox.Capacity <= 0 {
		return errors.New("config: outbox.capacity must be positive")
	}
	return nil
}
