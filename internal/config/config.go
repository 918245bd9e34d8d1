package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	DB           DBConfig           `mapstructure:"db"`
	KV           KVConfig           `mapstructure:"kv"`
	Cron         CronConfig         `mapstructure:"cron"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Ranking      RankingConfig      `mapstructure:"ranking"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Tasks        TasksConfig        `mapstructure:"tasks"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// KVConfig selects the shared key-value store used for locks, the in-flight
// registry and gateway spacing. "memory" only coordinates a single process.
type KVConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	UpdatePrices string `mapstructure:"update_prices"`
	Janitor      string `mapstructure:"janitor"`
}

type GatewayConfig struct {
	MinGap    time.Duration `mapstructure:"min_gap"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	LockWait  time.Duration `mapstructure:"lock_wait"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	UserAgent string        `mapstructure:"user_agent"`
}

type RankingConfig struct {
	DefaultRank    int           `mapstructure:"default_rank"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	PopularOffset  time.Duration `mapstructure:"popular_offset"`
	InactiveOffset time.Duration `mapstructure:"inactive_offset"`
}

type OrchestratorConfig struct {
	MaxPermPerBatch int           `mapstructure:"max_perm_per_batch"`
	MaxSovPerBatch  int           `mapstructure:"max_sov_per_batch"`
	MaxHTTPErrors   int           `mapstructure:"max_http_errors"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	LockWait        time.Duration `mapstructure:"lock_wait"`
	RegistryTTL     time.Duration `mapstructure:"registry_ttl"`
	SovereignGrace  time.Duration `mapstructure:"sovereign_grace"`
}

type TasksConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RecordTTL   time.Duration `mapstructure:"record_ttl"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("kv.backend", "redis")
	v.SetDefault("kv.redis_addr", "127.0.0.1:6379")
	v.SetDefault("kv.redis_password", "")
	v.SetDefault("kv.redis_db", 0)
	v.SetDefault("kv.key_prefix", "shop:")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.update_prices", "@every 5m")
	v.SetDefault("cron.janitor", "@every 30m")

	v.SetDefault("gateway.min_gap", "1s")
	v.SetDefault("gateway.timeout", "5s")
	v.SetDefault("gateway.retries", 5)
	v.SetDefault("gateway.lock_wait", "30s")
	v.SetDefault("gateway.lock_ttl", "15s")
	v.SetDefault("gateway.user_agent", "shoppoller/1.0")

	v.SetDefault("ranking.default_rank", 20)
	v.SetDefault("ranking.base_delay", "60m")
	v.SetDefault("ranking.min_delay", "20m")
	v.SetDefault("ranking.max_delay", "720m")
	v.SetDefault("ranking.popular_offset", "5m")
	v.SetDefault("ranking.inactive_offset", "30m")

	v.SetDefault("orchestrator.max_perm_per_batch", 10)
	v.SetDefault("orchestrator.max_sov_per_batch", 100)
	v.SetDefault("orchestrator.max_http_errors", 10)
	v.SetDefault("orchestrator.lock_ttl", "120s")
	v.SetDefault("orchestrator.lock_wait", "1s")
	v.SetDefault("orchestrator.registry_ttl", "6h")
	v.SetDefault("orchestrator.sovereign_grace", "12h")

	v.SetDefault("tasks.concurrency", 4)
	v.SetDefault("tasks.record_ttl", "90s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
