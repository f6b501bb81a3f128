package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	AI        AIConfig        `mapstructure:"ai"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	Output            string `mapstructure:"output"`
}

type DBConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LifecycleConfig struct {
	SingleActive bool   `mapstructure:"single_active"`
	ExpirySweep  string `mapstructure:"expiry_sweep"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type AIConfig struct {
	// Provider is "openai" or "anthropic". Empty disables the AI routes.
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RatePerMinute     float64       `mapstructure:"rate_per_minute"`
	Burst             int           `mapstructure:"burst"`
	AnalysisCacheTTL  time.Duration `mapstructure:"analysis_cache_ttl"`
	LimiterIdleTTL    time.Duration `mapstructure:"limiter_idle_ttl"`
	LimiterPruneSpec  string        `mapstructure:"limiter_prune"`
	DefaultDraftFunds string        `mapstructure:"default_draft_funds"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EventsConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `mapstructure:"backend"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	Buffer        int    `mapstructure:"buffer"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ServiceName    string        `mapstructure:"service_name"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.connect_timeout", "1m")
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "veltrix")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("lifecycle.single_active", false)
	v.SetDefault("lifecycle.expiry_sweep", "@every 1m")
	v.SetDefault("lifecycle.history_limit", 50)

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.timeout", "45s")
	v.SetDefault("ai.rate_per_minute", 6)
	v.SetDefault("ai.burst", 3)
	v.SetDefault("ai.analysis_cache_ttl", "10m")
	v.SetDefault("ai.limiter_idle_ttl", "30m")
	v.SetDefault("ai.limiter_prune", "@every 10m")
	v.SetDefault("ai.default_draft_funds", "5000")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.key_prefix", "veltrix:")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.channel_prefix", "veltrix:events:")
	v.SetDefault("events.buffer", 64)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "veltrix")
	v.SetDefault("telemetry.export_interval", "15s")

	v.SetDefault("cors.allowed_origins", []string{"*"})

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	// Env values for slices arrive as one comma separated string.
	if len(cfg.CORS.AllowedOrigins) == 1 && strings.Contains(cfg.CORS.AllowedOrigins[0], ",") {
		cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins[0])
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.DB.Driver {
	case "postgres":
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.AI.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	if c.AI.Provider != "" && strings.TrimSpace(c.AI.APIKey) == "" {
		return fmt.Errorf("ai.api_key is required when ai.provider is set")
	}
	for name, backend := range map[string]string{"cache.backend": c.Cache.Backend, "events.backend": c.Events.Backend} {
		if backend != "memory" && backend != "redis" {
			return fmt.Errorf("unknown %s %q", name, backend)
		}
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
