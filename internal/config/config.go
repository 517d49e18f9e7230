// Package config loads application configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        `mapstructure:"port"`                   // e.g. "8080"
	BackofficePort       string        `mapstructure:"backoffice_port"`        // e.g. "8081"
	Env                  string        `mapstructure:"env"`                    // "development" | "production"
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`           // default 10s
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`          // default 10s
	BackofficeAllowedIPs string        `mapstructure:"backoffice_allowed_ips"` // comma-separated; "" = allow all
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`         // per caller
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	AllowedOrigins       []string      `mapstructure:"allowed_origins"` // CORS and websocket; empty = any (dev only)
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// JWTConfig holds bearer-token settings. Tokens are minted by the identity
// collaborator with the shared secret.
type JWTConfig struct {
	AccessSecret string        `mapstructure:"access_secret"`
	AccessTTL    time.Duration `mapstructure:"access_ttl"`
}

// RedisConfig configures the FX snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	FXTTL     time.Duration `mapstructure:"fx_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// KafkaConfig configures event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LedgerConfig holds money-handling settings.
type LedgerConfig struct {
	SupportedCurrencies []string `mapstructure:"supported_currencies"`
}

// SchedulerConfig holds cron specs (with seconds) for background jobs.
type SchedulerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MatchSweepSpec string `mapstructure:"match_sweep_spec"`
	MatchSweepSize int    `mapstructure:"match_sweep_size"`
	BackfillSpec   string `mapstructure:"backfill_spec"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for both binaries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}
	if c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		errs = append(errs, fmt.Errorf(
			"DB_MAX_IDLE_CONNS (%d) must not exceed DB_MAX_OPEN_CONNS (%d)",
			c.DB.MaxIdleConns, c.DB.MaxOpenConns,
		))
	}
	for _, cur := range c.Ledger.SupportedCurrencies {
		if len(strings.TrimSpace(cur)) != 3 {
			errs = append(errs, fmt.Errorf("LEDGER_SUPPORTED_CURRENCIES: %q is not an ISO code", cur))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC must be set when KAFKA_BROKERS is"))
	}
	if c.Scheduler.Enabled && (c.Scheduler.MatchSweepSpec == "" || c.Scheduler.BackfillSpec == "") {
		errs = append(errs, errors.New("scheduler specs must be set when the scheduler is enabled"))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("SERVER_RATE_LIMIT_RPS must be >= 0, got %.2f", c.Server.RateLimitRPS))
	}

	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────────────────────────────────
// Loading
// ──────────────────────────────────────────────────────────────────────────────

// envNames binds config keys to the environment variable names used in
// deployment manifests.
var envNames = map[string]string{
	"server.port":                   "SERVER_PORT",
	"server.backoffice_port":        "BACKOFFICE_PORT",
	"server.env":                    "ENVIRONMENT",
	"server.read_timeout":           "SERVER_READ_TIMEOUT",
	"server.write_timeout":          "SERVER_WRITE_TIMEOUT",
	"server.backoffice_allowed_ips": "BACKOFFICE_ALLOWED_IPS",
	"server.rate_limit_rps":         "SERVER_RATE_LIMIT_RPS",
	"server.rate_limit_burst":       "SERVER_RATE_LIMIT_BURST",
	"server.allowed_origins":        "ALLOWED_ORIGINS",
	"db.dsn":                        "DATABASE_DSN",
	"db.max_open_conns":             "DB_MAX_OPEN_CONNS",
	"db.max_idle_conns":             "DB_MAX_IDLE_CONNS",
	"db.conn_max_lifetime":          "DB_CONN_MAX_LIFETIME",
	"db.migrations_dir":             "DB_MIGRATIONS_DIR",
	"jwt.access_secret":             "JWT_ACCESS_SECRET",
	"jwt.access_ttl":                "JWT_ACCESS_TTL",
	"redis.addr":                    "REDIS_ADDR",
	"redis.password":                "REDIS_PASSWORD",
	"redis.db":                      "REDIS_DB",
	"redis.fx_ttl":                  "REDIS_FX_TTL",
	"redis.key_prefix":              "REDIS_KEY_PREFIX",
	"kafka.brokers":                 "KAFKA_BROKERS",
	"kafka.topic":                   "KAFKA_TOPIC",
	"kafka.write_timeout":           "KAFKA_WRITE_TIMEOUT",
	"ledger.supported_currencies":   "LEDGER_SUPPORTED_CURRENCIES",
	"scheduler.enabled":             "SCHEDULER_ENABLED",
	"scheduler.match_sweep_spec":    "SCHEDULER_MATCH_SWEEP_SPEC",
	"scheduler.match_sweep_size":    "SCHEDULER_MATCH_SWEEP_SIZE",
	"scheduler.backfill_spec":       "SCHEDULER_BACKFILL_SPEC",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.backoffice_port", "8081")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.backoffice_allowed_ips", "")
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("db.dsn", "host=localhost port=5432 user=postgres dbname=surebet sslmode=disable")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", "5m")
	v.SetDefault("db.migrations_dir", "migrations")

	v.SetDefault("jwt.access_secret", "")
	v.SetDefault("jwt.access_ttl", "15m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.fx_ttl", "10m")
	v.SetDefault("redis.key_prefix", "surebet:fx:")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "surebet.events")
	v.SetDefault("kafka.write_timeout", "5s")

	v.SetDefault("ledger.supported_currencies", []string{"EUR", "GBP", "USD", "SEK", "NOK", "DKK", "AUD"})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.match_sweep_spec", "*/30 * * * * *")
	v.SetDefault("scheduler.match_sweep_size", 200)
	v.SetDefault("scheduler.backfill_spec", "0 15 3 * * *")
}

// Load reads configuration. path may be empty; when set, the YAML file is read
// before environment variables are applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Ledger.SupportedCurrencies = splitList(cfg.Ledger.SupportedCurrencies)
	for i, c := range cfg.Ledger.SupportedCurrencies {
		cfg.Ledger.SupportedCurrencies[i] = strings.ToUpper(c)
	}
	return &cfg, nil
}

// MustLoad loads and validates configuration from CONFIG_FILE (optional) and
// the environment. Panics on any error so misconfiguration is caught at boot.
func MustLoad() *Config {
	cfg, err := Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// splitList flattens comma-separated items and drops blanks, so both
// KAFKA_BROKERS="a:9092,b:9092" and YAML lists are accepted.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
