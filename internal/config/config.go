package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from a YAML file with
// environment variable overrides. Secrets (tokens, passwords) come from the
// environment only.
type Config struct {
	Temporal     TemporalConfig     `mapstructure:"temporal"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Search       SearchConfig       `mapstructure:"search"`
	Synthesis    SynthesisConfig    `mapstructure:"synthesis"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	HTTP         HTTPConfig         `mapstructure:"http"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	TaskQueue string `mapstructure:"task_queue"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	// Password is read from REDIS_PASSWORD.
	Password string `mapstructure:"-"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	// Password is read from POSTGRES_PASSWORD.
	Password string `mapstructure:"-"`
}

// DSN renders the Postgres connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type SearchConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
	// APIToken is read from SEARCH_API_TOKEN.
	APIToken string `mapstructure:"-"`
}

type SynthesisConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// OrchestratorConfig carries the retrieval orchestration knobs.
type OrchestratorConfig struct {
	// AdapterTimeout bounds each individual source adapter call.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"`
	// ApprovalTimeout bounds the wait for a fallback approval decision;
	// expiry counts as a decline.
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	// MaxConcurrency bounds concurrent source calls per turn.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// ConfidenceFloor is the merge threshold below which results are
	// dropped when stronger evidence exists.
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
	// AdapterRateLimit is the per-source request rate (per second) the
	// executor enforces toward downstream services.
	AdapterRateLimit float64 `mapstructure:"adapter_rate_limit"`
	// PolicyFile optionally overrides the built-in routing table.
	PolicyFile string `mapstructure:"policy_file"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
	// AuthToken guards the approvals and turns endpoints; read from
	// HTTP_AUTH_TOKEN.
	AuthToken string `mapstructure:"-"`
}

// Load reads configuration from CONFIG_PATH (default config/accountintel.yaml)
// when the file exists, applies defaults, then environment secrets.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/accountintel.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Postgres.Password = os.Getenv("POSTGRES_PASSWORD")
	cfg.Search.APIToken = os.Getenv("SEARCH_API_TOKEN")
	cfg.HTTP.AuthToken = os.Getenv("HTTP_AUTH_TOKEN")

	if addr := os.Getenv("TEMPORAL_HOST"); addr != "" {
		cfg.Temporal.HostPort = addr
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.task_queue", "accountintel-turns")

	v.SetDefault("redis.addr", "redis:6379")

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "accountintel")
	v.SetDefault("postgres.database", "accountintel")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("search.endpoint", "https://search.internal/rest/api/v1")
	v.SetDefault("search.max_results", 5)

	v.SetDefault("synthesis.endpoint", "http://llm-service:8000")
	v.SetDefault("synthesis.timeout", 60*time.Second)

	v.SetDefault("orchestrator.adapter_timeout", 15*time.Second)
	v.SetDefault("orchestrator.approval_timeout", 30*time.Minute)
	v.SetDefault("orchestrator.max_concurrency", 4)
	v.SetDefault("orchestrator.confidence_floor", 0.35)
	v.SetDefault("orchestrator.adapter_rate_limit", 5.0)

	v.SetDefault("http.port", 8081)
}
