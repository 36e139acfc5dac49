package config

import (
	"fmt"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	GitHub    GitHubConfig    `yaml:"github"`
	Relay     RelayConfig     `yaml:"relay"`
	Lock      LockConfig      `yaml:"lock"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Policy    PolicyConfig    `yaml:"policy"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// GitHubConfig holds the GitHub App credentials used for webhooks and API calls.
type GitHubConfig struct {
	AppID          int64  `yaml:"app_id"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WebhookSecret  string `yaml:"webhook_secret"`
	BaseURL        string `yaml:"base_url"`
	CommandPrefix  string `yaml:"command_prefix"`
}

// RelayConfig describes the upstream relay that fans a call out to providers.
type RelayConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccountID     string        `yaml:"account_id"`
	GatewayID     string        `yaml:"gateway_id"`
	AuthToken     string        `yaml:"auth_token"`
	Timeout       time.Duration `yaml:"timeout"`
	EventIDHeader string        `yaml:"event_id_header"`
	StepHeader    string        `yaml:"step_header"`
}

// URL returns the relay endpoint, deriving it from the account and gateway ids
// when no explicit endpoint is configured.
func (r RelayConfig) URL() string {
	if r.Endpoint != "" {
		return r.Endpoint
	}
	return fmt.Sprintf("https://gateway.ai.cloudflare.com/v1/%s/%s", r.AccountID, r.GatewayID)
}

type LockConfig struct {
	Backend   string        `yaml:"backend"` // redis, postgres, http or memory
	Lease     time.Duration `yaml:"lease"`
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"auth_token"`
	// Timeout bounds each call to the lock actor when Backend is http.
	Timeout time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	Stream          string        `yaml:"stream"`
	Group           string        `yaml:"group"`
	Consumer        string        `yaml:"consumer"`
	BatchSize       int64         `yaml:"batch_size"`
	Block           time.Duration `yaml:"block"`
	MaxLen          int64         `yaml:"max_len"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
	SpecFile    string        `yaml:"spec_file"`
	OutputFile  string        `yaml:"output_file"`
	CommitMsg   string        `yaml:"commit_message"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	CommandsPerWindow int64         `yaml:"commands_per_window"`
	Window            time.Duration `yaml:"window"`
	// DailyTokenBudget caps LLM tokens per installation per UTC day; 0 disables.
	DailyTokenBudget int64 `yaml:"daily_token_budget"`
	// ActorRequestsPerMinute limits each service token on the lock API.
	ActorRequestsPerMinute int64 `yaml:"actor_requests_per_minute"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "walle",
			User:            "walle",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		GitHub: GitHubConfig{
			CommandPrefix: "/wall-e",
		},
		Relay: RelayConfig{
			Timeout:       10 * time.Minute,
			EventIDHeader: "cf-aig-event-id",
			StepHeader:    "cf-aig-step",
		},
		Lock: LockConfig{
			Backend: "redis",
			Lease:   30 * time.Minute,
			Timeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			Stream:          "wall-e:jobs",
			Group:           "wall-e-workers",
			Consumer:        "worker-1",
			BatchSize:       10,
			Block:           5 * time.Second,
			MaxLen:          10_000,
			DeliveryTimeout: 15 * time.Minute,
			ReclaimInterval: time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			JobTimeout:  12 * time.Minute,
			SpecFile:    "test/index.spec.ts",
			OutputFile:  "src/index.ts",
			CommitMsg:   "feat: generated code 🤖",
		},
		Policy: PolicyConfig{
			Enabled:           false,
			BundlePath:        "policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:                true,
			CommandsPerWindow:      20,
			Window:                 time.Hour,
			DailyTokenBudget:       2_000_000,
			ActorRequestsPerMinute: 600,
		},
	}
}
