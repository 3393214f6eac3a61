// Package config decodes the process configuration tree: server, database,
// provider credentials, named rate-limit tiers, scheduler tuning, actor
// definitions with their schedules, and logging, mirroring the driver
// corpus' own nested-struct-plus-yaml-tag Config composition.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veridianlabs/storycore/internal/classify"
	"github.com/veridianlabs/storycore/internal/mcp"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// Config is the top-level configuration tree.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Database   DatabaseConfig            `yaml:"database"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Limits     map[string]LimitConfig    `yaml:"limits"`
	Scheduler  SchedulerConfig           `yaml:"scheduler"`
	Narratives NarrativesConfig          `yaml:"narratives"`
	Agent      AgentConfig               `yaml:"agent"`
	Actors     []ActorConfig             `yaml:"actors"`
	Logging    LoggingConfig             `yaml:"logging"`
}

// AgentConfig configures the agent loop's tool-approval policy and the
// external MCP servers whose tools it proxies alongside its in-process ones.
type AgentConfig struct {
	ApprovalMode string             `yaml:"approval_mode"` // "auto" or "interactive"
	MCPServers   []mcp.ServerConfig `yaml:"mcp_servers"`
}

// NarrativesConfig points at the directory of *.toml narrative documents
// loaded at process start, each exposed to actors as a NarrativeSkill named
// "narrative.<name>".
type NarrativesConfig struct {
	Dir string `yaml:"dir"`
}

// ServerConfig configures the metrics/health HTTP endpoint.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig selects and configures the durable repository backend.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // "memory", "postgres", "sqlite"
	DSN         string `yaml:"dsn"`
	BlobBackend string `yaml:"blob_backend"` // "local", "s3"
	BlobPath    string `yaml:"blob_path"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
}

// ProviderConfig configures one driver backend (anthropic/openai/google/bedrock).
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Region       string `yaml:"region"`
	DefaultModel string `yaml:"default_model"`
	Tier         string `yaml:"tier"`
}

// LimitConfig is a named TierConfig, keyed by "<provider>:<tier>" in Config.Limits.
type LimitConfig struct {
	RPM                        int     `yaml:"rpm"`
	TPM                        int     `yaml:"tpm"`
	RPD                        int     `yaml:"rpd"`
	MaxConcurrent              int     `yaml:"max_concurrent"`
	DailyQuotaUSD              float64 `yaml:"daily_quota_usd"`
	CostPerMillionInputTokens  float64 `yaml:"cost_per_million_input_tokens"`
	CostPerMillionOutputTokens float64 `yaml:"cost_per_million_output_tokens"`
}

// TierConfig converts a LimitConfig into the ratelimit package's shape.
func (l LimitConfig) TierConfig(name string) ratelimit.TierConfig {
	return ratelimit.TierConfig{
		Name:                       name,
		RPM:                        l.RPM,
		TPM:                        l.TPM,
		RPD:                        l.RPD,
		MaxConcurrent:              l.MaxConcurrent,
		DailyQuotaUSD:              l.DailyQuotaUSD,
		CostPerMillionInputTokens:  l.CostPerMillionInputTokens,
		CostPerMillionOutputTokens: l.CostPerMillionOutputTokens,
	}
}

// SchedulerConfig tunes the scheduler tick loop and circuit breaker.
type SchedulerConfig struct {
	CheckIntervalSeconds   int `yaml:"check_interval_seconds"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	Workers                int `yaml:"workers"`
}

// ActorScheduleConfig names a schedule variant and its parameters.
type ActorScheduleConfig struct {
	Kind     string        `yaml:"kind"` // "immediate", "once", "interval", "cron"
	At       string        `yaml:"at"`   // RFC3339, for "once"
	Every    time.Duration `yaml:"every"`
	CronExpr string        `yaml:"cron"`
}

// ActorConfig is one declared actor: identity, knowledge, skills, execution
// policy, and the schedule that drives its runs.
type ActorConfig struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Knowledge   []string             `yaml:"knowledge"`
	Skills      []string             `yaml:"skills"`
	Execution   ActorExecutionConfig `yaml:"execution"`
	Cache       *ActorCacheConfig    `yaml:"cache,omitempty"`
	Schedule    ActorScheduleConfig  `yaml:"schedule"`
}

// ActorExecutionConfig controls failure handling during an actor run.
type ActorExecutionConfig struct {
	ContinueOnError     bool `yaml:"continue_on_error"`
	StopOnUnrecoverable bool `yaml:"stop_on_unrecoverable"`
	MaxRetries          int  `yaml:"max_retries"`
}

// ActorCacheConfig configures a skill-result cache.
type ActorCacheConfig struct {
	Strategy   string `yaml:"strategy"` // "none", "memory", "disk"
	TTLSeconds int    `yaml:"ttl_seconds"`
	MaxEntries int    `yaml:"max_entries"`
	DiskPath   string `yaml:"disk_path,omitempty"`
}

// LoggingConfig controls structured log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads path, expands environment variables, decodes strictly, applies
// defaults, then validates. A missing required provider key is reported
// here rather than deferred to driver construction.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":9090"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.BlobBackend == "" {
		cfg.Database.BlobBackend = "local"
	}
	if cfg.Database.BlobPath == "" {
		cfg.Database.BlobPath = "./data/blobs"
	}
	if cfg.Scheduler.CheckIntervalSeconds == 0 {
		cfg.Scheduler.CheckIntervalSeconds = 60
	}
	if cfg.Scheduler.MaxConsecutiveFailures == 0 {
		cfg.Scheduler.MaxConsecutiveFailures = 10
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Agent.ApprovalMode == "" {
		cfg.Agent.ApprovalMode = "auto"
	}
	for i := range cfg.Actors {
		if cfg.Actors[i].Execution.MaxRetries == 0 {
			cfg.Actors[i].Execution.MaxRetries = 3
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("STORYCORE_LISTEN_ADDR")); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STORYCORE_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("STORYCORE_SCHEDULER_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
}

func validate(cfg *Config) error {
	var issues []string

	switch cfg.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		issues = append(issues, fmt.Sprintf("database.driver must be \"memory\", \"postgres\", or \"sqlite\", got %q", cfg.Database.Driver))
	}
	if cfg.Database.Driver != "memory" && strings.TrimSpace(cfg.Database.DSN) == "" {
		issues = append(issues, "database.dsn is required for a durable driver")
	}
	switch cfg.Database.BlobBackend {
	case "local", "s3":
	default:
		issues = append(issues, fmt.Sprintf("database.blob_backend must be \"local\" or \"s3\", got %q", cfg.Database.BlobBackend))
	}
	if cfg.Database.BlobBackend == "s3" && strings.TrimSpace(cfg.Database.S3Bucket) == "" {
		issues = append(issues, "database.s3_bucket is required when blob_backend is \"s3\"")
	}

	for name, p := range cfg.Providers {
		if strings.TrimSpace(p.APIKey) == "" && name != "bedrock" {
			issues = append(issues, fmt.Sprintf("providers.%s.api_key is required", name))
		}
	}

	seen := map[string]struct{}{}
	for i, actor := range cfg.Actors {
		if strings.TrimSpace(actor.Name) == "" {
			issues = append(issues, fmt.Sprintf("actors[%d].name is required", i))
			continue
		}
		if _, dup := seen[actor.Name]; dup {
			issues = append(issues, fmt.Sprintf("actors[%d].name %q is duplicated", i, actor.Name))
		}
		seen[actor.Name] = struct{}{}

		switch actor.Schedule.Kind {
		case "immediate", "once", "interval", "cron":
		case "":
			issues = append(issues, fmt.Sprintf("actors[%d].schedule.kind is required", i))
		default:
			issues = append(issues, fmt.Sprintf("actors[%d].schedule.kind %q is not a recognized variant", i, actor.Schedule.Kind))
		}
		if actor.Schedule.Kind == "once" && strings.TrimSpace(actor.Schedule.At) == "" {
			issues = append(issues, fmt.Sprintf("actors[%d].schedule.at is required for kind \"once\"", i))
		}
		if actor.Schedule.Kind == "interval" && actor.Schedule.Every <= 0 {
			issues = append(issues, fmt.Sprintf("actors[%d].schedule.every must be positive for kind \"interval\"", i))
		}
		if actor.Schedule.Kind == "cron" && strings.TrimSpace(actor.Schedule.CronExpr) == "" {
			issues = append(issues, fmt.Sprintf("actors[%d].schedule.cron is required for kind \"cron\"", i))
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level))
	}
	switch cfg.Agent.ApprovalMode {
	case "auto", "interactive":
	default:
		issues = append(issues, fmt.Sprintf("agent.approval_mode must be \"auto\" or \"interactive\", got %q", cfg.Agent.ApprovalMode))
	}
	seenMCP := map[string]struct{}{}
	for i, srv := range cfg.Agent.MCPServers {
		if err := srv.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("agent.mcp_servers[%d]: %v", i, err))
			continue
		}
		if _, dup := seenMCP[srv.ID]; dup {
			issues = append(issues, fmt.Sprintf("agent.mcp_servers[%d].id %q is duplicated", i, srv.ID))
		}
		seenMCP[srv.ID] = struct{}{}
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format))
	}

	if len(issues) > 0 {
		return classify.New(classify.KindConfiguration, "config validation failed:\n- "+strings.Join(issues, "\n- "))
	}
	return nil
}
