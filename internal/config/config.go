// Package config loads the edge gate's tunables from a YAML file, applies
// environment variable overrides on top, and exposes a process-wide
// singleton plus a short-TTL, per-site override cache read from the KV
// store at request time.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Envelope    EnvelopeConfig    `yaml:"envelope"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Challenge   ChallengeConfig   `yaml:"challenge"`
	Maze        MazeConfig        `yaml:"maze"`
	Rollout     RolloutConfig     `yaml:"rollout"`
	Redis       RedisConfig       `yaml:"redis"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// SecretsConfig holds the HMAC keys used to sign operation envelopes,
// challenge seed tokens, and maze hidden-link expansion seeds. They fall
// back to separate environment variables so a deployment can rotate one
// without the others.
type SecretsConfig struct {
	ChallengeSecret     string `yaml:"-"`
	JSSecret            string `yaml:"-"`
	FingerprintSecret   string `yaml:"-"`
	MazeExpansionSecret string `yaml:"-"`
}

type EnvelopeConfig struct {
	TokenVersion       int `yaml:"token_version"`
	MaxClockSkewSec    int `yaml:"max_clock_skew_sec"`
	MinStepIntervalMs  int `yaml:"min_step_interval_ms"`
	MaxStepIntervalMs  int `yaml:"max_step_interval_ms"`
	OrderingWindowSec  int `yaml:"ordering_window_sec"`
	MaxAttemptsPerFlow int `yaml:"max_attempts_per_flow"`
}

type FingerprintConfig struct {
	Enabled               bool `yaml:"enabled"`
	PseudonymizeIP        bool `yaml:"pseudonymize_ip"`
	FlowWindowSec         int  `yaml:"flow_window_sec"`
	FlowMismatchThreshold int  `yaml:"flow_mismatch_threshold"`
	TemporalHalfWindowSec int  `yaml:"temporal_half_window_sec"`
	StateTTLSec           int  `yaml:"state_ttl_sec"`
}

type RateLimitConfig struct {
	WindowSec     int `yaml:"window_sec"`
	RequestLimit  int `yaml:"request_limit"`
	ThrottleLimit int `yaml:"throttle_limit"`
	BanThreshold  int `yaml:"ban_threshold"`
	BanTTLSec     int `yaml:"ban_ttl_sec"`
}

type ChallengeConfig struct {
	PuzzleTTLSec              int `yaml:"puzzle_ttl_sec"`
	NotABotTTLSec             int `yaml:"not_a_bot_ttl_sec"`
	ChallengeAbuseShortBanSec int `yaml:"challenge_abuse_short_ban_sec"`
	MaxSubmitAttempts         int `yaml:"max_submit_attempts"`
}

type MazeConfig struct {
	Enabled              bool `yaml:"enabled"`
	BranchBudget         int  `yaml:"branch_budget"`
	MaxDepth             int  `yaml:"max_depth"`
	ConcurrencyBudget    int  `yaml:"concurrency_budget"`
	HiddenLinkCount      int  `yaml:"hidden_link_count"`
	SegmentLen           int  `yaml:"segment_len"`
	PoWBaseDifficulty    int  `yaml:"pow_base_difficulty"`
	PoWMaxDifficulty     int  `yaml:"pow_max_difficulty"`
	CheckpointTTLSec     int  `yaml:"checkpoint_ttl_sec"`
	TraversalTokenTTLSec int  `yaml:"traversal_token_ttl_sec"`
}

type RolloutConfig struct {
	Phase                       string `yaml:"phase"` // instrument | advisory | enforce
	ViolationChallengeThreshold int    `yaml:"violation_challenge_threshold"`
	ViolationBlockThreshold     int    `yaml:"violation_block_threshold"`
	TestMode                    bool   `yaml:"test_mode"`
	FailOpenOnKVError           bool   `yaml:"fail_open_on_kv_error"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

type MonitoringConfig struct {
	MetricsEnabled     bool    `yaml:"metrics_enabled"`
	EventLogSampleRate float64 `yaml:"event_log_sample_rate"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton, loading config.yaml (or
// EDGEGATE_CONFIG_PATH) on first call and applying environment overrides
// and defaults on top.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("EDGEGATE_CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and decodes a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("EDGEGATE_ENV", c.Server.Env)
	c.Server.Interface = getEnv("EDGEGATE_INTERFACE", c.Server.Interface)

	c.Secrets.ChallengeSecret = getEnv("EDGEGATE_CHALLENGE_SECRET", getEnv("EDGEGATE_JS_SECRET", ""))
	c.Secrets.JSSecret = getEnv("EDGEGATE_JS_SECRET", c.Secrets.JSSecret)
	c.Secrets.FingerprintSecret = getEnv("EDGEGATE_FINGERPRINT_SECRET", c.Secrets.FingerprintSecret)
	c.Secrets.MazeExpansionSecret = getEnv("EDGEGATE_MAZE_SECRET", c.Secrets.MazeExpansionSecret)

	c.Redis.Addr = getEnv("EDGEGATE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("EDGEGATE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("EDGEGATE_REDIS_DB", c.Redis.DB)

	c.Maze.Enabled = getEnvBool("EDGEGATE_MAZE_ENABLED", c.Maze.Enabled)
	c.Rollout.Phase = getEnv("EDGEGATE_ROLLOUT_PHASE", c.Rollout.Phase)
	c.Rollout.TestMode = getEnvBool("EDGEGATE_TEST_MODE", c.Rollout.TestMode)
	c.Rollout.FailOpenOnKVError = getEnvBool("EDGEGATE_FAIL_OPEN_ON_KV_ERROR", c.Rollout.FailOpenOnKVError)

	c.Monitoring.MetricsEnabled = getEnvBool("EDGEGATE_METRICS_ENABLED", c.Monitoring.MetricsEnabled)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Envelope.TokenVersion == 0 {
		c.Envelope.TokenVersion = 1
	}
	if c.Envelope.MaxClockSkewSec == 0 {
		c.Envelope.MaxClockSkewSec = 30
	}
	if c.Envelope.MinStepIntervalMs == 0 {
		c.Envelope.MinStepIntervalMs = 250
	}
	if c.Envelope.MaxStepIntervalMs == 0 {
		c.Envelope.MaxStepIntervalMs = 120_000
	}
	if c.Envelope.OrderingWindowSec == 0 {
		c.Envelope.OrderingWindowSec = 300
	}
	if c.Envelope.MaxAttemptsPerFlow == 0 {
		c.Envelope.MaxAttemptsPerFlow = 5
	}
	if c.Fingerprint.FlowWindowSec == 0 {
		c.Fingerprint.FlowWindowSec = 60
	}
	if c.Fingerprint.FlowMismatchThreshold == 0 {
		c.Fingerprint.FlowMismatchThreshold = 3
	}
	if c.Fingerprint.TemporalHalfWindowSec == 0 {
		c.Fingerprint.TemporalHalfWindowSec = 30
	}
	if c.Fingerprint.StateTTLSec == 0 {
		c.Fingerprint.StateTTLSec = 900
	}
	if c.RateLimit.WindowSec == 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.RateLimit.RequestLimit == 0 {
		c.RateLimit.RequestLimit = 120
	}
	if c.RateLimit.ThrottleLimit == 0 {
		c.RateLimit.ThrottleLimit = 200
	}
	if c.RateLimit.BanThreshold == 0 {
		c.RateLimit.BanThreshold = 400
	}
	if c.RateLimit.BanTTLSec == 0 {
		c.RateLimit.BanTTLSec = 3600
	}
	if c.Challenge.PuzzleTTLSec == 0 {
		c.Challenge.PuzzleTTLSec = 120
	}
	if c.Challenge.NotABotTTLSec == 0 {
		c.Challenge.NotABotTTLSec = 60
	}
	if c.Challenge.ChallengeAbuseShortBanSec == 0 {
		c.Challenge.ChallengeAbuseShortBanSec = 600
	}
	if c.Challenge.MaxSubmitAttempts == 0 {
		c.Challenge.MaxSubmitAttempts = 5
	}
	if c.Maze.BranchBudget == 0 {
		c.Maze.BranchBudget = 4
	}
	if c.Maze.MaxDepth == 0 {
		c.Maze.MaxDepth = 12
	}
	if c.Maze.ConcurrencyBudget == 0 {
		c.Maze.ConcurrencyBudget = 8
	}
	if c.Maze.HiddenLinkCount == 0 {
		c.Maze.HiddenLinkCount = 6
	}
	if c.Maze.SegmentLen == 0 {
		c.Maze.SegmentLen = 8
	}
	if c.Maze.PoWBaseDifficulty == 0 {
		c.Maze.PoWBaseDifficulty = 12
	}
	if c.Maze.PoWMaxDifficulty == 0 {
		c.Maze.PoWMaxDifficulty = 24
	}
	if c.Maze.CheckpointTTLSec == 0 {
		c.Maze.CheckpointTTLSec = 300
	}
	if c.Maze.TraversalTokenTTLSec == 0 {
		c.Maze.TraversalTokenTTLSec = 600
	}
	if c.Rollout.Phase == "" {
		c.Rollout.Phase = "enforce"
	}
	if c.Rollout.ViolationChallengeThreshold == 0 {
		c.Rollout.ViolationChallengeThreshold = 2
	}
	if c.Rollout.ViolationBlockThreshold == 0 {
		c.Rollout.ViolationBlockThreshold = 3
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Monitoring.EventLogSampleRate == 0 {
		c.Monitoring.EventLogSampleRate = 1.0
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	return c.Server.Port
}
