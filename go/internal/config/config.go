package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine-wide tuning surface. Everything here has a
// default; a YAML file and environment variables override it.
type Config struct {
	Timing    TimingConfig    `yaml:"timing"`
	Fraud     FraudConfig     `yaml:"fraud"`
	Selection SelectionConfig `yaml:"selection"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	NATS      NATSConfig      `yaml:"nats"`
	Health    HealthConfig    `yaml:"health"`
}

// TimingConfig holds round-independent timing defaults. Per-round
// settings override these at runtime.
type TimingConfig struct {
	QuestionTimeoutSec int `yaml:"question_timeout_sec"`
	MinAnswerTimeMs    int `yaml:"min_answer_time_ms"`
}

func (c TimingConfig) QuestionTimeout() time.Duration {
	return time.Duration(c.QuestionTimeoutSec) * time.Second
}

func (c TimingConfig) MinAnswerTime() time.Duration {
	return time.Duration(c.MinAnswerTimeMs) * time.Millisecond
}

// FraudConfig holds scorer thresholds, history windows and the
// selection-time screen tuning.
type FraudConfig struct {
	MaxSameIP24h           int      `yaml:"max_same_ip_24h"`
	MaxSameDevice24h       int      `yaml:"max_same_device_24h"`
	MaxDailyParticipations int      `yaml:"max_daily_participations"`
	WinRateThreshold       float64  `yaml:"win_rate_threshold"`
	AutomationDeviceCount  int      `yaml:"automation_device_count"`
	ProxyCIDRs             []string `yaml:"proxy_cidrs"`

	Screen ScreenConfig `yaml:"screen"`
}

// ScreenConfig tunes the stricter selection-time re-screen.
type ScreenConfig struct {
	MinTotalTimeSec      int     `yaml:"min_total_time_sec"`
	MinAvgQuestionTimeMs int     `yaml:"min_avg_question_time_ms"`
	MinTimeVariance      float64 `yaml:"min_time_variance"` // seconds squared
	MaxFactors           int     `yaml:"max_factors"`       // factors above this mark fraud
	MaxSameIPPaid24h     int     `yaml:"max_same_ip_paid_24h"`
	MaxSameDevicePaid24h int     `yaml:"max_same_device_paid_24h"`
}

func (c ScreenConfig) MinTotalTime() time.Duration {
	return time.Duration(c.MinTotalTimeSec) * time.Second
}

func (c ScreenConfig) MinAvgQuestionTime() time.Duration {
	return time.Duration(c.MinAvgQuestionTimeMs) * time.Millisecond
}

// SelectionConfig tunes winner selection and claim tokens.
type SelectionConfig struct {
	ClaimTokenTTLHours int    `yaml:"claim_token_ttl_hours"`
	DefaultMethod      string `yaml:"default_method"` // method the scheduled sweep applies
}

func (c SelectionConfig) ClaimTokenTTL() time.Duration {
	return time.Duration(c.ClaimTokenTTLHours) * time.Hour
}

// SweeperConfig tunes the timeout/round sweep daemon.
type SweeperConfig struct {
	Workers           int `yaml:"workers"`
	BatchSize         int `yaml:"batch_size"`
	RoundSweepSec     int `yaml:"round_sweep_sec"`
	DeadlineLookahead int `yaml:"deadline_lookahead_ms"`
}

func (c SweeperConfig) RoundSweepInterval() time.Duration {
	return time.Duration(c.RoundSweepSec) * time.Second
}

// OutboxConfig tunes the relay worker.
type OutboxConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec"`
	BatchSize       int `yaml:"batch_size"`
	MaxRetries      int `yaml:"max_retries"`
	RetryDelayMs    int `yaml:"retry_delay_ms"`
}

func (c OutboxConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c OutboxConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// NATSConfig locates JetStream for events and notification jobs.
type NATSConfig struct {
	URL                 string `yaml:"url"`
	EventStream         string `yaml:"event_stream"`
	EventSubjectPrefix  string `yaml:"event_subject_prefix"`
	NotifyStream        string `yaml:"notify_stream"`
	NotifySubjectPrefix string `yaml:"notify_subject_prefix"`
}

// HealthConfig locates the daemon's health listener.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the engine defaults. Every value here is the one the
// product launched with.
func Default() Config {
	return Config{
		Timing: TimingConfig{
			QuestionTimeoutSec: 10,
			MinAnswerTimeMs:    500,
		},
		Fraud: FraudConfig{
			MaxSameIP24h:           3,
			MaxSameDevice24h:       2,
			MaxDailyParticipations: 3,
			WinRateThreshold:       0.2,
			AutomationDeviceCount:  10,
			Screen: ScreenConfig{
				MinTotalTimeSec:      30,
				MinAvgQuestionTimeMs: 2000,
				MinTimeVariance:      0.1,
				MaxFactors:           1,
				MaxSameIPPaid24h:     3,
				MaxSameDevicePaid24h: 3,
			},
		},
		Selection: SelectionConfig{
			ClaimTokenTTLHours: 72,
			DefaultMethod:      "FASTEST_TIME",
		},
		Sweeper: SweeperConfig{
			Workers:           4,
			BatchSize:         25,
			RoundSweepSec:     30,
			DeadlineLookahead: 0,
		},
		Outbox: OutboxConfig{
			PollIntervalSec: 5,
			BatchSize:       100,
			MaxRetries:      3,
			RetryDelayMs:    1000,
		},
		NATS: NATSConfig{
			URL:                 "nats://127.0.0.1:4222",
			EventStream:         "QUIZ_EVENTS",
			EventSubjectPrefix:  "quiz.events",
			NotifyStream:        "QUIZ_NOTIFY",
			NotifySubjectPrefix: "notify.jobs",
		},
		Health: HealthConfig{
			Addr: ":8082",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Health.Addr = getEnv("HEALTH_ADDR", c.Health.Addr)
	c.Timing.QuestionTimeoutSec = getEnvAsInt("QUESTION_TIMEOUT_SEC", c.Timing.QuestionTimeoutSec)
	c.Timing.MinAnswerTimeMs = getEnvAsInt("MIN_ANSWER_TIME_MS", c.Timing.MinAnswerTimeMs)
	c.Sweeper.Workers = getEnvAsInt("SWEEPER_WORKERS", c.Sweeper.Workers)
	c.Outbox.BatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", c.Outbox.BatchSize)
}

func (c *Config) validate() error {
	if c.Timing.QuestionTimeoutSec <= 0 {
		return fmt.Errorf("timing.question_timeout_sec must be positive")
	}
	if c.Timing.MinAnswerTimeMs < 0 {
		return fmt.Errorf("timing.min_answer_time_ms must not be negative")
	}
	if c.Fraud.Screen.MaxFactors < 0 {
		return fmt.Errorf("fraud.screen.max_factors must not be negative")
	}
	if c.Sweeper.Workers <= 0 {
		return fmt.Errorf("sweeper.workers must be positive")
	}
	switch c.Selection.DefaultMethod {
	case "FASTEST_TIME", "RANDOM":
	default:
		// MANUAL cannot be swept; it needs an admin-picked attempt.
		return fmt.Errorf("selection.default_method must be FASTEST_TIME or RANDOM, got %q", c.Selection.DefaultMethod)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
