package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the queue and pipeline tuning knobs. Values come from an
// optional YAML file; zero values fall back to defaults so the service runs
// with no config file at all.
type Config struct {
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Video    VideoConfig    `yaml:"video"`
}

type QueueConfig struct {
	MaxConcurrency   int `yaml:"max_concurrency"`
	MaxPriority      int `yaml:"max_priority"`
	DefaultPriority  int `yaml:"default_priority"`
	MaxAttempts      int `yaml:"max_attempts"`
	PollIntervalMS   int `yaml:"poll_interval_ms"`
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `yaml:"retry_max_delay_ms"`

	// pointer so an absent key defaults to 0.25 while an explicit 0 disables
	// jitter
	RetryJitterPct *float64 `yaml:"retry_jitter_pct"`
}

type PipelineConfig struct {
	ScriptWordsPerSecond  float64 `yaml:"script_words_per_second"`
	ScriptValidationTries int     `yaml:"script_validation_tries"`
	SpeechMaxCharsPerCall int     `yaml:"speech_max_chars_per_call"`
}

type VideoConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	FPS     int `yaml:"fps"`
	Bitrate int `yaml:"bitrate_kbps"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Queue.MaxConcurrency <= 0 {
		c.Queue.MaxConcurrency = 3
	}
	if c.Queue.MaxPriority <= 0 {
		c.Queue.MaxPriority = 5
	}
	if c.Queue.DefaultPriority <= 0 {
		c.Queue.DefaultPriority = 3
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.PollIntervalMS <= 0 {
		c.Queue.PollIntervalMS = 250
	}
	if c.Queue.RetryBaseDelayMS <= 0 {
		c.Queue.RetryBaseDelayMS = 2000
	}
	if c.Queue.RetryMaxDelayMS <= 0 {
		c.Queue.RetryMaxDelayMS = 60000
	}
	if c.Queue.RetryJitterPct == nil || *c.Queue.RetryJitterPct < 0 || *c.Queue.RetryJitterPct > 1 {
		jitter := 0.25
		c.Queue.RetryJitterPct = &jitter
	}
	if c.Pipeline.ScriptWordsPerSecond <= 0 {
		c.Pipeline.ScriptWordsPerSecond = 2.3
	}
	if c.Pipeline.ScriptValidationTries <= 0 {
		c.Pipeline.ScriptValidationTries = 3
	}
	if c.Pipeline.SpeechMaxCharsPerCall <= 0 {
		c.Pipeline.SpeechMaxCharsPerCall = 4500
	}
	if c.Video.Width <= 0 {
		c.Video.Width = 1080
	}
	if c.Video.Height <= 0 {
		c.Video.Height = 1920
	}
	if c.Video.FPS <= 0 {
		c.Video.FPS = 30
	}
	if c.Video.Bitrate <= 0 {
		c.Video.Bitrate = 4000
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMS) * time.Millisecond
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Queue.RetryBaseDelayMS) * time.Millisecond
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Queue.RetryMaxDelayMS) * time.Millisecond
}

// RetryJitter is the backoff jitter fraction; unset means ±25%.
func (c *Config) RetryJitter() float64 {
	if c.Queue.RetryJitterPct == nil {
		return 0.25
	}
	return *c.Queue.RetryJitterPct
}
