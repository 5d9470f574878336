// Package config loads this core's own process tunables — call capacity,
// per-stage deadlines, and dialogue thresholds. It does not load tenant
// catalogs, pricing, or other static business configuration; those live in
// the catalog/stock/order-sink backends themselves.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// Config mirrors orchestrator.Config's fields as env-tag'd, loadable values.
// Defaults match orchestrator.DefaultConfig().
type Config struct {
	SampleRate         int    `env:"AGENT_SAMPLE_RATE" envDefault:"44100"`
	Channels           int    `env:"AGENT_CHANNELS" envDefault:"1"`
	MaxContextMessages int    `env:"AGENT_MAX_CONTEXT_MESSAGES" envDefault:"20"`
	Language           string `env:"AGENT_LANGUAGE" envDefault:"en"`

	STTTimeout uint `env:"AGENT_STT_TIMEOUT_SECONDS" envDefault:"30"`
	LLMTimeout uint `env:"AGENT_LLM_TIMEOUT_SECONDS" envDefault:"60"`
	TTSTimeout uint `env:"AGENT_TTS_TIMEOUT_SECONDS" envDefault:"30"`

	MinWordsToInterrupt int `env:"AGENT_MIN_WORDS_TO_INTERRUPT" envDefault:"1"`

	// Dialogue thresholds for the order-taking state machine.
	MinMatchScore       float64 `env:"AGENT_MIN_MATCH_SCORE" envDefault:"0.5"`
	MaxAttempts         int     `env:"AGENT_MAX_ATTEMPTS" envDefault:"3"`
	EscalationConfLow   float64 `env:"AGENT_ESCALATION_CONF_LOW" envDefault:"0.70"`
	HighAmountThreshold float64 `env:"AGENT_HIGH_AMOUNT_THRESHOLD" envDefault:"10000"`
	MinOrderConfidence  float64 `env:"AGENT_MIN_ORDER_CONFIDENCE" envDefault:"0.85"`

	// Per-stage deadlines, all in seconds.
	CatalogTimeout   uint `env:"AGENT_CATALOG_TIMEOUT_SECONDS" envDefault:"1"`
	StockTimeout     uint `env:"AGENT_STOCK_TIMEOUT_SECONDS" envDefault:"1"`
	OrderSinkTimeout uint `env:"AGENT_ORDERSINK_TIMEOUT_SECONDS" envDefault:"5"`
	SessionTimeout   uint `env:"AGENT_SESSION_TIMEOUT_SECONDS" envDefault:"1800"`

	MaxConcurrentCalls int  `env:"AGENT_MAX_CONCURRENT_CALLS" envDefault:"10"`
	StaleCallAfter     uint `env:"AGENT_STALE_CALL_AFTER_SECONDS" envDefault:"1800"`
}

// Validate checks that the loaded tunables describe a usable core: a
// positive call capacity and non-degenerate timeouts.
func (c *Config) Validate() error {
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("AGENT_MAX_CONCURRENT_CALLS must be positive, got %d", c.MaxConcurrentCalls)
	}
	if c.STTTimeout == 0 || c.LLMTimeout == 0 || c.TTSTimeout == 0 {
		return fmt.Errorf("STT/LLM/TTS timeouts must be positive")
	}
	return nil
}

// ToOrchestratorConfig maps the loaded tunables onto orchestrator.Config,
// starting from orchestrator.DefaultConfig() so any field this package does
// not expose (e.g. VoiceStyle, BytesPerSamp) keeps its package default.
func (c *Config) ToOrchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.SampleRate = c.SampleRate
	oc.Channels = c.Channels
	oc.MaxContextMessages = c.MaxContextMessages
	oc.Language = orchestrator.Language(c.Language)
	oc.STTTimeout = c.STTTimeout
	oc.LLMTimeout = c.LLMTimeout
	oc.TTSTimeout = c.TTSTimeout
	oc.MinWordsToInterrupt = c.MinWordsToInterrupt
	oc.MinMatchScore = c.MinMatchScore
	oc.MaxAttempts = c.MaxAttempts
	oc.EscalationConfLow = c.EscalationConfLow
	oc.HighAmountThreshold = c.HighAmountThreshold
	oc.MinOrderConfidence = c.MinOrderConfidence
	oc.CatalogTimeout = c.CatalogTimeout
	oc.StockTimeout = c.StockTimeout
	oc.OrderSinkTimeout = c.OrderSinkTimeout
	oc.SessionTimeout = c.SessionTimeout
	oc.MaxConcurrentCalls = c.MaxConcurrentCalls
	oc.StaleCallAfter = c.StaleCallAfter
	return oc
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	Language string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.Language != "" {
		cfg.Language = overrides.Language
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
